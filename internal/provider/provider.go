// Package provider defines the pluggable embedding, summarization and
// question-answering strategies and the retry wrapper every call goes
// through.
package provider

import (
	"context"
	"fmt"
	"sort"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer condenses member texts into one summary of at most maxTokens.
type Summarizer interface {
	Summarize(ctx context.Context, texts []string, maxTokens int) (string, error)
}

// QA answers a question from an assembled context.
type QA interface {
	Answer(ctx context.Context, contextText, question string) (string, error)
}

// Set is the resolved bundle of providers used by one orchestrator.
type Set struct {
	Embedders  map[string]Embedder
	Summarizer Summarizer
	QA         QA
}

// Embedder returns the embedder registered under model.
func (s *Set) Embedder(model string) (Embedder, error) {
	e, ok := s.Embedders[model]
	if !ok {
		return nil, fmt.Errorf("no embedder named %q", model)
	}
	return e, nil
}

// Models returns the embedder names in sorted order.
func (s *Set) Models() []string {
	names := make([]string, 0, len(s.Embedders))
	for name := range s.Embedders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EmbedAll embeds text with every embedder in model order.
func (s *Set) EmbedAll(ctx context.Context, text string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(s.Embedders))
	for _, name := range s.Models() {
		v, err := s.Embedders[name].Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed with %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
