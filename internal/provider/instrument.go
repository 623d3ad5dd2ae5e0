package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgallion1/raptree/internal/metrics"
)

// Guard wraps providers with the retry policy, latency stats and metrics.
type Guard struct {
	Policy RetryPolicy
	Stats  *Stats
	Log    *slog.Logger
}

func (g Guard) logger() *slog.Logger {
	if g.Log == nil {
		return slog.Default()
	}
	return g.Log
}

// Wrap returns a Set whose every call goes through the guard. names maps
// each provider to its "kind:model" spec for errors and metrics.
func (g Guard) Wrap(s *Set, names Names) *Set {
	out := &Set{Embedders: make(map[string]Embedder, len(s.Embedders))}
	for model, e := range s.Embedders {
		out.Embedders[model] = &guardedEmbedder{g: g, name: names.Embedders[model], next: e}
	}
	if s.Summarizer != nil {
		out.Summarizer = &guardedSummarizer{g: g, name: names.Summarizer, next: s.Summarizer}
	}
	if s.QA != nil {
		out.QA = &guardedQA{g: g, name: names.QA, next: s.QA}
	}
	return out
}

// Names records the spec each provider was resolved from.
type Names struct {
	Embedders  map[string]string
	Summarizer string
	QA         string
}

func observe[T any](ctx context.Context, g Guard, name, stage string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, retries, err := call(ctx, g.Policy, g.logger(), name, stage, fn)
	elapsed := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.ProviderCalls.WithLabelValues(name, stage, outcome).Inc()
	metrics.ProviderDuration.WithLabelValues(name, stage).Observe(elapsed.Seconds())
	if retries > 0 {
		metrics.ProviderRetries.WithLabelValues(name, stage).Add(float64(retries))
	}
	if g.Stats != nil && err == nil {
		g.Stats.Record(stage, elapsed)
	}
	return v, err
}

type guardedEmbedder struct {
	g    Guard
	name string
	next Embedder
}

func (e *guardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return observe(ctx, e.g, e.name, "embed", func(ctx context.Context) ([]float32, error) {
		return e.next.Embed(ctx, text)
	})
}

type guardedSummarizer struct {
	g    Guard
	name string
	next Summarizer
}

func (s *guardedSummarizer) Summarize(ctx context.Context, texts []string, maxTokens int) (string, error) {
	return observe(ctx, s.g, s.name, "summarize", func(ctx context.Context) (string, error) {
		return s.next.Summarize(ctx, texts, maxTokens)
	})
}

type guardedQA struct {
	g    Guard
	name string
	next QA
}

func (q *guardedQA) Answer(ctx context.Context, contextText, question string) (string, error) {
	return observe(ctx, q.g, q.name, "answer", func(ctx context.Context) (string, error) {
		return q.next.Answer(ctx, contextText, question)
	})
}
