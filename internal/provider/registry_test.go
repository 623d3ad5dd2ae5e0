package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/dgallion1/raptree/internal/apperr"
)

type constEmbedder struct{ v []float32 }

func (c constEmbedder) Embed(context.Context, string) ([]float32, error) { return c.v, nil }

type echoSummarizer struct{}

func (echoSummarizer) Summarize(_ context.Context, texts []string, _ int) (string, error) {
	return texts[0], nil
}

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register("const", Factory{
		Embedder: func(model string) (Embedder, error) {
			if model == "broken" {
				return nil, errors.New("no such model")
			}
			return constEmbedder{v: []float32{1}}, nil
		},
		Summarizer: func(string) (Summarizer, error) { return echoSummarizer{}, nil },
	})
	return r
}

func TestRegistry_Resolve(t *testing.T) {
	set, names, err := testRegistry().Resolve(Specs{
		Embedders:  map[string]string{"EMB": "const:a", "ALT": "const"},
		Summarizer: "const:sum",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := set.Models(); len(got) != 2 || got[0] != "ALT" || got[1] != "EMB" {
		t.Errorf("expected [ALT EMB], got %v", got)
	}
	if set.Summarizer == nil {
		t.Error("expected summarizer")
	}
	if set.QA != nil {
		t.Error("expected no QA provider")
	}
	if names.Embedders["EMB"] != "const:a" {
		t.Errorf("expected spec recorded, got %q", names.Embedders["EMB"])
	}
	vecs, err := set.EmbedAll(context.Background(), "x")
	if err != nil || len(vecs) != 2 {
		t.Errorf("expected two embeddings, got %v, %v", vecs, err)
	}
}

func TestRegistry_ResolveFailures(t *testing.T) {
	tests := []struct {
		name  string
		specs Specs
	}{
		{"no embedders", Specs{}},
		{"unknown kind", Specs{Embedders: map[string]string{"EMB": "nope:x"}}},
		{"empty spec", Specs{Embedders: map[string]string{"EMB": " "}}},
		{"factory error", Specs{Embedders: map[string]string{"EMB": "const:broken"}}},
		{"missing capability", Specs{Embedders: map[string]string{"EMB": "const"}, QA: "const:qa"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := testRegistry().Resolve(tt.specs)
			if !apperr.IsConfiguration(err) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestParseSpec(t *testing.T) {
	kind, model, err := ParseSpec("openai:text-embedding-3-small")
	if err != nil || kind != "openai" || model != "text-embedding-3-small" {
		t.Errorf("unexpected parse: %q %q %v", kind, model, err)
	}
	kind, model, err = ParseSpec("local")
	if err != nil || kind != "local" || model != "" {
		t.Errorf("unexpected parse: %q %q %v", kind, model, err)
	}
	if _, _, err := ParseSpec(":x"); err == nil {
		t.Error("expected error for missing kind")
	}
}
