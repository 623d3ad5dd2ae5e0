package catalog

import (
	"context"
	"testing"

	"github.com/dgallion1/raptree/internal/apperr"
	"github.com/dgallion1/raptree/internal/provider"
)

func TestNew_LocalKind(t *testing.T) {
	set, _, err := New(Credentials{}).Resolve(provider.Specs{
		Embedders:  map[string]string{"EMB": "local:32"},
		Summarizer: "local",
		QA:         "local",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v, err := set.Embedders["EMB"].Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 32 {
		t.Errorf("expected 32 dims, got %d", len(v))
	}
	if set.Summarizer == nil || set.QA == nil {
		t.Error("expected local summarizer and QA")
	}
}

func TestNew_Failures(t *testing.T) {
	tests := []struct {
		name  string
		specs provider.Specs
	}{
		{"bad local dim", provider.Specs{Embedders: map[string]string{"EMB": "local:abc"}}},
		{"anthropic cannot embed", provider.Specs{Embedders: map[string]string{"EMB": "anthropic:x"}}},
		{"anthropic without key", provider.Specs{Embedders: map[string]string{"EMB": "local"}, Summarizer: "anthropic"}},
		{"gemini without key", provider.Specs{Embedders: map[string]string{"EMB": "gemini"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := New(Credentials{}).Resolve(tt.specs)
			if !apperr.IsConfiguration(err) {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestNew_Kinds(t *testing.T) {
	got := New(Credentials{}).Kinds()
	want := []string{"anthropic", "gemini", "local", "ollama", "openai"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("kind %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
