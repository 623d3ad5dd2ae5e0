// Package catalog registers the built-in provider kinds.
package catalog

import (
	"context"
	"strconv"

	"github.com/dgallion1/raptree/internal/provider"
	"github.com/dgallion1/raptree/internal/provider/anthropic"
	"github.com/dgallion1/raptree/internal/provider/gemini"
	"github.com/dgallion1/raptree/internal/provider/local"
	"github.com/dgallion1/raptree/internal/provider/openai"
)

// Credentials carries keys and endpoints for remote kinds.
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OllamaBaseURL   string
	GeminiAPIKey    string
}

// DefaultOllamaBaseURL is Ollama's OpenAI-compatible endpoint.
const DefaultOllamaBaseURL = "http://localhost:11434/v1"

// New returns a registry with the kinds local, openai, ollama, gemini and
// anthropic.
func New(creds Credentials) *provider.Registry {
	r := provider.NewRegistry()

	r.Register("local", provider.Factory{
		Embedder: func(model string) (provider.Embedder, error) {
			dim := local.DefaultDim
			if model != "" {
				n, err := strconv.Atoi(model)
				if err != nil || n <= 0 {
					return nil, errInvalidDim(model)
				}
				dim = n
			}
			return local.HashEmbedder{Dim: dim}, nil
		},
		Summarizer: func(string) (provider.Summarizer, error) { return local.FrequencySummarizer{}, nil },
		QA:         func(string) (provider.QA, error) { return local.ExtractiveQA{}, nil },
	})

	openaiKind := func(baseURL, key string) provider.Factory {
		client := func(model string) *openai.Client {
			return openai.NewClient(openai.Config{BaseURL: baseURL, APIKey: key, Model: model})
		}
		return provider.Factory{
			Embedder:   func(model string) (provider.Embedder, error) { return client(model), nil },
			Summarizer: func(model string) (provider.Summarizer, error) { return client(model), nil },
			QA:         func(model string) (provider.QA, error) { return client(model), nil },
		}
	}
	r.Register("openai", openaiKind(creds.OpenAIBaseURL, creds.OpenAIAPIKey))
	ollamaURL := creds.OllamaBaseURL
	if ollamaURL == "" {
		ollamaURL = DefaultOllamaBaseURL
	}
	r.Register("ollama", openaiKind(ollamaURL, ""))

	r.Register("gemini", provider.Factory{
		Embedder: func(model string) (provider.Embedder, error) {
			return gemini.NewEmbedder(context.Background(), creds.GeminiAPIKey, model)
		},
		Summarizer: func(model string) (provider.Summarizer, error) {
			return gemini.NewGenerator(context.Background(), creds.GeminiAPIKey, model)
		},
		QA: func(model string) (provider.QA, error) {
			return gemini.NewGenerator(context.Background(), creds.GeminiAPIKey, model)
		},
	})

	r.Register("anthropic", provider.Factory{
		Summarizer: func(model string) (provider.Summarizer, error) {
			return anthropic.NewClient(creds.AnthropicAPIKey, model)
		},
		QA: func(model string) (provider.QA, error) {
			return anthropic.NewClient(creds.AnthropicAPIKey, model)
		},
	})
	return r
}

type errInvalidDim string

func (e errInvalidDim) Error() string {
	return "local embedder model must be a positive dimension, got " + strconv.Quote(string(e))
}
