// Package gemini implements embeddings, summarization and question answering
// with Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/dgallion1/raptree/internal/provider"
)

const (
	DefaultEmbeddingModel = "gemini-embedding-001"
	DefaultChatModel      = "gemini-2.5-flash"
)

// Client wraps a genai client bound to one model.
type Client struct {
	client   *genai.Client
	model    string
	taskType string
}

// EmbedTaskType is used for node texts and queries alike. One model name
// must map to one vector space, so queries do not get RETRIEVAL_QUERY.
const EmbedTaskType = "RETRIEVAL_DOCUMENT"

// NewEmbedder creates a client for embeddings.
func NewEmbedder(ctx context.Context, apiKey, model string) (*Client, error) {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return newClient(ctx, apiKey, model, EmbedTaskType)
}

// NewGenerator creates a client for summaries and answers.
func NewGenerator(ctx context.Context, apiKey, model string) (*Client, error) {
	if model == "" {
		model = DefaultChatModel
	}
	return newClient(ctx, apiKey, model, "")
}

func newClient(ctx context.Context, apiKey, model, taskType string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create GenAI client: %w", err)
	}
	return &Client{client: client, model: model, taskType: taskType}, nil
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	result, err := c.client.Models.EmbedContent(ctx, c.model, contents, &genai.EmbedContentConfig{
		TaskType: c.taskType,
	})
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("GenAI embed: %w", err))
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// Summarize condenses texts into about maxTokens tokens.
func (c *Client) Summarize(ctx context.Context, texts []string, maxTokens int) (string, error) {
	return c.generate(ctx, provider.SummarySystem, provider.SummaryPrompt(texts, maxTokens), max(maxTokens*2, 64))
}

// Answer answers question from contextText.
func (c *Client) Answer(ctx context.Context, contextText, question string) (string, error) {
	return c.generate(ctx, provider.QASystem, provider.QAPrompt(contextText, question), 1024)
}

func (c *Client) generate(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   int32(maxTokens),
	})
	if err != nil {
		return "", classify(ctx, fmt.Errorf("GenAI generate: %w", err))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty response from GenAI")
	}
	return text, nil
}

// classify marks rate limits, server errors and network failures as
// retryable.
func classify(ctx context.Context, err error) error {
	if code, ok := apiStatus(err); ok {
		if code == http.StatusTooManyRequests || code >= 500 {
			return &provider.RetryableError{StatusCode: code, Message: err.Error(), Err: err}
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return provider.Transport(ctx, err)
	}
	return err
}

func apiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code, true
	}
	return 0, false
}
