// Package openai implements embeddings, summarization and question
// answering against OpenAI-compatible endpoints. Ollama-native embedding
// responses are accepted too, so a local Ollama server works as a drop-in.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/raptree/internal/provider"
)

const (
	DefaultBaseURL        = "https://api.openai.com/v1"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultChatModel      = "gpt-4o-mini"
)

// Client talks to one OpenAI-compatible base URL.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config configures a Client. APIKey may be empty for local servers.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Embed returns an embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	model := c.model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	payload, err := c.post(ctx, "/embeddings", map[string]any{
		"model":  model,
		"input":  text,
		"prompt": text,
	})
	if err != nil {
		return nil, err
	}

	var openaiOut struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil &&
		len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
		return openaiOut.Data[0].Embedding, nil
	}
	// Ollama-native shape: {"embedding": [...]}
	var ollamaOut struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return ollamaOut.Embedding, nil
	}
	return nil, fmt.Errorf("no embedding returned: %s", provider.Truncate(string(payload), 200))
}

// Summarize condenses texts with a chat completion.
func (c *Client) Summarize(ctx context.Context, texts []string, maxTokens int) (string, error) {
	return c.chat(ctx, provider.SummarySystem, provider.SummaryPrompt(texts, maxTokens), max(maxTokens*2, 64))
}

// Answer answers question from contextText with a chat completion.
func (c *Client) Answer(ctx context.Context, contextText, question string) (string, error) {
	return c.chat(ctx, provider.QASystem, provider.QAPrompt(contextText, question), 1024)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	model := c.model
	if model == "" {
		model = DefaultChatModel
	}
	payload, err := c.post(ctx, "/chat/completions", map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"temperature": 0,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("empty response from chat completions")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty response from chat completions")
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.Transport(ctx, fmt.Errorf("openai %s: %w", path, err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, provider.Transport(ctx, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &provider.RetryableError{StatusCode: resp.StatusCode, Message: string(payload)}
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai %s status %d: %s", path, resp.StatusCode, provider.Truncate(string(payload), 200))
	}
	return payload, nil
}
