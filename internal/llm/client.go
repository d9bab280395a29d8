// Package llm talks to the OpenAI-compatible completion endpoint and owns
// everything around that exchange: request assembly (prompt, messages,
// inline screenshots) and the strict contract applied to what comes back.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koheon2/screenmate-backend/internal/apperr"
	"github.com/koheon2/screenmate-backend/internal/config"
)

// Message is one chat message. Content is either a plain string or a list
// of ContentPart values for multimodal user turns.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type CompletionRequest struct {
	Messages  []Message
	MaxTokens int
	JSONMode  bool
}

// Client issues one synchronous, non-streaming completion call. There is
// no retry or fallback; the caller's context bounds the call.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type openAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(cfg config.ProviderConfig) Client {
	return &openAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Complete returns the raw response body; decoding is the contract's job.
func (c *openAIClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("missing provider api key")
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("missing provider base url")
	}

	body := map[string]any{
		"model":      c.model,
		"messages":   req.Messages,
		"max_tokens": req.MaxTokens,
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", apperr.Upstream("OPENAI_API_ERROR", "completion call failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Upstream("OPENAI_API_ERROR", "read completion response failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.Upstream("OPENAI_API_ERROR",
			fmt.Sprintf("OpenAI API error: %d", resp.StatusCode), nil)
	}

	return string(respBody), nil
}
