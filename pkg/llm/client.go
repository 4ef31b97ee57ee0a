// Package llm is the adapter to the external LLM oracle: a chat-completion
// HTTP endpoint that scores event templates and performs windowed
// meta-analysis. The adapter owns prompt construction, tolerant response
// parsing, and token/cost accounting.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/logsift/logsift/pkg/version"
)

// Config holds oracle connection settings and prompt overrides.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration

	// Optional prompt overrides. Empty means the built-in prompts.
	ScoringPrompt string
	MetaPrompt    string
}

// Client talks to the chat-completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an oracle client. Timeout defaults to 30s and
// temperature to 0.1 when unset.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default().With("component", "llm-client"),
	}
}

// Model returns the configured model name (for usage accounting).
func (c *Client) Model() string { return c.cfg.Model }

// Usage is the token accounting for one oracle call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	Requests         int
	// Estimated is true when the provider omitted usage and the counts are
	// the chars/4 heuristic.
	Estimated bool
}

// Add folds another call's usage into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.Requests += other.Requests
	u.Estimated = u.Estimated || other.Estimated
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// complete performs one chat-completion round trip and returns the raw
// content string. Transport and HTTP failures surface as *CallError.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    c.cfg.Temperature,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", Usage{}, &CallError{Model: c.cfg.Model, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, &CallError{Model: c.cfg.Model, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, &CallError{Model: c.cfg.Model, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", Usage{}, &CallError{Model: c.cfg.Model, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, &CallError{
			Model:      c.cfg.Model,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", truncateForLog(string(respBody), 256)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", Usage{}, &CallError{Model: c.cfg.Model, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response envelope: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, &CallError{Model: c.cfg.Model, Err: fmt.Errorf("response has no choices")}
	}

	content := parsed.Choices[0].Message.Content
	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		Requests:         1,
	}
	if usage.PromptTokens == 0 && usage.CompletionTokens == 0 {
		usage.PromptTokens = EstimateTokens(systemPrompt) + EstimateTokens(userPrompt)
		usage.CompletionTokens = EstimateTokens(content)
		usage.Estimated = true
	}

	return content, usage, nil
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
