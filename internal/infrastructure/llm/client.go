package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"PaperBlogBot/internal/config"
	"PaperBlogBot/internal/domain"
)

// Client talks to an OpenAI-compatible chat-completion endpoint.
type Client struct {
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient builds a client from configuration.
func NewClient(cfg config.LLMConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:     cfg.Endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: cfg.SystemPrompt,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With(zap.String("component", "llm")),
	}
}

// Configured reports whether the client has everything it needs to call out.
func (c *Client) Configured() bool {
	return c != nil && c.apiKey != "" && c.endpoint != "" && c.model != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one system + user exchange and returns the assistant text.
// An empty system prompt falls back to the configured one.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if !c.Configured() {
		return "", errors.New("llm client misconfigured")
	}
	if strings.TrimSpace(system) == "" {
		system = safePrompt(c.systemPrompt)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return "", cause
		}
		return "", domain.Transient("chat completion", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := fmt.Errorf("llm error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", domain.Transient("chat completion", err)
		}
		return "", err
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.Malformed("decode chat completion", err)
	}
	if len(out.Choices) == 0 {
		return "", domain.Malformed("decode chat completion", errors.New("no choices"))
	}

	c.logger.Debug("chat completion done",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("prompt_chars", len(user)),
		zap.Int("reply_chars", len(out.Choices[0].Message.Content)),
	)
	return out.Choices[0].Message.Content, nil
}

func safePrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "You are a helpful assistant that reads biomedical research papers."
	}
	return prompt
}
