package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

// Client talks to a dedicated relevance-scoring service.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ ports.Scorer = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 3 * time.Minute},
	}
}

type scoreItem struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type scorePayload struct {
	Topic      string      `json:"topic"`
	TopicQuery string      `json:"topic_query,omitempty"`
	Subtopics  []string    `json:"subtopics,omitempty"`
	Items      []scoreItem `json:"items"`
}

type scoreResponse struct {
	Scores []struct {
		ID     string  `json:"id"`
		Score  float64 `json:"score"`
		Accept bool    `json:"accept"`
	} `json:"scores"`
}

// ScoreBatch sends the batch for scoring. Identifiers the service did not
// return are left out of the result.
func (c *Client) ScoreBatch(ctx context.Context, req ports.ScoreRequest) ([]domain.Score, error) {
	payload := scorePayload{
		Topic:      req.Topic,
		TopicQuery: req.TopicQuery,
		Subtopics:  req.Subtopics,
		Items:      make([]scoreItem, len(req.Items)),
	}
	for i, it := range req.Items {
		payload.Items[i] = scoreItem{ID: it.ID, Title: it.Title, Summary: it.Summary}
	}

	var resp scoreResponse
	if err := c.post(ctx, "/score", payload, &resp); err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(req.Items))
	for _, it := range req.Items {
		known[it.ID] = struct{}{}
	}
	scores := make([]domain.Score, 0, len(resp.Scores))
	for _, s := range resp.Scores {
		if _, ok := known[s.ID]; !ok {
			continue
		}
		scores = append(scores, domain.Score{ID: s.ID, Value: int(math.Round(s.Score)), Accept: s.Accept})
	}
	return scores, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return domain.Transient("score request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return domain.Transient("score request", err)
		}
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return domain.Malformed("decode scores", err)
	}
	return nil
}
