// Package pubmed talks to the NCBI E-utilities API.
package pubmed

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"PaperBlogBot/internal/config"
	"PaperBlogBot/internal/domain"
)

const (
	defaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	toolName       = "paperblogbot"
	maxBodyBytes   = 32 << 20

	// NCBI allows 3 requests per second without a key and 10 with one.
	keylessRate = 3
	keyedRate   = 10
)

// Client issues rate-limited E-utilities requests. It is safe for concurrent
// use; callers never see the rate limit except as latency.
type Client struct {
	baseURL string
	email   string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient builds a client from configuration. httpClient may be nil.
func NewClient(cfg config.PubMedConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = keylessRate
	}
	if cfg.APIKey != "" && rps <= keylessRate {
		rps = keyedRate
	}
	return &Client{
		baseURL: base,
		email:   cfg.Email,
		apiKey:  cfg.APIKey,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Get calls one E-utilities endpoint (esearch.fcgi, efetch.fcgi, elink.fcgi)
// and returns the raw body.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, domain.Transient(endpoint, err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("tool", toolName)
	if c.email != "" {
		q.Set("email", c.email)
	}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", "PaperBlogBot/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, domain.Transient(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.Transient(endpoint, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, domain.Transient(endpoint, fmt.Errorf("unexpected status %s", resp.Status))
	default:
		return nil, fmt.Errorf("%s: unexpected status %s: %s", endpoint, resp.Status, snippet(body))
	}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

var tagExpr = regexp.MustCompile(`<[^>]*>`)

// Markup captures an element's inner XML so inline formatting such as <i> or
// <sup> does not truncate the text.
type Markup struct {
	Inner string `xml:",innerxml"`
}

// Text returns the element text with tags removed and whitespace collapsed.
func (m Markup) Text() string {
	plain := html.UnescapeString(tagExpr.ReplaceAllString(m.Inner, ""))
	return strings.Join(strings.Fields(plain), " ")
}
