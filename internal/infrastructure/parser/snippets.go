package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"PaperBlogBot/internal/config"
)

// SnippetScraper collects short text fragments about a topic from a public
// search results page. It is best effort; callers treat an empty slice as
// "nothing found".
type SnippetScraper struct {
	client    *http.Client
	searchURL string
	selector  string
	maxPages  int
	limit     int
	logger    *zap.Logger
}

// NewSnippetScraper builds a scraper from the topics section.
func NewSnippetScraper(cfg config.TopicsConfig, client *http.Client, logger *zap.Logger) *SnippetScraper {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 15
	}
	return &SnippetScraper{
		client:    client,
		searchURL: cfg.SearchURL,
		selector:  cfg.Selector,
		maxPages:  maxPages,
		limit:     limit,
		logger:    logger.With(zap.String("component", "snippets")),
	}
}

// Scrape returns up to limit distinct snippets, in page order.
func (s *SnippetScraper) Scrape(ctx context.Context, topic string) ([]string, error) {
	if s.searchURL == "" || s.selector == "" {
		return nil, nil
	}

	var snippets []string
	seen := map[string]struct{}{}

	for page := 0; page < s.maxPages && len(snippets) < s.limit; page++ {
		doc, err := fetchDocument(ctx, s.client, snippetPageURL(s.searchURL, topic, page))
		if err != nil {
			if len(snippets) > 0 && context.Cause(ctx) == nil {
				s.logger.Warn("snippet page failed", zap.Int("page", page), zap.Error(err))
				break
			}
			return nil, err
		}

		found := 0
		doc.Find(s.selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := collapse(sel.Text())
			if len([]rune(text)) < 8 {
				return true
			}
			found++
			if _, dup := seen[text]; dup {
				return true
			}
			seen[text] = struct{}{}
			snippets = append(snippets, text)
			return len(snippets) < s.limit
		})
		if found == 0 {
			break
		}
	}

	s.logger.Debug("scraped snippets", zap.String("topic", topic), zap.Int("snippets", len(snippets)))
	return snippets, nil
}

// snippetPageURL fills the %s placeholder with the escaped topic. Pages after
// the first add a start offset of ten results per page.
func snippetPageURL(template, topic string, page int) string {
	u := template
	if strings.Contains(template, "%s") {
		u = fmt.Sprintf(template, url.QueryEscape(topic))
	}
	if page == 0 {
		return u
	}
	sep := "&"
	if !strings.Contains(u, "?") {
		sep = "?"
	}
	return fmt.Sprintf("%s%sstart=%d", u, sep, page*10+1)
}
