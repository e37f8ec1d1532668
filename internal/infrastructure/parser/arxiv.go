package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"PaperBlogBot/internal/config"
	"PaperBlogBot/internal/domain"
)

const (
	arxivBaseURL    = "https://arxiv.org"
	arxivMaxAuthors = 5
)

// arXiv only accepts these page sizes.
var arxivPageSizes = []int{25, 50, 100, 200}

var submittedExpr = regexp.MustCompile(`Submitted\s+\d{1,2}\s+[A-Za-z]+,?\s+(\d{4})`)

// ArxivSearcher scrapes the arXiv search page. Identifiers are arXiv ids.
type ArxivSearcher struct {
	client   *http.Client
	baseURL  string
	pageSize int
	logger   *zap.Logger
}

// NewArxivSearcher wires an HTTP client; a nil client gets a 20s timeout.
func NewArxivSearcher(cfg config.ArxivConfig, client *http.Client, logger *zap.Logger) *ArxivSearcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = arxivBaseURL
	}
	return &ArxivSearcher{
		client:   client,
		baseURL:  base,
		pageSize: pageSize(cfg.PageSize),
		logger:   logger.With(zap.String("component", "arxiv")),
	}
}

// Name identifies the provider inside the corpus registry.
func (a *ArxivSearcher) Name() string {
	return "arxiv"
}

// Search walks result pages until maxResults entries were collected or a page
// comes back short.
func (a *ArxivSearcher) Search(ctx context.Context, query string, maxResults int) ([]domain.Item, error) {
	var results []domain.Item
	seen := map[string]struct{}{}

	for start := 0; len(results) < maxResults; start += a.pageSize {
		pageURL, err := buildSearchURL(a.baseURL, query, start, a.pageSize)
		if err != nil {
			return nil, err
		}
		doc, err := fetchDocument(ctx, a.client, pageURL)
		if err != nil {
			if len(results) > 0 && context.Cause(ctx) == nil {
				a.logger.Warn("arxiv page failed, returning partial results", zap.Int("start", start), zap.Error(err))
				break
			}
			return nil, err
		}

		entries := doc.Find("li.arxiv-result")
		entries.EachWithBreak(func(_ int, li *goquery.Selection) bool {
			item, ok := parseEntry(li, a.baseURL)
			if !ok {
				return true
			}
			if _, dup := seen[item.ID]; dup {
				return true
			}
			seen[item.ID] = struct{}{}
			results = append(results, item)
			return len(results) < maxResults
		})

		if entries.Length() < a.pageSize {
			break
		}
	}

	a.logger.Debug("arxiv search done", zap.String("query", query), zap.Int("items", len(results)))
	return results, nil
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "PaperBlogBot/1.0")

	resp, err := client.Do(req)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, domain.Transient("request document", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, domain.Transient("request document", fmt.Errorf("%s returned %s", req.URL.Host, resp.Status))
	default:
		return nil, fmt.Errorf("%s returned %s", req.URL.Host, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, domain.Malformed("parse document", err)
	}
	return doc, nil
}

func parseEntry(li *goquery.Selection, baseURL string) (domain.Item, bool) {
	link := li.Find("p.list-title a").First()
	id := strings.TrimSpace(link.Text())
	id = strings.TrimPrefix(id, "arXiv:")
	href, _ := link.Attr("href")
	if id == "" && href != "" {
		id = href[strings.LastIndex(href, "/")+1:]
	}
	if id == "" {
		return domain.Item{}, false
	}
	if href == "" {
		href = baseURL + "/abs/" + id
	} else if !strings.HasPrefix(href, "http") {
		href = baseURL + href
	}

	title := collapse(li.Find("p.title").First().Text())

	var authors []string
	li.Find("p.authors a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if name := collapse(a.Text()); name != "" {
			authors = append(authors, name)
		}
		return len(authors) < arxivMaxAuthors
	})

	abstract := li.Find("span.abstract-full").First()
	abstract.Find("a").Remove()
	summary := collapse(abstract.Text())
	if summary == "" {
		summary = collapse(li.Find("p.abstract").First().Text())
	}
	summary = strings.TrimSpace(strings.TrimPrefix(summary, "Abstract:"))

	var year string
	if m := submittedExpr.FindStringSubmatch(collapse(li.Find("p.is-size-7").Text())); m != nil {
		year = m[1]
	}

	return domain.Item{
		ID:         id,
		Title:      title,
		Summary:    summary,
		Authors:    authors,
		Year:       year,
		URL:        href,
		Source:     "arxiv",
		Kind:       "Preprint",
		Enrichment: domain.EnrichmentAbsent,
	}, true
}

func buildSearchURL(base, query string, start, size int) (string, error) {
	parsed, err := url.Parse(base + "/search/")
	if err != nil {
		return "", fmt.Errorf("invalid arxiv url %s: %w", base, err)
	}

	q := parsed.Query()
	q.Set("query", query)
	q.Set("searchtype", "all")
	q.Set("abstracts", "show")
	q.Set("order", "")
	q.Set("size", strconv.Itoa(size))
	q.Set("start", strconv.Itoa(start))
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// pageSize rounds n to the nearest accepted size at or above it.
func pageSize(n int) int {
	for _, size := range arxivPageSizes {
		if n <= size {
			return size
		}
	}
	return arxivPageSizes[len(arxivPageSizes)-1]
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
