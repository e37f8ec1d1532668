package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
)

const (
	fetchBatchSize = 10
	maxAuthors     = 5
	articleURL     = "https://pubmed.ncbi.nlm.nih.gov/%s/"
)

// Searcher finds PubMed articles for a query. Identifiers are PMIDs.
type Searcher struct {
	client *Client
	logger *zap.Logger
}

// NewSearcher wires the E-utilities client.
func NewSearcher(client *Client, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Searcher{client: client, logger: logger.With(zap.String("component", "pubmed"))}
}

// Name identifies the provider inside the corpus registry.
func (s *Searcher) Name() string {
	return "pubmed"
}

// Term wraps a free query with the filters applied to every search: title or
// abstract match, abstract present, last 15 years, human studies.
func Term(query string) string {
	return fmt.Sprintf(`(%s[Title/Abstract]) AND (hasabstract[text]) AND ("last 15 years"[PDat]) AND (humans[MeSH Terms])`, query)
}

// Search runs esearch and then efetch in batches, preserving relevance order.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) ([]domain.Item, error) {
	if maxResults <= 0 {
		return nil, nil
	}
	ids, err := s.searchIDs(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	items := make([]domain.Item, 0, len(ids))
	for start := 0; start < len(ids); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(ids))
		batch, err := s.fetch(ctx, ids[start:end])
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, cause
			}
			if len(items) == 0 {
				return nil, err
			}
			s.logger.Warn("efetch batch failed, returning partial results",
				zap.String("query", query),
				zap.Int("fetched", len(items)),
				zap.Int("wanted", len(ids)),
				zap.Error(err),
			)
			break
		}
		items = append(items, batch...)
	}

	s.logger.Debug("pubmed search done", zap.String("query", query), zap.Int("ids", len(ids)), zap.Int("items", len(items)))
	return items, nil
}

type esearchResult struct {
	Count  string   `xml:"Count"`
	IDs    []string `xml:"IdList>Id"`
	Errors []string `xml:"ERROR"`
}

func (s *Searcher) searchIDs(ctx context.Context, query string, maxResults int) ([]string, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", Term(query))
	params.Set("retmax", strconv.Itoa(maxResults))
	params.Set("sort", "relevance")
	params.Set("retmode", "xml")

	body, err := s.client.Get(ctx, "esearch.fcgi", params)
	if err != nil {
		return nil, err
	}
	var res esearchResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, domain.Malformed("esearch", err)
	}
	if len(res.IDs) == 0 && len(res.Errors) > 0 {
		return nil, fmt.Errorf("esearch: %s", strings.Join(res.Errors, "; "))
	}
	return res.IDs, nil
}

type articleSet struct {
	Articles []article `xml:"PubmedArticle"`
}

type article struct {
	PMID    string `xml:"MedlineCitation>PMID"`
	Article struct {
		Journal struct {
			Title string `xml:"Title"`
			Year  string `xml:"JournalIssue>PubDate>Year"`
			Date  string `xml:"JournalIssue>PubDate>MedlineDate"`
		} `xml:"Journal"`
		Title    Markup   `xml:"ArticleTitle"`
		Abstract []Markup `xml:"Abstract>AbstractText"`
		Authors  []struct {
			LastName       string `xml:"LastName"`
			Initials       string `xml:"Initials"`
			CollectiveName string `xml:"CollectiveName"`
		} `xml:"AuthorList>Author"`
		Types []string `xml:"PublicationTypeList>PublicationType"`
	} `xml:"MedlineCitation>Article"`
}

func (s *Searcher) fetch(ctx context.Context, ids []string) ([]domain.Item, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "xml")

	body, err := s.client.Get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, err
	}
	var set articleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, domain.Malformed("efetch", err)
	}

	byID := make(map[string]domain.Item, len(set.Articles))
	for _, a := range set.Articles {
		if it, ok := a.item(); ok {
			byID[it.ID] = it
		}
	}
	out := make([]domain.Item, 0, len(byID))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (a article) item() (domain.Item, bool) {
	pmid := strings.TrimSpace(a.PMID)
	if pmid == "" {
		return domain.Item{}, false
	}

	var authors []string
	for _, au := range a.Article.Authors {
		if len(authors) == maxAuthors {
			break
		}
		switch {
		case au.LastName != "" && au.Initials != "":
			authors = append(authors, au.LastName+" "+au.Initials)
		case au.LastName != "":
			authors = append(authors, au.LastName)
		case au.CollectiveName != "":
			authors = append(authors, au.CollectiveName)
		}
	}

	parts := make([]string, 0, len(a.Article.Abstract))
	for _, p := range a.Article.Abstract {
		if text := p.Text(); text != "" {
			parts = append(parts, text)
		}
	}

	year := strings.TrimSpace(a.Article.Journal.Year)
	if year == "" && len(a.Article.Journal.Date) >= 4 {
		year = a.Article.Journal.Date[:4]
	}

	var kind string
	if len(a.Article.Types) > 0 {
		kind = strings.TrimSpace(a.Article.Types[0])
	}

	return domain.Item{
		ID:         pmid,
		Title:      a.Article.Title.Text(),
		Summary:    strings.Join(parts, " "),
		Authors:    authors,
		Journal:    strings.TrimSpace(a.Article.Journal.Title),
		Year:       year,
		URL:        fmt.Sprintf(articleURL, pmid),
		Source:     "pubmed",
		Kind:       kind,
		Enrichment: domain.EnrichmentAbsent,
	}, true
}
