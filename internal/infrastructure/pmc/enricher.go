// Package pmc fetches open-access full text from PubMed Central.
package pmc

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"net/url"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/infrastructure/pubmed"
	"PaperBlogBot/internal/ports"
)

// maxSectionRunes bounds the extended text kept per item; it travels inside
// every checkpoint snapshot.
const maxSectionRunes = 4000

var (
	conclusionMarkers = []string{"conclusion", "summary", "concluding"}
	resultMarkers     = []string{"result", "finding"}
)

// Fetcher is the E-utilities surface the enricher needs.
type Fetcher interface {
	Get(ctx context.Context, endpoint string, params url.Values) ([]byte, error)
}

// Enricher resolves a PMID to its PMC record and extracts the conclusion and
// results sections. Items without a PMC record are a normal "no text" outcome.
type Enricher struct {
	client Fetcher
	logger *zap.Logger
}

var _ ports.Enricher = (*Enricher)(nil)

// NewEnricher wires the shared E-utilities client.
func NewEnricher(client Fetcher, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{client: client, logger: logger.With(zap.String("component", "pmc"))}
}

// Enrich returns nil, nil when the item has no open-access full text.
func (e *Enricher) Enrich(ctx context.Context, item domain.Item) (*domain.Enrichment, error) {
	if !isPMID(item.ID) {
		return nil, nil
	}
	pmcID, err := e.lookup(ctx, item.ID)
	if err != nil || pmcID == "" {
		return nil, err
	}

	params := url.Values{}
	params.Set("db", "pmc")
	params.Set("id", pmcID)
	params.Set("rettype", "xml")
	body, err := e.client.Get(ctx, "efetch.fcgi", params)
	if err != nil {
		return nil, err
	}

	sections, err := parseSections(body)
	if err != nil {
		return nil, domain.Malformed("pmc efetch", err)
	}
	conclusion := pick(sections, conclusionMarkers)
	results := pick(sections, resultMarkers)
	if conclusion == "" && results == "" {
		e.logger.Debug("no usable sections", zap.String("pmid", item.ID), zap.String("pmcid", "PMC"+pmcID))
		return nil, nil
	}
	return &domain.Enrichment{Ref: "PMC" + pmcID, Conclusion: conclusion, Results: results}, nil
}

type linkResponse struct {
	LinkSets []struct {
		LinkSetDBs []struct {
			DBTo     string   `json:"dbto"`
			LinkName string   `json:"linkname"`
			Links    []linkID `json:"links"`
		} `json:"linksetdbs"`
	} `json:"linksets"`
}

// linkID accepts both string and numeric identifiers.
type linkID string

func (l *linkID) UnmarshalJSON(b []byte) error {
	*l = linkID(strings.Trim(string(b), `"`))
	return nil
}

func (e *Enricher) lookup(ctx context.Context, pmid string) (string, error) {
	params := url.Values{}
	params.Set("dbfrom", "pubmed")
	params.Set("db", "pmc")
	params.Set("id", pmid)
	params.Set("retmode", "json")

	body, err := e.client.Get(ctx, "elink.fcgi", params)
	if err != nil {
		return "", err
	}
	var resp linkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", domain.Malformed("pmc elink", err)
	}
	for _, set := range resp.LinkSets {
		for _, db := range set.LinkSetDBs {
			if db.DBTo != "pmc" || len(db.Links) == 0 {
				continue
			}
			if db.LinkName != "" && db.LinkName != "pubmed_pmc" {
				continue
			}
			return string(db.Links[0]), nil
		}
	}
	return "", nil
}

type section struct {
	Type       string          `xml:"sec-type,attr"`
	Title      pubmed.Markup   `xml:"title"`
	Paragraphs []pubmed.Markup `xml:"p"`
	Sections   []section       `xml:"sec"`
}

type articleSet struct {
	Articles []struct {
		Sections []section `xml:"body>sec"`
	} `xml:"article"`
}

type flatSection struct {
	key   string
	title string
	text  string
}

func parseSections(body []byte) ([]flatSection, error) {
	var set articleSet
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	if err := dec.Decode(&set); err != nil {
		return nil, err
	}
	var out []flatSection
	for _, a := range set.Articles {
		for _, s := range a.Sections {
			out = appendSection(out, s)
		}
	}
	return out, nil
}

// appendSection flattens s depth first. A section's text includes the
// paragraphs of its nested sections.
func appendSection(out []flatSection, s section) []flatSection {
	title := s.Title.Text()
	out = append(out, flatSection{
		key:   strings.ToLower(s.Type),
		title: strings.ToLower(title),
		text:  sectionText(s),
	})
	for _, child := range s.Sections {
		out = appendSection(out, child)
	}
	return out
}

func sectionText(s section) string {
	var parts []string
	var walk func(section)
	walk = func(sec section) {
		for _, p := range sec.Paragraphs {
			if t := p.Text(); t != "" {
				parts = append(parts, t)
			}
		}
		for _, child := range sec.Sections {
			walk(child)
		}
	}
	walk(s)
	return strings.Join(parts, "\n\n")
}

func pick(sections []flatSection, markers []string) string {
	for _, s := range sections {
		if s.text == "" {
			continue
		}
		for _, m := range markers {
			if strings.Contains(s.key, m) || strings.Contains(s.title, m) {
				return truncate(s.text, maxSectionRunes)
			}
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace) + "..."
}

func isPMID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
