package domain

// EnrichmentStatus tracks whether extended text was fetched for an item.
type EnrichmentStatus string

const (
	EnrichmentAbsent    EnrichmentStatus = "absent"
	EnrichmentAttempted EnrichmentStatus = "attempted"
	EnrichmentPresent   EnrichmentStatus = "present"
)

// ScoreSource records which scorer produced an item's relevance score.
type ScoreSource string

const (
	ScoredByService   ScoreSource = "service"
	ScoredByHeuristic ScoreSource = "heuristic"
)

// Item is a candidate paper pulled from a bibliographic corpus.
// ID is the source-provided identifier and the basis for deduplication.
type Item struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Authors []string `json:"authors,omitempty"`
	Journal string   `json:"journal,omitempty"`
	Year    string   `json:"year,omitempty"`
	URL     string   `json:"url,omitempty"`
	Source  string   `json:"source,omitempty"`
	Kind    string   `json:"kind,omitempty"`

	Enrichment  EnrichmentStatus `json:"enrichment"`
	ExtendedRef string           `json:"extended_ref,omitempty"`
	Conclusion  string           `json:"conclusion,omitempty"`
	Results     string           `json:"results,omitempty"`

	Score       *int        `json:"score,omitempty"`
	ScoreSource ScoreSource `json:"score_source,omitempty"`
	Accepted    bool        `json:"accepted"`
}

// Enriched reports whether the item carries extended text.
func (i Item) Enriched() bool {
	return i.Enrichment == EnrichmentPresent
}

// Scored reports whether a relevance score has been assigned.
func (i Item) Scored() bool {
	return i.Score != nil
}

// ExtendedText returns the best available long-form text for the item.
func (i Item) ExtendedText() string {
	if i.Conclusion != "" {
		return i.Conclusion
	}
	return i.Results
}

// Enrichment is the optional extended text returned by an enrichment source.
type Enrichment struct {
	Ref        string
	Conclusion string
	Results    string
}

// Score is one per-identifier verdict from a scoring service.
type Score struct {
	ID     string
	Value  int
	Accept bool
}

// IntPtr is a helper for optional scores.
func IntPtr(v int) *int {
	return &v
}
