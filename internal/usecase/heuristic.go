package usecase

import (
	"strings"
	"unicode"

	"PaperBlogBot/internal/domain"
)

var queryStopWords = map[string]struct{}{
	"and": {}, "or": {}, "not": {}, "the": {}, "of": {}, "in": {}, "for": {}, "with": {},
	"title": {}, "abstract": {}, "text": {}, "terms": {}, "mesh": {},
}

// KeywordHeuristic is the local fallback scorer: a coarse accept/reject based on
// marker words appearing in the title and summary.
type KeywordHeuristic struct {
	relevant  []string
	exclusion []string
	threshold int
}

// NewKeywordHeuristic collects relevance markers from the topic query, the
// sub-topic queries and any extra markers.
func NewKeywordHeuristic(topicQuery string, subtopics []domain.Subtopic, extra, exclusion []string, threshold int) *KeywordHeuristic {
	seen := map[string]struct{}{}
	var relevant []string
	add := func(words ...string) {
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w == "" {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			relevant = append(relevant, w)
		}
	}

	add(queryWords(topicQuery)...)
	for _, sub := range subtopics {
		add(queryWords(sub.Query)...)
		if sub.Query == "" {
			add(queryWords(sub.Name)...)
		}
	}
	add(extra...)

	excl := make([]string, 0, len(exclusion))
	for _, w := range exclusion {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			excl = append(excl, w)
		}
	}
	return &KeywordHeuristic{relevant: relevant, exclusion: excl, threshold: threshold}
}

// Score returns the verdict for one item: threshold when accepted, 0 otherwise.
func (h *KeywordHeuristic) Score(item domain.Item) (int, bool) {
	text := strings.ToLower(item.Title + " " + item.Summary)
	for _, w := range h.exclusion {
		if strings.Contains(text, w) {
			return 0, false
		}
	}
	for _, w := range h.relevant {
		if strings.Contains(text, w) {
			return h.threshold, true
		}
	}
	return 0, false
}

func queryWords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := queryStopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
