package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

const (
	extractSnippetLimit = 400
	extractMaxSnippets  = 20
	extractMaxSubtopics = 12
)

const extractionSystemPrompt = "You find research angles in what people write about a health topic. Reply with JSON only."

// Extractor turns scraped snippets into sub-topic suggestions.
type Extractor struct {
	llm Completer
}

var _ ports.SubtopicExtractor = (*Extractor)(nil)

// NewExtractor wraps a completer.
func NewExtractor(llm Completer) *Extractor {
	return &Extractor{llm: llm}
}

type extraction struct {
	TopicQuery string `json:"topic_query"`
	Subtopics  []struct {
		Name     string `json:"name"`
		Query    string `json:"query"`
		Category string `json:"category"`
	} `json:"subtopics"`
}

// Extract returns the English search form of the topic and the proposed
// sub-topics. Entries without a name or query are dropped.
func (e *Extractor) Extract(ctx context.Context, topic string, snippets []string) (ports.Suggestion, error) {
	reply, err := e.llm.Complete(ctx, extractionSystemPrompt, extractionPrompt(topic, snippets))
	if err != nil {
		return ports.Suggestion{}, err
	}

	payload, ok := jsonPayload(reply, '{', '}')
	if !ok {
		return ports.Suggestion{}, domain.Malformed("parse subtopics", errors.New("no JSON object in reply"))
	}
	var out extraction
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return ports.Suggestion{}, domain.Malformed("parse subtopics", err)
	}

	sug := ports.Suggestion{TopicQuery: strings.TrimSpace(out.TopicQuery), Sources: len(snippets)}
	seen := map[string]struct{}{}
	for _, s := range out.Subtopics {
		name, query := strings.TrimSpace(s.Name), strings.TrimSpace(s.Query)
		if name == "" || query == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			continue
		}
		seen[strings.ToLower(name)] = struct{}{}
		sug.Subtopics = append(sug.Subtopics, domain.Subtopic{Name: name, Query: query, Category: s.Category})
		if len(sug.Subtopics) == extractMaxSubtopics {
			break
		}
	}
	return sug, nil
}

func extractionPrompt(topic string, snippets []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	if len(snippets) > 0 {
		b.WriteString("Popular posts about this topic:\n")
		for i, s := range snippets {
			if i == extractMaxSnippets {
				break
			}
			fmt.Fprintf(&b, "- %s\n", clip(s, extractSnippetLimit))
		}
		b.WriteString("\n")
	}
	b.WriteString(`Propose specific angles readers care about (foods, treatments, lifestyle habits, new drugs).
Skip generic words like symptoms, causes or treatment.
For each angle give a short name, a PubMed query in English and a category (diet|treatment|lifestyle|symptom|trending).
Also give the topic itself as an English PubMed query.

Reply with JSON only:
{"topic_query":"gastroesophageal reflux","subtopics":[{"name":"Late meals","query":"meal timing","category":"lifestyle"}]}`)
	return b.String()
}
