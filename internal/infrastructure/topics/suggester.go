// Package topics proposes sub-topics for a research topic from what people
// write about it online.
package topics

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.uber.org/zap"

	"PaperBlogBot/internal/config"
	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

// SnippetSource returns short texts about a topic.
type SnippetSource interface {
	Scrape(ctx context.Context, topic string) ([]string, error)
}

// Suggester scrapes snippets and turns them into sub-topics, through the
// extractor when one is configured and the dictionary otherwise.
type Suggester struct {
	snippets   SnippetSource
	extractor  ports.SubtopicExtractor
	dictionary []config.DictionaryEntry
	logger     *zap.Logger
}

var _ ports.SubtopicSuggester = (*Suggester)(nil)

// NewSuggester wires the stage. snippets and extractor may be nil.
func NewSuggester(snippets SnippetSource, extractor ports.SubtopicExtractor, dictionary []config.DictionaryEntry, logger *zap.Logger) *Suggester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Suggester{
		snippets:   snippets,
		extractor:  extractor,
		dictionary: dictionary,
		logger:     logger.With(zap.String("component", "topics")),
	}
}

// Suggest never fails on adapter faults; it degrades to the dictionary and
// then to an empty list. Only cancellation is returned.
func (s *Suggester) Suggest(ctx context.Context, topic string) (ports.Suggestion, error) {
	snippets := s.scrape(ctx, topic)
	if err := context.Cause(ctx); err != nil {
		return ports.Suggestion{}, err
	}

	if s.extractor != nil {
		sug, err := s.extractor.Extract(ctx, topic, snippets)
		switch {
		case err == nil && len(sug.Subtopics) > 0:
			if sug.TopicQuery == "" {
				sug.TopicQuery = topic
			}
			sug.Sources = len(snippets)
			return sug, nil
		case err != nil && context.Cause(ctx) != nil:
			return ports.Suggestion{}, context.Cause(ctx)
		case err != nil:
			s.logger.Warn("subtopic extraction failed, using dictionary", zap.String("topic", topic), zap.Error(err))
		default:
			s.logger.Info("extractor proposed no subtopics, using dictionary", zap.String("topic", topic))
		}
	}

	return ports.Suggestion{
		TopicQuery: topic,
		Subtopics:  CountMentions(s.dictionary, snippets),
		Sources:    len(snippets),
	}, nil
}

func (s *Suggester) scrape(ctx context.Context, topic string) []string {
	if s.snippets == nil {
		return nil
	}
	snippets, err := s.snippets.Scrape(ctx, topic)
	if err != nil {
		if !errors.Is(err, context.Canceled) && context.Cause(ctx) == nil {
			s.logger.Warn("snippet scrape failed", zap.String("topic", topic), zap.Error(err))
		}
		return nil
	}
	return snippets
}

// CountMentions ranks dictionary entries by how many snippets mention one of
// their markers. With no mentions at all every entry is offered in
// dictionary order.
func CountMentions(dictionary []config.DictionaryEntry, snippets []string) []domain.Subtopic {
	lowered := make([]string, len(snippets))
	for i, sn := range snippets {
		lowered[i] = strings.ToLower(sn)
	}

	out := make([]domain.Subtopic, 0, len(dictionary))
	var mentioned []domain.Subtopic
	for _, entry := range dictionary {
		if entry.Name == "" {
			continue
		}
		query := entry.Query
		if query == "" {
			query = entry.Name
		}
		sub := domain.Subtopic{Name: entry.Name, Query: query, Category: entry.Category}
		sub.Mentions = mentions(entry, lowered)
		out = append(out, sub)
		if sub.Mentions > 0 {
			mentioned = append(mentioned, sub)
		}
	}
	if len(mentioned) == 0 {
		return out
	}
	sort.SliceStable(mentioned, func(i, j int) bool { return mentioned[i].Mentions > mentioned[j].Mentions })
	return mentioned
}

func mentions(entry config.DictionaryEntry, snippets []string) int {
	markers := entry.Markers
	if len(markers) == 0 {
		markers = []string{entry.Name}
	}
	n := 0
	for _, sn := range snippets {
		for _, m := range markers {
			if m != "" && strings.Contains(sn, strings.ToLower(m)) {
				n++
				break
			}
		}
	}
	return n
}
