package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

const (
	scoreTitleLimit   = 150
	scoreSummaryLimit = 300
)

const scoringSystemPrompt = "You grade research papers for relevance to a topic. Reply with JSON only."

// Completer is the slice of Client the stage adapters need.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Scorer grades a batch of items through the chat-completion service.
type Scorer struct {
	llm       Completer
	threshold int
}

var _ ports.Scorer = (*Scorer)(nil)

// NewScorer builds a scorer that asks the model to accept items at or above threshold.
func NewScorer(llm Completer, threshold int) *Scorer {
	if threshold <= 0 {
		threshold = 75
	}
	return &Scorer{llm: llm, threshold: threshold}
}

type verdict struct {
	Index  int     `json:"index"`
	Score  float64 `json:"score"`
	Accept bool    `json:"accept"`
}

// ScoreBatch returns one score per item the model answered for. Items the
// model skipped are simply absent.
func (s *Scorer) ScoreBatch(ctx context.Context, req ports.ScoreRequest) ([]domain.Score, error) {
	reply, err := s.llm.Complete(ctx, scoringSystemPrompt, s.prompt(req))
	if err != nil {
		return nil, err
	}
	verdicts, err := parseVerdicts(reply)
	if err != nil {
		return nil, err
	}

	scores := make([]domain.Score, 0, len(verdicts))
	for _, v := range verdicts {
		if v.Index < 1 || v.Index > len(req.Items) {
			continue
		}
		scores = append(scores, domain.Score{
			ID:     req.Items[v.Index-1].ID,
			Value:  int(math.Round(v.Score)),
			Accept: v.Accept,
		})
	}
	return scores, nil
}

func (s *Scorer) prompt(req ports.ScoreRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s", req.Topic)
	if req.TopicQuery != "" && req.TopicQuery != req.Topic {
		fmt.Fprintf(&b, " (%s)", req.TopicQuery)
	}
	b.WriteString("\nSub-topics: ")
	if len(req.Subtopics) == 0 {
		b.WriteString("none")
	} else {
		b.WriteString(strings.Join(req.Subtopics, ", "))
	}
	fmt.Fprintf(&b, `

Scoring:
- paper addresses the topic directly: 80, closely: 60-79, indirectly: 40-59, unrelated: 0-39
- related to a sub-topic: add 15-20, partly: add 5-14
- accept only papers scoring %d or more
`, s.threshold)

	for i, it := range req.Items {
		fmt.Fprintf(&b, "\n[%d] ID: %s\nTitle: %s\nAbstract: %s\n", i+1, it.ID, clip(it.Title, scoreTitleLimit), clip(it.Summary, scoreSummaryLimit))
	}

	b.WriteString(`
Reply with JSON only:
[{"index":1,"score":85,"accept":true},{"index":2,"score":50,"accept":false}]`)
	return b.String()
}

func parseVerdicts(reply string) ([]verdict, error) {
	payload, ok := jsonPayload(reply, '[', ']')
	if !ok {
		return nil, domain.Malformed("parse scores", errors.New("no JSON array in reply"))
	}
	var out []verdict
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, domain.Malformed("parse scores", err)
	}
	return out, nil
}
