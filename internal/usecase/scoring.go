package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/metrics"
	"PaperBlogBot/internal/ports"
)

// ScoringConfig holds batching and acceptance settings.
type ScoringConfig struct {
	BatchSize        int
	Timeout          time.Duration
	AcceptThreshold  int
	RelevanceMarkers []string
	ExclusionMarkers []string
}

// ScoringInput is the topic context sent along with every batch.
type ScoringInput struct {
	Topic      string
	TopicQuery string
	Subtopics  []domain.Subtopic
}

// ScoringStats summarises one scoring run.
type ScoringStats struct {
	Batches         int
	FallbackBatches int
	HeuristicItems  int
	Accepted        int
}

// Scoring assigns a verdict to every item, batch by batch.
type Scoring struct {
	scorer  ports.Scorer
	cfg     ScoringConfig
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewScoring constructs the stage. A nil scorer scores everything heuristically.
func NewScoring(scorer ports.Scorer, cfg ScoringConfig, logger *zap.Logger, m *metrics.Collector) *Scoring {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	return &Scoring{
		scorer:  scorer,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "scoring")),
		metrics: m,
	}
}

// Run scores items in place. A batch whose call times out, fails or returns an
// unparseable payload is scored by the keyword heuristic; only user
// cancellation is returned as an error.
func (s *Scoring) Run(ctx context.Context, in ScoringInput, items []domain.Item, report func(string)) (ScoringStats, error) {
	started := time.Now()
	heuristic := NewKeywordHeuristic(in.TopicQuery, in.Subtopics, s.cfg.RelevanceMarkers, s.cfg.ExclusionMarkers, s.cfg.AcceptThreshold)
	subNames := make([]string, len(in.Subtopics))
	for i, sub := range in.Subtopics {
		subNames[i] = sub.Name
	}

	var stats ScoringStats
	total := (len(items) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	for start := 0; start < len(items); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			return stats, context.Cause(ctx)
		}
		end := start + s.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]
		stats.Batches++

		scores, err := s.callBatch(ctx, ports.ScoreRequest{
			Topic:      in.Topic,
			TopicQuery: in.TopicQuery,
			Subtopics:  subNames,
			Items:      batch,
		})
		if err != nil {
			if domain.CancelledByUser(ctx) {
				return stats, context.Cause(ctx)
			}
			scores = nil
			stats.FallbackBatches++
			s.metrics.Fallback("score", fallbackReason(err))
			s.logger.Warn("scoring batch fell back to heuristic",
				zap.Int("batch", stats.Batches),
				zap.Int("size", len(batch)),
				zap.Error(err),
			)
		}

		byID := make(map[string]domain.Score, len(scores))
		for _, sc := range scores {
			byID[sc.ID] = sc
		}
		for i := range batch {
			if sc, ok := byID[batch[i].ID]; ok {
				value := clampScore(sc.Value)
				batch[i].Score = domain.IntPtr(value)
				batch[i].ScoreSource = domain.ScoredByService
				batch[i].Accepted = value >= s.cfg.AcceptThreshold || sc.Accept
			} else {
				value, accepted := heuristic.Score(batch[i])
				batch[i].Score = domain.IntPtr(value)
				batch[i].ScoreSource = domain.ScoredByHeuristic
				batch[i].Accepted = accepted
				stats.HeuristicItems++
			}
			if batch[i].Accepted {
				stats.Accepted++
			}
		}

		if report != nil {
			report(fmt.Sprintf("scored batch %d/%d", stats.Batches, total))
		}
	}

	s.metrics.ObserveStage("score", time.Since(started), nil)
	s.logger.Info("scoring finished",
		zap.Int("items", len(items)),
		zap.Int("accepted", stats.Accepted),
		zap.Int("batches", stats.Batches),
		zap.Int("fallback_batches", stats.FallbackBatches),
		zap.Duration("elapsed", time.Since(started)),
	)
	return stats, nil
}

func (s *Scoring) callBatch(ctx context.Context, req ports.ScoreRequest) ([]domain.Score, error) {
	if s.scorer == nil {
		return nil, nil
	}
	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	type result struct {
		scores []domain.Score
		err    error
	}
	// The scorer may ignore its context; the deadline still bounds the stage.
	done := make(chan result, 1)
	go func() {
		scores, err := s.scorer.ScoreBatch(callCtx, req)
		done <- result{scores, err}
	}()

	select {
	case r := <-done:
		return r.scores, r.err
	case <-callCtx.Done():
		if domain.CancelledByUser(ctx) {
			return nil, context.Cause(ctx)
		}
		return nil, domain.Transient("score batch", callCtx.Err())
	}
}

func fallbackReason(err error) string {
	switch {
	case err == nil:
		return "missing"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
