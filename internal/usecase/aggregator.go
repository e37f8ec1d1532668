package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/metrics"
	"PaperBlogBot/internal/ports"
)

// AggregatorConfig holds the query and yield limits.
type AggregatorConfig struct {
	PerQueryResults   int
	BroadResults      int
	TargetCount       int
	LowYieldThreshold int
	MaxRefinements    int
}

// Aggregation is the merged search outcome.
type Aggregation struct {
	Items    []domain.Item
	Queries  []string
	FellBack bool
}

// Aggregator runs the refinement queries and merges results by identifier.
type Aggregator struct {
	searcher ports.Searcher
	cfg      AggregatorConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewAggregator constructs the aggregation stage.
func NewAggregator(searcher ports.Searcher, cfg AggregatorConfig, logger *zap.Logger, m *metrics.Collector) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		searcher: searcher,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "aggregator")),
		metrics:  m,
	}
}

// CombinedQuery joins the base topic with one refinement.
func CombinedQuery(base string, sub domain.Subtopic) string {
	refinement := strings.TrimSpace(sub.Query)
	if refinement == "" {
		refinement = strings.TrimSpace(sub.Name)
	}
	if refinement == "" {
		return base
	}
	return fmt.Sprintf("%s AND %s", base, refinement)
}

// Aggregate issues one query per refinement (or one broad query when there are
// none), keeps the first occurrence of every identifier and stops once the
// target count is reached. When refinements yield too little, the refined
// results are dropped and the broad query runs once instead.
func (a *Aggregator) Aggregate(ctx context.Context, base string, refinements []domain.Subtopic) (Aggregation, error) {
	started := time.Now()
	if limit := a.cfg.MaxRefinements; limit > 0 && len(refinements) > limit {
		refinements = refinements[:limit]
	}

	var out Aggregation
	if len(refinements) == 0 {
		items, err := a.broad(ctx, base, &out)
		if err != nil {
			return Aggregation{}, err
		}
		out.Items = items
		a.finish(out, started)
		return out, nil
	}

	merged := newMerger(a.cfg.TargetCount)
	for _, sub := range refinements {
		if merged.full() {
			break
		}
		query := CombinedQuery(base, sub)
		out.Queries = append(out.Queries, query)

		items, err := a.searcher.Search(ctx, query, a.cfg.PerQueryResults)
		if err != nil {
			if ctx.Err() != nil {
				return Aggregation{}, context.Cause(ctx)
			}
			a.logger.Warn("refinement query failed", zap.String("query", query), zap.Error(err))
			a.metrics.Fallback("aggregate", "query_failed")
			continue
		}
		merged.add(items)
	}

	if merged.len() <= a.cfg.LowYieldThreshold {
		a.logger.Info("low yield, re-issuing broad query",
			zap.Int("unique", merged.len()),
			zap.Int("threshold", a.cfg.LowYieldThreshold),
		)
		a.metrics.Fallback("aggregate", "low_yield")
		items, err := a.broad(ctx, base, &out)
		if err != nil {
			return Aggregation{}, err
		}
		out.Items = items
		out.FellBack = true
		a.finish(out, started)
		return out, nil
	}

	out.Items = merged.items
	a.finish(out, started)
	return out, nil
}

func (a *Aggregator) broad(ctx context.Context, base string, out *Aggregation) ([]domain.Item, error) {
	out.Queries = append(out.Queries, base)
	items, err := a.searcher.Search(ctx, base, a.cfg.BroadResults)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		a.logger.Warn("broad query failed", zap.String("query", base), zap.Error(err))
		a.metrics.Fallback("aggregate", "query_failed")
		return nil, nil
	}
	target := a.cfg.BroadResults
	if a.cfg.TargetCount > target {
		target = a.cfg.TargetCount
	}
	m := newMerger(target)
	m.add(items)
	return m.items, nil
}

func (a *Aggregator) finish(out Aggregation, started time.Time) {
	a.metrics.ObserveStage("aggregate", time.Since(started), nil)
	a.logger.Info("aggregation finished",
		zap.Int("items", len(out.Items)),
		zap.Int("queries", len(out.Queries)),
		zap.Bool("fell_back", out.FellBack),
		zap.Duration("elapsed", time.Since(started)),
	)
}

// merger keeps first-discovery order and drops rediscovered identifiers.
type merger struct {
	limit int
	seen  map[string]struct{}
	items []domain.Item
}

func newMerger(limit int) *merger {
	return &merger{limit: limit, seen: make(map[string]struct{})}
}

func (m *merger) add(items []domain.Item) {
	for _, it := range items {
		if m.full() {
			return
		}
		if it.ID == "" {
			continue
		}
		if _, dup := m.seen[it.ID]; dup {
			continue
		}
		m.seen[it.ID] = struct{}{}
		it.Enrichment = domain.EnrichmentAbsent
		it.Score = nil
		it.Accepted = false
		m.items = append(m.items, it)
	}
}

func (m *merger) full() bool {
	return m.limit > 0 && len(m.items) >= m.limit
}

func (m *merger) len() int {
	return len(m.items)
}
