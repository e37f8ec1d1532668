package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/metrics"
	"PaperBlogBot/internal/ports"
)

// EnrichmentConfig bounds the enrichment stage.
type EnrichmentConfig struct {
	Prefix        int
	Budget        time.Duration
	CallTimeout   time.Duration
	ProgressEvery int
}

// EnrichmentStats summarises one enrichment run.
type EnrichmentStats struct {
	Attempted int
	Enriched  int
	Failed    int
	Exhausted bool
}

// Enrichment fetches extended text for a ranked prefix under a wall-clock budget.
type Enrichment struct {
	enricher ports.Enricher
	cfg      EnrichmentConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// NewEnrichment constructs the stage. A nil enricher leaves every item absent.
func NewEnrichment(enricher ports.Enricher, cfg EnrichmentConfig, logger *zap.Logger, m *metrics.Collector) *Enrichment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enrichment{
		enricher: enricher,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "enrichment")),
		metrics:  m,
		now:      time.Now,
	}
}

// Run enriches items in place. Attempts stop once the budget is spent; items
// never tried stay absent and tried items without text, failed calls included,
// are marked attempted. report is called every
// ProgressEvery attempts regardless of outcome and may be nil.
func (e *Enrichment) Run(ctx context.Context, items []domain.Item, report func(string)) (EnrichmentStats, error) {
	var stats EnrichmentStats
	for i := range items {
		items[i].Enrichment = domain.EnrichmentAbsent
	}
	if e.enricher == nil || len(items) == 0 {
		return stats, nil
	}

	started := e.now()
	prefix := e.cfg.Prefix
	if prefix <= 0 || prefix > len(items) {
		prefix = len(items)
	}

	for i := 0; i < prefix; i++ {
		if e.cfg.Budget > 0 && e.now().Sub(started) >= e.cfg.Budget {
			stats.Exhausted = true
			e.logger.Info("enrichment budget exhausted",
				zap.Int("attempted", stats.Attempted),
				zap.Int("remaining", prefix-i),
			)
			e.metrics.Fallback("enrich", "budget")
			break
		}
		if ctx.Err() != nil {
			return stats, context.Cause(ctx)
		}

		stats.Attempted++
		items[i].Enrichment = domain.EnrichmentAttempted
		enriched, err := e.attempt(ctx, items[i])
		switch {
		case err != nil:
			if domain.CancelledByUser(ctx) {
				return stats, context.Cause(ctx)
			}
			stats.Failed++
			e.logger.Debug("enrichment attempt failed", zap.String("id", items[i].ID), zap.Error(err))
		case enriched != nil && (enriched.Conclusion != "" || enriched.Results != ""):
			stats.Enriched++
			items[i].Enrichment = domain.EnrichmentPresent
			items[i].ExtendedRef = enriched.Ref
			items[i].Conclusion = enriched.Conclusion
			items[i].Results = enriched.Results
		}

		if every := e.cfg.ProgressEvery; report != nil && every > 0 && stats.Attempted%every == 0 {
			report(fmt.Sprintf("full text %d/%d checked, %d found", stats.Attempted, prefix, stats.Enriched))
		}
	}

	e.metrics.ObserveStage("enrich", e.now().Sub(started), nil)
	e.logger.Info("enrichment finished",
		zap.Int("items", len(items)),
		zap.Int("attempted", stats.Attempted),
		zap.Int("enriched", stats.Enriched),
		zap.Int("failed", stats.Failed),
		zap.Bool("exhausted", stats.Exhausted),
	)
	return stats, nil
}

func (e *Enrichment) attempt(ctx context.Context, item domain.Item) (*domain.Enrichment, error) {
	callCtx := ctx
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}
	return e.enricher.Enrich(callCtx, item)
}
