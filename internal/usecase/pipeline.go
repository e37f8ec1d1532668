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

// PipelineConfig groups the per-stage settings.
type PipelineConfig struct {
	Aggregator AggregatorConfig
	Enrichment EnrichmentConfig
	Scoring    ScoringConfig
}

// PipelineDeps wires all driven adapters into the search pipeline.
type PipelineDeps struct {
	Searcher ports.Searcher
	Enricher ports.Enricher
	Scorer   ports.Scorer
	Config   PipelineConfig
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// PipelineRequest identifies what to search for.
type PipelineRequest struct {
	Topic      string
	TopicQuery string
	Subtopics  []domain.Subtopic
}

// PipelineResult is the scored candidate set.
type PipelineResult struct {
	Items      []domain.Item
	Queries    []string
	FellBack   bool
	Enrichment EnrichmentStats
	Scoring    ScoringStats
}

// Pipeline implements aggregate, enrich and score in that order.
type Pipeline struct {
	aggregator *Aggregator
	enrichment *Enrichment
	scoring    *Scoring
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		aggregator: NewAggregator(deps.Searcher, deps.Config.Aggregator, logger, deps.Metrics),
		enrichment: NewEnrichment(deps.Enricher, deps.Config.Enrichment, logger, deps.Metrics),
		scoring:    NewScoring(deps.Scorer, deps.Config.Scoring, logger, deps.Metrics),
		logger:     logger.With(zap.String("component", "pipeline")),
		metrics:    deps.Metrics,
	}
}

// Run executes the three stages. Stage faults are absorbed by their fallbacks,
// so the only errors returned are cancellations.
func (p *Pipeline) Run(ctx context.Context, req PipelineRequest, report func(string)) (PipelineResult, error) {
	started := time.Now()
	if report == nil {
		report = func(string) {}
	}
	base := req.TopicQuery
	if base == "" {
		base = req.Topic
	}

	report(fmt.Sprintf("searching with %d refinement(s)", len(req.Subtopics)))
	agg, err := p.aggregator.Aggregate(ctx, base, req.Subtopics)
	if err != nil {
		p.metrics.ObserveStage("pipeline", time.Since(started), err)
		return PipelineResult{}, fmt.Errorf("aggregate: %w", err)
	}
	result := PipelineResult{Items: agg.Items, Queries: agg.Queries, FellBack: agg.FellBack}
	if len(result.Items) == 0 {
		p.metrics.ObserveStage("pipeline", time.Since(started), nil)
		return result, nil
	}

	report(fmt.Sprintf("found %d papers, fetching full text", len(result.Items)))
	result.Enrichment, err = p.enrichment.Run(ctx, result.Items, report)
	if err != nil {
		p.metrics.ObserveStage("pipeline", time.Since(started), err)
		return PipelineResult{}, fmt.Errorf("enrich: %w", err)
	}

	report(fmt.Sprintf("scoring %d papers", len(result.Items)))
	result.Scoring, err = p.scoring.Run(ctx, ScoringInput{
		Topic:      req.Topic,
		TopicQuery: base,
		Subtopics:  req.Subtopics,
	}, result.Items, report)
	if err != nil {
		p.metrics.ObserveStage("pipeline", time.Since(started), err)
		return PipelineResult{}, fmt.Errorf("score: %w", err)
	}

	p.metrics.ObserveStage("pipeline", time.Since(started), nil)
	p.logger.Info("pipeline finished",
		zap.String("topic", req.Topic),
		zap.Int("items", len(result.Items)),
		zap.Int("accepted", result.Scoring.Accepted),
		zap.Int("enriched", result.Enrichment.Enriched),
		zap.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}
