package usecase

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

func evenAcceptingScorer() scorerFunc {
	return func(ctx context.Context, req ports.ScoreRequest) ([]domain.Score, error) {
		out := make([]domain.Score, 0, len(req.Items))
		for _, it := range req.Items {
			n, _ := strconv.Atoi(it.ID)
			out = append(out, domain.Score{ID: it.ID, Value: 10, Accept: n%2 == 0})
		}
		return out, nil
	}
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Aggregator: testAggregatorConfig(),
		Enrichment: EnrichmentConfig{Prefix: 50, Budget: time.Minute, ProgressEvery: 5},
		Scoring:    testScoringConfig(),
	}
}

func TestPipelineThreeSubtopicsTwoItemsEach(t *testing.T) {
	t.Parallel()

	search := &fakeSearcher{results: map[string][]domain.Item{
		"T AND a": itemsWithIDs("1", "2"),
		"T AND b": itemsWithIDs("3", "4"),
		"T AND c": itemsWithIDs("5", "6"),
	}}
	pipeline := NewPipeline(PipelineDeps{
		Searcher: search,
		Enricher: &fakeEnricher{missing: map[string]bool{"5": true}},
		Scorer:   evenAcceptingScorer(),
		Config:   testPipelineConfig(),
	})

	var reports []string
	res, err := pipeline.Run(context.Background(), PipelineRequest{Topic: "T", Subtopics: subs("a", "b", "c")}, func(s string) {
		reports = append(reports, s)
	})
	require.NoError(t, err)

	assert.Len(t, res.Items, 6)
	session := domain.Session{Items: res.Items}
	assert.Len(t, session.Accepted(), 3)
	assert.Len(t, session.Rejected(), 3)
	assert.Equal(t, 5, res.Enrichment.Enriched)
	assert.Equal(t, []string{"T AND a", "T AND b", "T AND c"}, res.Queries)
	assert.NotEmpty(t, reports)
}

func TestPipelineEmptySearchSkipsLaterStages(t *testing.T) {
	t.Parallel()

	called := false
	scorer := scorerFunc(func(ctx context.Context, req ports.ScoreRequest) ([]domain.Score, error) {
		called = true
		return nil, nil
	})
	res, err := NewPipeline(PipelineDeps{Searcher: &fakeSearcher{}, Scorer: scorer, Config: testPipelineConfig()}).
		Run(context.Background(), PipelineRequest{Topic: "T"}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.False(t, called)
}

func TestPipelineCancelledByUser(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	search := &fakeSearcher{results: map[string][]domain.Item{"T": itemsWithIDs("1", "2")}}
	scorer := scorerFunc(func(c context.Context, req ports.ScoreRequest) ([]domain.Score, error) {
		cancel(domain.ErrUserCancelled)
		<-c.Done()
		return nil, c.Err()
	})
	_, err := NewPipeline(PipelineDeps{Searcher: search, Scorer: scorer, Config: testPipelineConfig()}).
		Run(ctx, PipelineRequest{Topic: "T"}, nil)
	require.ErrorIs(t, err, domain.ErrUserCancelled)
}
