package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/domain"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

type fakeEnricher struct {
	clock   *fakeClock
	latency time.Duration
	fail    map[string]bool
	missing map[string]bool
	calls   []string
}

func (f *fakeEnricher) Enrich(ctx context.Context, item domain.Item) (*domain.Enrichment, error) {
	f.calls = append(f.calls, item.ID)
	if f.clock != nil {
		f.clock.t = f.clock.t.Add(f.latency)
	}
	if f.fail[item.ID] {
		return nil, domain.Transient("pmc", errors.New("timeout"))
	}
	if f.missing[item.ID] {
		return nil, nil
	}
	return &domain.Enrichment{Ref: "PMC" + item.ID, Conclusion: "conclusion " + item.ID}, nil
}

func numberedItems(n int) []domain.Item {
	out := make([]domain.Item, n)
	for i := range out {
		out[i] = domain.Item{ID: fmt.Sprintf("%d", i+1), Title: "t"}
	}
	return out
}

func newTestEnrichment(enricher *fakeEnricher, cfg EnrichmentConfig) *Enrichment {
	e := NewEnrichment(enricher, cfg, nil, nil)
	if enricher.clock != nil {
		e.now = enricher.clock.now
	}
	return e
}

func TestEnrichmentBudgetStopsAttempts(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{t: time.Unix(0, 0)}
	enricher := &fakeEnricher{clock: clock, latency: 10 * time.Second}
	cfg := EnrichmentConfig{Prefix: 50, Budget: 300 * time.Second, ProgressEvery: 5}

	items := numberedItems(80)
	stats, err := newTestEnrichment(enricher, cfg).Run(context.Background(), items, nil)
	require.NoError(t, err)

	assert.True(t, stats.Exhausted)
	assert.Equal(t, 30, stats.Attempted)
	assert.Less(t, stats.Enriched, 50)

	enriched := 0
	for i, it := range items {
		if it.Enriched() {
			enriched++
			continue
		}
		assert.Equal(t, domain.EnrichmentAbsent, it.Enrichment, "item %d", i)
	}
	assert.Equal(t, stats.Enriched, enriched)
	for _, it := range items[50:] {
		assert.Equal(t, domain.EnrichmentAbsent, it.Enrichment)
	}
}

func TestEnrichmentFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	enricher := &fakeEnricher{
		fail:    map[string]bool{"2": true},
		missing: map[string]bool{"3": true},
	}
	items := numberedItems(4)
	stats, err := newTestEnrichment(enricher, EnrichmentConfig{Prefix: 50, Budget: time.Minute}).Run(context.Background(), items, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Attempted)
	assert.Equal(t, 2, stats.Enriched)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, domain.EnrichmentPresent, items[0].Enrichment)
	assert.Equal(t, "PMC1", items[0].ExtendedRef)
	assert.Equal(t, domain.EnrichmentAttempted, items[1].Enrichment, "a failed call still counts as tried")
	assert.False(t, items[1].Enriched())
	assert.Equal(t, domain.EnrichmentAttempted, items[2].Enrichment)
	assert.False(t, items[2].Enriched())
	assert.Equal(t, domain.EnrichmentPresent, items[3].Enrichment)
	assert.Equal(t, []string{"1", "2", "3", "4"}, enricher.calls, "no retries")
}

func TestEnrichmentReportsAtCadence(t *testing.T) {
	t.Parallel()

	enricher := &fakeEnricher{fail: map[string]bool{"1": true, "7": true}}
	var reports []string
	_, err := newTestEnrichment(enricher, EnrichmentConfig{Prefix: 12, ProgressEvery: 5}).
		Run(context.Background(), numberedItems(20), func(s string) { reports = append(reports, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{
		"full text 5/12 checked, 4 found",
		"full text 10/12 checked, 8 found",
	}, reports)
}

func TestEnrichmentWithoutEnricherLeavesItemsAbsent(t *testing.T) {
	t.Parallel()

	items := numberedItems(3)
	items[0].Enrichment = domain.EnrichmentPresent
	stats, err := NewEnrichment(nil, EnrichmentConfig{Prefix: 50}, nil, nil).Run(context.Background(), items, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Attempted)
	for _, it := range items {
		assert.Equal(t, domain.EnrichmentAbsent, it.Enrichment)
	}
}

func TestEnrichmentHonoursUserCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(domain.ErrUserCancelled)
	_, err := newTestEnrichment(&fakeEnricher{}, EnrichmentConfig{Prefix: 5}).Run(ctx, numberedItems(5), nil)
	require.ErrorIs(t, err, domain.ErrUserCancelled)
}
