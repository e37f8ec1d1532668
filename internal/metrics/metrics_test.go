package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/domain"
)

func TestCollectorCounts(t *testing.T) {
	t.Parallel()

	c := New()
	c.Fallback("scoring", "timeout")
	c.Fallback("scoring", "timeout")
	c.Transition(domain.StateSelectingStyle, domain.StateConfirmingGeneration)
	c.Transition(domain.StateSelectingStyle, domain.StateSelectingStyle)
	c.CheckpointWrite(domain.LabelCompleted, errors.New("disk full"))
	c.Event(domain.EventText, "duplicate")
	c.ObserveStage("enrich", 2*time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.fallbacks.WithLabelValues("scoring", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("selecting_style", "confirming_generation")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.transitions.WithLabelValues("selecting_style", "selecting_style")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpointWrites.WithLabelValues("completed", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.events.WithLabelValues("text", "duplicate")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorIsNoop(t *testing.T) {
	t.Parallel()

	var c *Collector
	assert.NotPanics(t, func() {
		c.Fallback("x", "y")
		c.ObserveStage("x", time.Second, nil)
		c.SessionOpened()
		c.SessionClosed()
		c.InflightAdd(1)
		c.CheckpointWrite("x", nil)
	})
	assert.Nil(t, c.Registry())
}
