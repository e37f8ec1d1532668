package app

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"PaperBlogBot/internal/config"
	"PaperBlogBot/internal/domain"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Search:      config.SearchConfig{Providers: []string{"arxiv"}},
		Checkpoints: config.CheckpointConfig{Driver: "file", Dir: t.TempDir()},
		Dispatch:    config.DispatchConfig{Workers: 1, IdleTTL: time.Minute},
		Pipeline:    config.PipelineConfig{ProgressInterval: time.Hour},
	}
}

func TestCheckpointsListsRecentAndLatest(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	for _, rec := range []domain.CheckpointRecord{
		{Topic: "gout", SessionID: "a", Stage: domain.LabelSubtopicsSuggested, Snapshot: []byte(`{}`), CreatedAt: time.Now()},
		{Topic: "gout", SessionID: "a", Stage: domain.LabelCandidatesScored, Snapshot: []byte(`{}`), CreatedAt: time.Now()},
		{Topic: "acid reflux", SessionID: "b", Stage: domain.LabelCompleted, Snapshot: []byte(`{}`), CreatedAt: time.Now()},
	} {
		_, err := a.store.Write(ctx, rec)
		require.NoError(t, err)
	}

	recent, err := a.Checkpoints(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "acid reflux", recent[0].Topic)

	latest, err := a.Checkpoints(ctx, "gout", 10)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, domain.LabelCandidatesScored, latest[0].Stage)

	_, err = a.Checkpoints(ctx, "missing", 10)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUnknownDriverIsConfigurationFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checkpoints.Driver = "etcd"
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestUnknownProviderIsConfigurationFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.Providers = []string{"scopus"}
	_, err := NewWorkflow(context.Background(), cfg, zap.NewNop())
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestServeRequiresWorkflow(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	require.Error(t, a.Serve(context.Background()))
}

func TestConsoleAnswersCommands(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checkpoints.Driver = "memory"
	a, err := NewWorkflow(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	var out bytes.Buffer
	err = a.Console(context.Background(), strings.NewReader("/start\n/help\n/resume\n"), &out, t.TempDir())
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Send a health topic")
	assert.Contains(t, text, "How it works")
	assert.Contains(t, text, "No saved sessions yet.")
}
