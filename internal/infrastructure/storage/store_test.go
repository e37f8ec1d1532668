package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "test")
}

func storeFactories() map[string]func(t *testing.T) ports.CheckpointStore {
	return map[string]func(t *testing.T) ports.CheckpointStore{
		"memory": func(t *testing.T) ports.CheckpointStore { return NewMemoryStore() },
		"file": func(t *testing.T) ports.CheckpointStore {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) ports.CheckpointStore { return newRedisTestStore(t) },
	}
}

func record(topic, session, stage, snapshot string) domain.CheckpointRecord {
	return domain.CheckpointRecord{
		Topic:     topic,
		SessionID: session,
		Stage:     stage,
		Snapshot:  []byte(snapshot),
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCheckpointStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := factory(t)

			_, err := store.Latest(ctx, "reflux")
			require.ErrorIs(t, err, domain.ErrNotFound)

			a, err := store.Write(ctx, record("reflux", "s1", domain.LabelSubtopicsSuggested, `{"n":1}`))
			require.NoError(t, err)
			b, err := store.Write(ctx, record("reflux", "s1", domain.LabelCandidatesScored, `{"n":2}`))
			require.NoError(t, err)
			c, err := store.Write(ctx, record("reflux", "s2", domain.LabelSubtopicsSuggested, `{"n":3}`))
			require.NoError(t, err)
			_, err = store.Write(ctx, record("sleep", "s3", domain.LabelStyleSelected, `{"n":4}`))
			require.NoError(t, err)

			assert.Less(t, a.Seq, b.Seq)
			assert.Less(t, b.Seq, c.Seq)

			latest, err := store.Latest(ctx, "reflux")
			require.NoError(t, err)
			assert.Equal(t, "s2", latest.SessionID)
			assert.JSONEq(t, `{"n":3}`, string(latest.Snapshot))

			sess, err := store.LatestForSession(ctx, "reflux", "s1")
			require.NoError(t, err)
			assert.Equal(t, domain.LabelCandidatesScored, sess.Stage)
			assert.Equal(t, b.Seq, sess.Seq)
			assert.True(t, sess.CreatedAt.Equal(b.CreatedAt))

			_, err = store.LatestForSession(ctx, "reflux", "missing")
			require.ErrorIs(t, err, domain.ErrNotFound)

			recent, err := store.Recent(ctx, 10)
			require.NoError(t, err)
			require.Len(t, recent, 3)
			assert.Equal(t, "s3", recent[0].SessionID)
			assert.Equal(t, "s2", recent[1].SessionID)
			assert.Equal(t, "s1", recent[2].SessionID)
			assert.Equal(t, domain.LabelCandidatesScored, recent[2].Stage)

			limited, err := store.Recent(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, limited, 2)

			first, err := store.LatestForSession(ctx, "reflux", "s1")
			require.NoError(t, err)
			assert.NotEqual(t, a.Seq, first.Seq, "earlier record is superseded, not replaced")
		})
	}
}

func TestCheckpointStoreRejectsIncompleteRecord(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			_, err := factory(t).Write(context.Background(), domain.CheckpointRecord{Topic: "x"})
			require.Error(t, err)
		})
	}
}

func TestCheckpointStoreConcurrentWriters(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					session := string(rune('a' + i))
					for j := 0; j < 5; j++ {
						_, err := store.Write(context.Background(), record("t", session, domain.LabelSubtopicsSuggested, `{}`))
						assert.NoError(t, err)
					}
				}(i)
			}
			wg.Wait()

			recent, err := store.Recent(context.Background(), 0)
			require.NoError(t, err)
			assert.Len(t, recent, 8)
		})
	}
}

func TestFileStoreReloadsExistingRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = first.Write(context.Background(), record("reflux", "s1", domain.LabelSubtopicsSuggested, `{"a":1}`))
	require.NoError(t, err)
	_, err = first.Write(context.Background(), record("reflux", "s1", domain.LabelCandidatesScored, "not json"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(dir+"/garbage.json", []byte("{"), 0o644))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	latest, err := reopened.Latest(context.Background(), "reflux")
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Seq)
	assert.Equal(t, "not json", string(latest.Snapshot))

	next, err := reopened.Write(context.Background(), record("reflux", "s1", domain.LabelStyleSelected, `{}`))
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.Seq)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
