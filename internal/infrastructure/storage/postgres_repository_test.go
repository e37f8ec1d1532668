package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PaperBlogBot/internal/domain"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresWriteReturnsSequence(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO session_checkpoints \(topic,session_id,stage,snapshot,created_at\) VALUES \(\$1,\$2,\$3,\$4,\$5\) RETURNING seq`).
		WithArgs("reflux", "s1", domain.LabelCandidatesScored, []byte(`{}`), created).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(42)))

	rec, err := store.Write(context.Background(), domain.CheckpointRecord{
		Topic: "reflux", SessionID: "s1", Stage: domain.LabelCandidatesScored,
		Snapshot: []byte(`{}`), CreatedAt: created,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteFailureIsTransient(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`INSERT INTO session_checkpoints`).WillReturnError(errors.New("connection reset"))

	_, err := store.Write(context.Background(), domain.CheckpointRecord{Topic: "t", SessionID: "s", Stage: "x"})
	require.ErrorIs(t, err, domain.ErrTransient)
}

func TestPostgresLatest(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(checkpointColumns).
		AddRow(int64(7), "reflux", "s2", domain.LabelStyleSelected, []byte(`{"v":1}`), created)
	mock.ExpectQuery(`SELECT seq, topic, session_id, stage, snapshot, created_at FROM session_checkpoints WHERE topic = \$1 ORDER BY seq DESC LIMIT 1`).
		WithArgs("reflux").
		WillReturnRows(rows)

	rec, err := store.Latest(context.Background(), "reflux")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Seq)
	assert.Equal(t, "s2", rec.SessionID)
	assert.Equal(t, `{"v":1}`, string(rec.Snapshot))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLatestForSessionNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM session_checkpoints WHERE session_id = \$1 AND topic = \$2`).
		WithArgs("s9", "reflux").
		WillReturnError(sql.ErrNoRows)

	_, err := store.LatestForSession(context.Background(), "reflux", "s9")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecentUsesDistinctOn(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(checkpointColumns).
		AddRow(int64(9), "sleep", "s3", domain.LabelCompleted, []byte(`{}`), created).
		AddRow(int64(5), "reflux", "s1", domain.LabelCandidatesScored, []byte(`{}`), created)
	mock.ExpectQuery(`SELECT .+ FROM \(SELECT DISTINCT ON \(topic, session_id\) .+ FROM session_checkpoints ORDER BY topic, session_id, seq DESC\) AS latest ORDER BY seq DESC LIMIT 5`).
		WillReturnRows(rows)

	recs, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "s3", recs[0].SessionID)
	assert.Equal(t, int64(5), recs[1].Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS session_checkpoints`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS session_checkpoints_topic_idx`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS session_checkpoints_session_idx`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
