package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

const checkpointTable = "session_checkpoints"

var checkpointColumns = []string{"seq", "topic", "session_id", "stage", "snapshot", "created_at"}

// PostgresStore persists checkpoints into Postgres. Rows are only ever inserted.
type PostgresStore struct {
	db   *sql.DB
	psql sq.StatementBuilderType
}

var _ ports.CheckpointStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:   db,
		psql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// OpenPostgres connects with the lib/pq driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the checkpoint table and its indexes when missing.
func (r *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_checkpoints (
            seq BIGSERIAL PRIMARY KEY,
            topic TEXT NOT NULL,
            session_id TEXT NOT NULL,
            stage TEXT NOT NULL,
            snapshot BYTEA NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`,
		`CREATE INDEX IF NOT EXISTS session_checkpoints_topic_idx ON session_checkpoints (topic, seq DESC)`,
		`CREATE INDEX IF NOT EXISTS session_checkpoints_session_idx ON session_checkpoints (topic, session_id, seq DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Write inserts rec; the database assigns the sequence number.
func (r *PostgresStore) Write(ctx context.Context, rec domain.CheckpointRecord) (domain.CheckpointRecord, error) {
	if err := validateRecord(rec); err != nil {
		return domain.CheckpointRecord{}, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query, args, err := r.psql.Insert(checkpointTable).
		Columns("topic", "session_id", "stage", "snapshot", "created_at").
		Values(rec.Topic, rec.SessionID, rec.Stage, rec.Snapshot, rec.CreatedAt).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("build insert: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&rec.Seq); err != nil {
		return domain.CheckpointRecord{}, domain.Transient("insert checkpoint", err)
	}
	return rec, nil
}

// Latest returns the newest record for topic.
func (r *PostgresStore) Latest(ctx context.Context, topic string) (domain.CheckpointRecord, error) {
	return r.one(ctx, sq.Eq{"topic": topic}, topic)
}

// LatestForSession returns the newest record of one session.
func (r *PostgresStore) LatestForSession(ctx context.Context, topic, sessionID string) (domain.CheckpointRecord, error) {
	return r.one(ctx, sq.Eq{"topic": topic, "session_id": sessionID}, topic+"/"+sessionID)
}

// Recent returns the newest record of each session, newest first.
func (r *PostgresStore) Recent(ctx context.Context, limit int) ([]domain.CheckpointRecord, error) {
	latest := sq.Select(checkpointColumns...).
		Options("DISTINCT ON (topic, session_id)").
		From(checkpointTable).
		OrderBy("topic", "session_id", "seq DESC")

	builder := r.psql.Select(checkpointColumns...).
		FromSelect(latest, "latest").
		OrderBy("seq DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Transient("query recent", err)
	}

	var out []domain.CheckpointRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, rec)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return out, nil
}

func (r *PostgresStore) one(ctx context.Context, where sq.Eq, what string) (domain.CheckpointRecord, error) {
	query, args, err := r.psql.Select(checkpointColumns...).
		From(checkpointTable).
		Where(where).
		OrderBy("seq DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("build select: %w", err)
	}

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CheckpointRecord{}, fmt.Errorf("checkpoint %s: %w", what, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CheckpointRecord{}, domain.Transient("select checkpoint", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.CheckpointRecord, error) {
	var rec domain.CheckpointRecord
	if err := row.Scan(&rec.Seq, &rec.Topic, &rec.SessionID, &rec.Stage, &rec.Snapshot, &rec.CreatedAt); err != nil {
		return domain.CheckpointRecord{}, err
	}
	return rec, nil
}
