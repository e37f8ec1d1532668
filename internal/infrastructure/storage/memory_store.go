package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	records []domain.CheckpointRecord
}

var _ ports.CheckpointStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Write appends a record and assigns its sequence number.
func (s *MemoryStore) Write(ctx context.Context, rec domain.CheckpointRecord) (domain.CheckpointRecord, error) {
	if err := validateRecord(rec); err != nil {
		return domain.CheckpointRecord{}, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.Snapshot = append([]byte(nil), rec.Snapshot...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec.Seq = s.seq
	s.records = append(s.records, rec)
	return rec, nil
}

// Latest returns the newest record for topic across sessions.
func (s *MemoryStore) Latest(ctx context.Context, topic string) (domain.CheckpointRecord, error) {
	return s.find(func(r domain.CheckpointRecord) bool { return r.Topic == topic }, topic)
}

// LatestForSession returns the newest record of one session.
func (s *MemoryStore) LatestForSession(ctx context.Context, topic, sessionID string) (domain.CheckpointRecord, error) {
	return s.find(func(r domain.CheckpointRecord) bool {
		return r.Topic == topic && r.SessionID == sessionID
	}, topic+"/"+sessionID)
}

// Recent returns the newest record of each session, newest first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]domain.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var out []domain.CheckpointRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		r := s.records[i]
		key := sessionKey(r.Topic, r.SessionID)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, copyRecord(r))
	}
	return out, nil
}

func (s *MemoryStore) find(match func(domain.CheckpointRecord) bool, what string) (domain.CheckpointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if match(s.records[i]) {
			return copyRecord(s.records[i]), nil
		}
	}
	return domain.CheckpointRecord{}, fmt.Errorf("checkpoint %s: %w", what, domain.ErrNotFound)
}

func copyRecord(r domain.CheckpointRecord) domain.CheckpointRecord {
	r.Snapshot = append([]byte(nil), r.Snapshot...)
	return r
}

func sessionKey(topic, sessionID string) string {
	return topic + "\x00" + sessionID
}

func validateRecord(rec domain.CheckpointRecord) error {
	if rec.Topic == "" || rec.SessionID == "" || rec.Stage == "" {
		return fmt.Errorf("checkpoint record needs topic, session id and stage")
	}
	return nil
}
