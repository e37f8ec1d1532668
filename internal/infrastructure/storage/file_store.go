package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

// FileStore writes one JSON file per checkpoint into a directory. Files are
// created with a hard link from a temp file, so an existing record is never
// replaced.
type FileStore struct {
	dir string

	mu    sync.RWMutex
	seq   int64
	index []fileMeta
}

type fileMeta struct {
	Seq       int64
	Topic     string
	SessionID string
	Stage     string
	CreatedAt time.Time
	path      string
}

type fileRecord struct {
	Seq       int64           `json:"seq"`
	Topic     string          `json:"topic"`
	SessionID string          `json:"session_id"`
	Stage     string          `json:"stage"`
	CreatedAt time.Time       `json:"created_at"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
	Raw       []byte          `json:"raw,omitempty"`
}

var _ ports.CheckpointStore = (*FileStore)(nil)

// NewFileStore opens dir, creating it if needed, and indexes existing records.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	s := &FileStore{dir: dir}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read checkpoint dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		rec, err := readFileRecord(path)
		if err != nil {
			// Unreadable files are skipped rather than blocking startup.
			continue
		}
		s.index = append(s.index, fileMeta{
			Seq: rec.Seq, Topic: rec.Topic, SessionID: rec.SessionID,
			Stage: rec.Stage, CreatedAt: rec.CreatedAt, path: path,
		})
		if rec.Seq > s.seq {
			s.seq = rec.Seq
		}
	}
	sort.Slice(s.index, func(i, j int) bool { return s.index[i].Seq < s.index[j].Seq })
	return nil
}

// Write persists rec as a new file.
func (s *FileStore) Write(ctx context.Context, rec domain.CheckpointRecord) (domain.CheckpointRecord, error) {
	if err := validateRecord(rec); err != nil {
		return domain.CheckpointRecord{}, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Seq = s.seq + 1
	fr := fileRecord{
		Seq: rec.Seq, Topic: rec.Topic, SessionID: rec.SessionID,
		Stage: rec.Stage, CreatedAt: rec.CreatedAt,
	}
	if json.Valid(rec.Snapshot) {
		fr.Snapshot = json.RawMessage(rec.Snapshot)
	} else {
		fr.Raw = rec.Snapshot
	}
	data, err := json.MarshalIndent(fr, "", "  ")
	if err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("marshal checkpoint: %w", err)
	}

	name := fmt.Sprintf("%020d_%s_%s_%s.json", rec.Seq, slug(rec.Topic), slug(rec.SessionID), slug(rec.Stage))
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return domain.CheckpointRecord{}, fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return domain.CheckpointRecord{}, fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Link(tmpPath, path); err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("publish checkpoint: %w", err)
	}

	s.seq = rec.Seq
	s.index = append(s.index, fileMeta{
		Seq: rec.Seq, Topic: rec.Topic, SessionID: rec.SessionID,
		Stage: rec.Stage, CreatedAt: rec.CreatedAt, path: path,
	})
	return rec, nil
}

// Latest returns the newest record for topic.
func (s *FileStore) Latest(ctx context.Context, topic string) (domain.CheckpointRecord, error) {
	return s.find(func(m fileMeta) bool { return m.Topic == topic }, topic)
}

// LatestForSession returns the newest record of one session.
func (s *FileStore) LatestForSession(ctx context.Context, topic, sessionID string) (domain.CheckpointRecord, error) {
	return s.find(func(m fileMeta) bool {
		return m.Topic == topic && m.SessionID == sessionID
	}, topic+"/"+sessionID)
}

// Recent returns the newest record of each session, newest first.
func (s *FileStore) Recent(ctx context.Context, limit int) ([]domain.CheckpointRecord, error) {
	s.mu.RLock()
	var picks []fileMeta
	seen := map[string]bool{}
	for i := len(s.index) - 1; i >= 0; i-- {
		if limit > 0 && len(picks) >= limit {
			break
		}
		m := s.index[i]
		key := sessionKey(m.Topic, m.SessionID)
		if seen[key] {
			continue
		}
		seen[key] = true
		picks = append(picks, m)
	}
	s.mu.RUnlock()

	out := make([]domain.CheckpointRecord, 0, len(picks))
	for _, m := range picks {
		rec, err := readFileRecord(m.path)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.record())
	}
	return out, nil
}

func (s *FileStore) find(match func(fileMeta) bool, what string) (domain.CheckpointRecord, error) {
	s.mu.RLock()
	var path string
	for i := len(s.index) - 1; i >= 0; i-- {
		if match(s.index[i]) {
			path = s.index[i].path
			break
		}
	}
	s.mu.RUnlock()

	if path == "" {
		return domain.CheckpointRecord{}, fmt.Errorf("checkpoint %s: %w", what, domain.ErrNotFound)
	}
	rec, err := readFileRecord(path)
	if err != nil {
		return domain.CheckpointRecord{}, err
	}
	return rec.record(), nil
}

func readFileRecord(path string) (fileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fileRecord{}, fmt.Errorf("checkpoint file %s: %w", filepath.Base(path), domain.ErrNotFound)
		}
		return fileRecord{}, fmt.Errorf("read checkpoint: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fileRecord{}, fmt.Errorf("decode checkpoint %s: %w", filepath.Base(path), err)
	}
	if rec.Seq == 0 {
		rec.Seq = seqFromName(filepath.Base(path))
	}
	return rec, nil
}

func (r fileRecord) record() domain.CheckpointRecord {
	snap := []byte(r.Snapshot)
	if len(snap) == 0 {
		snap = r.Raw
	}
	return domain.CheckpointRecord{
		Seq: r.Seq, Topic: r.Topic, SessionID: r.SessionID,
		Stage: r.Stage, CreatedAt: r.CreatedAt,
		Snapshot: append([]byte(nil), snap...),
	}
}

func seqFromName(name string) int64 {
	head, _, _ := strings.Cut(name, "_")
	n, _ := strconv.ParseInt(head, 10, 64)
	return n
}

func slug(s string) string {
	out := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return r
		}
		return '-'
	}, s)
	if runes := []rune(out); len(runes) > 40 {
		out = string(runes[:40])
	}
	return out
}
