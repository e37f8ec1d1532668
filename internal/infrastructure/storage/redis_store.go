package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

// RedisStore keeps checkpoints in Redis. Each record is a string key written
// with SET NX; sorted sets scored by sequence index records per topic, per
// session and the newest record of every session.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

type redisRecord struct {
	Seq       int64     `json:"seq"`
	Topic     string    `json:"topic"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Snapshot  []byte    `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

var _ ports.CheckpointStore = (*RedisStore)(nil)

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "paperblogbot"
	}
	return &RedisStore{client: client, keyPrefix: prefix + ":checkpoint:"}
}

// DialRedis connects and pings the server.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Ping checks if the store is healthy.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) seqKey() string {
	return s.keyPrefix + "seq"
}

func (s *RedisStore) recordKey(seq int64) string {
	return s.keyPrefix + "data:" + strconv.FormatInt(seq, 10)
}

func (s *RedisStore) topicKey(topic string) string {
	return s.keyPrefix + "topic:" + topic
}

func (s *RedisStore) sessionIndexKey(topic, sessionID string) string {
	return s.keyPrefix + "session:" + topic + ":" + sessionID
}

func (s *RedisStore) latestKey() string {
	return s.keyPrefix + "latest"
}

// Write stores rec under a fresh sequence number.
func (s *RedisStore) Write(ctx context.Context, rec domain.CheckpointRecord) (domain.CheckpointRecord, error) {
	if err := validateRecord(rec); err != nil {
		return domain.CheckpointRecord{}, err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	seq, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return domain.CheckpointRecord{}, domain.Transient("redis incr", err)
	}
	rec.Seq = seq

	data, err := json.Marshal(redisRecord{
		Seq: rec.Seq, Topic: rec.Topic, SessionID: rec.SessionID,
		Stage: rec.Stage, Snapshot: rec.Snapshot, CreatedAt: rec.CreatedAt,
	})
	if err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.recordKey(seq), data, 0).Result()
	if err != nil {
		return domain.CheckpointRecord{}, domain.Transient("redis setnx", err)
	}
	if !ok {
		return domain.CheckpointRecord{}, fmt.Errorf("checkpoint %d already exists", seq)
	}

	member := strconv.FormatInt(seq, 10)
	score := float64(seq)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.topicKey(rec.Topic), redis.Z{Score: score, Member: member})
	pipe.ZAdd(ctx, s.sessionIndexKey(rec.Topic, rec.SessionID), redis.Z{Score: score, Member: member})
	pipe.ZAddArgs(ctx, s.latestKey(), redis.ZAddArgs{
		GT:      true,
		Members: []redis.Z{{Score: score, Member: sessionKey(rec.Topic, rec.SessionID)}},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.CheckpointRecord{}, domain.Transient("redis index", err)
	}
	return rec, nil
}

// Latest returns the newest record for topic.
func (s *RedisStore) Latest(ctx context.Context, topic string) (domain.CheckpointRecord, error) {
	return s.newestIn(ctx, s.topicKey(topic), topic)
}

// LatestForSession returns the newest record of one session.
func (s *RedisStore) LatestForSession(ctx context.Context, topic, sessionID string) (domain.CheckpointRecord, error) {
	return s.newestIn(ctx, s.sessionIndexKey(topic, sessionID), topic+"/"+sessionID)
}

// Recent returns the newest record of each session, newest first.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]domain.CheckpointRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	entries, err := s.client.ZRevRangeWithScores(ctx, s.latestKey(), 0, stop).Result()
	if err != nil {
		return nil, domain.Transient("redis zrevrange", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	keys := make([]string, len(entries))
	for i, z := range entries {
		keys[i] = s.recordKey(int64(z.Score))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, domain.Transient("redis mget", err)
	}

	out := make([]domain.CheckpointRecord, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		rec, err := decodeRedisRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) newestIn(ctx context.Context, index, what string) (domain.CheckpointRecord, error) {
	members, err := s.client.ZRevRange(ctx, index, 0, 0).Result()
	if err != nil {
		return domain.CheckpointRecord{}, domain.Transient("redis zrevrange", err)
	}
	if len(members) == 0 {
		return domain.CheckpointRecord{}, fmt.Errorf("checkpoint %s: %w", what, domain.ErrNotFound)
	}
	seq, err := strconv.ParseInt(members[0], 10, 64)
	if err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("bad index member %q: %w", members[0], err)
	}

	data, err := s.client.Get(ctx, s.recordKey(seq)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CheckpointRecord{}, fmt.Errorf("checkpoint %s: %w", what, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CheckpointRecord{}, domain.Transient("redis get", err)
	}
	return decodeRedisRecord(data)
}

func decodeRedisRecord(data []byte) (domain.CheckpointRecord, error) {
	var r redisRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.CheckpointRecord{}, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return domain.CheckpointRecord{
		Seq: r.Seq, Topic: r.Topic, SessionID: r.SessionID,
		Stage: r.Stage, Snapshot: r.Snapshot, CreatedAt: r.CreatedAt,
	}, nil
}
