package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/deepresearch/internal/tracker"
)

const sessionIndexKey = "sessions:index"

// RedisArchive stores one JSON summary per session with a TTL, plus a
// sorted-set index on start time for listing.
type RedisArchive struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisArchive connects to Redis and verifies the connection.
func NewRedisArchive(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisArchive, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisArchive{client: client, ttl: ttl}, nil
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID + ":summary"
}

func (r *RedisArchive) Save(ctx context.Context, summary tracker.SessionSummary) error {
	if summary.SessionID == "" {
		return fmt.Errorf("save session: empty session id")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", summary.SessionID, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, sessionKey(summary.SessionID), payload, r.ttl)
	pipe.ZAdd(ctx, sessionIndexKey, redis.Z{
		Score:  float64(summary.StartTime.UnixMilli()),
		Member: summary.SessionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", summary.SessionID, err)
	}
	return nil
}

func (r *RedisArchive) Get(ctx context.Context, sessionID string) (tracker.SessionSummary, error) {
	raw, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return tracker.SessionSummary{}, ErrNotFound
	}
	if err != nil {
		return tracker.SessionSummary{}, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	var summary tracker.SessionSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return tracker.SessionSummary{}, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return summary, nil
}

// List walks the index newest first. Expired sessions still present in the
// index are skipped.
func (r *RedisArchive) List(ctx context.Context, limit int) ([]tracker.SessionSummary, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := r.client.ZRevRange(ctx, sessionIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]tracker.SessionSummary, 0, len(ids))
	for _, id := range ids {
		summary, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

func (r *RedisArchive) Close() error { return r.client.Close() }
