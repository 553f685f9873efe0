package status

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store publishes session status for external observers (dashboards, ops
// tooling). Publishing is best-effort: failures are logged by the caller and
// never affect the session.
type Store interface {
	SetState(ctx context.Context, sessionID, state, lang string) error
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

// RedisStore keeps one hash per session, expiring after ttl so abandoned
// entries clean themselves up.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(addr, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "captionstream:session:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) SetState(ctx context.Context, sessionID, state, lang string) error {
	key := s.prefix + sessionID
	if err := s.client.HSet(ctx, key,
		"state", state,
		"lang", lang,
		"updated_at", time.Now().Format(time.RFC3339),
	).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.prefix+sessionID).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Nop is used when no Redis address is configured.
type Nop struct{}

func (Nop) SetState(context.Context, string, string, string) error { return nil }
func (Nop) Clear(context.Context, string) error                    { return nil }
func (Nop) Close() error                                           { return nil }
