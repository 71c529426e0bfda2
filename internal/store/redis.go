package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eternal-audio/eternal-gate/internal/gate"
)

// keyPrefix namespaces purchase records so the gate can share a Redis instance
// with other tenants.
const keyPrefix = "eternal:purchase:"

// Connect opens a Redis client from either a redis:// URL or a bare
// host:port address.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisStore is the shared record store. Records are stored as JSON blobs
// under namespaced keys; TTLs map directly onto Redis key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, id string) (gate.Record, error) {
	raw, err := s.client.Get(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return gate.Record{}, gate.ErrRecordNotFound
	}
	if err != nil {
		return gate.Record{}, fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}

	var rec gate.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return gate.Record{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return rec, nil
}

func (s *RedisStore) Put(ctx context.Context, id string, rec gate.Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// ttl 0 persists the key indefinitely, which also clears any expiry a
	// webhook pre-warm put on it. A record the polling path touched is a real
	// purchase and must not fall out from under its owner.
	if err := s.client.Set(ctx, keyPrefix+id, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}
	return nil
}

// List enumerates all record ids via SCAN, for migrations and ops tooling.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", gate.ErrStoreUnavailable, err)
	}
	return ids, nil
}
