package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Completes only a pending claim that still carries the same fingerprint.
var redisIdempotencyCompleteScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local rec = cjson.decode(raw)
if rec["fingerprint"] ~= ARGV[1] or rec["status"] == "completed" then
  return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// Deletes a pending claim only while it still carries the same fingerprint.
var redisIdempotencyReleaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local rec = cjson.decode(raw)
if rec["fingerprint"] ~= ARGV[1] or rec["status"] == "completed" then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

type redisIdempotencyRecord struct {
	Fingerprint string              `json:"fingerprint"`
	Status      string              `json:"status"`
	Response    *CachedHTTPResponse `json:"response,omitempty"`
}

type RedisIdempotencyStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisIdempotencyStore(client redis.UniversalClient, prefix string) *RedisIdempotencyStore {
	if prefix == "" {
		prefix = "idem"
	}
	return &RedisIdempotencyStore{client: client, prefix: prefix}
}

func (s *RedisIdempotencyStore) key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, scope, key)
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	if s.client == nil {
		return IdempotencyBeginResult{}, errors.New("redis client is nil")
	}
	storeKey := s.key(scope, key)
	pending, err := json.Marshal(redisIdempotencyRecord{Fingerprint: fingerprint, Status: string(IdempotencyStateInProgress)})
	if err != nil {
		return IdempotencyBeginResult{}, err
	}
	claimed, err := s.client.SetNX(ctx, storeKey, pending, ttl).Result()
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return IdempotencyBeginResult{State: IdempotencyStateNew}, nil
	}

	raw, err := s.client.Get(ctx, storeKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return s.Begin(ctx, scope, key, fingerprint, ttl)
	}
	if err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("read idempotency key: %w", err)
	}
	var rec redisIdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return IdempotencyBeginResult{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	var cached CachedHTTPResponse
	if rec.Response != nil {
		cached = *rec.Response
	}
	return stateForRecord(rec.Fingerprint, rec.Status, fingerprint, cached), nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}
	payload, err := json.Marshal(redisIdempotencyRecord{
		Fingerprint: fingerprint,
		Status:      idempotencyStatusCompleted,
		Response:    &response,
	})
	if err != nil {
		return err
	}
	ttlMS := ttl.Milliseconds()
	if ttlMS <= 0 {
		ttlMS = 1000
	}
	if err := redisIdempotencyCompleteScript.Run(ctx, s.client, []string{s.key(scope, key)}, fingerprint, string(payload), ttlMS).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, scope, key, fingerprint string) error {
	if s.client == nil {
		return errors.New("redis client is nil")
	}
	if err := redisIdempotencyReleaseScript.Run(ctx, s.client, []string{s.key(scope, key)}, fingerprint).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
