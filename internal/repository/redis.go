package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slotguard/internal/config"
	"slotguard/internal/models"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis client.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// consumeScript checks both windows and increments them only when both pass.
// It returns {allowed, minuteCount, hourCount, violatedScope, pttl} where
// violatedScope is 0 (none), 1 (minute) or 2 (hour).
var consumeScript = redis.NewScript(`
local cost = tonumber(ARGV[3])
local minuteLimit = tonumber(ARGV[1])
local hourLimit = tonumber(ARGV[2])
local minute = tonumber(redis.call('GET', KEYS[1]) or '0')
local hour = tonumber(redis.call('GET', KEYS[2]) or '0')

if minuteLimit > 0 and minute + cost > minuteLimit then
	return {0, minute, hour, 1, redis.call('PTTL', KEYS[1])}
end
if hourLimit > 0 and hour + cost > hourLimit then
	return {0, minute, hour, 2, redis.call('PTTL', KEYS[2])}
end

minute = redis.call('INCRBY', KEYS[1], cost)
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
hour = redis.call('INCRBY', KEYS[2], cost)
if redis.call('PTTL', KEYS[2]) < 0 then
	redis.call('PEXPIRE', KEYS[2], ARGV[5])
end
return {1, minute, hour, 0, 0}
`)

// RedisCounterStore keeps fixed-window counters shared by every instance.
type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

// counterKey uses a hash tag so both windows of one identity share a cluster slot.
func counterKey(identity string, scope models.LimitScope) string {
	return fmt.Sprintf("ratelimit:{%s}:%s", identity, scope.Label())
}

func (r *RedisCounterStore) Consume(ctx context.Context, identity string, limits models.Limits, cost int) (*models.LimitResult, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	keys := []string{counterKey(identity, models.ScopeMinute), counterKey(identity, models.ScopeHour)}
	raw, err := consumeScript.Run(ctx, r.client, keys,
		limits.PerMinute, limits.PerHour, cost,
		time.Minute.Milliseconds(), time.Hour.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	if len(raw) != 5 {
		return nil, fmt.Errorf("unexpected rate limit script reply: %v", raw)
	}

	allowed, minute, hour, violated, pttl := raw[0] == 1, int(raw[1]), int(raw[2]), raw[3], raw[4]
	if allowed {
		return &models.LimitResult{
			Allowed:         true,
			RemainingMinute: remaining(limits.PerMinute, minute),
			RemainingHour:   remaining(limits.PerHour, hour),
		}, nil
	}

	scope := models.ScopeMinute
	if violated == 2 {
		scope = models.ScopeHour
	}
	return &models.LimitResult{
		Allowed:           false,
		RemainingMinute:   remaining(limits.PerMinute, minute),
		RemainingHour:     remaining(limits.PerHour, hour),
		Scope:             scope,
		RetryAfterSeconds: retryAfter(time.Duration(pttl)*time.Millisecond, scope.Window()),
	}, nil
}

// RedisIdempotencyStore keeps idempotency records as JSON strings.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func idempotencyKey(key string) string {
	return "idempotency:" + key
}

// releaseScript deletes the key only while it still holds the caller's lease.
var releaseScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return 0
end
local record = cjson.decode(raw)
if record.state == 'pending' and record.token == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

func (r *RedisIdempotencyStore) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	val, err := r.client.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	var record models.IdempotencyRecord
	if err := json.Unmarshal(val, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &record, nil
}

func (r *RedisIdempotencyStore) Reserve(ctx context.Context, record *models.IdempotencyRecord, lease time.Duration) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	ok, err := r.client.SetNX(ctx, idempotencyKey(record.Key), data, lease).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (r *RedisIdempotencyStore) Complete(ctx context.Context, record *models.IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	if err := r.client.Set(ctx, idempotencyKey(record.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store idempotency record: %w", err)
	}
	return nil
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, r.client, []string{idempotencyKey(key)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release idempotency key: %w", err)
	}
	return nil
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// retryAfter rounds up to whole seconds, never below one.
func retryAfter(wait, window time.Duration) int {
	if wait <= 0 {
		wait = window
	}
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
