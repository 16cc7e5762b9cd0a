package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps counters in Redis, suitable for multi-replica
// deployments where every replica must see the same window counts.
//
// Each user owns one hash key "<prefix><userID>" with two fields:
// "start" (window start, unix milliseconds) and "count". The rollover
// check and increment run in a single Lua script so concurrent
// replicas agree on the window. Expiry is set to two windows so a Peek
// right after rollover still resolves, then Redis reclaims the key on
// its own.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// incrScript rolls the user's window when it has ended, then counts
// the request. Returns {count, windowStart}.
var incrScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local start = tonumber(redis.call('HGET', KEYS[1], 'start'))
if not start or now - start >= window then
  start = now
  redis.call('HSET', KEYS[1], 'start', start)
  redis.call('HSET', KEYS[1], 'count', 0)
end
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('PEXPIRE', KEYS[1], window * 2)
return {count, start}
`)

// RedisConfig configures the Redis-backed counter store.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "queryguard:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "ratelimit:",
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests and
// by callers that share one client across stores.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "queryguard:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "ratelimit:",
	}
}

func (s *RedisStore) userKey(userID string) string {
	return s.keyPrefix + userID
}

// Incr adds one request to the user's bucket, rolling the window when
// the previous one has ended.
func (s *RedisStore) Incr(ctx context.Context, userID string, now time.Time) (int64, time.Time, error) {
	res, err := incrScript.Run(ctx, s.client,
		[]string{s.userKey(userID)},
		now.UnixMilli(), Window.Milliseconds(),
	).Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected rate limit script reply: %v", res)
	}
	count, ok := res[0].(int64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("corrupt rate limit count %v", res[0])
	}
	startMs, ok := res[1].(int64)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("corrupt rate limit window start %v", res[1])
	}
	return count, time.UnixMilli(startMs), nil
}

// Peek returns the current count without incrementing.
func (s *RedisStore) Peek(ctx context.Context, userID string, now time.Time) (int64, time.Time, error) {
	vals, err := s.client.HMGet(ctx, s.userKey(userID), "start", "count").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read rate limit counter: %w", err)
	}
	startMs, err := hashFieldInt(vals[0])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("corrupt rate limit window start: %w", err)
	}
	if startMs == 0 {
		return 0, time.Time{}, nil
	}
	windowStart := time.UnixMilli(startMs)
	if !now.Before(windowStart.Add(Window)) {
		return 0, time.Time{}, nil
	}
	count, err := hashFieldInt(vals[1])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("corrupt rate limit count: %w", err)
	}
	return count, windowStart, nil
}

// hashFieldInt parses an HMGET value; a missing field reads as zero.
func hashFieldInt(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected value %v", v)
	}
	return strconv.ParseInt(str, 10, 64)
}

// Sweep is a no-op: Redis expires bucket keys via TTL.
func (s *RedisStore) Sweep(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

// Entries counts the bucket keys currently held.
func (s *RedisStore) Entries(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ActiveUsers counts distinct users whose window is still live at now.
func (s *RedisStore) ActiveUsers(ctx context.Context, now time.Time) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}

	active := 0
	for _, key := range keys {
		val, err := s.client.HGet(ctx, key, "start").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read rate limit window start: %w", err)
		}
		startMs, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt rate limit window start %q: %w", val, err)
		}
		if now.Before(time.UnixMilli(startMs).Add(Window)) {
			active++
		}
	}
	return active, nil
}

func (s *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan rate limit keys: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Ping checks connectivity, used by readiness probes.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
