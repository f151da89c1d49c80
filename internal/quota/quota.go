// Package quota implements the durable per-user Quota Store (spec.md §3,
// §6.2): cumulative CPU-time usage and in-flight concurrent-execution count,
// backed by Redis hashes so increments/decrements are atomic without a
// hand-rolled lock.
package quota

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotInitialized is returned by Get when no quota row exists for the
// owner. Admission treats this as QuotaNotInitialized (spec.md §4.1 step 2).
var ErrNotInitialized = errors.New("quota: not initialized")

// Quota is the per-user durable record described in spec.md §3.
type Quota struct {
	CPUTimeUsedMs   int64
	ConcurrentCount int64
	LastResetAt     time.Time
}

// Store is the Quota Store interface the engine requires (spec.md §6.2).
type Store interface {
	Get(ctx context.Context, ownerID string) (Quota, error)
	Init(ctx context.Context, ownerID string) error
	AddCPUMs(ctx context.Context, ownerID string, deltaMs int64) error
	IncConcurrent(ctx context.Context, ownerID string) (int64, error)
	DecConcurrent(ctx context.Context, ownerID string) error
	ResetCPUIfOlderThan(ctx context.Context, interval time.Duration) (int, error)
}

const (
	fieldCPUMs      = "cpu_ms"
	fieldConcurrent = "concurrent"
	fieldResetAt    = "reset_at"
	ownerIndexKey   = "quota:owners"
	keyPrefix       = "quota:"
	timeLayout      = time.RFC3339Nano
)

func key(ownerID string) string {
	return keyPrefix + ownerID
}

// RedisStore is the Redis-backed Store implementation.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client. The client is a teacher
// dependency (internal/ws already imports go-redis/v9); quota reuses it
// rather than adding a second store technology.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Get reads the quota row for ownerID. Returns ErrNotInitialized if the
// owner has never been deployed (spec.md §3 "Created on first user deploy").
func (s *RedisStore) Get(ctx context.Context, ownerID string) (Quota, error) {
	res, err := s.rdb.HGetAll(ctx, key(ownerID)).Result()
	if err != nil {
		return Quota{}, err
	}
	if len(res) == 0 {
		return Quota{}, ErrNotInitialized
	}

	q := Quota{}
	if v, ok := res[fieldCPUMs]; ok {
		q.CPUTimeUsedMs = parseInt64(v)
	}
	if v, ok := res[fieldConcurrent]; ok {
		q.ConcurrentCount = parseInt64(v)
	}
	if v, ok := res[fieldResetAt]; ok {
		if t, err := time.Parse(timeLayout, v); err == nil {
			q.LastResetAt = t
		}
	}
	return q, nil
}

// Init idempotently creates a zero-valued quota row for ownerID.
func (s *RedisStore) Init(ctx context.Context, ownerID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.HSetNX(ctx, key(ownerID), fieldCPUMs, 0)
	pipe.HSetNX(ctx, key(ownerID), fieldConcurrent, 0)
	pipe.HSetNX(ctx, key(ownerID), fieldResetAt, time.Now().UTC().Format(timeLayout))
	pipe.SAdd(ctx, ownerIndexKey, ownerID)
	_, err := pipe.Exec(ctx)
	return err
}

// AddCPUMs atomically adds deltaMs to the owner's cumulative CPU time.
func (s *RedisStore) AddCPUMs(ctx context.Context, ownerID string, deltaMs int64) error {
	return s.rdb.HIncrBy(ctx, key(ownerID), fieldCPUMs, deltaMs).Err()
}

// IncConcurrent atomically increments the owner's in-flight count and
// returns the post-increment value.
func (s *RedisStore) IncConcurrent(ctx context.Context, ownerID string) (int64, error) {
	return s.rdb.HIncrBy(ctx, key(ownerID), fieldConcurrent, 1).Result()
}

// DecConcurrent atomically decrements the owner's in-flight count. Never
// lets the counter go below zero, since a caller that double-releases a
// ticket (guarded elsewhere by sync.Once) must still be safe here too.
func (s *RedisStore) DecConcurrent(ctx context.Context, ownerID string) error {
	script := redis.NewScript(`
		local v = redis.call("HINCRBY", KEYS[1], ARGV[1], -1)
		if v < 0 then
			redis.call("HSET", KEYS[1], ARGV[1], 0)
		end
		return v
	`)
	return script.Run(ctx, s.rdb, []string{key(ownerID)}, fieldConcurrent).Err()
}

// ResetCPUIfOlderThan is the administrative sweep (spec.md §6.2): any owner
// whose last reset is older than interval has cpu_ms zeroed and reset_at
// bumped to now. Returns the number of owners reset.
func (s *RedisStore) ResetCPUIfOlderThan(ctx context.Context, interval time.Duration) (int, error) {
	owners, err := s.rdb.SMembers(ctx, ownerIndexKey).Result()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-interval)
	reset := 0
	for _, owner := range owners {
		res, err := s.rdb.HGet(ctx, key(owner), fieldResetAt).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return reset, err
		}
		lastReset, err := time.Parse(timeLayout, res)
		if err != nil || lastReset.After(cutoff) {
			continue
		}

		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, key(owner), fieldCPUMs, 0)
		pipe.HSet(ctx, key(owner), fieldResetAt, time.Now().UTC().Format(timeLayout))
		if _, err := pipe.Exec(ctx); err != nil {
			return reset, err
		}
		reset++
	}
	return reset, nil
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
