// Package execlog implements the append-only Execution Log (spec.md §3,
// §6.2) via Redis Streams. The teacher's internal/ws package names Redis
// Streams as the natural upgrade over pub/sub for anything log-shaped; this
// package takes that upgrade for the audit trail instead.
package execlog

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Record is one terminated-invocation row (spec.md §3 ExecutionResult plus
// identifying fields).
type Record struct {
	FunctionID string
	OwnerID    string
	Status     string // "success" | "error"
	Output     string // empty when Status == "error"
	Error      string // empty when Status == "success"
	ElapsedMs  int64
}

// Log is the Execution Log interface the engine requires.
type Log interface {
	Append(ctx context.Context, rec Record) error
}

const streamKeyPrefix = "execlog:"

// RedisLog is the Redis Streams-backed Log implementation.
type RedisLog struct {
	rdb *redis.Client
}

// NewRedisLog wraps an existing Redis client (shared with internal/quota
// and internal/ws; the teacher already depends on go-redis/v9).
func NewRedisLog(rdb *redis.Client) *RedisLog {
	return &RedisLog{rdb: rdb}
}

// Append writes one row to the owner's stream via XADD. Per spec.md §7, a
// log-write failure is the caller's concern to warn-and-swallow — Append
// itself just reports the error.
func (l *RedisLog) Append(ctx context.Context, rec Record) error {
	stream := streamKeyPrefix + rec.OwnerID
	return l.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"function_id": rec.FunctionID,
			"owner_id":    rec.OwnerID,
			"status":      rec.Status,
			"output":      rec.Output,
			"error":       rec.Error,
			"elapsed_ms":  strconv.FormatInt(rec.ElapsedMs, 10),
		},
	}).Err()
}
