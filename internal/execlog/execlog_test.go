package execlog

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesOneStreamEntry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	log := NewRedisLog(rdb)
	ctx := context.Background()

	rec := Record{
		FunctionID: "fn-1",
		OwnerID:    "owner-1",
		Status:     "success",
		Output:     `{"hello":"ada"}`,
		ElapsedMs:  42,
	}
	require.NoError(t, log.Append(ctx, rec))

	entries, err := rdb.XRange(ctx, "execlog:owner-1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "fn-1", entries[0].Values["function_id"])
	require.Equal(t, "success", entries[0].Values["status"])
	require.Equal(t, "42", entries[0].Values["elapsed_ms"])
}

func TestAppendIsPerOwnerAppendOnly(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	log := NewRedisLog(rdb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, Record{FunctionID: "fn-1", OwnerID: "owner-1", Status: "success"}))
	}
	require.NoError(t, log.Append(ctx, Record{FunctionID: "fn-2", OwnerID: "owner-2", Status: "success"}))

	entries, err := rdb.XRange(ctx, "execlog:owner-1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	entries2, err := rdb.XRange(ctx, "execlog:owner-2", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries2, 1)
}
