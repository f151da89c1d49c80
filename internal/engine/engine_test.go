package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vortex/faas-engine/internal/admission"
	"github.com/vortex/faas-engine/internal/execlog"
	"github.com/vortex/faas-engine/internal/quota"
	"github.com/vortex/faas-engine/internal/runner"
)

func fakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-interpreter.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

type testEnv struct {
	store quota.Store
	ctrl  *admission.Controller
	rdb   *redis.Client
}

func newTestEnv(t *testing.T, maxMachine, maxUserConcurrent, maxUserCPUMs int64) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := quota.NewRedisStore(rdb)
	ctrl := admission.New(store, maxMachine, maxUserConcurrent, maxUserCPUMs)
	return &testEnv{store: store, ctrl: ctrl, rdb: rdb}
}

func TestExecuteHappyPath(t *testing.T) {
	env := newTestEnv(t, 50, 10, 7_200_000)
	ctx := context.Background()
	require.NoError(t, env.store.Init(ctx, "owner-1"))

	interp := fakeInterpreter(t, `echo '{"status":200,"headers":{"Content-Type":"application/json"},"body":"{\"hello\":\"ada\"}"}'`)
	r := runner.New(runner.Config{InterpreterPath: interp, DefaultDeadline: 15 * time.Second}, zerolog.Nop())
	e := New(Deps{
		Admission:    env.ctrl,
		Runner:       r,
		Quota:        env.store,
		Log:          execlog.NewRedisLog(env.rdb),
		MaxWallMs:    15_000,
		MaxUserCPUMs: 7_200_000,
		Logger:       zerolog.Nop(),
	})

	result := e.Execute(ctx, ExecutionRequest{FunctionID: "fn-1", OwnerID: "owner-1", SourceCode: "1", Input: map[string]string{"name": "ada"}})

	require.Equal(t, "success", result.Status)
	require.Nil(t, result.Error)
	require.NotNil(t, result.Output)
	require.Less(t, result.ElapsedMs, int64(15_000))

	var env2 envelopeJSON
	require.NoError(t, json.Unmarshal([]byte(*result.Output), &env2))
	require.Equal(t, 200, env2.StatusCode)
	body, ok := env2.Body.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "ada", body["hello"])

	// machine/user slots must have returned to zero after completion.
	require.EqualValues(t, 0, env.ctrl.CurrentInstanceCount())
	q, err := env.store.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, q.ConcurrentCount)
}

func TestExecuteTimeout(t *testing.T) {
	env := newTestEnv(t, 50, 10, 7_200_000)
	ctx := context.Background()
	require.NoError(t, env.store.Init(ctx, "owner-1"))

	interp := fakeInterpreter(t, `sleep 5`)
	r := runner.New(runner.Config{InterpreterPath: interp, DefaultDeadline: 200 * time.Millisecond}, zerolog.Nop())
	e := New(Deps{
		Admission: env.ctrl, Runner: r, Quota: env.store, Log: execlog.NewRedisLog(env.rdb),
		MaxWallMs: 200, MaxUserCPUMs: 7_200_000, Logger: zerolog.Nop(),
	})

	result := e.Execute(ctx, ExecutionRequest{FunctionID: "fn-1", OwnerID: "owner-1", SourceCode: "while(true){}"})

	require.Equal(t, "error", result.Status)
	require.NotNil(t, result.Error)
	require.Contains(t, *result.Error, "timeout")
	require.EqualValues(t, 0, env.ctrl.CurrentInstanceCount())
}

func TestExecuteUserCodeFailure(t *testing.T) {
	env := newTestEnv(t, 50, 10, 7_200_000)
	ctx := context.Background()
	require.NoError(t, env.store.Init(ctx, "owner-1"))

	interp := fakeInterpreter(t, `echo "boom" 1>&2; exit 1`)
	r := runner.New(runner.Config{InterpreterPath: interp, DefaultDeadline: 15 * time.Second}, zerolog.Nop())
	e := New(Deps{
		Admission: env.ctrl, Runner: r, Quota: env.store, Log: execlog.NewRedisLog(env.rdb),
		MaxWallMs: 15_000, MaxUserCPUMs: 7_200_000, Logger: zerolog.Nop(),
	})

	result := e.Execute(ctx, ExecutionRequest{FunctionID: "fn-1", OwnerID: "owner-1", SourceCode: `throw new Error("boom")`})

	require.Equal(t, "error", result.Status)
	require.Contains(t, *result.Error, "boom")
	require.Nil(t, result.Output)

	entries, err := env.rdb.XRange(ctx, "execlog:owner-1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestExecuteAdmissionRejectMachineFull(t *testing.T) {
	env := newTestEnv(t, 1, 10, 7_200_000)
	ctx := context.Background()
	require.NoError(t, env.store.Init(ctx, "owner-1"))

	// Saturate the machine ceiling directly via the controller.
	blocker, err := env.ctrl.Acquire(ctx, "owner-1")
	require.NoError(t, err)
	defer blocker.Release(ctx)

	interp := fakeInterpreter(t, `echo '{"status":200,"headers":{},"body":""}'`)
	r := runner.New(runner.Config{InterpreterPath: interp, DefaultDeadline: 15 * time.Second}, zerolog.Nop())
	e := New(Deps{
		Admission: env.ctrl, Runner: r, Quota: env.store, Log: execlog.NewRedisLog(env.rdb),
		MaxWallMs: 15_000, MaxUserCPUMs: 7_200_000, Logger: zerolog.Nop(),
	})

	result := e.Execute(ctx, ExecutionRequest{FunctionID: "fn-1", OwnerID: "owner-1", SourceCode: "1"})

	require.Equal(t, "error", result.Status)
	require.Contains(t, *result.Error, "Machine at capacity")
	require.EqualValues(t, 0, result.ElapsedMs)

	entries, err := env.rdb.XRange(ctx, "execlog:owner-1", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 0) // no log row for rejected admission
}

func TestExecuteCPUQuotaExhaustionMidFlight(t *testing.T) {
	env := newTestEnv(t, 50, 10, 7_200_000)
	ctx := context.Background()
	require.NoError(t, env.store.Init(ctx, "owner-1"))
	require.NoError(t, env.store.AddCPUMs(ctx, "owner-1", 7_200_000-1000))

	// Interpreter sleeps ~1.1s so measured elapsed exceeds the remaining
	// 1000ms of budget and pushes the owner over.
	interp := fakeInterpreter(t, `sleep 1.1; echo '{"status":200,"headers":{},"body":""}'`)
	r := runner.New(runner.Config{InterpreterPath: interp, DefaultDeadline: 15 * time.Second}, zerolog.Nop())
	e := New(Deps{
		Admission: env.ctrl, Runner: r, Quota: env.store, Log: execlog.NewRedisLog(env.rdb),
		MaxWallMs: 15_000, MaxUserCPUMs: 7_200_000, Logger: zerolog.Nop(),
	})

	result := e.Execute(ctx, ExecutionRequest{FunctionID: "fn-1", OwnerID: "owner-1", SourceCode: "1"})

	require.Equal(t, "error", result.Status)
	require.Contains(t, *result.Error, "CPU")

	q, err := env.store.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.Greater(t, q.CPUTimeUsedMs, int64(7_200_000-1000))
}

func TestExecuteReleasesTicketAcrossManySequentialCalls(t *testing.T) {
	env := newTestEnv(t, 3, 10, 7_200_000)
	ctx := context.Background()
	require.NoError(t, env.store.Init(ctx, "owner-1"))

	interp := fakeInterpreter(t, `echo '{"status":200,"headers":{},"body":""}'`)
	r := runner.New(runner.Config{InterpreterPath: interp, DefaultDeadline: 15 * time.Second}, zerolog.Nop())
	e := New(Deps{
		Admission: env.ctrl, Runner: r, Quota: env.store, Log: execlog.NewRedisLog(env.rdb),
		MaxWallMs: 15_000, MaxUserCPUMs: 7_200_000, Logger: zerolog.Nop(),
	})

	for i := 0; i < 10; i++ {
		result := e.Execute(ctx, ExecutionRequest{FunctionID: "fn-1", OwnerID: "owner-1", SourceCode: "1"})
		require.Equal(t, "success", result.Status)
	}

	require.EqualValues(t, 0, env.ctrl.CurrentInstanceCount())
	q, err := env.store.Get(ctx, "owner-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, q.ConcurrentCount)
}
