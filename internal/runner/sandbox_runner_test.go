package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeInterpreter writes a tiny shell script that stands in for the real
// external interpreter binary: it ignores the five capability flags (those
// are the real interpreter's job to honor), so the scratch file path arrives
// as "$6". Tests supply the script body, letting them assert on
// materialization and capture behavior without depending on an actual JS
// runtime being installed.
func fakeInterpreter(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-interpreter.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestRunMaterializesInputBeforeSource(t *testing.T) {
	interp := fakeInterpreter(t, `cat "$6"`)
	r := New(Config{InterpreterPath: interp, DefaultDeadline: 2 * time.Second}, testLogger())

	outcome := r.Run(context.Background(), `echo "unused"`, map[string]any{"name": "ada"}, 0, nil)
	require.Equal(t, Completed, outcome.Kind)
	require.True(t, outcome.Success)
	require.Contains(t, string(outcome.Stdout), `const input = {"name":"ada"};`)
	require.Contains(t, string(outcome.Stdout), `echo "unused"`)
}

func TestRunNullInputWhenAbsent(t *testing.T) {
	interp := fakeInterpreter(t, `cat "$6"`)
	r := New(Config{InterpreterPath: interp, DefaultDeadline: 2 * time.Second}, testLogger())

	outcome := r.Run(context.Background(), `1`, nil, 0, nil)
	require.Equal(t, Completed, outcome.Kind)
	require.Contains(t, string(outcome.Stdout), "const input = null;")
}

func TestRunCapturesNonZeroExit(t *testing.T) {
	interp := fakeInterpreter(t, `echo "boom" 1>&2; exit 1`)
	r := New(Config{InterpreterPath: interp, DefaultDeadline: 2 * time.Second}, testLogger())

	outcome := r.Run(context.Background(), `throw new Error("boom")`, nil, 0, nil)
	require.Equal(t, Completed, outcome.Kind)
	require.False(t, outcome.Success)
	require.Contains(t, string(outcome.Stderr), "boom")
}

func TestRunTimesOutOnDeadline(t *testing.T) {
	interp := fakeInterpreter(t, `sleep 5`)
	r := New(Config{InterpreterPath: interp, DefaultDeadline: 2 * time.Second}, testLogger())

	start := time.Now()
	outcome := r.Run(context.Background(), `while (true) {}`, nil, 200*time.Millisecond, nil)
	elapsed := time.Since(start)

	require.Equal(t, TimedOut, outcome.Kind)
	require.Less(t, elapsed, 2*time.Second)
}

func TestRunStreamsStderrLinesLive(t *testing.T) {
	interp := fakeInterpreter(t, `echo "line one" 1>&2; echo "line two" 1>&2`)
	r := New(Config{InterpreterPath: interp, DefaultDeadline: 2 * time.Second}, testLogger())

	var lines []string
	sink := func(line string) { lines = append(lines, line) }

	outcome := r.Run(context.Background(), `1`, nil, 0, sink)
	require.Equal(t, Completed, outcome.Kind)
	require.Equal(t, []string{"line one", "line two"}, lines)
}

func TestRunScratchFileRemovedAfterExecution(t *testing.T) {
	var capturedPath string
	interp := fakeInterpreter(t, `echo "$6" > /tmp/vortex-runner-test-path.txt; cat "$6"`)
	r := New(Config{InterpreterPath: interp, DefaultDeadline: 2 * time.Second}, testLogger())

	outcome := r.Run(context.Background(), `1`, nil, 0, nil)
	require.Equal(t, Completed, outcome.Kind)

	data, err := os.ReadFile("/tmp/vortex-runner-test-path.txt")
	require.NoError(t, err)
	capturedPath = string(data[:len(data)-1]) // trim trailing newline
	_, statErr := os.Stat(capturedPath)
	require.True(t, os.IsNotExist(statErr), "scratch file must be removed after execution")

	_ = os.Remove("/tmp/vortex-runner-test-path.txt")
}

func TestRunSpawnFailedForMissingInterpreter(t *testing.T) {
	r := New(Config{InterpreterPath: "/nonexistent/interpreter-binary", DefaultDeadline: 2 * time.Second}, testLogger())

	outcome := r.Run(context.Background(), `1`, nil, 0, nil)
	require.Equal(t, SpawnFailed, outcome.Kind)
	require.NotEmpty(t, outcome.Reason)
}
