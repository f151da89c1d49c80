// Package runner implements the Sandbox Runner (spec.md §4.2): it spawns a
// hardened child process running the configured external interpreter,
// injects the per-invocation input binding plus the user's source, enforces
// a hard wall-clock deadline via forced termination, and drains stdout/
// stderr concurrently to avoid pipe-buffer deadlock.
//
// This is a direct generalization of the teacher's
// internal/runner.ProcessRunner: same temp-file materialization, same
// context.WithTimeout + exec.CommandContext zombie-prevention pattern, same
// bytes.Buffer capture — widened from a single hardcoded runtime binary
// call to the explicit least-privilege capability list spec.md §4.2
// requires, and with a line-scanning stderr callback so callers can stream
// log lines live instead of only after the process exits.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Outcome kinds (spec.md §4.2's Outcome variants).
type OutcomeKind int

const (
	Completed OutcomeKind = iota
	TimedOut
	SpawnFailed
)

// Outcome is the Sandbox Runner's result for one invocation.
type Outcome struct {
	Kind    OutcomeKind
	Success bool // only meaningful when Kind == Completed
	Stdout  []byte
	Stderr  []byte
	Reason  string // only meaningful when Kind == SpawnFailed
}

// Config configures the least-privilege spawn (spec.md §4.2).
type Config struct {
	// InterpreterPath is the external interpreter binary. Per spec.md §9,
	// which interpreter is configured is an engine-configuration concern,
	// not a design change.
	InterpreterPath string
	// DefaultDeadline is used when a caller doesn't pass its own.
	DefaultDeadline time.Duration
}

// Runner executes user source through the configured external interpreter.
type Runner struct {
	cfg Config
	log zerolog.Logger
}

// New builds a Runner.
func New(cfg Config, log zerolog.Logger) *Runner {
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = 15 * time.Second
	}
	return &Runner{cfg: cfg, log: log}
}

// LogSink receives stderr lines as they arrive, letting the orchestrator
// forward them to a live per-invocation log stream (internal/ws) while the
// sandbox is still running.
type LogSink func(line string)

// Run implements spec.md §4.2's run(source_code, input, deadline_ms)
// contract.
func (r *Runner) Run(ctx context.Context, sourceCode string, input interface{}, deadline time.Duration, sink LogSink) Outcome {
	if deadline <= 0 {
		deadline = r.cfg.DefaultDeadline
	}

	scratchPath, err := r.materialize(sourceCode, input)
	if err != nil {
		return Outcome{Kind: SpawnFailed, Reason: err.Error()}
	}
	defer func() {
		if err := os.Remove(scratchPath); err != nil && !os.IsNotExist(err) {
			r.log.Warn().Err(err).Str("path", scratchPath).Msg("failed to remove scratch file")
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	cmd := r.buildCommand(execCtx, scratchPath)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Outcome{Kind: SpawnFailed, Reason: err.Error()}
	}

	if err := cmd.Start(); err != nil {
		return Outcome{Kind: SpawnFailed, Reason: err.Error()}
	}

	var stderr bytes.Buffer
	drainDone := make(chan struct{})
	go drainLines(stderrPipe, &stderr, sink, drainDone)

	waitErr := cmd.Wait()
	<-drainDone

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		r.killGroup(cmd)
		return Outcome{Kind: TimedOut, Stdout: truncateCopy(stdout.Bytes()), Stderr: truncateCopy(stderr.Bytes())}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return Outcome{Kind: Completed, Success: false, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
		}
		return Outcome{Kind: SpawnFailed, Reason: waitErr.Error()}
	}

	return Outcome{Kind: Completed, Success: true, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
}

// materialize produces the ephemeral scratch unit described in spec.md
// §4.2 step 1: the `input` binding followed verbatim by the user's source.
func (r *Runner) materialize(sourceCode string, input interface{}) (string, error) {
	var inputJSON []byte
	var err error
	if input == nil {
		inputJSON = []byte("null")
	} else {
		inputJSON, err = json.Marshal(input)
		if err != nil {
			return "", fmt.Errorf("failed to encode input: %w", err)
		}
	}

	program := fmt.Sprintf("const input = %s;\n%s", inputJSON, sourceCode)

	scratch, err := os.CreateTemp("", "vortex-exec-*.js")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	defer scratch.Close()

	if _, err := scratch.WriteString(program); err != nil {
		_ = os.Remove(scratch.Name())
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}

	return scratch.Name(), nil
}

// buildCommand spawns the interpreter with the closed least-privilege
// capability list from spec.md §4.2: outbound network allowed, everything
// else explicitly denied. The child starts in its own process group so a
// deadline kill can take down anything it spawned too.
func (r *Runner) buildCommand(ctx context.Context, scratchPath string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.cfg.InterpreterPath,
		"--allow-net",
		"--deny-fs",
		"--deny-env",
		"--deny-subprocess",
		"--deny-ffi",
		scratchPath,
	)
	cmd.Env = []string{} // deny environment-variable read
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// On deadline, kill the whole group rather than only the direct child, so
	// no descendant keeps the output pipes open and stalls Wait.
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return cmd
}

// killGroup forcibly terminates the whole process group on deadline
// expiry (spec.md §4.2 step 3: "strong signal; no graceful period").
func (r *Runner) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}

const maxCapturedBytes = 1 << 20 // 1 MiB, spec.md §4.3 truncation rule
const truncationMarker = "\n...[truncated]"

func truncateCopy(b []byte) []byte {
	if len(b) <= maxCapturedBytes {
		return b
	}
	out := make([]byte, 0, maxCapturedBytes+len(truncationMarker))
	out = append(out, b[:maxCapturedBytes]...)
	out = append(out, truncationMarker...)
	return out
}
