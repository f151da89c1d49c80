// Package engine implements the Engine Orchestrator (spec.md §4.4): the
// public entry point that sequences admission, sandbox execution, response
// capture, quota settlement, and execution logging, guaranteeing the
// admission ticket is released on every exit path.
//
// This is lifted out of the teacher's internal/api.HandleExecute, which
// already sequences "look up function → run it → translate errors → write
// response" in the same order — moved into its own package so internal/api
// stays a thin HTTP collaborator per spec.md §1.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vortex/faas-engine/internal/admission"
	"github.com/vortex/faas-engine/internal/capture"
	"github.com/vortex/faas-engine/internal/execlog"
	"github.com/vortex/faas-engine/internal/quota"
	"github.com/vortex/faas-engine/internal/runner"
)

// ExecutionRequest is spec.md §3's ExecutionRequest.
type ExecutionRequest struct {
	FunctionID string
	OwnerID    string
	SourceCode string
	Input      interface{} // nil when absent
}

// ExecutionResult is spec.md §3's ExecutionResult. Output, when non-nil, is
// a JSON-encoded envelope (for success via a parsed HttpEnvelope) or the raw
// captured text (for success via raw-output mode) — never both; Error is
// set only on failure.
type ExecutionResult struct {
	Status    string // "success" | "error"
	Output    *string
	Error     *string
	ElapsedMs int64
}

// envelopeJSON is the wire shape ExecutionResult.Output takes when the
// sandbox's stdout parsed as a structured HttpEnvelope (spec.md §4.3).
type envelopeJSON struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       interface{}       `json:"body"`
}

// Metrics is the subset of internal/metrics.Registry the engine reports to.
// Kept as an interface so tests can run without a Prometheus registry.
type Metrics interface {
	ObserveAdmission(outcome string)
	ObserveExecution(status string, elapsedMs int64)
	SetCurrentInstances(n int64)
}

// Engine is the spec.md §6.1 Engine API.
type Engine struct {
	admission *admission.Controller
	runner    *runner.Runner
	quota     quota.Store
	log       execlog.Log
	logStream func(ownerID, functionID string, line string) // forwards runner LogSink to live streams
	metrics   Metrics

	maxWallMs    int64
	maxUserCPUMs int64

	logger zerolog.Logger
}

// Deps bundles Engine's collaborators.
type Deps struct {
	Admission *admission.Controller
	Runner    *runner.Runner
	Quota     quota.Store
	Log       execlog.Log
	// LogStream, if set, is called with each stderr line the sandbox emits,
	// for internal/ws to forward to connected clients live.
	LogStream func(ownerID, functionID, line string)
	// Metrics, if set, receives admission and execution observations.
	Metrics Metrics

	MaxWallMs    int64
	MaxUserCPUMs int64

	Logger zerolog.Logger
}

// New builds an Engine.
func New(d Deps) *Engine {
	return &Engine{
		admission:    d.Admission,
		runner:       d.Runner,
		quota:        d.Quota,
		log:          d.Log,
		logStream:    d.LogStream,
		metrics:      d.Metrics,
		maxWallMs:    d.MaxWallMs,
		maxUserCPUMs: d.MaxUserCPUMs,
		logger:       d.Logger,
	}
}

// CurrentInstanceCount implements the Engine API's observability operation.
func (e *Engine) CurrentInstanceCount() int64 { return e.admission.CurrentInstanceCount() }

// MaxInstances implements the Engine API's configuration echo.
func (e *Engine) MaxInstances() int64 { return e.admission.MaxInstances() }

// Execute implements spec.md §4.4's execute(request) operation.
func (e *Engine) Execute(ctx context.Context, req ExecutionRequest) (result ExecutionResult) {
	// Step 1: admission.
	ticket, err := e.admission.Acquire(ctx, req.OwnerID)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ObserveAdmission(admissionOutcome(err))
		}
		return rejection(err, e.admission)
	}
	if e.metrics != nil {
		e.metrics.ObserveAdmission("accepted")
		e.metrics.SetCurrentInstances(e.admission.CurrentInstanceCount())
		// Pushed before ticket.Release below, so it runs after the release
		// completes and reports the post-decrement count.
		defer func() { e.metrics.SetCurrentInstances(e.admission.CurrentInstanceCount()) }()
	}

	// Guaranteed release on every exit path, including panics.
	defer ticket.Release(ctx)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("function_id", req.FunctionID).Msg("execute panicked")
			msg := fmt.Sprintf("internal error: %v", r)
			result = ExecutionResult{Status: "error", Error: &msg}
		}
	}()

	// Step 2: start the clock.
	t0 := time.Now()

	// Step 3: invoke the Sandbox Runner.
	deadline := time.Duration(e.maxWallMs) * time.Millisecond
	var sink runner.LogSink
	if e.logStream != nil {
		sink = func(line string) { e.logStream(req.OwnerID, req.FunctionID, line) }
	}
	outcome := e.runner.Run(ctx, req.SourceCode, req.Input, deadline, sink)

	// Step 4: elapsed time.
	elapsedMs := time.Since(t0).Milliseconds()

	// Translate the sandbox outcome before the CPU-budget check, which may
	// still overwrite it.
	result = translateOutcome(outcome, e.maxWallMs, elapsedMs)

	// Step 5: post-admission CPU-budget check. The elapsed time is billed
	// regardless of whether this trips (spec.md §9 open question).
	if q, err := e.quota.Get(ctx, req.OwnerID); err == nil {
		if q.CPUTimeUsedMs+elapsedMs > e.maxUserCPUMs {
			msg := "execution would exceed CPU time quota"
			result = ExecutionResult{Status: "error", Error: &msg, ElapsedMs: elapsedMs}
		}
	}

	// Step 6: settle CPU time. concurrent_count is decremented solely by
	// the ticket release above (spec.md §9 open question, resolved).
	if err := e.quota.AddCPUMs(ctx, req.OwnerID, elapsedMs); err != nil {
		e.logger.Warn().Err(err).Str("owner_id", req.OwnerID).Msg("failed to settle CPU time")
	}

	// Step 7: execution log (warn-and-swallow on failure, spec.md §7).
	if e.log != nil {
		rec := execlog.Record{
			FunctionID: req.FunctionID,
			OwnerID:    req.OwnerID,
			Status:     result.Status,
			ElapsedMs:  result.ElapsedMs,
		}
		if result.Output != nil {
			rec.Output = *result.Output
		}
		if result.Error != nil {
			rec.Error = *result.Error
		}
		if err := e.log.Append(ctx, rec); err != nil {
			e.logger.Warn().Err(err).Str("function_id", req.FunctionID).Msg("failed to append execution log")
		}
	}

	// Step 8 (ticket release) runs via defer above.
	// Step 9: result already translated.
	if e.metrics != nil {
		e.metrics.ObserveExecution(result.Status, result.ElapsedMs)
	}
	return result
}

// admissionOutcome maps an admission error to a metrics label.
func admissionOutcome(err error) string {
	switch {
	case errors.Is(err, admission.ErrMachineAtCapacity):
		return "machine_at_capacity"
	case errors.Is(err, admission.ErrUserConcurrencyExceeded):
		return "user_concurrency_exceeded"
	case errors.Is(err, admission.ErrUserCPUExceeded):
		return "user_cpu_exceeded"
	case errors.Is(err, admission.ErrQuotaNotInitialized):
		return "quota_not_initialized"
	default:
		return "error"
	}
}

// rejection synthesizes the ExecutionResult for an admission rejection
// (spec.md §4.4 step 1): no log row, elapsed_ms=0.
func rejection(err error, ctrl *admission.Controller) ExecutionResult {
	msg := rejectionMessage(err, ctrl)
	return ExecutionResult{Status: "error", Error: &msg, ElapsedMs: 0}
}

func rejectionMessage(err error, ctrl *admission.Controller) string {
	switch {
	case errors.Is(err, admission.ErrMachineAtCapacity):
		return fmt.Sprintf("Machine at capacity: maximum %d concurrent instances reached", ctrl.MaxInstances())
	case errors.Is(err, admission.ErrUserConcurrencyExceeded):
		return fmt.Sprintf("User concurrency limit exceeded: maximum %d concurrent executions per user", ctrl.MaxUserConcurrent())
	case errors.Is(err, admission.ErrUserCPUExceeded):
		return "CPU time quota exceeded"
	case errors.Is(err, admission.ErrQuotaNotInitialized):
		return "quota not initialized for user"
	default:
		return fmt.Sprintf("admission failed: %v", err)
	}
}

// translateOutcome implements spec.md §4.3/§4.4's capture-and-translate
// step for every Sandbox Runner outcome kind.
func translateOutcome(outcome runner.Outcome, maxWallMs int64, elapsedMs int64) ExecutionResult {
	switch outcome.Kind {
	case runner.TimedOut:
		msg := fmt.Sprintf("Execution timeout: exceeded %d second limit", maxWallMs/1000)
		return ExecutionResult{Status: "error", Error: &msg, ElapsedMs: elapsedMs}

	case runner.SpawnFailed:
		msg := fmt.Sprintf("execution failed: %s", outcome.Reason)
		return ExecutionResult{Status: "error", Error: &msg, ElapsedMs: elapsedMs}

	case runner.Completed:
		if !outcome.Success {
			msg := string(outcome.Stderr)
			return ExecutionResult{Status: "error", Error: &msg, ElapsedMs: elapsedMs}
		}
		return ExecutionResult{Status: "success", Output: encodeOutput(outcome.Stdout), ElapsedMs: elapsedMs}

	default:
		msg := "unknown sandbox outcome"
		return ExecutionResult{Status: "error", Error: &msg, ElapsedMs: elapsedMs}
	}
}

// encodeOutput implements the final half of spec.md §4.3: envelope stdout
// becomes a JSON-encoded envelope string, raw stdout stays as-is.
func encodeOutput(stdout []byte) *string {
	env, raw, ok := capture.Parse(stdout)
	if !ok {
		text := raw.Text
		return &text
	}

	encoded, err := json.Marshal(envelopeJSON{
		StatusCode: env.StatusCode,
		Headers:    env.Headers,
		Body:       env.Body,
	})
	if err != nil {
		text := string(stdout)
		return &text
	}
	text := string(encoded)
	return &text
}
