// Package admission implements the Admission Controller (spec.md §4.1): the
// gatekeeper that checks the machine-wide instance ceiling and the caller's
// per-user quotas before any sandbox is spawned, reserves a slot, and hands
// back an idempotent release hook.
//
// The machine counter is a process-local sync/atomic value — the same
// narrow-interface, single-owned-resource shape the teacher's
// internal/runner.ProcessRunner gives its worker-pool semaphore, just
// generalized from "reject when full" to "reject when full, else also check
// a durable per-user row".
package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/vortex/faas-engine/internal/quota"
)

// Rejection kinds (spec.md §7). internal/engine maps each one to the
// caller-facing message it returns.
var (
	ErrMachineAtCapacity       = errors.New("machine at capacity")
	ErrUserConcurrencyExceeded = errors.New("user concurrency limit exceeded")
	ErrUserCPUExceeded         = errors.New("user CPU time quota exceeded")
	ErrQuotaNotInitialized     = errors.New("quota not initialized for user")
)

// Controller enforces the two ceilings described in spec.md §4.1.
type Controller struct {
	quota               quota.Store
	machineInstances    int64
	maxMachineInstances int64
	maxUserConcurrent   int64
	maxUserCPUMs        int64
}

// New builds a Controller. maxMachineInstances, maxUserConcurrent, and
// maxUserCPUMs are spec.md §4.1's configurable compile-time defaults.
func New(store quota.Store, maxMachineInstances, maxUserConcurrent, maxUserCPUMs int64) *Controller {
	return &Controller{
		quota:               store,
		maxMachineInstances: maxMachineInstances,
		maxUserConcurrent:   maxUserConcurrent,
		maxUserCPUMs:        maxUserCPUMs,
	}
}

// Ticket represents one reserved (machine slot, user concurrency slot) pair.
// Release is idempotent: the second and subsequent calls are no-ops, per
// spec.md §3's AdmissionTicket invariant.
type Ticket struct {
	release func(ctx context.Context)
	once    sync.Once
}

// Release runs the release hook exactly once, regardless of how many times
// it's called — covers the success, error, panic (via defer), and timeout
// exit paths spec.md §5 requires.
func (t *Ticket) Release(ctx context.Context) {
	t.once.Do(func() {
		if t.release != nil {
			t.release(ctx)
		}
	})
}

// CurrentInstanceCount reports machine_instances for observability
// (spec.md §6.1); not to be used to make admission decisions.
func (c *Controller) CurrentInstanceCount() int64 {
	return atomic.LoadInt64(&c.machineInstances)
}

// MaxInstances echoes the configured machine ceiling (spec.md §6.1).
func (c *Controller) MaxInstances() int64 {
	return c.maxMachineInstances
}

// MaxUserConcurrent echoes the configured per-user concurrency ceiling.
func (c *Controller) MaxUserConcurrent() int64 {
	return c.maxUserConcurrent
}

// Acquire implements spec.md §4.1's acquire(owner_id) operation.
func (c *Controller) Acquire(ctx context.Context, ownerID string) (*Ticket, error) {
	// Step 1: reserve a machine slot via CAS so machine_instances never
	// transiently exceeds the ceiling (spec.md's check-then-increment
	// critical section, not increment-then-check).
	for {
		old := atomic.LoadInt64(&c.machineInstances)
		if old >= c.maxMachineInstances {
			return nil, ErrMachineAtCapacity
		}
		if atomic.CompareAndSwapInt64(&c.machineInstances, old, old+1) {
			break
		}
	}

	rollbackMachine := func() {
		atomic.AddInt64(&c.machineInstances, -1)
	}

	// Step 2: the quota row must already exist.
	q, err := c.quota.Get(ctx, ownerID)
	if err != nil {
		rollbackMachine()
		if errors.Is(err, quota.ErrNotInitialized) {
			return nil, ErrQuotaNotInitialized
		}
		return nil, err
	}

	// Step 3: per-user concurrency ceiling.
	if q.ConcurrentCount >= c.maxUserConcurrent {
		rollbackMachine()
		return nil, ErrUserConcurrencyExceeded
	}

	// Step 4: per-user CPU budget.
	if q.CPUTimeUsedMs >= c.maxUserCPUMs {
		rollbackMachine()
		return nil, ErrUserCPUExceeded
	}

	// Step 5: reserve the user concurrency slot.
	if _, err := c.quota.IncConcurrent(ctx, ownerID); err != nil {
		rollbackMachine()
		return nil, err
	}

	// Step 6: hand back a ticket whose release undoes both reservations.
	// This is the sole site that decrements concurrent_count — the
	// orchestrator's post-execution settlement only ever adds CPU time
	// (spec.md §9 open question, resolved in DESIGN.md).
	ticket := &Ticket{
		release: func(releaseCtx context.Context) {
			atomic.AddInt64(&c.machineInstances, -1)
			_ = c.quota.DecConcurrent(releaseCtx, ownerID)
		},
	}
	return ticket, nil
}
