// Package wbase holds the worker-side task representation and the small
// set of interfaces (Scheduler, SendChannel) that the scheduling,
// execution, and control packages all depend on without depending on
// each other — grounded in original_source/core/modules/wbase/Task.h,
// which plays the same "shared vocabulary" role in the C++ tree.
package wbase

import (
	"sync"
	"time"

	"github.com/jonathansick-shadow/qserv/memman"
	"github.com/jonathansick-shadow/qserv/proto"
)

// Task is one chunk's worth of work queued on a worker, wrapping the
// wire-level proto.Task with scheduling and lifecycle bookkeeping that
// never crosses the wire (spec §3 "Task", §4.1-§4.4).
type Task struct {
	mu sync.Mutex

	Proto proto.Task
	hash  string

	queued  time.Time
	started time.Time
	ended   time.Time

	cancelled bool
	runner    TaskQueryRunner

	memoryOK   bool
	memHandles []memman.Handle
}

// SetRunner attaches the TaskQueryRunner that will execute t, so Cancel
// can forward to it once dispatched.
func (t *Task) SetRunner(r TaskQueryRunner) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runner = r
}

// Runner returns the attached TaskQueryRunner, if any.
func (t *Task) Runner() (TaskQueryRunner, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runner, t.runner != nil
}

// NewTask wraps t, precomputing its content hash for logging and the
// debug Registry.
func NewTask(t proto.Task) (*Task, error) {
	h, err := t.Hash()
	if err != nil {
		return nil, err
	}
	return &Task{Proto: t, hash: h, queued: time.Now()}, nil
}

// Hash is the task's stable content-derived identity (spec §8,
// round-trip property: "task-hash digest stability").
func (t *Task) Hash() string { return t.hash }

func (t *Task) ChunkID() int32 { return t.Proto.ChunkID }

func (t *Task) DbTables() []proto.ScanTable { return t.Proto.ScanTables }

// MemoryOK reports whether this task's memory handle has already been
// flagged admitted by a scheduler (spec §3: "a memory handle (initially
// INVALID)"; §4.3: "a task is flagged memory-ok exactly once").
func (t *Task) MemoryOK() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memoryOK
}

// SetMemoryOK flags the task admitted and records the handles a later
// CommandFinish must release. Idempotent by convention: callers check
// MemoryOK before calling this, so it only ever runs once per task.
func (t *Task) SetMemoryOK(handles []memman.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memoryOK = true
	t.memHandles = handles
}

// MemHandles returns the handles granted by SetMemoryOK, if any.
func (t *Task) MemHandles() []memman.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memHandles
}

// MarkStarted records dispatch time, used for the scheduler fairness and
// liveness diagnostics in spec §8 (SCHED-LIVENESS).
func (t *Task) MarkStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = time.Now()
}

// MarkEnded records completion time. Safe to call more than once; only
// the first call has an effect, matching the "finish is reported exactly
// once" expectation callers build around commandFinish.
func (t *Task) MarkEnded() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended.IsZero() {
		t.ended = time.Now()
	}
}

// Cancel marks the task cancelled and forwards to its runner, if one is
// attached. Idempotent, matching the spec §8 "cancel idempotence"
// round-trip property: a second call finds cancelled already true and
// does not re-invoke the runner.
func (t *Task) Cancel() {
	t.mu.Lock()
	already := t.cancelled
	t.cancelled = true
	runner := t.runner
	t.mu.Unlock()

	if !already && runner != nil {
		runner.Cancel()
	}
}

func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Runtime reports how long the task has been running, or its total run
// time once ended. Zero before MarkStarted is called.
func (t *Task) Runtime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	if t.ended.IsZero() {
		return time.Since(t.started)
	}
	return t.ended.Sub(t.started)
}
