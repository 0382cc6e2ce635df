package wbase

// Scheduler is the common contract every worker-side scheduler (Group,
// Scan, and the composite Blend) satisfies, grounded in
// original_source/core/modules/wsched/SchedulerBase.h.
//
// getCmd may block until ready() would return true or stopCh is closed;
// callers (the Foreman's command loop) are expected to call ready()
// first only as a fast, non-blocking poll, and rely on getCmd's blocking
// form to avoid busy-waiting.
type Scheduler interface {
	// Name identifies the scheduler in logs and the Blend dispatch map.
	Name() string

	// Ready reports whether at least one queued task is eligible for
	// dispatch right now. Implementations may perform idempotent
	// bookkeeping while answering (promoting a pending pass, attempting
	// memory admission for the next candidate task), but must not hand
	// out or remove a task.
	Ready() bool

	// GetCmd blocks until a task is ready or stopCh is closed, then
	// removes and returns it. Returns nil if stopCh closed first.
	GetCmd(stopCh <-chan struct{}) *Task

	// QueueCmd enqueues t for future dispatch.
	QueueCmd(t *Task)

	// CommandStart is called by the dispatcher immediately before running
	// t, so the scheduler can update its in-flight accounting.
	CommandStart(t *Task)

	// CommandFinish is called when t completes (successfully or not), so
	// the scheduler can update its in-flight accounting and admit the
	// next task.
	CommandFinish(t *Task)

	// Size is the number of tasks currently queued (not yet dispatched).
	Size() int

	// InFlight is the number of tasks currently dispatched and running.
	InFlight() int

	// MaxInFlight is this scheduler's own concurrency ceiling, independent
	// of the thread-reserve policy applied across schedulers (spec §4.4).
	MaxInFlight() int

	// DesiredReserve is desiredReserve(S) from spec §4.4:
	// min(inFlight(S)+1, maxReserve(S)).
	DesiredReserve() int

	// ApplyAvailableThreads tells the scheduler how many threads are
	// currently available to it under the cross-scheduler reserve policy
	// (availableThreads(S) from spec §4.4), so Ready/GetCmd can factor it
	// into admission.
	ApplyAvailableThreads(n int)
}
