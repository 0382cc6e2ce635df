// Package wsched implements the worker-side task schedulers (spec §4):
// GroupScheduler (FIFO-with-coalescing), ScanScheduler (chunk-ordered,
// two-heap), and BlendScheduler (the composite the Foreman actually
// talks to, enforcing the cross-scheduler thread-reserve policy, spec
// §4.4, invariant SCHED-RESERVE). Grounded in
// original_source/core/modules/wsched/SchedulerBase.h and BlendScheduler.h.
package wsched

import (
	"sync"

	"github.com/jonathansick-shadow/qserv/wbase"
)

// base holds the bookkeeping every concrete scheduler needs: the
// in-flight counter, the per-scheduler concurrency ceiling, and the
// available-threads figure the Blend scheduler pushes down under the
// thread-reserve policy. Concrete schedulers embed base and add their
// own queue structure.
type base struct {
	mu sync.Mutex

	name         string
	maxInFlight  int
	maxReserve   int
	inFlight     int
	availThreads int // -1 until ApplyAvailableThreads is called; negative means "unbounded by the reserve policy"
}

func newBase(name string, maxInFlight, maxReserve int) base {
	return base{name: name, maxInFlight: maxInFlight, maxReserve: maxReserve, availThreads: -1}
}

func (b *base) Name() string { return b.name }

func (b *base) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInFlight
}

func (b *base) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// desiredReserveLocked implements desiredReserve(S) = min(inFlight(S)+1,
// maxReserve(S)) from spec §4.4. Caller must hold b.mu.
func (b *base) desiredReserveLocked() int {
	d := b.inFlight + 1
	if d > b.maxReserve {
		return b.maxReserve
	}
	return d
}

func (b *base) DesiredReserve() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.desiredReserveLocked()
}

func (b *base) ApplyAvailableThreads(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.availThreads = n
}

// admitLocked implements the dispatch-allowed test from spec §4.4:
// inFlight(S) < min(maxInFlight(S), availableThreads(S)). Caller must
// hold b.mu.
func (b *base) admitLocked() bool {
	limit := b.maxInFlight
	if b.availThreads >= 0 && b.availThreads < limit {
		limit = b.availThreads
	}
	return b.inFlight < limit
}

func (b *base) commandStartLocked(t *wbase.Task) {
	b.inFlight++
	t.MarkStarted()
}

func (b *base) commandFinishLocked(t *wbase.Task) {
	if b.inFlight > 0 {
		b.inFlight--
	}
	t.MarkEnded()
}
