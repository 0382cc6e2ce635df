package wsched

import (
	"sync"

	"github.com/jonathansick-shadow/qserv/wbase"
)

// Classifier decides which sub-scheduler a newly queued task belongs to,
// e.g. routing interactive point-lookups to a GroupScheduler and
// full-table scans bucketed by priority to one of several ScanSchedulers.
type Classifier func(t *wbase.Task) wbase.Scheduler

// BlendScheduler is the composite the Foreman actually dispatches
// through: it owns the worker's whole thread pool and enforces the
// cross-scheduler thread-reserve admission policy of spec §4.4
// (invariant SCHED-RESERVE) over whichever concrete sub-schedulers are
// registered. subs[0] is always the highest-priority sub-scheduler
// (the Group scheduler, for interactive queries) and is checked first on
// every dispatch; the remaining subs[1:] (scan schedulers) are only
// fairly rotated among themselves when the first is not ready (spec
// §4.4's priority-order dispatch, "_group, _scanFast, _scanMedium,
// _scanSlow" in the original). Grounded in
// original_source/core/modules/wsched/BlendScheduler.h, including its
// Task -> owning-scheduler map used so commandFinish routes in O(1)
// instead of asking every sub-scheduler "is this yours".
type BlendScheduler struct {
	mu sync.Mutex

	name       string
	threadPool int
	subs       []wbase.Scheduler
	classify   Classifier

	dispatch map[string]wbase.Scheduler // task hash -> owning sub-scheduler
	rotate   int                        // next sub-scheduler index to favor on a tie

	cond chan struct{}
}

// NewBlendScheduler composes subs into one dispatch loop. subs[0] must be
// the highest-priority scheduler (Group); callers with only one
// scan-capable sub-scheduler still pass it in that position.
func NewBlendScheduler(name string, threadPool int, classify Classifier, subs ...wbase.Scheduler) *BlendScheduler {
	return &BlendScheduler{
		name:       name,
		threadPool: threadPool,
		subs:       subs,
		classify:   classify,
		dispatch:   make(map[string]wbase.Scheduler),
		cond:       make(chan struct{}),
	}
}

func (b *BlendScheduler) Name() string { return b.name }

func (b *BlendScheduler) wake() {
	close(b.cond)
	b.cond = make(chan struct{})
}

// recomputeLocked applies spec §4.4's availableThreads(S) = P -
// Sum_{S'!=S} desiredReserve(S') to every sub-scheduler. Caller must hold
// b.mu, though each sub-scheduler computes its own desiredReserve under
// its own lock, never b's.
func (b *BlendScheduler) recomputeLocked() {
	reserves := make([]int, len(b.subs))
	total := 0
	for i, s := range b.subs {
		reserves[i] = s.DesiredReserve()
		total += reserves[i]
	}
	for i, s := range b.subs {
		avail := b.threadPool - (total - reserves[i])
		if avail < 0 {
			avail = 0
		}
		s.ApplyAvailableThreads(avail)
	}
}

func (b *BlendScheduler) QueueCmd(t *wbase.Task) {
	sched := b.classify(t)
	sched.QueueCmd(t)

	b.mu.Lock()
	b.dispatch[t.Hash()] = sched
	b.wake()
	b.mu.Unlock()
}

func (b *BlendScheduler) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recomputeLocked()
	for _, s := range b.subs {
		if s.Ready() {
			return true
		}
	}
	return false
}

// pickLocked always checks subs[0] (Group) first, unconditionally; only
// when it is not ready does it fall through to subs[1:] (the scan
// schedulers), rotating the starting index among those so that when
// several are simultaneously ready, none is permanently favored (spec
// §4.4's fair tie-break requirement applies only within that tier).
// Caller must hold b.mu.
func (b *BlendScheduler) pickLocked() wbase.Scheduler {
	n := len(b.subs)
	if n == 0 {
		return nil
	}
	b.recomputeLocked()

	if b.subs[0].Ready() {
		return b.subs[0]
	}

	scans := n - 1
	for i := 0; i < scans; i++ {
		idx := 1 + (b.rotate+i)%scans
		if b.subs[idx].Ready() {
			b.rotate = (b.rotate + i + 1) % scans
			return b.subs[idx]
		}
	}
	return nil
}

func (b *BlendScheduler) GetCmd(stopCh <-chan struct{}) *wbase.Task {
	for {
		b.mu.Lock()
		sched := b.pickLocked()
		if sched == nil {
			wait := b.cond
			b.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-stopCh:
				return nil
			}
		}
		b.mu.Unlock()

		t := sched.GetCmd(stopCh)
		if t == nil {
			continue
		}
		return t
	}
}

func (b *BlendScheduler) CommandStart(t *wbase.Task) {
	b.mu.Lock()
	sched := b.dispatch[t.Hash()]
	b.mu.Unlock()
	if sched != nil {
		sched.CommandStart(t)
	}
}

// CommandFinish routes directly to the owning sub-scheduler via the
// dispatch map, then forgets the task, keeping the map's size bounded by
// in-flight-plus-queued tasks rather than every task ever seen.
func (b *BlendScheduler) CommandFinish(t *wbase.Task) {
	b.mu.Lock()
	sched := b.dispatch[t.Hash()]
	delete(b.dispatch, t.Hash())
	b.wake()
	b.mu.Unlock()
	if sched != nil {
		sched.CommandFinish(t)
	}
}

func (b *BlendScheduler) Size() int {
	total := 0
	for _, s := range b.subs {
		total += s.Size()
	}
	return total
}

func (b *BlendScheduler) InFlight() int {
	total := 0
	for _, s := range b.subs {
		total += s.InFlight()
	}
	return total
}

func (b *BlendScheduler) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.threadPool
}

func (b *BlendScheduler) DesiredReserve() int {
	// The Blend scheduler itself has no parent to reserve threads from;
	// it IS the pool. Present for wbase.Scheduler conformance only, e.g.
	// if a BlendScheduler is ever nested as a sub-scheduler of another.
	total := 0
	for _, s := range b.subs {
		total += s.DesiredReserve()
	}
	return total
}

func (b *BlendScheduler) ApplyAvailableThreads(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.threadPool = n
}
