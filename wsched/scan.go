package wsched

import (
	"container/heap"
	"fmt"

	"github.com/jonathansick-shadow/qserv/memman"
	"github.com/jonathansick-shadow/qserv/wbase"
)

// chunkHeap is a min-heap of tasks ordered by chunk id (spec §4.3,
// invariant SCAN-ORDER: within one pass, chunks dispatch in non-decreasing
// id order so workers sharing the same chunk files on disk see maximal
// locality).
type chunkHeap []*wbase.Task

func (h chunkHeap) Len() int            { return len(h) }
func (h chunkHeap) Less(i, j int) bool  { return h[i].ChunkID() < h[j].ChunkID() }
func (h chunkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *chunkHeap) Push(x interface{}) { *h = append(*h, x.(*wbase.Task)) }
func (h *chunkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// ScanScheduler dispatches full-table scan tasks in chunk-id order using
// two heaps: active holds the current pass, pending collects every newly
// queued task so arrivals never reorder a pass in flight. When active
// empties, pending becomes the new active. Grounded in
// original_source/core/modules/wsched/SchedulerBase.h's chunk-ordering
// contract; the original C++ scheduler made the same active/pending
// split to avoid re-sorting a pass already in flight.
//
// Memory admission (spec §4.1, §4.3) is this scheduler's own concern: the
// active heap's top task is flagged memory-ok exactly once, before it is
// ever handed out by GetCmd. A task the memory manager denies even in
// flexible mode is left at the top of the heap, deferred rather than
// dropped, so it gets another admission attempt on the next call instead
// of failing outright.
type ScanScheduler struct {
	base

	mem memman.Manager

	active  chunkHeap
	pending chunkHeap
	cond    chan struct{}
}

func NewScanScheduler(name string, maxInFlight, maxReserve int, mem memman.Manager) *ScanScheduler {
	return &ScanScheduler{
		base: newBase(name, maxInFlight, maxReserve),
		mem:  mem,
		cond: make(chan struct{}),
	}
}

func (s *ScanScheduler) wake() {
	close(s.cond)
	s.cond = make(chan struct{})
}

func (s *ScanScheduler) QueueCmd(t *wbase.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.pending, t)
	s.wake()
}

// swapLocked promotes pending to active once active is drained. Caller
// must hold s.mu.
func (s *ScanScheduler) swapLocked() {
	if s.active.Len() == 0 && s.pending.Len() > 0 {
		s.active, s.pending = s.pending, s.active
	}
}

// tryAdmitTopLocked flags the active heap's top task memory-ok if it
// isn't already, per spec §4.3's "flagged exactly once" rule. A task
// with no scan tables needs no residency and is admitted trivially. On
// denial the task is left exactly where it was, still at the top of the
// heap, so the next call retries admission rather than losing the task.
// Caller must hold s.mu; returns false if active is empty.
func (s *ScanScheduler) tryAdmitTopLocked() bool {
	if s.active.Len() == 0 {
		return false
	}
	top := s.active[0]
	if top.MemoryOK() {
		return true
	}

	tables := top.DbTables()
	if len(tables) == 0 {
		top.SetMemoryOK(nil)
		return true
	}

	paths := make([]string, len(tables))
	flex := make([]bool, len(tables))
	for i, tbl := range tables {
		paths[i] = fmt.Sprintf("%s/%s_%d", tbl.Database, tbl.Table, top.ChunkID())
		flex[i] = !tbl.LockInMemory
	}

	if res := s.mem.Prepare(paths, flex); len(res.Denied) == 0 {
		top.SetMemoryOK(res.Handles)
		return true
	}

	allFlex := make([]bool, len(flex))
	for i := range allFlex {
		allFlex[i] = true
	}
	res := s.mem.Prepare(paths, allFlex)
	if len(res.Denied) != 0 {
		return false
	}
	top.SetMemoryOK(res.Handles)
	return true
}

func (s *ScanScheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swapLocked()
	return s.active.Len() > 0 && s.tryAdmitTopLocked() && s.admitLocked()
}

func (s *ScanScheduler) GetCmd(stopCh <-chan struct{}) *wbase.Task {
	for {
		s.mu.Lock()
		s.swapLocked()
		if s.active.Len() > 0 && s.tryAdmitTopLocked() && s.admitLocked() {
			t := heap.Pop(&s.active).(*wbase.Task)
			s.mu.Unlock()
			return t
		}
		wait := s.cond
		s.mu.Unlock()

		select {
		case <-wait:
		case <-stopCh:
			return nil
		}
	}
}

func (s *ScanScheduler) CommandStart(t *wbase.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandStartLocked(t)
}

func (s *ScanScheduler) CommandFinish(t *wbase.Task) {
	for _, h := range t.MemHandles() {
		s.mem.Release(h)
	}

	s.mu.Lock()
	s.commandFinishLocked(t)
	s.wake()
	s.mu.Unlock()
}

func (s *ScanScheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Len() + s.pending.Len()
}
