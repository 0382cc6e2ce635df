package wsched

import (
	"container/list"

	"github.com/jonathansick-shadow/qserv/wbase"
)

// group is one run of same-chunk tasks, coalesced so that a burst of
// requests for the same chunk dispatches together instead of starving
// behind unrelated chunks queued earlier.
type group struct {
	chunkID int32
	tasks   []*wbase.Task
}

// GroupScheduler is a FIFO queue of per-chunk groups, each bounded by
// maxGroupSize (spec §4.2, "Group Scheduler"). Grounded in
// original_source/core/modules/wsched/testSchedulers.cc's Grouping and
// GroupMaxThread cases, which this package's tests mirror. base.mu
// guards both the embedded in-flight bookkeeping and this scheduler's own
// queue, so there is exactly one lock to reason about.
type GroupScheduler struct {
	base

	groups       *list.List // of *group, FIFO order
	size         int
	maxGroupSize int
	cond         chan struct{} // closed and replaced on every QueueCmd and CommandFinish
}

func NewGroupScheduler(name string, maxInFlight, maxReserve, maxGroupSize int) *GroupScheduler {
	return &GroupScheduler{
		base:         newBase(name, maxInFlight, maxReserve),
		groups:       list.New(),
		maxGroupSize: maxGroupSize,
		cond:         make(chan struct{}),
	}
}

func (g *GroupScheduler) QueueCmd(t *wbase.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for e := g.groups.Back(); e != nil; e = e.Prev() {
		gr := e.Value.(*group)
		if gr.chunkID == t.ChunkID() && len(gr.tasks) < g.maxGroupSize {
			gr.tasks = append(gr.tasks, t)
			g.size++
			g.wake()
			return
		}
		// Only coalesce into the most recent group for this chunk id;
		// older groups for the same chunk may already be mid-dispatch.
		if gr.chunkID == t.ChunkID() {
			break
		}
	}
	g.groups.PushBack(&group{chunkID: t.ChunkID(), tasks: []*wbase.Task{t}})
	g.size++
	g.wake()
}

// wake signals any blocked GetCmd callers. Caller must hold g.mu.
func (g *GroupScheduler) wake() {
	close(g.cond)
	g.cond = make(chan struct{})
}

func (g *GroupScheduler) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.size > 0 && g.admitLocked()
}

func (g *GroupScheduler) popLocked() *wbase.Task {
	front := g.groups.Front()
	if front == nil {
		return nil
	}
	gr := front.Value.(*group)
	t := gr.tasks[0]
	gr.tasks = gr.tasks[1:]
	if len(gr.tasks) == 0 {
		g.groups.Remove(front)
	}
	g.size--
	return t
}

func (g *GroupScheduler) GetCmd(stopCh <-chan struct{}) *wbase.Task {
	for {
		g.mu.Lock()
		if g.size > 0 && g.admitLocked() {
			t := g.popLocked()
			g.mu.Unlock()
			return t
		}
		wait := g.cond
		g.mu.Unlock()

		select {
		case <-wait:
		case <-stopCh:
			return nil
		}
	}
}

func (g *GroupScheduler) CommandStart(t *wbase.Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commandStartLocked(t)
}

func (g *GroupScheduler) CommandFinish(t *wbase.Task) {
	g.mu.Lock()
	g.commandFinishLocked(t)
	g.wake()
	g.mu.Unlock()
}

func (g *GroupScheduler) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.size
}
