package wsched

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/qserv/memman"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/wbase"
)

func mustScanTask(t *testing.T, chunk int32, lockInMemory bool) *wbase.Task {
	t.Helper()
	task, err := wbase.NewTask(proto.Task{
		ChunkID:    chunk,
		ScanTables: []proto.ScanTable{{Database: "LSST", Table: "Object", LockInMemory: lockInMemory}},
	})
	require.NoError(t, err)
	return task
}

// denyingMemMgr denies every Prepare call, in either mode, for testing
// that a memory-denied task is deferred rather than dropped.
type denyingMemMgr struct{ calls int }

func (m *denyingMemMgr) FileInfo(string) memman.FileInfo { return memman.FileInfo{} }
func (m *denyingMemMgr) Lock(string, bool) (memman.Handle, error) {
	return memman.InvalidHandle, nil
}
func (m *denyingMemMgr) Release(memman.Handle) {}
func (m *denyingMemMgr) Prepare(paths []string, _ []bool) memman.PrepareResult {
	m.calls++
	return memman.PrepareResult{Denied: paths}
}
func (m *denyingMemMgr) LockedBytes() int64 { return 0 }
func (m *denyingMemMgr) NumFiles() int      { return 0 }

// grantingMemMgr grants every Prepare call and records how many times
// each path set was granted, so a test can assert a task is only ever
// admitted once even across repeated Ready()/GetCmd polls.
type grantingMemMgr struct {
	grants  int
	release int
}

func (m *grantingMemMgr) FileInfo(string) memman.FileInfo { return memman.FileInfo{} }
func (m *grantingMemMgr) Lock(string, bool) (memman.Handle, error) { return memman.Handle(1), nil }
func (m *grantingMemMgr) Release(memman.Handle)                    { m.release++ }
func (m *grantingMemMgr) Prepare(paths []string, _ []bool) memman.PrepareResult {
	m.grants++
	handles := make([]memman.Handle, len(paths))
	for i := range handles {
		handles[i] = memman.Handle(i + 1)
	}
	return memman.PrepareResult{Granted: paths, Handles: handles}
}
func (m *grantingMemMgr) LockedBytes() int64 { return 0 }
func (m *grantingMemMgr) NumFiles() int      { return 0 }

// TestScanDeferredTaskNotDroppedOnMemoryDenial covers the defer-vs-drop
// requirement of spec §4.3: a task the memory manager never admits stays
// queued (Size keeps reporting it) instead of being discarded.
func TestScanDeferredTaskNotDroppedOnMemoryDenial(t *testing.T) {
	mem := &denyingMemMgr{}
	s := NewScanScheduler("scan", 4, 4, mem)
	s.QueueCmd(mustScanTask(t, 1, true))

	require.False(t, s.Ready(), "a task the memory manager denies even in flexible mode must not be reported ready")
	require.Equal(t, 1, s.Size(), "denied task must remain queued, not dropped")

	stopCh := make(chan struct{})
	close(stopCh)
	require.Nil(t, s.GetCmd(stopCh), "GetCmd must not hand out a task that failed admission")
	require.Greater(t, mem.calls, 0)
}

// TestScanAdmitsTopTaskExactlyOnce covers spec §4.3's "a task is flagged
// memory-ok exactly once": repeated Ready() polls before dispatch must
// not re-invoke Prepare for the same task.
func TestScanAdmitsTopTaskExactlyOnce(t *testing.T) {
	mem := &grantingMemMgr{}
	s := NewScanScheduler("scan", 4, 4, mem)
	s.QueueCmd(mustScanTask(t, 1, true))

	require.True(t, s.Ready())
	require.True(t, s.Ready())
	require.Equal(t, 1, mem.grants, "admission must be attempted only once per task")

	task := s.GetCmd(nil)
	require.NotNil(t, task)
	require.True(t, task.MemoryOK())
	require.Equal(t, 1, mem.grants)
}

// TestScanCommandFinishReleasesMemory covers the residency-release half
// of the admission contract: once a dispatched task's work is reported
// done, its handles go back to the memory manager.
func TestScanCommandFinishReleasesMemory(t *testing.T) {
	mem := &grantingMemMgr{}
	s := NewScanScheduler("scan", 4, 4, mem)
	s.QueueCmd(mustScanTask(t, 1, true))

	task := s.GetCmd(nil)
	require.NotNil(t, task)
	s.CommandStart(task)
	s.CommandFinish(task)

	require.Equal(t, 1, mem.release)
}

// TestScanOrderDispatchesByChunkID covers invariant SCAN-ORDER: within
// one pass, tasks dispatch in non-decreasing chunk id order regardless
// of queue order.
func TestScanOrderDispatchesByChunkID(t *testing.T) {
	s := NewScanScheduler("scan", 4, 4, memman.NewManager(1<<30, nil))

	for _, c := range []int32{5, 1, 3, 2, 4} {
		s.QueueCmd(mustTask(t, c))
	}

	var order []int32
	for i := 0; i < 5; i++ {
		task := s.GetCmd(nil)
		order = append(order, task.ChunkID())
	}
	require.Equal(t, []int32{1, 2, 3, 4, 5}, order)
}

// TestScanPendingDoesNotReorderActivePass: a task queued with a smaller
// chunk id while a pass is in flight must not jump ahead of tasks already
// in the active heap; it joins the next pass instead.
func TestScanPendingDoesNotReorderActivePass(t *testing.T) {
	s := NewScanScheduler("scan", 4, 4, memman.NewManager(1<<30, nil))
	s.QueueCmd(mustTask(t, 5))
	s.QueueCmd(mustTask(t, 10))

	first := s.GetCmd(nil)
	require.EqualValues(t, 5, first.ChunkID())

	// Arrives after the pass started; chunk id 1 is smaller than what's
	// still active (10), but must not preempt it.
	s.QueueCmd(mustTask(t, 1))

	second := s.GetCmd(nil)
	require.EqualValues(t, 10, second.ChunkID(), "active pass must finish in order before pending is promoted")

	third := s.GetCmd(nil)
	require.EqualValues(t, 1, third.ChunkID())
}

func TestScanSizeCountsBothHeaps(t *testing.T) {
	s := NewScanScheduler("scan", 1, 1, memman.NewManager(1<<30, nil))
	s.QueueCmd(mustTask(t, 1))
	s.QueueCmd(mustTask(t, 2)) // both wait in pending until the first ready-check
	require.Equal(t, 2, s.Size())
}
