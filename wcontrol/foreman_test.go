package wcontrol

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/qserv/memman"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/wbase"
	"github.com/jonathansick-shadow/qserv/wsched"
)

type fakeRunner struct {
	mu  sync.Mutex
	ran bool
}

func (r *fakeRunner) RunQuery() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = true
	return nil
}

func (r *fakeRunner) Cancel() {}

type fakeMemMgr struct{}

func (fakeMemMgr) FileInfo(path string) memman.FileInfo { return memman.FileInfo{} }
func (fakeMemMgr) Lock(path string, flex bool) (memman.Handle, error) {
	return memman.Handle(1), nil
}
func (fakeMemMgr) Release(memman.Handle)      {}
func (fakeMemMgr) Prepare(paths []string, flexFlags []bool) memman.PrepareResult {
	handles := make([]memman.Handle, len(paths))
	for i := range handles {
		handles[i] = memman.Handle(i + 1)
	}
	return memman.PrepareResult{Granted: paths, Handles: handles}
}
func (fakeMemMgr) LockedBytes() int64 { return 0 }
func (fakeMemMgr) NumFiles() int      { return 0 }

func TestForemanRunsQueuedTask(t *testing.T) {
	sched := wsched.NewGroupScheduler("g", 2, 2, 8)
	runner := &fakeRunner{}
	factory := func(task *wbase.Task, sendChan *wbase.SendChannel) wbase.TaskQueryRunner {
		return runner
	}

	f := NewForeman(1, sched, fakeMemMgr{}, factory, nil)
	defer f.Shutdown()

	task, err := wbase.NewTask(proto.Task{
		ChunkID: 1,
		ScanTables: []proto.ScanTable{{Database: "LSST", Table: "Object", LockInMemory: true}},
	})
	require.NoError(t, err)

	f.ProcessTask(task, nil)

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.ran
	}, time.Second, 5*time.Millisecond)
}

func TestForemanReportsCompletionOnCancelledTask(t *testing.T) {
	sched := wsched.NewGroupScheduler("g", 2, 2, 8)
	runner := &fakeRunner{}
	factory := func(task *wbase.Task, sendChan *wbase.SendChannel) wbase.TaskQueryRunner {
		return runner
	}

	f := NewForeman(1, sched, fakeMemMgr{}, factory, nil)
	defer f.Shutdown()

	task, err := wbase.NewTask(proto.Task{ChunkID: 2})
	require.NoError(t, err)
	task.Cancel()

	f.ProcessTask(task, nil)

	require.Eventually(t, func() bool {
		return sched.InFlight() == 0 && sched.Size() == 0
	}, time.Second, 5*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	require.False(t, runner.ran, "cancelled task must not run its query")
}
