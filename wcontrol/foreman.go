// Package wcontrol wires a worker's scheduler to its thread pool and
// query-execution layer. Foreman is the sole place that owns worker
// goroutines: everything else (schedulers, the memory manager, the
// query runner) is driven by it rather than spawning its own
// goroutines, mirroring original_source/core/modules/wcontrol/Foreman.cc,
// where Foreman owns the util::ThreadPool and is the only class that
// calls newQueryRunner.
package wcontrol

import (
	"fmt"
	"sync"

	"github.com/jonathansick-shadow/qserv/common"
	"github.com/jonathansick-shadow/qserv/memman"
	"github.com/jonathansick-shadow/qserv/wbase"
)

// RunnerFactory builds the TaskQueryRunner that will execute t, given the
// SendChannel its results should go out on. Foreman calls this once per
// dispatched task rather than owning wdb.Executor construction itself,
// so tests can substitute a fake runner without a real database.
type RunnerFactory func(task *wbase.Task, sendChan *wbase.SendChannel) wbase.TaskQueryRunner

// Foreman owns the worker's thread pool: poolSize goroutines pull ready
// tasks from scheduler, reserve memory residency for their scan tables,
// run them, and report completion back to the scheduler.
type Foreman struct {
	scheduler wbase.Scheduler
	memMgr    memman.Manager
	newRunner RunnerFactory
	logger    common.ILogger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewForeman(poolSize int, scheduler wbase.Scheduler, memMgr memman.Manager, newRunner RunnerFactory, logger common.ILogger) *Foreman {
	f := &Foreman{
		scheduler: scheduler,
		memMgr:    memMgr,
		newRunner: newRunner,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	f.wg.Add(poolSize)
	for i := 0; i < poolSize; i++ {
		go f.workerLoop()
	}
	return f
}

// ProcessTask enqueues task on the scheduler for later dispatch, per
// Foreman::processTask in the original.
func (f *Foreman) ProcessTask(task *wbase.Task, sendChan *wbase.SendChannel) {
	task.SetRunner(f.newRunner(task, sendChan))
	f.scheduler.QueueCmd(task)
}

func (f *Foreman) workerLoop() {
	defer f.wg.Done()
	for {
		task := f.scheduler.GetCmd(f.stopCh)
		if task == nil {
			return
		}
		f.run(task)
	}
}

// run executes task and always reports completion to the scheduler
// exactly once, even on a reservation failure — a task the memory
// manager can never admit still needs the in-flight slot freed for the
// next task in line.
//
// A task already flagged memory-ok has had its residency admitted by
// the scheduler that dispatched it (ScanScheduler, per spec §4.3) and
// that same scheduler releases it on CommandFinish; run must not
// reserve or release memory for it a second time. Tasks arriving
// without that flag (anything dispatched by a scheduler with no
// admission policy of its own, e.g. GroupScheduler) still go through
// this integration point's own reservation.
func (f *Foreman) run(task *wbase.Task) {
	f.scheduler.CommandStart(task)
	defer f.scheduler.CommandFinish(task)

	if !task.MemoryOK() {
		handles, err := f.reserveMemory(task)
		if err != nil {
			common.Logf(f.logger, common.LogWarning, "wcontrol: memory reservation failed for %s: %v", task.Hash(), err)
			task.MarkEnded()
			return
		}
		defer f.releaseMemory(handles)
	}

	if task.Cancelled() {
		return
	}

	runner := f.runnerFor(task)
	if runner == nil {
		return
	}
	if err := runner.RunQuery(); err != nil {
		common.Logf(f.logger, common.LogError, "wcontrol: task %s failed: %v", task.Hash(), err)
	}
}

func (f *Foreman) runnerFor(task *wbase.Task) wbase.TaskQueryRunner {
	runner, ok := task.Runner()
	if !ok {
		return nil
	}
	return runner
}

// reserveMemory requests a locked lease for every scan table, falling
// back to a flexible lease for any table marked LockInMemory=false. If
// any locked lease is denied for memory pressure, the whole request
// retries once with every table flexible. This is the fallback path for
// tasks whose dispatching scheduler has no admission policy of its own
// (e.g. GroupScheduler); ScanScheduler performs this same admission
// itself before a task is ever handed to run, so those tasks never reach
// here (see wbase.Task.MemoryOK).
func (f *Foreman) reserveMemory(task *wbase.Task) ([]memman.Handle, error) {
	tables := task.DbTables()
	if len(tables) == 0 {
		return nil, nil
	}
	paths := make([]string, len(tables))
	flex := make([]bool, len(tables))
	for i, tbl := range tables {
		paths[i] = fmt.Sprintf("%s/%s_%d", tbl.Database, tbl.Table, task.ChunkID())
		flex[i] = !tbl.LockInMemory
	}

	res := f.memMgr.Prepare(paths, flex)
	if len(res.Denied) == 0 {
		return res.Handles, nil
	}

	allFlex := make([]bool, len(flex))
	for i := range allFlex {
		allFlex[i] = true
	}
	res = f.memMgr.Prepare(paths, allFlex)
	if len(res.Denied) != 0 {
		return nil, common.NewError(common.CodeNone, "wcontrol: memory manager denied task even in flexible mode", nil)
	}
	return res.Handles, nil
}

func (f *Foreman) releaseMemory(handles []memman.Handle) {
	for _, h := range handles {
		f.memMgr.Release(h)
	}
}

// Shutdown stops the worker pool, letting already-dispatched tasks run to
// completion but admitting no new ones.
func (f *Foreman) Shutdown() {
	close(f.stopCh)
	f.wg.Wait()
}
