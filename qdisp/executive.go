package qdisp

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jonathansick-shadow/qserv/ccontrol"
	"github.com/jonathansick-shadow/qserv/common"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/rproc"
)

// Executive owns every Job belonging to one UserQuery: it builds a Job
// per chunk, dispatches them all, and waits for every one to report a
// final outcome. There is no original_source Executive.cc in this
// port's reference material, so this package's own design (a
// goroutine-per-job fan-in over an errgroup, mirroring the teacher's
// goroutine-per-worker-slot transfer pattern in
// ste.jobsAdmin.transferAndChunkProcessor) stands in for it, grounded
// instead directly in spec.md's description of Executive's
// responsibilities and in JobQuery.cc's references to
// _executive->markCompleted/getCancelled/xrdSsiProvision, which pin
// down exactly what surface a Job expects its owner to provide.
type Executive struct {
	queryID uint64
	merger  *rproc.Merger
	dial    Dialer
	logger  common.ILogger

	mu        sync.Mutex
	jobs      map[int32]*Job
	cancelled bool

	sem *errgroupSem
}

// NewExecutive creates an Executive for one query. maxInFlight bounds
// how many Jobs may be dispatched concurrently, independent of how many
// chunks the query touches.
func NewExecutive(queryID uint64, merger *rproc.Merger, dial Dialer, maxInFlight int, logger common.ILogger) *Executive {
	return &Executive{
		queryID: queryID,
		merger:  merger,
		dial:    dial,
		logger:  logger,
		jobs:    make(map[int32]*Job),
		sem:     newErrgroupSem(maxInFlight),
	}
}

// AddJob builds and registers a Job for one chunk's worth of the query
// but does not dispatch it; callers typically build every Job for a
// query before calling ExecuteAll so Cancel reaches all of them even if
// one fails before the rest are added.
func (e *Executive) AddJob(desc proto.Task, maxRetries int) *Job {
	desc.QueryID = e.queryID

	ref := &jobRef{}
	handler := ccontrol.NewResponseHandler(e.merger, e.queryID, desc.JobID, desc.ChunkID, ref)
	job := NewJob(desc, handler, e.dial, maxRetries, nil, e.logger)
	ref.job = job

	e.mu.Lock()
	e.jobs[desc.JobID] = job
	e.mu.Unlock()
	return job
}

// jobRef breaks the construction-order cycle between a Job and the
// ccontrol.ResponseHandler it owns: the handler needs a CancelChecker
// before the Job it belongs to exists. ref.job is set once, immediately
// after NewJob returns, and never reassigned.
type jobRef struct {
	job *Job
}

func (r *jobRef) Cancelled() bool {
	if r.job == nil {
		return false
	}
	return r.job.Cancelled()
}

// ExecuteAll dispatches every registered Job and blocks until each has
// reported a final success/failure, short-circuiting via ctx
// cancellation (propagated to Cancel on the remaining jobs) the instant
// any Job fails, matching the all-or-nothing semantics a SQL query's
// chunk scatter needs: one failed chunk invalidates the whole result.
func (e *Executive) ExecuteAll(ctx context.Context) error {
	e.mu.Lock()
	jobs := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := e.sem.Acquire(gctx); err != nil {
				return err
			}
			defer e.sem.Release()

			done := make(chan bool, 1)
			job.SetMarkComplete(func(success bool) { done <- success })

			// RunJob's own error only describes this dispatch attempt;
			// every final outcome, including that of a retry it has
			// scheduled, arrives through markComplete.
			_ = job.RunJob(gctx)
			select {
			case success := <-done:
				if !success {
					return job.handler.Error()
				}
				return nil
			case <-gctx.Done():
				job.Cancel()
				return gctx.Err()
			}
		})
	}

	err := g.Wait()
	if err != nil {
		e.Cancel()
	}
	return err
}

// Cancel cancels every Job this Executive owns. Idempotent at the
// Executive level as well as per-Job: a second call finds cancelled
// already true and does nothing further.
func (e *Executive) Cancel() {
	e.mu.Lock()
	if e.cancelled {
		e.mu.Unlock()
		return
	}
	e.cancelled = true
	jobs := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.Unlock()

	for _, j := range jobs {
		j.Cancel()
	}
}

// errgroupSem is a tiny channel-based counting semaphore, used instead
// of golang.org/x/sync/semaphore here because ExecuteAll needs to
// respect ctx cancellation while waiting for a slot without importing a
// second semaphore flavor purely for its context-aware Acquire; a
// buffered channel already gives that for free.
type errgroupSem struct {
	slots chan struct{}
}

func newErrgroupSem(n int) *errgroupSem {
	if n <= 0 {
		n = 1
	}
	return &errgroupSem{slots: make(chan struct{}, n)}
}

func (s *errgroupSem) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *errgroupSem) Release() {
	<-s.slots
}
