package qdisp

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jonathansick-shadow/qserv/ccontrol"
	"github.com/jonathansick-shadow/qserv/common"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/transport"
)

// Dialer opens the worker connection a Job will send its Task over.
// Resolving which worker owns task's chunk is the Executive's job, not
// the Dialer's; by the time RunJob calls this, the address is already
// decided.
type Dialer func(ctx context.Context, task proto.Task) (transport.Stream, error)

// Job owns one chunk query's lifecycle: dispatch, the single in-flight
// StreamRequest reading its worker connection, and the retry policy of
// spec §4.8. Grounded in
// original_source/core/modules/qdisp/JobQuery.cc, with one deliberate
// redesign: JobQuery serializes runJob/cancel/freeQueryResource behind a
// single recursive mutex (_rmutex) so any of those methods may safely
// call back into another while already holding it. Go's sync.Mutex is
// not reentrant, so this port uses a plain (non-reentrant) mutex and
// restructures the three entrypoints to never call each other while
// holding it — each one reads what it needs, unlocks, then does any
// cross-object call (dialing, StreamRequest.Cancel, the markComplete
// callback) unlocked. cancelCh substitutes for the original's
// _cancelled atomic bool where a select-based check is more idiomatic
// than a second lock acquisition.
type Job struct {
	mu        sync.Mutex
	cancelCh  chan struct{}
	cancelled bool

	queryID uint64
	jobID   int32
	chunkID int32
	desc    proto.Task

	handler    *ccontrol.ResponseHandler
	status     *JobStatus
	dial       Dialer
	maxRetries int
	retryCount int

	streamReq *StreamRequest

	completeOnce sync.Once
	markComplete func(success bool)

	logger common.ILogger
}

// NewJob builds a Job for desc. handler must have been constructed with
// a CancelChecker that reports this Job's own Cancelled method (spec's
// ccontrol<->qdisp wiring point); markComplete is invoked exactly once,
// on whichever goroutine first learns the job's final outcome.
func NewJob(desc proto.Task, handler *ccontrol.ResponseHandler, dial Dialer, maxRetries int, markComplete func(success bool), logger common.ILogger) *Job {
	return &Job{
		cancelCh:     make(chan struct{}),
		queryID:      desc.QueryID,
		jobID:        desc.JobID,
		chunkID:      desc.ChunkID,
		desc:         desc,
		handler:      handler,
		status:       NewJobStatus(),
		dial:         dial,
		maxRetries:   maxRetries,
		markComplete: markComplete,
		logger:       logger,
	}
}

func (j *Job) Status() *JobStatus { return j.status }

// SetMarkComplete replaces the completion callback. Must be called
// before RunJob; Executive uses this to bind each Job's outcome to its
// own per-job completion channel at dispatch time, since that channel
// does not exist yet when AddJob builds the Job.
func (j *Job) SetMarkComplete(fn func(success bool)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.markComplete = fn
}

// Cancelled satisfies ccontrol.CancelChecker.
func (j *Job) Cancelled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelled
}

// CancelCh closes the instant Cancel is first called, for callers
// selecting on it instead of polling Cancelled.
func (j *Job) CancelCh() <-chan struct{} {
	return j.cancelCh
}

// RunJob dials the worker, sends the task description, and hands the
// connection to a new StreamRequest to read the response. It returns
// once dispatch has either succeeded or failed outright; the eventual
// success or failure of the query itself is reported asynchronously
// through markComplete, mirroring JobQuery::runJob's async
// xrdSsiProvision dispatch.
func (j *Job) RunJob(ctx context.Context) error {
	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		// Cancel already owns reporting completion for this job.
		return errors.New("qdisp: job cancelled")
	}
	if j.retryCount >= j.maxRetries {
		j.mu.Unlock()
		j.callMarkComplete(false)
		return errors.New("qdisp: retry limit exhausted")
	}
	if j.retryCount > 0 && !j.handler.Reset() {
		j.mu.Unlock()
		j.callMarkComplete(false)
		return errors.New("qdisp: handler already flushed, cannot retry")
	}
	j.retryCount++
	j.mu.Unlock()

	j.status.UpdateInfo(time.Now(), Provision, common.CodeNone, "")

	stream, err := j.dial(ctx, j.desc)
	if err != nil {
		j.status.UpdateInfo(time.Now(), ProvisionNack, common.ProvisionNack, err.Error())
		j.handler.ErrorFlush(err.Error(), common.ProvisionNack)
		j.onStreamRequestDone(false)
		return err
	}

	body, err := proto.EncodeTask(j.desc)
	if err != nil {
		stream.Close()
		j.callMarkComplete(false)
		return err
	}
	header := proto.Header{Size: uint64(len(body)), MD5: proto.ChecksumBody(body)}
	if err := stream.SendFrame(header, body); err != nil {
		stream.Close()
		j.status.UpdateInfo(time.Now(), ProvisionNack, common.ProvisionNack, err.Error())
		j.handler.ErrorFlush(err.Error(), common.ProvisionNack)
		j.onStreamRequestDone(false)
		return err
	}

	sr := newStreamRequest(j, stream)
	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		stream.Close()
		return errors.New("qdisp: job cancelled during dispatch")
	}
	j.streamReq = sr
	j.mu.Unlock()

	j.status.UpdateInfo(time.Now(), Request, common.CodeNone, "")
	go sr.serve()
	return nil
}

// Cancel marks the job cancelled and forwards to whatever is currently
// in flight. Idempotent: only the first call has any effect, matching
// JobQuery::cancel's exchange-guarded original.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	if j.cancelled {
		j.mu.Unlock()
		return false
	}
	j.cancelled = true
	close(j.cancelCh)
	sr := j.streamReq
	j.mu.Unlock()

	j.status.UpdateInfo(time.Now(), CancelPhase, common.Cancel, "")
	if sr != nil {
		sr.cancel()
	} else {
		j.callMarkComplete(false)
	}
	return true
}

// freeStreamRequest detaches sr once it has finished, so a subsequent
// Cancel call finds no in-flight request to forward to. Only sr itself
// calls this, and only after it has already decided its own outcome.
func (j *Job) freeStreamRequest(sr *StreamRequest) {
	j.mu.Lock()
	if j.streamReq == sr {
		j.streamReq = nil
	}
	j.mu.Unlock()
}

// onStreamRequestDone is StreamRequest's hook back into the retry
// policy: success completes the job outright; failure retries RunJob if
// the retry budget and the handler's Reset both allow it, otherwise
// completes the job as failed. Mirrors QueryRequest::_errorFinish's
// "retry via jobQuery->runJob() unless already retried" branch, with
// the "already retried" guard now just RunJob's own retryCount check.
func (j *Job) onStreamRequestDone(success bool) {
	if success {
		j.status.UpdateInfo(time.Now(), Complete, common.CodeNone, "")
		j.callMarkComplete(true)
		return
	}

	j.mu.Lock()
	cancelled := j.cancelled
	retryable := j.retryCount < j.maxRetries
	j.mu.Unlock()

	// A retry is only useful against a transient failure (dial/send
	// trouble, a dropped connection). Merger failures, MD5 mismatches,
	// and decode errors are permanent per spec's failure classification,
	// so the handler's own latched error code gets the final say even
	// when the retry budget would otherwise allow another attempt.
	if !cancelled && retryable && j.handler.Error().Code.Retryable() {
		// RunJob itself reports completion on every path it can take
		// from here (another onStreamRequestDone call, or one of the
		// callMarkComplete calls guarding its terminal error returns),
		// so this goroutine does not need to inspect its result.
		go func() {
			if err := j.RunJob(context.Background()); err != nil {
				common.Logf(j.logger, common.LogWarning, "qdisp: retry failed for job %d#%d: %v", j.queryID, j.jobID, err)
			}
		}()
		return
	}
	j.callMarkComplete(false)
}

func (j *Job) callMarkComplete(success bool) {
	j.completeOnce.Do(func() {
		if j.markComplete != nil {
			j.markComplete(success)
		}
	})
}
