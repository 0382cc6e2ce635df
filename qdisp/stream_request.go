package qdisp

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathansick-shadow/qserv/common"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/transport"
)

// finishState tracks whether a StreamRequest's outcome has already been
// decided, the Go analogue of QueryRequest's _finishStatus (ACTIVE,
// ERROR, FINISHED).
type finishState int

const (
	active finishState = iota
	finishedError
	finishedOK
)

// StreamRequest reads one worker connection's framed responses and
// drives its Job's ResponseHandler frame by frame, deciding exactly
// once whether the job finished cleanly, failed, or was cancelled.
// Grounded in
// original_source/core/modules/qdisp/QueryRequest.cc's ProcessResponse
// / ProcessResponseData / _errorFinish / _finish state machine. The
// original's cleanup() drops manual shared_ptr back-references
// (_jobQuery, _keepAlive) that exist only to keep the C++ object alive
// across the async XrdSsi callback boundary; this port needs no
// equivalent since the goroutine in serve() already holds its own
// reference to sr for as long as it runs.
type StreamRequest struct {
	job    *Job
	stream transport.Stream
	id     uuid.UUID

	mu    sync.Mutex
	state finishState
}

func newStreamRequest(job *Job, stream transport.Stream) *StreamRequest {
	return &StreamRequest{job: job, stream: stream, id: uuid.New()}
}

// serve is the read loop: each frame pair (header, body) the worker
// sends is handed to the handler as a header flush followed by a result
// flush, re-deriving the header frame bytes from the already-decoded
// header so ResponseHandler's own state machine and MD5 check run
// exactly as they would fed from a raw socket, even though
// transport.Stream has already validated the frame once itself. That
// duplication is deliberate: it keeps ccontrol's integrity check
// meaningful on its own rather than assuming transport always sits in
// front of it.
func (sr *StreamRequest) serve() {
	defer sr.job.freeStreamRequest(sr)

	for {
		header, body, err := sr.stream.RecvFrame()
		if err != nil {
			// RecvFrame returns the body alongside an error only when the
			// body failed its MD5 check: a permanent integrity failure,
			// not a transient read failure.
			phase, code := ResponseDataNack, common.ResponseDataNack
			if body != nil {
				phase, code = ResponseDataErrorCorrupt, common.MsgResultMD5
			}
			sr.job.status.UpdateInfo(time.Now(), phase, code, err.Error())
			sr.job.handler.ErrorFlush(err.Error(), code)
			common.Logf(sr.job.logger, common.LogWarning, "qdisp: stream %s recv failed: %v", sr.id, err)
			sr.errorFinish()
			return
		}

		last, err := sr.pushFrame(header, body)
		if err != nil {
			sr.job.status.UpdateInfo(time.Now(), MergeErrorPhase, sr.job.handler.Error().Code, err.Error())
			common.Logf(sr.job.logger, common.LogWarning, "qdisp: stream %s merge failed: %v", sr.id, err)
			sr.errorFinish()
			return
		}

		sr.job.status.UpdateInfo(time.Now(), ResponseData, common.CodeNone, "")
		if last {
			sr.finish()
			return
		}
	}
}

// pushFrame feeds one (header, body) pair through the handler's
// two-phase buffer contract: a header-frame flush followed by a
// result-frame flush.
func (sr *StreamRequest) pushFrame(header proto.Header, body []byte) (bool, error) {
	frame, err := proto.EncodeHeaderFrame(header)
	if err != nil {
		return false, err
	}
	copy(sr.job.handler.Buffer(), frame)
	if _, err := sr.job.handler.Flush(len(frame)); err != nil {
		return false, err
	}

	copy(sr.job.handler.Buffer(), body)
	return sr.job.handler.Flush(len(body))
}

// cancel marks this request cancelled and drives the job straight to
// its failure path, matching QueryRequest::cancel's call into
// _errorFinish(true) ahead of the active-state guard it shares with
// every other terminal transition.
func (sr *StreamRequest) cancel() {
	sr.mu.Lock()
	if sr.state != active {
		sr.mu.Unlock()
		return
	}
	sr.mu.Unlock()

	sr.stream.Close()
	sr.errorFinish()
}

// errorFinish latches the failure outcome exactly once and reports it
// up to the Job, which alone decides whether to retry.
func (sr *StreamRequest) errorFinish() {
	sr.mu.Lock()
	if sr.state != active {
		sr.mu.Unlock()
		return
	}
	sr.state = finishedError
	sr.mu.Unlock()

	sr.job.onStreamRequestDone(false)
}

// finish latches the success outcome exactly once.
func (sr *StreamRequest) finish() {
	sr.mu.Lock()
	if sr.state != active {
		sr.mu.Unlock()
		return
	}
	sr.state = finishedOK
	sr.mu.Unlock()

	sr.stream.Close()
	sr.job.onStreamRequestDone(true)
}
