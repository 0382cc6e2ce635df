// Package ccontrol implements the czar-side response handler state
// machine that turns a worker's framed result stream into merged rows,
// grounded in original_source/core/modules/ccontrol/MergingHandler.cc.
package ccontrol

import (
	"crypto/md5"
	"sync"

	"github.com/pkg/errors"

	"github.com/jonathansick-shadow/qserv/common"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/rproc"
)

// State is one node of the response handler state machine (spec §4.7).
type State int

const (
	HeaderSizeWait State = iota
	ResultWait
	ResultRecv
	ResultExtra
	HeaderErr
	ResultErr
)

func (s State) String() string {
	switch s {
	case HeaderSizeWait:
		return "HEADER_SIZE_WAIT"
	case ResultWait:
		return "RESULT_WAIT"
	case ResultRecv:
		return "RESULT_RECV"
	case ResultExtra:
		return "RESULT_EXTRA"
	case HeaderErr:
		return "HEADER_ERR"
	case ResultErr:
		return "RESULT_ERR"
	default:
		return "UNKNOWN"
	}
}

// CancelChecker lets ResponseHandler ask the owning Job whether it has
// already been cancelled before committing a merge, without importing
// qdisp (which imports ccontrol for exactly this interface) and creating
// a cycle.
type CancelChecker interface {
	Cancelled() bool
}

// ResponseHandler drives one Job's result stream through the states in
// spec §4.7, verifying HANDLER-INTEGRITY (MD5) on every frame and
// forwarding merged rows to a rproc.Merger. It is not safe for
// concurrent callers other than the single reader loop that owns a
// given worker connection, matching the original's single-threaded
// XrdSsi callback assumption; its own mutex only protects the latched
// Error field that other goroutines may read concurrently (e.g. a
// status-reporting goroutine).
type ResponseHandler struct {
	errMu sync.Mutex
	err   common.Error

	state   State
	wName   string
	header  proto.Header
	buf     []byte
	flushed bool

	merger  *rproc.Merger
	queryID uint64
	jobID   int32
	chunkID int32
	job     CancelChecker
}

func NewResponseHandler(merger *rproc.Merger, queryID uint64, jobID, chunkID int32, job CancelChecker) *ResponseHandler {
	h := &ResponseHandler{
		merger:  merger,
		queryID: queryID,
		jobID:   jobID,
		chunkID: chunkID,
		job:     job,
		wName:   "~",
	}
	h.initState()
	return h
}

func (h *ResponseHandler) initState() {
	h.buf = make([]byte, proto.HeaderFrameSize)
	h.state = HeaderSizeWait
	h.setError(common.CodeNone, "")
}

// NextBufferSize tells the caller's read loop how many bytes to fill
// before the next Flush call.
func (h *ResponseHandler) NextBufferSize() int {
	return len(h.buf)
}

// Buffer exposes the live buffer for the caller's read loop to fill
// in-place before calling Flush.
func (h *ResponseHandler) Buffer() []byte {
	return h.buf
}

func (h *ResponseHandler) State() State { return h.state }

// Flush advances the state machine by n bytes of buffered input (spec
// §4.7's flush(byteLen, last)). last reports whether this frame was the
// final one for the job.
func (h *ResponseHandler) Flush(n int) (last bool, err error) {
	switch h.state {
	case HeaderSizeWait, ResultExtra:
		return h.handleHeaderFrame()
	case ResultWait:
		return h.handleResultFrame()
	default:
		err = errors.Errorf("ccontrol: unexpected flush in state %s", h.state)
		h.setError(common.MsgResultError, err.Error())
		return false, err
	}
}

func (h *ResponseHandler) handleHeaderFrame() (bool, error) {
	header, err := proto.DecodeHeaderFrame(h.buf)
	if err != nil {
		h.setError(common.MsgResultDecode, err.Error())
		h.state = HeaderErr
		return false, err
	}
	if h.wName == "~" {
		h.wName = header.WorkerName
	}
	h.header = header
	h.buf = make([]byte, header.Size)
	h.state = ResultWait
	return false, nil
}

func (h *ResponseHandler) handleResultFrame() (bool, error) {
	sum := md5.Sum(h.buf)
	if sum != h.header.MD5 {
		err := errors.New("ccontrol: result message MD5 mismatch")
		h.setError(common.MsgResultMD5, err.Error())
		h.state = ResultErr
		return false, err
	}

	result, err := proto.DecodeResult(h.buf)
	if err != nil {
		h.setError(common.MsgResultDecode, err.Error())
		h.state = ResultErr
		return false, err
	}

	msgContinues := result.Continues
	last := !msgContinues
	if msgContinues {
		h.state = ResultExtra
		h.buf = make([]byte, proto.HeaderFrameSize)
	} else {
		h.state = ResultRecv
		h.buf = h.buf[:0]
	}

	if err := h.merge(result); err != nil {
		return last, err
	}
	return last, nil
}

// merge commits result's rows to the Merger. The handler is marked
// flushed as soon as the first body has merged, so any later Reset is
// refused (spec §8, JOB-RETRY-SAFETY); the remaining frames of a
// multi-frame job still merge in turn.
func (h *ResponseHandler) merge(result proto.Result) error {
	if h.job != nil && h.job.Cancelled() {
		return errors.New("ccontrol: merge skipped, job already cancelled")
	}
	ok := h.merger.Merge(h.queryID, h.jobID, h.chunkID, result)
	if !ok {
		h.setError(common.MsgResultError, "merge failed")
		h.state = ResultErr
		return errors.New("ccontrol: merge failed")
	}
	h.flushed = true
	return nil
}

// ErrorFlush latches an out-of-band failure (e.g. a worker-side
// provisioning NACK) without going through the frame state machine.
func (h *ResponseHandler) ErrorFlush(msg string, code common.Code) {
	h.setError(code, msg)
}

// ProcessCancel marks the handler as having observed a job cancellation,
// matching MergingHandler::processCancel in spirit: subsequent merges
// for this handler should already have stopped via CancelChecker, this
// just ensures the error state reflects why.
func (h *ResponseHandler) ProcessCancel() {
	h.setError(common.Cancel, "job cancelled")
}

// Finished reports whether a merge has ever committed through this
// handler (spec §8 JOB-RETRY-SAFETY: once true, Reset must refuse).
func (h *ResponseHandler) Finished() bool {
	return h.flushed
}

// Reset returns the handler to its initial state for a retry attempt.
// Refuses if a merge has already succeeded, since there is no way to
// retract committed rows (spec §4.8's retry precondition).
func (h *ResponseHandler) Reset() bool {
	if h.flushed {
		return false
	}
	h.initState()
	return true
}

func (h *ResponseHandler) setError(code common.Code, msg string) {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	h.err = common.Error{Code: code, Msg: msg}
}

func (h *ResponseHandler) Error() common.Error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}
