// Package qdisp is the czar-side job dispatch layer: Job tracks one
// chunk query's lifecycle and retry policy, StreamRequest drives its
// worker connection, and Executive owns every Job belonging to one
// user query. Grounded in
// original_source/core/modules/qdisp/{JobQuery,QueryRequest,QueryResource}.cc.
package qdisp

import (
	"sync"
	"time"

	"github.com/jonathansick-shadow/qserv/common"
)

// Phase is one point in a Job's lifecycle (spec §4.8).
type Phase int

const (
	Provision Phase = iota
	ProvisionNack
	Request
	ResponseReady
	ResponseError
	ResponseData
	ResponseDataError
	ResponseDataErrorCorrupt
	ResponseDataErrorOK
	ResponseDataNack
	Complete
	MergeErrorPhase
	CancelPhase
)

func (p Phase) String() string {
	switch p {
	case Provision:
		return "PROVISION"
	case ProvisionNack:
		return "PROVISION_NACK"
	case Request:
		return "REQUEST"
	case ResponseReady:
		return "RESPONSE_READY"
	case ResponseError:
		return "RESPONSE_ERROR"
	case ResponseData:
		return "RESPONSE_DATA"
	case ResponseDataError:
		return "RESPONSE_DATA_ERROR"
	case ResponseDataErrorCorrupt:
		return "RESPONSE_DATA_ERROR_CORRUPT"
	case ResponseDataErrorOK:
		return "RESPONSE_DATA_ERROR_OK"
	case ResponseDataNack:
		return "RESPONSE_DATA_NACK"
	case Complete:
		return "COMPLETE"
	case MergeErrorPhase:
		return "MERGE_ERROR"
	case CancelPhase:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// statusEntry is one recorded transition, kept for diagnostics the way
// the original's JobStatus accumulates a timestamped history rather than
// overwriting a single current-state field.
type statusEntry struct {
	phase Phase
	code  common.Code
	msg   string
	at    time.Time
}

// JobStatus is a Job's timestamped transition history.
type JobStatus struct {
	mu      sync.Mutex
	entries []statusEntry
}

func NewJobStatus() *JobStatus {
	return &JobStatus{}
}

// UpdateInfo appends a transition. now is injected by the caller rather
// than read from time.Now() inside this method so tests can supply
// deterministic timestamps.
func (s *JobStatus) UpdateInfo(now time.Time, phase Phase, code common.Code, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, statusEntry{phase: phase, code: code, msg: msg, at: now})
}

// Current returns the most recent phase, or Provision if nothing has
// been recorded yet.
func (s *JobStatus) Current() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return Provision
	}
	return s.entries[len(s.entries)-1].phase
}

