// Package rproc merges per-job results into the query's final result
// table. Grounded in original_source/core/modules/rproc/InfileMerger (as
// referenced from ccontrol/MergingHandler.cc's _merge): the merger's job
// is to append each result frame's rows once, and to ignore any further
// frames for a job whose final frame has already been merged.
package rproc

import (
	"sync"

	"github.com/jonathansick-shadow/qserv/proto"
)

// fragmentKey identifies one job's result for one chunk. It is recorded
// once that result's final (non-continuing) frame has merged.
type fragmentKey struct {
	QueryID uint64
	JobID   int32
	ChunkID int32
}

// Table accumulates merged rows for one query, keyed by the query id so
// an Executive running several queries concurrently shares one Merger
// without their rows mixing.
type Table struct {
	mu   sync.Mutex
	rows [][]byte
}

func (t *Table) append(rows [][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, rows...)
}

// Rows returns a snapshot of every row merged so far.
func (t *Table) Rows() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.rows))
	copy(out, t.rows)
	return out
}

// Merger is the single point through which every job's result frames
// flow on their way into the final per-query result table (spec §4.8's
// "result merging" responsibility, §1's czar-side "Response Handler ->
// InfileMerger" pipeline).
type Merger struct {
	mu      sync.Mutex
	tables  map[uint64]*Table
	merged  map[fragmentKey]bool
	lastErr error
}

func NewMerger() *Merger {
	return &Merger{
		tables: make(map[uint64]*Table),
		merged: make(map[fragmentKey]bool),
	}
}

// Merge appends r's rows to queryID's result table. Frames with
// Continues set each append their rows; once a frame with Continues
// unset has merged for a (queryID, jobID, chunkID) fragment, any later
// Merge for that fragment is a no-op returning true. This backs the
// spec's JOB-RETRY-SAFETY invariant: a Job
// must never be retried after its ResponseHandler has already flushed a
// merge, but double-merge safety here is a second line of defense, not
// a substitute for that rule.
func (m *Merger) Merge(queryID uint64, jobID, chunkID int32, r proto.Result) bool {
	key := fragmentKey{QueryID: queryID, JobID: jobID, ChunkID: chunkID}

	m.mu.Lock()
	if m.merged[key] {
		m.mu.Unlock()
		return true
	}
	table, ok := m.tables[queryID]
	if !ok {
		table = &Table{}
		m.tables[queryID] = table
	}
	if !r.Continues {
		m.merged[key] = true
	}
	m.mu.Unlock()

	table.append(r.Rows)
	return true
}

// Table returns the accumulated result table for queryID, creating it if
// this is the first call for that query.
func (m *Merger) Table(queryID uint64) *Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, ok := m.tables[queryID]
	if !ok {
		table = &Table{}
		m.tables[queryID] = table
	}
	return table
}

// LastError reports the most recent merge failure recorded via
// SetError, for callers surfacing common.MergeError.
func (m *Merger) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Merger) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastErr = err
}
