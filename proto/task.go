package proto

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"fmt"

	"github.com/pkg/errors"
)

// ScanTable names one table a Task will scan and whether its chunk file
// should be requested as a locked (resident) or flexible memory lease
// (spec §3, "Scan Table").
type ScanTable struct {
	Database      string
	Table         string
	LockInMemory  bool
}

// Fragment is one SQL fragment to run against the chunk, with its own
// subchunk ids when the query uses a subchunked join (spec §3,
// "Fragment").
type Fragment struct {
	Query      []string
	SubChunkIDs []int32
}

// Task is the unit of work dispatched to a worker (spec §3, "Task").
// SessionID groups tasks belonging to one query session; QueryID and
// JobID identify the owning czar-side Job (spec §4.8).
type Task struct {
	SessionID    int32
	QueryID      uint64
	JobID        int32
	ChunkID      int32
	DefaultDB    string
	ScanPriority int32
	ScanTables   []ScanTable
	Fragments    []Fragment
}

// Hash returns a deterministic digest of t's content, used as the task's
// identity for logging, the debug Registry (spec's IdSet-equivalent) and
// the Blend scheduler's dispatch map; nothing in this module deduplicates
// tasks by it. Grounded in the teacher's pattern of
// hashing job content for idempotency keys (ste/JobPartPlan hashing in
// azcopy's job plan cache), adapted here to gob+sha256 rather than the
// teacher's plan-file MD5 since Task has no on-disk representation.
func (t Task) Hash() (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return "", errors.Wrap(err, "proto: hash task")
	}
	sum := sha256.Sum256(buf.Bytes())
	return fmt.Sprintf("%x", sum), nil
}

// String is a compact human-readable identifier for logs.
func (t Task) String() string {
	return fmt.Sprintf("%d#%d chunk=%d", t.QueryID, t.JobID, t.ChunkID)
}

// EncodeTask gob-encodes t into the bytes that become a request frame
// body, the czar-to-worker counterpart of EncodeResult.
func EncodeTask(t Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return nil, errors.Wrap(err, "proto: encode task")
	}
	return buf.Bytes(), nil
}

// DecodeTask reverses EncodeTask.
func DecodeTask(body []byte) (Task, error) {
	var t Task
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&t); err != nil {
		return t, errors.Wrap(err, "proto: decode task")
	}
	return t, nil
}
