// Package qmeta defines the identifiers and diagnostic message store shared
// between the czar-side Executive/Job and the worker-side Task, grounded in
// original_source's qmeta::QueryId / QueryIdHelper usage.
package qmeta

import "fmt"

// QueryID identifies a UserQuery: an unsigned 64-bit id assigned at
// admission (spec §3).
type QueryID uint64

// JobID is a small integer unique within one QueryID (spec §3).
type JobID int32

// IDStr renders the "(queryId#jobId)" form used throughout qserv's log
// lines, matching original_source's QueryIdHelper::makeIdStr.
func IDStr(q QueryID, j JobID) string {
	return fmt.Sprintf("%d#%d", q, j)
}
