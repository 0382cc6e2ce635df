package wdb

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/wbase"
)

// RowBatchSize caps how many rows accumulate before a frame is flushed to
// the SendChannel, bounding a single Result's memory footprint the way
// the original's MYSQL_RES row buffering was bounded per _transmit call.
const RowBatchSize = 1000

// QueryRunner executes one Task's SQL fragments against an Executor and
// streams the results out over a SendChannel. Grounded in
// original_source/core/modules/wdb/QueryRunner.h's runQuery/_fillRows/
// _transmit split.
type QueryRunner struct {
	task      *wbase.Task
	exec      Executor
	sendChan  *wbase.SendChannel
	cancelled atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	errs []error
}

// multiError joins one or more fragment failures into a single error,
// mirroring util::MultiError's "report every failure, not just the
// first" behavior.
type multiError []error

func (m multiError) Error() string {
	if len(m) == 1 {
		return m[0].Error()
	}
	msg := m[0].Error()
	for _, e := range m[1:] {
		msg += "; " + e.Error()
	}
	return msg
}

func NewQueryRunner(task *wbase.Task, exec Executor, sendChan *wbase.SendChannel) *QueryRunner {
	qr := &QueryRunner{task: task, exec: exec, sendChan: sendChan}
	task.SetRunner(qr)
	return qr
}

// RunQuery executes every fragment of the task in order, streaming rows
// as they accumulate. Returns a non-nil error if any fragment failed or
// the task was cancelled; callers (wcontrol.Foreman) are responsible for
// reporting that up through the response handler's error path (spec §7).
func (qr *QueryRunner) RunQuery() error {
	ctx, cancel := context.WithCancel(context.Background())
	qr.mu.Lock()
	qr.cancel = cancel
	qr.mu.Unlock()
	defer cancel()

	if qr.cancelled.Load() {
		return errors.New("wdb: task cancelled before execution started")
	}

	if err := qr.exec.SelectDB(ctx, qr.task.Proto.DefaultDB); err != nil {
		return errors.Wrap(err, "wdb: select database")
	}

	fragments := qr.task.Proto.Fragments
	for fi, frag := range fragments {
		for qi, sql := range frag.Query {
			last := fi == len(fragments)-1 && qi == len(frag.Query)-1
			if err := qr.runOne(ctx, sql, last); err != nil {
				qr.errs = append(qr.errs, err)
			}
		}
		if qr.cancelled.Load() {
			qr.errs = append(qr.errs, errors.New("wdb: task cancelled"))
			break
		}
	}

	if len(qr.errs) > 0 {
		return multiError(qr.errs)
	}
	return nil
}

func (qr *QueryRunner) runOne(ctx context.Context, sql string, last bool) error {
	var batch []Row
	flush := func(continues bool) error {
		if len(batch) == 0 && continues {
			// Nothing accumulated yet; nothing to send mid-stream.
			return nil
		}
		rows := make([][]byte, len(batch))
		for i, r := range batch {
			rows[i] = r
		}
		result := proto.Result{
			QueryID:   qr.task.Proto.QueryID,
			JobID:     qr.task.Proto.JobID,
			ChunkID:   qr.task.Proto.ChunkID,
			Rows:      rows,
			Continues: continues,
		}
		batch = batch[:0]
		return qr.sendChan.SendResult(result)
	}

	err := qr.exec.Query(ctx, sql, func(r Row) error {
		if qr.cancelled.Load() {
			return errors.New("wdb: cancelled mid-query")
		}
		batch = append(batch, r)
		if len(batch) >= RowBatchSize {
			return flush(true)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// Final frame for this query: Continues unless it is the task's last
	// query, so the stream ends only after every fragment has run.
	return flush(!last)
}

// Cancel aborts an in-progress or not-yet-started run. Safe to call more
// than once and from a goroutine other than the one running RunQuery.
func (qr *QueryRunner) Cancel() {
	qr.cancelled.Store(true)
	qr.mu.Lock()
	cancel := qr.cancel
	qr.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
