package qdisp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/rproc"
	"github.com/jonathansick-shadow/qserv/transport"
)

func TestExecutiveExecuteAllMergesEveryJob(t *testing.T) {
	merger := rproc.NewMerger()
	dial := func(ctx context.Context, task proto.Task) (transport.Stream, error) {
		a, b := transport.Pipe()
		serveFakeWorker(b, []proto.Result{{Rows: [][]byte{[]byte(task.String())}}})
		return a, nil
	}
	exec := NewExecutive(42, merger, dial, 4, nil)

	exec.AddJob(proto.Task{JobID: 1, ChunkID: 1}, 1)
	exec.AddJob(proto.Task{JobID: 2, ChunkID: 2}, 1)
	exec.AddJob(proto.Task{JobID: 3, ChunkID: 3}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, exec.ExecuteAll(ctx))

	require.Len(t, merger.Table(42).Rows(), 3)
}

func TestExecutiveExecuteAllFailsAndCancelsSiblings(t *testing.T) {
	merger := rproc.NewMerger()
	blocked := make(chan transport.Stream, 1)

	dial := func(ctx context.Context, task proto.Task) (transport.Stream, error) {
		if task.JobID == 1 {
			return nil, errDialFailed
		}
		a, b := transport.Pipe()
		// Job 2's worker never responds; it just waits to be cancelled
		// (closed) by the Executive once job 1 fails.
		go func() {
			b.RecvFrame()
			blocked <- b
		}()
		return a, nil
	}
	exec := NewExecutive(43, merger, dial, 4, nil)

	exec.AddJob(proto.Task{JobID: 1, ChunkID: 1}, 1)
	job2 := exec.AddJob(proto.Task{JobID: 2, ChunkID: 2}, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, exec.ExecuteAll(ctx))

	require.Eventually(t, func() bool {
		return job2.Cancelled()
	}, time.Second, 5*time.Millisecond)

	select {
	case b := <-blocked:
		b.Close()
	default:
	}
}
