package qdisp

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/qserv/ccontrol"
	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/rproc"
	"github.com/jonathansick-shadow/qserv/transport"
)

// serveFakeWorker reads the single task frame a Job sends, then writes
// back results, playing the worker side of the connection for tests
// that only care about the czar-side StreamRequest/Job behavior.
func serveFakeWorker(stream transport.Stream, results []proto.Result) {
	go func() {
		defer stream.Close()
		if _, _, err := stream.RecvFrame(); err != nil {
			return
		}
		for _, r := range results {
			body, err := proto.EncodeResult(r)
			if err != nil {
				return
			}
			header := proto.Header{Size: uint64(len(body)), MD5: proto.ChecksumBody(body), Continues: r.Continues}
			if err := stream.SendFrame(header, body); err != nil {
				return
			}
		}
	}()
}

func newTestJob(t *testing.T, dial Dialer, maxRetries int) (*Job, *rproc.Merger) {
	t.Helper()
	merger := rproc.NewMerger()
	ref := &jobRef{}
	handler := ccontrol.NewResponseHandler(merger, 7, 1, 3, ref)
	job := NewJob(proto.Task{QueryID: 7, JobID: 1, ChunkID: 3}, handler, dial, maxRetries, nil, nil)
	ref.job = job
	return job, merger
}

func TestJobRunJobSingleFrameSuccess(t *testing.T) {
	dial := func(ctx context.Context, task proto.Task) (transport.Stream, error) {
		a, b := transport.Pipe()
		serveFakeWorker(b, []proto.Result{{Rows: [][]byte{[]byte("x"), []byte("y")}}})
		return a, nil
	}
	job, merger := newTestJob(t, dial, 1)

	done := make(chan bool, 1)
	job.SetMarkComplete(func(success bool) { done <- success })

	require.NoError(t, job.RunJob(context.Background()))

	select {
	case success := <-done:
		require.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("job never completed")
	}
	require.Len(t, merger.Table(7).Rows(), 2)
	require.Equal(t, Complete, job.Status().Current())
}

func TestJobRunJobMultiFrameSuccess(t *testing.T) {
	dial := func(ctx context.Context, task proto.Task) (transport.Stream, error) {
		a, b := transport.Pipe()
		serveFakeWorker(b, []proto.Result{
			{Rows: [][]byte{[]byte("x")}, Continues: true},
			{Rows: [][]byte{[]byte("y")}},
		})
		return a, nil
	}
	job, merger := newTestJob(t, dial, 1)

	done := make(chan bool, 1)
	job.SetMarkComplete(func(success bool) { done <- success })
	require.NoError(t, job.RunJob(context.Background()))

	select {
	case success := <-done:
		require.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("job never completed")
	}
	require.Len(t, merger.Table(7).Rows(), 2)
}

func TestJobRetriesAfterDialFailure(t *testing.T) {
	var attempts atomic.Int32
	dial := func(ctx context.Context, task proto.Task) (transport.Stream, error) {
		n := attempts.Add(1)
		if n == 1 {
			return nil, errDialFailed
		}
		a, b := transport.Pipe()
		serveFakeWorker(b, []proto.Result{{Rows: [][]byte{[]byte("z")}}})
		return a, nil
	}
	job, merger := newTestJob(t, dial, 3)

	done := make(chan bool, 1)
	job.SetMarkComplete(func(success bool) { done <- success })
	// The first attempt's own dial fails synchronously and RunJob
	// reports that outright; the retry it schedules in the background
	// is what eventually succeeds, reported through markComplete.
	require.Error(t, job.RunJob(context.Background()))

	select {
	case success := <-done:
		require.True(t, success)
	case <-time.After(time.Second):
		t.Fatal("job never completed")
	}
	require.EqualValues(t, 2, attempts.Load())
	require.Len(t, merger.Table(7).Rows(), 1)
}

func TestJobGivesUpAfterRetryBudgetExhausted(t *testing.T) {
	dial := func(ctx context.Context, task proto.Task) (transport.Stream, error) {
		return nil, errDialFailed
	}
	job, _ := newTestJob(t, dial, 1)

	done := make(chan bool, 1)
	job.SetMarkComplete(func(success bool) { done <- success })
	require.Error(t, job.RunJob(context.Background()))

	select {
	case success := <-done:
		require.False(t, success)
	case <-time.After(time.Second):
		t.Fatal("job never completed")
	}
}

func TestJobCancelBeforeDispatchSkipsRunning(t *testing.T) {
	var dialed atomic.Bool
	dial := func(ctx context.Context, task proto.Task) (transport.Stream, error) {
		dialed.Store(true)
		a, b := transport.Pipe()
		serveFakeWorker(b, []proto.Result{{Rows: [][]byte{[]byte("x")}}})
		return a, nil
	}
	job, _ := newTestJob(t, dial, 1)

	var mu sync.Mutex
	var gotSuccess bool
	done := make(chan struct{})
	job.SetMarkComplete(func(success bool) {
		mu.Lock()
		gotSuccess = success
		mu.Unlock()
		close(done)
	})

	require.True(t, job.Cancel())
	require.False(t, job.Cancel(), "second cancel must be a no-op")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancel never reported completion")
	}
	mu.Lock()
	require.False(t, gotSuccess)
	mu.Unlock()
	require.False(t, dialed.Load(), "a job cancelled before RunJob must never dial")

	require.Error(t, job.RunJob(context.Background()), "RunJob must refuse once cancelled")
}

var errDialFailed = &dialError{}

type dialError struct{}

func (e *dialError) Error() string { return "qdisp: dial failed" }
