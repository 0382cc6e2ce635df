package wsched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/qserv/proto"
	"github.com/jonathansick-shadow/qserv/wbase"
)

func mustTask(t *testing.T, chunk int32) *wbase.Task {
	t.Helper()
	task, err := wbase.NewTask(proto.Task{ChunkID: chunk, JobID: chunk})
	require.NoError(t, err)
	return task
}

// TestGroupingCoalescesSameChunk mirrors the "Grouping" case in
// original_source's testSchedulers.cc: several tasks for the same chunk
// queued back to back come out as one group, after the different chunk
// queued earlier.
func TestGroupingCoalescesSameChunk(t *testing.T) {
	g := NewGroupScheduler("group", 4, 4, 8)

	g.QueueCmd(mustTask(t, 1))
	g.QueueCmd(mustTask(t, 2))
	g.QueueCmd(mustTask(t, 2))
	g.QueueCmd(mustTask(t, 2))

	require.Equal(t, 4, g.Size())

	first := g.GetCmd(nil)
	require.EqualValues(t, 1, first.ChunkID())

	for i := 0; i < 3; i++ {
		task := g.GetCmd(nil)
		require.EqualValues(t, 2, task.ChunkID())
	}
	require.Equal(t, 0, g.Size())
}

// TestGroupMaxThreadSplitsOversizedGroup mirrors "GroupMaxThread": once a
// chunk's group reaches maxGroupSize, further tasks for that chunk start
// a new group rather than growing the first one without bound.
func TestGroupMaxThreadSplitsOversizedGroup(t *testing.T) {
	g := NewGroupScheduler("group", 4, 4, 2)

	for i := 0; i < 3; i++ {
		g.QueueCmd(mustTask(t, 7))
	}
	require.Equal(t, 3, g.Size())

	require.Equal(t, 2, g.groups.Len())
}

func TestGroupGetCmdBlocksUntilQueued(t *testing.T) {
	g := NewGroupScheduler("group", 1, 1, 4)
	stop := make(chan struct{})
	resultCh := make(chan *wbase.Task, 1)

	go func() { resultCh <- g.GetCmd(stop) }()

	select {
	case <-resultCh:
		t.Fatal("GetCmd returned before anything was queued")
	case <-time.After(20 * time.Millisecond):
	}

	g.QueueCmd(mustTask(t, 3))
	select {
	case task := <-resultCh:
		require.EqualValues(t, 3, task.ChunkID())
	case <-time.After(time.Second):
		t.Fatal("GetCmd never woke up")
	}
}

func TestGroupRespectsMaxInFlight(t *testing.T) {
	g := NewGroupScheduler("group", 1, 1, 4)
	g.QueueCmd(mustTask(t, 1))
	g.QueueCmd(mustTask(t, 2))

	first := g.GetCmd(nil)
	g.CommandStart(first)
	require.False(t, g.Ready(), "maxInFlight=1 already in use")

	g.CommandFinish(first)
	require.True(t, g.Ready())
}
