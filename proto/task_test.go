package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskHashStableAndSensitive(t *testing.T) {
	t1 := Task{QueryID: 1, JobID: 2, ChunkID: 3, DefaultDB: "LSST"}
	h1, err := t1.Hash()
	require.NoError(t, err)

	h1Again, err := t1.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h1Again, "identical tasks must hash identically")

	t2 := t1
	t2.ChunkID = 4
	h2, err := t2.Hash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h2, "differing chunk id must change the hash")
}

func TestTaskString(t *testing.T) {
	task := Task{QueryID: 42, JobID: 7, ChunkID: 100}
	require.Equal(t, "42#7 chunk=100", task.String())
}
