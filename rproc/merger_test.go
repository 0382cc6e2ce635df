package rproc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonathansick-shadow/qserv/proto"
)

func TestMergeAppendsRows(t *testing.T) {
	m := NewMerger()
	ok := m.Merge(1, 1, 5, proto.Result{Rows: [][]byte{[]byte("a"), []byte("b")}})
	require.True(t, ok)
	require.Len(t, m.Table(1).Rows(), 2)
}

func TestMergeIsIdempotentPerFragment(t *testing.T) {
	m := NewMerger()
	r := proto.Result{Rows: [][]byte{[]byte("a")}}
	m.Merge(1, 1, 5, r)
	m.Merge(1, 1, 5, r) // same (query, job, chunk) fragment retried
	require.Len(t, m.Table(1).Rows(), 1, "duplicate fragment must not double-merge")
}

func TestMergeKeepsQueriesSeparate(t *testing.T) {
	m := NewMerger()
	m.Merge(1, 1, 5, proto.Result{Rows: [][]byte{[]byte("a")}})
	m.Merge(2, 1, 5, proto.Result{Rows: [][]byte{[]byte("b"), []byte("c")}})

	require.Len(t, m.Table(1).Rows(), 1)
	require.Len(t, m.Table(2).Rows(), 2)
}
