package memman

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, make([]byte, size), 0o644))
	return p
}

func TestLockReleaseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "chunk_1.myisam", 1024)

	m := NewManager(1<<20, nil)
	h, err := m.Lock(p, false)
	require.NoError(t, err)
	require.NotEqual(t, InvalidHandle, h)
	require.EqualValues(t, 1024, m.LockedBytes())
	require.Equal(t, 1, m.NumFiles())

	m.Release(h)
	require.EqualValues(t, 0, m.LockedBytes())
	require.Equal(t, 0, m.NumFiles())
}

func TestLockRefCounting(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "chunk_2.myisam", 512)

	m := NewManager(1<<20, nil)
	h1, err := m.Lock(p, false)
	require.NoError(t, err)
	h2, err := m.Lock(p, false)
	require.NoError(t, err)

	// A single underlying lease is charged once, not per handle.
	require.EqualValues(t, 512, m.LockedBytes())

	m.Release(h1)
	require.EqualValues(t, 512, m.LockedBytes(), "still held by second handle")
	m.Release(h2)
	require.EqualValues(t, 0, m.LockedBytes())
}

func TestLockBudgetExceeded(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "chunk_big.myisam", 2048)

	m := NewManager(1024, nil)
	_, err := m.Lock(p, false)
	require.Error(t, err)
	require.Equal(t, 0, m.NumFiles(), "denied lock must not leave a cache entry behind")
}

func TestFlexibleLockIgnoresBudget(t *testing.T) {
	dir := t.TempDir()
	p := writeTempFile(t, dir, "chunk_flex.myisam", 4096)

	m := NewManager(1, nil)
	h, err := m.Lock(p, true)
	require.NoError(t, err)
	require.NotEqual(t, InvalidHandle, h)
	// Flexible leases do not count against the locked budget.
	require.EqualValues(t, 0, m.LockedBytes())
}

func TestPrepareAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	okPath := writeTempFile(t, dir, "ok.myisam", 100)

	m := NewManager(150, nil)
	missing := filepath.Join(dir, "does_not_exist.myisam")

	res := m.Prepare([]string{okPath, missing}, []bool{false, false})
	require.Nil(t, res.Granted)
	require.Equal(t, []string{okPath, missing}, res.Denied)
	// The grant for okPath must have been rolled back.
	require.Equal(t, 0, m.NumFiles())
}

func TestPrepareGrantsAllOnSuccess(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.myisam", 100)
	b := writeTempFile(t, dir, "b.myisam", 100)

	m := NewManager(1<<20, nil)
	res := m.Prepare([]string{a, b}, []bool{false, true})
	require.Empty(t, res.Denied)
	require.ElementsMatch(t, []string{a, b}, res.Granted)
	require.Len(t, res.Handles, 2)
	require.EqualValues(t, 100, m.LockedBytes(), "only the non-flex lease counts")
}

func TestFileInfoMissing(t *testing.T) {
	m := NewManager(1<<20, nil)
	fi := m.FileInfo(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, fi.Err)
}

func TestReleaseUnknownHandleIsNoop(t *testing.T) {
	m := NewManager(1<<20, nil)
	require.NotPanics(t, func() { m.Release(Handle(999)) })
	require.NotPanics(t, func() { m.Release(InvalidHandle) })
}
