//go:build !linux

package memman

// pageLocker is the non-Linux fallback: residency is tracked by the byte
// budget accounting in Manager alone, with no real mlock syscall. Mirrors
// the teacher's per-platform split for memory-mapped files
// (common/mmf_windows.go vs common/mmf_unix.go).
type pageLocker struct{}

func newPageLocker() Locker { return pageLocker{} }

func (pageLocker) Lock(path string) (unlock func() error, err error) {
	return func() error { return nil }, nil
}
