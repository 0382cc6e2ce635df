//go:build linux

package memman

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// pageLocker mmaps a table file and mlocks its pages, giving the "locked"
// lease real OS-backed residency rather than just an accounting fiction.
// Grounded in the teacher's platform-specific memory-mapped file handling
// (common/mmf_unix.go, common/sysinfo_linux.go) and in original qserv's
// memman::Memory::memLock, which this repo's Manager calls through the
// Locker interface (memman/manager.go).
type pageLocker struct{}

func newPageLocker() Locker { return pageLocker{} }

func (pageLocker) Lock(path string) (unlock func() error, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		// mmap of a zero-length file is an error; nothing to lock.
		return func() error { return nil }, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	if err := unix.Mlock(data); err != nil {
		_ = unix.Munmap(data)
		if err == syscall.ENOMEM || err == syscall.EPERM {
			return nil, err
		}
		return nil, err
	}
	return func() error {
		_ = unix.Munlock(data)
		return unix.Munmap(data)
	}, nil
}
