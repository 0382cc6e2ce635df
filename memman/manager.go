// Package memman is the worker-side Memory Manager (spec §4.1): a
// reference-counted, mutex-serialized registry of table-file residency
// leases, either locked (must stay resident) or flexible (may be declined
// or evicted under pressure).
//
// Grounded in original_source/core/modules/memman/MemFile.{h,cc} for the
// cache/refcount contract, and in the teacher's common.CacheLimiter
// (common/cacheLimiter.go) for the locked-byte budget accounting — a
// locked lease is exactly CacheLimiter's "strict" allocation, a flexible
// lease its "relaxed" one.
package memman

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/semaphore"

	"github.com/jonathansick-shadow/qserv/common"
)

// Locker abstracts the OS-level residency primitive (real mlock on Linux,
// no-op elsewhere) so Manager's bookkeeping is platform-independent.
type Locker interface {
	Lock(path string) (unlock func() error, err error)
}

// FileInfo is the result of a stat-equivalent lookup (spec §4.1 fileInfo).
type FileInfo struct {
	Size uint64
	Err  error
}

// PrepareResult is the batch-admission outcome (spec §4.1 prepare). On
// success Handles holds one Handle per Granted path, in the same order,
// for the caller to Release when done; on denial both are nil and
// nothing remains locked.
type PrepareResult struct {
	Granted []string
	Handles []Handle
	Denied  []string
}

// Manager is the Memory Manager's public operation set (spec §4.1).
type Manager interface {
	FileInfo(path string) FileInfo
	Lock(path string, flex bool) (Handle, error)
	Release(handle Handle)
	Prepare(paths []string, flexFlags []bool) PrepareResult
	// LockedBytes reports current cumulative locked-lease bytes, for tests
	// and the SCHED-RESERVE/MEM-CACHE invariants in spec §8.
	LockedBytes() int64
	NumFiles() int
}

type manager struct {
	common.NoCopy

	mu         sync.Mutex
	cache      map[string]*memFile
	handles    map[Handle]*memFile
	nextHandle int64

	lockedBudget int64 // max cumulative bytes for locked (non-flex) leases
	lockedBytes  int64 // atomic-accessed outside the mutex for LockedBytes()

	locker Locker
	logger common.ILogger

	// prepareSem bounds how many Prepare batches may be admitting tables
	// at once, so a burst of scheduler dispatches cannot all pile onto
	// os.Stat/mlock simultaneously.
	prepareSem *semaphore.Weighted
}

// DefaultMaxConcurrentPrepares is the default width of the Prepare
// admission gate.
const DefaultMaxConcurrentPrepares = 32

// DefaultBudgetFraction is the share of total system RAM used as the
// default locked-byte budget when the caller does not specify one,
// mirroring the teacher's practice (common/statsMonitor.go) of sizing
// operational limits off live system stats rather than a hardcoded
// constant.
const DefaultBudgetFraction = 0.5

// NewManager constructs a Memory Manager with the given locked-byte budget.
// A budget of 0 asks gopsutil for total system memory and uses
// DefaultBudgetFraction of it.
func NewManager(lockedBudget int64, logger common.ILogger) Manager {
	if lockedBudget <= 0 {
		lockedBudget = defaultBudget()
	}
	return &manager{
		cache:        make(map[string]*memFile),
		handles:      make(map[Handle]*memFile),
		lockedBudget: lockedBudget,
		locker:       newPageLocker(),
		logger:       logger,
		prepareSem:   semaphore.NewWeighted(DefaultMaxConcurrentPrepares),
	}
}

func defaultBudget() int64 {
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		return int64(float64(vm.Total) * DefaultBudgetFraction)
	}
	// Fallback budget when system stats are unavailable (e.g. in a
	// sandboxed test environment): 1 GiB, a conservative default.
	return 1 << 30
}

// FileInfo stats path, surfacing the OS error on failure (spec §4.1).
func (m *manager) FileInfo(path string) FileInfo {
	fi, err := os.Stat(path)
	if err != nil {
		return FileInfo{Err: err}
	}
	return FileInfo{Size: uint64(fi.Size())}
}

// obtain returns the single memFile for path, creating it on first use.
// Must be called with m.mu held.
func (m *manager) obtain(path string, flex bool) (*memFile, error) {
	if mf, ok := m.cache[path]; ok {
		mf.refs++
		return mf, nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	mf := &memFile{path: path, size: uint64(fi.Size()), flex: flex, refs: 1}
	m.cache[path] = mf
	return mf, nil
}

// Lock requests residency for path (spec §4.1 lock). Flexible leases are
// not checked against the budget; they fail only if the file cannot be
// stat'ed or its pages cannot be locked. Locked leases additionally fail
// with an out-of-memory error if admitting them would exceed the budget.
func (m *manager) Lock(path string, flex bool) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mf, err := m.obtain(path, flex)
	if err != nil {
		return InvalidHandle, err
	}

	if mf.locked {
		return m.issueHandle(mf), nil
	}

	if !flex {
		if atomic.LoadInt64(&m.lockedBytes)+int64(mf.size) > m.lockedBudget {
			mf.refs--
			m.maybeEvict(mf)
			return InvalidHandle, errors.Errorf("memman: out of memory locking %s (size=%d budget=%d used=%d)",
				path, mf.size, m.lockedBudget, atomic.LoadInt64(&m.lockedBytes))
		}
	}

	unlock, err := m.locker.Lock(path)
	if err != nil {
		mf.refs--
		m.maybeEvict(mf)
		return InvalidHandle, err
	}
	mf.locked = true
	mf.unlock = unlock
	if !flex {
		atomic.AddInt64(&m.lockedBytes, int64(mf.size))
	}
	return m.issueHandle(mf), nil
}

func (m *manager) issueHandle(mf *memFile) Handle {
	m.nextHandle++
	h := Handle(m.nextHandle)
	m.handles[h] = mf
	return h
}

// Release decrements the reference count behind handle; when it reaches
// zero the cache entry is removed and its residency freed, before Release
// returns to the caller (spec's MEM-CACHE invariant, §8). Safe to call
// concurrently for distinct handles; calling with an unknown handle is a
// no-op, matching the "caller must not retain the pointer" contract in
// spec §4.1 (a double-release cannot dereference a freed object — there is
// none to dereference, just a map lookup).
func (m *manager) Release(handle Handle) {
	if handle == InvalidHandle {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	mf, ok := m.handles[handle]
	if !ok {
		return
	}
	delete(m.handles, handle)
	mf.refs--
	m.maybeEvict(mf)
}

// maybeEvict removes and unlocks mf if its refcount has reached zero. Must
// be called with m.mu held.
func (m *manager) maybeEvict(mf *memFile) {
	if mf.refs > 0 {
		return
	}
	delete(m.cache, mf.path)
	if mf.locked {
		if !mf.flex {
			atomic.AddInt64(&m.lockedBytes, -int64(mf.size))
		}
		if mf.unlock != nil {
			if err := mf.unlock(); err != nil {
				common.Logf(m.logger, common.LogWarning, "memman: unlock %s: %v", mf.path, err)
			}
		}
	}
}

// Prepare evaluates a whole task's table set atomically (spec §4.1): every
// path either locks now or is reported denied, and any partial grants made
// during the attempt for paths later denied are rolled back, since a scan
// task is eligible only when *every* required table can be locked.
func (m *manager) Prepare(paths []string, flexFlags []bool) PrepareResult {
	_ = m.prepareSem.Acquire(context.Background(), 1)
	defer m.prepareSem.Release(1)

	granted := make([]string, 0, len(paths))
	var handles []Handle
	ok := true
	for i, p := range paths {
		flex := false
		if i < len(flexFlags) {
			flex = flexFlags[i]
		}
		h, err := m.Lock(p, flex)
		if err != nil {
			ok = false
			break
		}
		handles = append(handles, h)
		granted = append(granted, p)
	}
	if ok {
		return PrepareResult{Granted: granted, Handles: handles}
	}
	for _, h := range handles {
		m.Release(h)
	}
	return PrepareResult{Denied: paths}
}

func (m *manager) LockedBytes() int64 {
	return atomic.LoadInt64(&m.lockedBytes)
}

func (m *manager) NumFiles() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}
