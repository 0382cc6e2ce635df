package memman

// memFile is the cache entry for one table-file path (spec §3, "Memory
// File"). All fields are protected by the owning cache's mutex; memFile
// never locks itself, matching original qserv's memman::MemFile where a
// single file-scope cacheMutex covers every mutation (memman/MemFile.cc).
type memFile struct {
	path   string
	size   uint64
	refs   int
	locked bool
	flex   bool
	unlock func() error // nil until locked; releases the OS-level lease
}
