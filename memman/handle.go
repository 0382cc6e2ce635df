package memman

// Handle is the opaque residency lease identifier returned by Manager.Lock
// (spec §3, "Memory Handle"). InvalidHandle means "no residency reserved".
type Handle int64

// InvalidHandle is the Handle value meaning no residency has been reserved.
const InvalidHandle Handle = -1
