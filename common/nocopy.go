package common

import "errors"

// NoCopy is embedded in structs that must never be copied by value after
// their first use (schedulers, caches) — grounded in the teacher's
// common/nocopy.go, same mechanism.
type NoCopy struct {
	nocopy *NoCopy
}

// Check panics if the struct embedding this field has been copied by value.
func (nc *NoCopy) Check() {
	if nc.nocopy == nc {
		return
	}
	if nc.nocopy == nil {
		nc.nocopy = nc
		return
	}
	panic(errors.New("nocopy: detected copy by value"))
}
