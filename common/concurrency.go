package common

import (
	"os"
	"strconv"
)

// ComputeThreadPoolSize picks the worker-side thread-pool size P (spec §5).
// Honors QSERV_WORKER_THREADS if set (mirrors the teacher's
// AZCOPY_CONCURRENCY_VALUE override in common/concurrency.go), otherwise
// scales off the number of CPUs, with a floor matching the Blend
// Scheduler's documented minimum pool size (spec §4.4 note: "difficulty
// with less than 10 threads").
func ComputeThreadPoolSize(numCPU int) int {
	if override := os.Getenv("QSERV_WORKER_THREADS"); override != "" {
		if val, err := strconv.Atoi(override); err == nil && val > 0 {
			return val
		}
	}
	n := numCPU * 2
	if n < 10 {
		n = 10
	}
	return n
}
