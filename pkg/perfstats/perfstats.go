// Package perfstats is a single place where we record the performance of
// various operations, so that it's easy to compare tuning choices and the
// behavior of different stations.
package perfstats

import "sync/atomic"

// Update folds a new sample into an exponential moving average.
// Stats recorded this way are sampled, so we don't bother with
// CompareAndSwap loops; missing the odd sample is fine.
func Update(stat *atomic.Uint64, value int64) {
	vu := uint64(value)
	if stat.Load() == 0 {
		stat.Store(vu)
	} else {
		stat.Store((stat.Load()*63 + vu) >> 6)
	}
}

// Milliseconds reads a nanosecond moving average as milliseconds
func Milliseconds(stat *atomic.Uint64) float64 {
	return float64(stat.Load()) / 1e6
}
