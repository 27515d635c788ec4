package pipeline

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/sensorgrid/pipeline/pkg/models"
)

const latencySampleSize = 1000

// latencyRing is a lock-free rolling sample buffer of job durations.
// Writers atomically claim a slot; readers snapshot whatever has been
// written so far. Percentiles over a bounded window, not exact history.
type latencyRing struct {
	samples []int64 // nanoseconds
	pos     int64   // atomic write counter
	size    int64
}

func newLatencyRing(size int) *latencyRing {
	return &latencyRing{
		samples: make([]int64, size),
		size:    int64(size),
	}
}

// Add records one duration sample, overwriting the oldest slot once the
// ring has wrapped.
func (r *latencyRing) Add(d time.Duration) {
	pos := atomic.AddInt64(&r.pos, 1) - 1
	atomic.StoreInt64(&r.samples[pos%r.size], int64(d))
}

// Summary computes average/p95/p99 over the written portion of the ring.
func (r *latencyRing) Summary() models.LatencyMetrics {
	written := atomic.LoadInt64(&r.pos)
	if written > r.size {
		written = r.size
	}

	if written == 0 {
		return models.LatencyMetrics{}
	}

	snapshot := make([]int64, written)

	var total int64

	for i := int64(0); i < written; i++ {
		v := atomic.LoadInt64(&r.samples[i])
		snapshot[i] = v
		total += v
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })

	return models.LatencyMetrics{
		Average: time.Duration(total / written),
		P95:     time.Duration(snapshot[percentileIndex(written, 95)]),
		P99:     time.Duration(snapshot[percentileIndex(written, 99)]),
	}
}

func percentileIndex(n, pct int64) int64 {
	idx := n*pct/100 - 1
	if idx < 0 {
		idx = 0
	}

	if idx >= n {
		idx = n - 1
	}

	return idx
}
