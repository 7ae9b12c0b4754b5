package utils

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DurationTracker keeps the most recent run durations in a ring buffer.
type DurationTracker struct {
	mu      sync.RWMutex
	samples []time.Duration
	next    int
	full    bool
}

// DurationSummary is a percentile snapshot of a tracker.
type DurationSummary struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// NewDurationTracker creates a tracker holding up to size samples.
func NewDurationTracker(size int) *DurationTracker {
	if size <= 0 {
		size = 256
	}
	return &DurationTracker{samples: make([]time.Duration, size)}
}

// Observe records a duration, overwriting the oldest once full.
func (d *DurationTracker) Observe(v time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.samples[d.next] = v
	d.next = (d.next + 1) % len(d.samples)
	if d.next == 0 {
		d.full = true
	}
}

// Count returns the number of samples held.
func (d *DurationTracker) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.full {
		return len(d.samples)
	}
	return d.next
}

// Percentile returns the empirical p-quantile (0-100), or zero without
// samples.
func (d *DurationTracker) Percentile(p float64) time.Duration {
	sorted := d.sorted()
	if len(sorted) == 0 {
		return 0
	}
	return quantile(sorted, p)
}

// Summary returns the median, p95 and maximum.
func (d *DurationTracker) Summary() DurationSummary {
	sorted := d.sorted()
	if len(sorted) == 0 {
		return DurationSummary{}
	}
	return DurationSummary{
		Count: len(sorted),
		P50:   quantile(sorted, 50),
		P95:   quantile(sorted, 95),
		Max:   time.Duration(sorted[len(sorted)-1]),
	}
}

func (d *DurationTracker) sorted() []float64 {
	d.mu.RLock()
	n := d.next
	if d.full {
		n = len(d.samples)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = float64(d.samples[i])
	}
	d.mu.RUnlock()
	sort.Float64s(out)
	return out
}

func quantile(sorted []float64, p float64) time.Duration {
	q := min(max(p/100, 0), 1)
	return time.Duration(stat.Quantile(q, stat.Empirical, sorted, nil))
}
