package metrics

import (
	"sync/atomic"
	"time"
)

// BucketCount is the number of latency buckets per histogram.
const BucketCount = 8

const cacheLineSize = 64

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

type histogram struct {
	buckets [BucketCount]atomic.Uint64
}

// Set is a fixed-size collection of counters indexed by small integers. Histograms
// exist only for the IDs passed to New as latency IDs.
type Set struct {
	enabled    bool
	counters   []paddedCounter
	histograms map[int]*histogram
}

// New returns a Set with n counters. When enabled is false every write is a no-op.
func New(n int, enabled bool, latencyIDs ...int) *Set {
	s := &Set{
		enabled:    enabled,
		counters:   make([]paddedCounter, n),
		histograms: make(map[int]*histogram, len(latencyIDs)),
	}
	for _, id := range latencyIDs {
		if id >= 0 && id < n {
			s.histograms[id] = &histogram{}
		}
	}
	return s
}

// Enabled reports whether writes are recorded.
func (s *Set) Enabled() bool {
	return s != nil && s.enabled
}

// Inc adds one to counter id.
func (s *Set) Inc(id int) {
	if !s.Enabled() || id < 0 || id >= len(s.counters) {
		return
	}
	s.counters[id].value.Add(1)
}

// Observe records d in the histogram for id, if one exists.
func (s *Set) Observe(id int, d time.Duration) {
	if !s.Enabled() {
		return
	}
	h, ok := s.histograms[id]
	if !ok {
		return
	}
	h.buckets[BucketIndex(d)].Add(1)
}

// Value returns counter id.
func (s *Set) Value(id int) uint64 {
	if s == nil || id < 0 || id >= len(s.counters) {
		return 0
	}
	return s.counters[id].value.Load()
}

// Counters copies every counter.
func (s *Set) Counters() []uint64 {
	if s == nil {
		return nil
	}
	out := make([]uint64, len(s.counters))
	for i := range s.counters {
		out[i] = s.counters[i].value.Load()
	}
	return out
}

// Histogram copies the non-cumulative buckets for id, or nil when id has none.
func (s *Set) Histogram(id int) []uint64 {
	if s == nil {
		return nil
	}
	h, ok := s.histograms[id]
	if !ok {
		return nil
	}
	out := make([]uint64, BucketCount)
	for i := range h.buckets {
		out[i] = h.buckets[i].Load()
	}
	return out
}

// HistogramIDs lists the IDs that carry histograms.
func (s *Set) HistogramIDs() []int {
	if s == nil {
		return nil
	}
	ids := make([]int, 0, len(s.histograms))
	for id := range s.histograms {
		ids = append(ids, id)
	}
	return ids
}

// BucketIndex maps a latency to its bucket.
func BucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
