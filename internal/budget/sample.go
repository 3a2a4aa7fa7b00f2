package budget

import (
	"math"
	"slices"
)

// DefaultSampleSize is the number of ticks kept when no size is configured.
const DefaultSampleSize = 120

// Sample is a fixed-capacity ring of per-tick durations in milliseconds.
//
// The running sum always equals the sum of the buffered values. It is
// maintained incrementally and recomputed exactly each time the ring wraps so
// floating-point error cannot accumulate.
type Sample struct {
	buf    []float64
	head   int
	count  int
	sum    float64
	sorted []float64
	dirty  bool
}

// NewSample creates a ring holding up to size values.
func NewSample(size int) *Sample {
	if size < 1 {
		size = DefaultSampleSize
	}
	return &Sample{buf: make([]float64, size)}
}

// Add records v, overwriting the oldest value once the ring is full.
func (s *Sample) Add(v float64) {
	if s.count < len(s.buf) {
		s.count++
	} else {
		s.sum -= s.buf[s.head]
	}
	s.buf[s.head] = v
	s.sum += v
	s.head = (s.head + 1) % len(s.buf)
	if s.head == 0 {
		s.sum = s.exactSum()
	}
	s.dirty = true
}

func (s *Sample) exactSum() float64 {
	var total float64
	for i := range s.count {
		total += s.buf[i]
	}
	return total
}

// Len returns the number of buffered values.
func (s *Sample) Len() int { return s.count }

// Cap returns the ring capacity.
func (s *Sample) Cap() int { return len(s.buf) }

// Sum returns the running sum.
func (s *Sample) Sum() float64 { return s.sum }

// Average returns the mean of the buffered values, or 0 when empty.
func (s *Sample) Average() float64 {
	if s.count == 0 {
		return 0
	}
	return s.sum / float64(s.count)
}

// Values returns the buffered values from oldest to newest.
func (s *Sample) Values() []float64 {
	out := make([]float64, 0, s.count)
	start := 0
	if s.count == len(s.buf) {
		start = s.head
	}
	for i := range s.count {
		out = append(out, s.buf[(start+i)%len(s.buf)])
	}
	return out
}

func (s *Sample) snapshot() []float64 {
	if s.dirty || s.sorted == nil {
		s.sorted = append(s.sorted[:0], s.buf[:s.count]...)
		slices.Sort(s.sorted)
		s.dirty = false
	}
	return s.sorted
}

// Percentile returns the nearest-rank p-th percentile (0..100), or 0 when empty.
func (s *Sample) Percentile(p float64) float64 {
	sorted := s.snapshot()
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

// Min returns the smallest buffered value, or 0 when empty.
func (s *Sample) Min() float64 { return s.Percentile(0) }

// Max returns the largest buffered value, or 0 when empty.
func (s *Sample) Max() float64 { return s.Percentile(100) }

// Resize returns a ring of the new size holding the most recent values.
func (s *Sample) Resize(size int) *Sample {
	next := NewSample(size)
	values := s.Values()
	if len(values) > next.Cap() {
		values = values[len(values)-next.Cap():]
	}
	for _, v := range values {
		next.Add(v)
	}
	return next
}
