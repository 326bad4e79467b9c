package optimizer

import (
	"sync"

	"github.com/polisai/polis-shape/pkg/domain"
)

// Stats accumulates compression effectiveness. A single mutex guards the
// counters and the derived ratio so concurrent compressions never lose an
// update. The zero value is ready to use.
type Stats struct {
	mu              sync.Mutex
	requests        int64
	compressed      int64
	bytesOriginal   int64
	bytesCompressed int64
	avgRatio        float64
}

// NewStats returns an empty accumulator.
func NewStats() *Stats {
	return &Stats{}
}

// RecordAttempt counts a compression attempt that passed the enabled and
// threshold gates.
func (s *Stats) RecordAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
}

// RecordSuccess counts a successful compression and recomputes the aggregate
// ratio over all successes so far.
func (s *Stats) RecordSuccess(original, compressed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressed++
	s.bytesOriginal += int64(original)
	s.bytesCompressed += int64(compressed)
	if s.bytesOriginal > 0 {
		s.avgRatio = float64(s.bytesOriginal-s.bytesCompressed) / float64(s.bytesOriginal)
	}
}

// Snapshot returns the counters together with the derived compression rate
// (percent of attempts that succeeded) and average savings per success.
func (s *Stats) Snapshot() domain.CompressionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.CompressionStats{
		Requests:            s.requests,
		Compressed:          s.compressed,
		BytesOriginal:       s.bytesOriginal,
		BytesCompressed:     s.bytesCompressed,
		AvgCompressionRatio: s.avgRatio,
	}
	if s.requests > 0 {
		snap.CompressionRate = float64(s.compressed) / float64(s.requests) * 100
	}
	if s.compressed > 0 {
		snap.AvgSavings = float64(s.bytesOriginal-s.bytesCompressed) / float64(s.compressed)
	}
	return snap
}

// CompressionStats satisfies telemetry.StatsSource.
func (s *Stats) CompressionStats() domain.CompressionStats {
	return s.Snapshot()
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = 0
	s.compressed = 0
	s.bytesOriginal = 0
	s.bytesCompressed = 0
	s.avgRatio = 0
}
