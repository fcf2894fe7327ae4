package logging

import (
	"sync"
	"time"
)

// ProgressSampler throttles repeated progress reports so long encodes do not
// flood the log. The minimum gap is a hard floor between emissions; fast
// encodes that hop several percentage buckets inside the gap still produce at
// most one line per interval. The terminal report is emitted exactly once.
type ProgressSampler struct {
	mu         sync.Mutex
	bucketSize float64
	minGap     time.Duration
	lastBucket int
	lastEmit   time.Time
}

// NewProgressSampler builds a sampler with the given percent bucket size and
// minimum interval between emissions. Non-positive values fall back to a 5%
// bucket and a 5 second gap.
func NewProgressSampler(bucketSize float64, minGap time.Duration) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	if minGap <= 0 {
		minGap = 5 * time.Second
	}
	return &ProgressSampler{
		bucketSize: bucketSize,
		minGap:     minGap,
		lastBucket: -1,
	}
}

// ShouldLog reports whether a progress update at the given percentage should
// be logged now.
func (s *ProgressSampler) ShouldLog(percent float64) bool {
	return s.shouldLogAt(percent, time.Now())
}

func (s *ProgressSampler) shouldLogAt(percent float64, now time.Time) bool {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		if s.lastBucket == bucket {
			return false
		}
		s.lastBucket = bucket
		s.lastEmit = now
		return true
	}

	if !s.lastEmit.IsZero() && now.Sub(s.lastEmit) < s.minGap {
		return false
	}
	s.lastBucket = bucket
	s.lastEmit = now
	return true
}

// Reset clears sampler state so the next report always logs.
func (s *ProgressSampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBucket = -1
	s.lastEmit = time.Time{}
}
