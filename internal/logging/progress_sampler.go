package logging

import "strings"

// ProgressSampler suppresses repetitive worker progress logs while preserving
// signal when the current file or the percentage bucket changes.
type ProgressSampler struct {
	bucketSize float64
	lastFile   string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the file being processed changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. Percent can be
// negative to indicate "unknown"; file is trimmed before comparison.
func (s *ProgressSampler) ShouldLog(percent float64, file string) bool {
	if s == nil {
		return true
	}
	file = strings.TrimSpace(file)
	emit := false
	if file != "" && file != s.lastFile {
		s.lastFile = file
		emit = true
		s.lastBucket = -1
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}
