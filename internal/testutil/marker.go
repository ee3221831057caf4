package testutil

import (
	"fmt"
	"sync"
)

// MarkerSequence generates predictable generation markers: prefix-1,
// prefix-2, and so on. Unlike a fixed token, each run still gets a distinct
// marker, which the reconciler relies on.
//
// Thread-safety: MarkerSequence is safe for concurrent use.
type MarkerSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewMarkerSequence returns a sequence using prefix. An empty prefix
// becomes "gen".
func NewMarkerSequence(prefix string) *MarkerSequence {
	if prefix == "" {
		prefix = "gen"
	}
	return &MarkerSequence{prefix: prefix}
}

// Generate returns the next marker.
func (s *MarkerSequence) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}

// Last returns the most recently generated marker, or "" before the first.
func (s *MarkerSequence) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n == 0 {
		return ""
	}
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
