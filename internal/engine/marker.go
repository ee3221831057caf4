package engine

import (
	"sync"

	"github.com/google/uuid"
)

// MarkerGenerator produces generation markers, one per run.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type MarkerGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 markers, so the marker of
// the latest run also sorts last.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined markers for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu      sync.Mutex
	markers []string
	idx     int
}

// NewFixedGenerator creates a generator that returns markers in order.
//
// Example:
//
//	gen := NewFixedGenerator("gen-1", "gen-2")
//	gen.Generate() // "gen-1"
//	gen.Generate() // "gen-2"
//	gen.Generate() // panic: all markers exhausted
func NewFixedGenerator(markers ...string) *FixedGenerator {
	return &FixedGenerator{markers: markers}
}

// Generate returns the next predetermined marker.
//
// Panics if all markers have been consumed, to catch a test that runs more
// often than it expects.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.markers) {
		panic("FixedGenerator: all markers exhausted")
	}
	m := g.markers[g.idx]
	g.idx++
	return m
}
