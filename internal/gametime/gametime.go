// Package gametime holds the GameTime snapshot and the lock-free cell
// used to publish it: single-writer (the game loop), many-readers, with
// the loosest atomic ordering that still keeps the three fields
// internally coherent (a reader always observes one whole snapshot, never
// a torn mix of two).
package gametime

import (
	"sync/atomic"
	"time"
)

// GameTime is an immutable snapshot produced once per game-loop tick.
type GameTime struct {
	// SystemTime is the wall-clock instant the tick was taken.
	SystemTime time.Time
	// TimestampMs is SystemTime expressed as milliseconds since the Unix
	// epoch, the same clock DoS accounting and event scheduling use.
	TimestampMs int64
	// ElapsedSinceStart is the milliseconds elapsed since the loop's
	// first tick.
	ElapsedSinceStart int64
}

// Cell is a single-writer, many-reader holder for the latest GameTime.
// The zero value is ready to use; Load before the first Store returns the
// zero GameTime.
type Cell struct {
	v atomic.Pointer[GameTime]
}

// NewCell creates a Cell, optionally seeded with an initial snapshot.
func NewCell(initial GameTime) *Cell {
	c := &Cell{}
	c.Store(initial)
	return c
}

// Store publishes a new snapshot. Only the game loop goroutine should
// call this.
func (c *Cell) Store(gt GameTime) {
	c.v.Store(&gt)
}

// Load returns the most recently published snapshot.
func (c *Cell) Load() GameTime {
	p := c.v.Load()
	if p == nil {
		return GameTime{}
	}
	return *p
}
