package types

import (
	"sync"
	"time"
)

// Principal is an opaque, comparable caller identity. It is whatever the
// identity substrate hands us (a Fabric client ID, a JWT subject, ...).
type Principal string

// IsZero reports whether the principal is unset.
func (p Principal) IsZero() bool {
	return p == ""
}

func (p Principal) String() string {
	return string(p)
}

// Clock is the logical clock used for expiry comparisons and log timestamps.
// Height must be monotonically non-decreasing.
type Clock interface {
	Height() uint64
	// Timestamp returns a wall-clock-like value and whether one is available.
	Timestamp() (uint64, bool)
}

// SystemClock uses unix seconds as both height and timestamp.
type SystemClock struct{}

// Height implements Clock
func (SystemClock) Height() uint64 {
	return uint64(time.Now().Unix())
}

// Timestamp implements Clock
func (SystemClock) Timestamp() (uint64, bool) {
	return uint64(time.Now().Unix()), true
}

// FixedClock is a clock pinned to a height, optionally with a timestamp.
// Fabric transactions use it with the transaction timestamp.
type FixedClock struct {
	At      uint64
	Wall    uint64
	HasWall bool
}

// Height implements Clock
func (c FixedClock) Height() uint64 {
	return c.At
}

// Timestamp implements Clock
func (c FixedClock) Timestamp() (uint64, bool) {
	return c.Wall, c.HasWall
}

// ManualClock is a settable clock for tests and simulations.
type ManualClock struct {
	mu      sync.RWMutex
	height  uint64
	wall    uint64
	hasWall bool
}

// NewManualClock creates a clock at the given height with no wall time.
func NewManualClock(height uint64) *ManualClock {
	return &ManualClock{height: height}
}

// Height implements Clock
func (c *ManualClock) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

// Timestamp implements Clock
func (c *ManualClock) Timestamp() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.wall, c.hasWall
}

// Advance moves the clock to height. Heights never go backwards.
func (c *ManualClock) Advance(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if height > c.height {
		c.height = height
	}
}

// SetWall sets the wall-clock value reported by Timestamp.
func (c *ManualClock) SetWall(wall uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = wall
	c.hasWall = true
}
