// Package device tracks the hardware's last-known physical position.
package device

import "sync"

// Cursor is the machine's last-known floor level. It is process-wide state
// with a single-writer policy: only the protocol dispatcher and the command
// building step mutate it, after a motion command has been issued or
// acknowledged. Readers use it to order work closest-floor-first.
type Cursor struct {
	mu    sync.RWMutex
	level int
}

// NewCursor returns a cursor positioned at the given starting level.
func NewCursor(level int) *Cursor {
	return &Cursor{level: level}
}

// Level returns the last-known floor level.
func (c *Cursor) Level() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.level
}

// Set records a new floor level.
func (c *Cursor) Set(level int) {
	c.mu.Lock()
	c.level = level
	c.mu.Unlock()
}
