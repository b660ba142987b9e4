// Package chain supplies the block counter every deadline is measured in.
package chain

import (
	"sync"
	"time"
)

// Clock returns the current block number. It never goes backwards.
type Clock interface {
	Now() uint64
}

// WallClock derives block numbers from elapsed wall time since genesis.
type WallClock struct {
	genesis   time.Time
	blockTime time.Duration
	now       func() time.Time
}

func NewWallClock(genesis time.Time, blockTime time.Duration) *WallClock {
	if blockTime <= 0 {
		blockTime = 6 * time.Second
	}
	return &WallClock{genesis: genesis, blockTime: blockTime, now: time.Now}
}

// WithNow overrides the time source.
func (c *WallClock) WithNow(now func() time.Time) *WallClock {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *WallClock) Now() uint64 {
	elapsed := c.now().Sub(c.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / c.blockTime)
}

// ManualClock is advanced explicitly. Tests and tools use it.
type ManualClock struct {
	mu    sync.Mutex
	block uint64
}

func NewManualClock(start uint64) *ManualClock {
	return &ManualClock{block: start}
}

func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}

// Advance moves the clock forward by n blocks and returns the new height.
func (c *ManualClock) Advance(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block += n
	return c.block
}
