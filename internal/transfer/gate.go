package transfer

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many transfers are in flight at once, from probe through
// the final disk write. Waiters are admitted roughly in arrival order.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int
}

// NewGate creates a gate admitting up to capacity concurrent holders.
// Capacities below one are clamped to one.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}

	return &Gate{sem: semaphore.NewWeighted(int64(capacity)), capacity: capacity}
}

// Acquire blocks until a slot frees up or ctx ends.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot. Must follow a successful Acquire.
func (g *Gate) Release() {
	g.sem.Release(1)
}

func (g *Gate) Capacity() int {
	return g.capacity
}
