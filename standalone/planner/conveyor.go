package planner

import "stepcore/core"

// conveyor is the planner's FIFO of queued blocks; it satisfies
// core.Conveyor so the trapezoid controller can pull directly from it.
type conveyor struct {
	queue   []*core.Block
	cap     int
	flush   bool
	actions map[*core.Block]func()
}

func newConveyor(capacity int) *conveyor {
	return &conveyor{queue: make([]*core.Block, 0, capacity), cap: capacity}
}

// Enqueue appends a block, returning false if the queue is full.
func (c *conveyor) Enqueue(b *core.Block) bool {
	if len(c.queue) >= c.cap {
		return false
	}
	c.queue = append(c.queue, b)
	return true
}

// Head returns the current block, or nil if empty.
func (c *conveyor) Head() *core.Block {
	if len(c.queue) == 0 {
		return nil
	}
	return c.queue[0]
}

// Advance pops the current head, firing any action queued behind it
// (see QueueAction).
func (c *conveyor) Advance() {
	if len(c.queue) == 0 {
		return
	}
	b := c.queue[0]
	c.queue = c.queue[1:]
	if fn, ok := c.actions[b]; ok {
		delete(c.actions, b)
		fn()
	}
}

// QueueAction attaches fn to the current tail block, so it runs once that
// block finishes and every move queued ahead of it has completed. Reports
// false when the queue is empty, meaning there is no tail to attach to —
// the caller should run fn immediately instead. Multiple actions attached
// to the same tail block (back-to-back M17/M18/M84 with no move queued in
// between) run in the order they were attached.
func (c *conveyor) QueueAction(fn func()) bool {
	if len(c.queue) == 0 {
		return false
	}
	if c.actions == nil {
		c.actions = make(map[*core.Block]func())
	}
	tail := c.queue[len(c.queue)-1]
	if prev, ok := c.actions[tail]; ok {
		c.actions[tail] = func() { prev(); fn() }
	} else {
		c.actions[tail] = fn
	}
	return true
}

// Flushing reports whether a flush (pause/stop) has been requested.
func (c *conveyor) Flushing() bool { return c.flush }

// ClearFlush clears a pending flush request once serviced.
func (c *conveyor) ClearFlush() { c.flush = false }

// RequestFlush marks the queue as draining: the trapezoid controller will
// decelerate the in-flight block to a stop instead of continuing its
// planned profile.
func (c *conveyor) RequestFlush() { c.flush = true }

// Clear drops every not-yet-started queued block, releasing each back to
// the block pool. The in-flight block (if any) is left for the trapezoid
// controller to flush via RequestFlush. Any action attached to a dropped
// block is discarded rather than fired: the motion it was sequenced
// behind never happened. Block pointers are reused once released back to
// the pool, so a leftover actions entry has to be deleted here — not just
// left to expire in Advance — or it could misfire against a future
// unrelated block that happens to land on the same pointer.
func (c *conveyor) Clear() {
	if len(c.queue) == 0 {
		return
	}
	for _, b := range c.queue[1:] {
		delete(c.actions, b)
		b.Release()
	}
	c.queue = c.queue[:1]
}
