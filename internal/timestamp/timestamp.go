// Package timestamp hands out the monotonically increasing commit
// timestamps transactions are committed at, as a single RSM upcall
// target so the counter advances in lockstep with the op log and can be
// rolled back exactly like any other piece of shard state (spec.md §4.7).
package timestamp

import "github.com/chronokv/chronokv/internal/assert"

// Counter is a strictly increasing sequence of timestamps, replicated
// through its own RSM executor (the same kind a shard runs). Unlike
// txnstore's backends it has only one kind of state transition —
// "advance" — so its undo is a decrement, checked against history, the
// list of every value Next has handed out.
type Counter struct {
	next    uint64
	history []uint64 // one entry per Next() call, for symmetric undo
}

// NewCounter returns a Counter starting at 1.
func NewCounter() *Counter {
	return &Counter{next: 1}
}

// Next returns the next timestamp and advances the counter.
func (c *Counter) Next() uint64 {
	ts := c.next
	c.history = append(c.history, ts)
	c.next++
	return ts
}

// UnNext undoes the most recent Next call, asserting ts matches what was
// actually handed out (spec.md §7 "Fatal conditions").
func (c *Counter) UnNext(ts uint64) {
	assert.That(len(c.history) > 0, "unnext: no timestamp to undo")
	last := c.history[len(c.history)-1]
	assert.That(last == ts, "unnext: %d does not match last-issued %d", ts, last)
	c.history = c.history[:len(c.history)-1]
	c.next--
}

// Peek returns the timestamp Next would hand out without consuming it,
// useful for tests and for a coordinator deciding a commit timestamp up
// front (spec.md §4.6).
func (c *Counter) Peek() uint64 {
	return c.next
}
