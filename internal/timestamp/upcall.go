package timestamp

import (
	"strconv"

	"github.com/chronokv/chronokv/internal/assert"
	"github.com/chronokv/chronokv/internal/wire"
)

// Authority adapts a Counter to rsm.Upcalls so the timestamp authority
// process can run its own RSM executor identically to a shard (spec.md
// §4.7): every op advances the counter by one and replies with the new
// value as a decimal string, regardless of what the op actually contains
// — the coordinator's TSConn.Next sends a zero-value Request as its "give
// me a timestamp" request, and the authority doesn't inspect it.
type Authority struct {
	counter *Counter
}

// NewAuthority returns an Authority driving a fresh Counter starting at 1.
func NewAuthority() *Authority {
	return &Authority{counter: NewCounter()}
}

// ReplicaUpcall ignores the op payload and returns the next timestamp.
func (a *Authority) ReplicaUpcall(opNum uint64, op []byte) []byte {
	ts := a.counter.Next()
	reply := wire.Reply{Status: 0, Value: []byte(strconv.FormatUint(ts, 10))}
	out, err := wire.Marshal(reply)
	assert.That(err == nil, "timestamp: failed to marshal reply at op %d: %v", opNum, err)
	return out
}

// RollbackUpcall undoes (current-target) advances, most recent first.
func (a *Authority) RollbackUpcall(current, target uint64, undoLog map[uint64][]byte) {
	for opNum := current; opNum > target; opNum-- {
		_, ok := undoLog[opNum]
		assert.That(ok, "timestamp: missing undo record for op %d", opNum)
		a.counter.UnNext(a.counter.Peek() - 1)
	}
}

// CommitUpcall is a no-op: the counter's history of issued values is not
// trimmed here or anywhere else.
func (a *Authority) CommitUpcall(opNum uint64) {}
