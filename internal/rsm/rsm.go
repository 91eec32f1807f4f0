// Package rsm is the replicated-state-machine substrate chronokv's
// storage engine runs on: it assigns each incoming operation an
// op-number, executes it, and can roll a shard back to any earlier
// op-number when speculative execution needs to be undone (spec.md §4.5
// "Undo contract").
//
// This is deliberately the minimal substrate: a single-sequencer
// executor with no consensus, quorum, or view-change machinery, modeled
// on original_source/unreplicated/replica.cc's "dummy implementation...
// that just uses a single replica and passes commands directly to it."
// Plugging in a real multi-replica consensus protocol behind the same
// Upcalls interface is future work (spec.md Non-goals), but the op log
// kept here to support Rollback is an addition: unreplicated itself
// never rolls back, since it has nothing to roll back from.
package rsm

import "sync"

// Upcalls is the application contract the executor drives: one op-number
// per operation, forward execution, and reverse-order undo.
type Upcalls interface {
	// ReplicaUpcall executes the op assigned opNum and returns its
	// reply.
	ReplicaUpcall(opNum uint64, op []byte) (reply []byte)

	// RollbackUpcall asks the application to undo every op from current
	// down to (but not including) target, given back the exact bytes
	// each op was executed with so it can be re-decoded.
	RollbackUpcall(current, target uint64, undoLog map[uint64][]byte)

	// CommitUpcall tells the application that opNum is now stable:
	// no future rollback can ever cross it, so its undo record may be
	// discarded.
	CommitUpcall(opNum uint64)
}

// Executor is a single-replica, non-consensus op sequencer: every call
// to Exec is executed immediately and deterministically, op-numbers
// assigned in strictly increasing order starting at 1.
type Executor struct {
	mu     sync.Mutex
	app    Upcalls
	nextOp uint64
	log    map[uint64][]byte
}

// NewExecutor returns an Executor driving app, with op-numbers starting
// at 1.
func NewExecutor(app Upcalls) *Executor {
	return &Executor{
		app:    app,
		nextOp: 1,
		log:    make(map[uint64][]byte),
	}
}

// Exec assigns the next op-number to op, executes it via the app's
// ReplicaUpcall, and returns the assigned op-number and reply.
func (e *Executor) Exec(op []byte) (opNum uint64, reply []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	opNum = e.nextOp
	e.nextOp++
	e.log[opNum] = op
	reply = e.app.ReplicaUpcall(opNum, op)
	return opNum, reply
}

// LastOp returns the op-number of the most recently executed op, or 0 if
// none have run yet.
func (e *Executor) LastOp() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextOp - 1
}

// Rollback undoes every op after target, most-recent first, then resets
// the op counter so the next Exec reuses those op-numbers. A target at
// or beyond the current tip is a no-op.
func (e *Executor) Rollback(target uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.nextOp - 1
	if target >= current {
		return
	}

	undoLog := make(map[uint64][]byte, current-target)
	for op := current; op > target; op-- {
		undoLog[op] = e.log[op]
	}
	e.app.RollbackUpcall(current, target, undoLog)
	for op := current; op > target; op-- {
		delete(e.log, op)
	}
	e.nextOp = target + 1
}

// SpecCommit tells the app that opNum is stable, discarding its undo
// record from the executor's own log too.
func (e *Executor) SpecCommit(opNum uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.app.CommitUpcall(opNum)
	for op := range e.log {
		if op <= opNum {
			delete(e.log, op)
		}
	}
}
