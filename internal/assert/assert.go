// Package assert provides the small set of invariant-checking helpers used
// throughout the storage engine. The engine's correctness proofs (see
// DESIGN.md) depend on several conditions that must never fail in a
// correctly-driven RSM: undoing an operation the engine has no record of,
// committing an unprepared transaction, or a retired-transaction tag
// mismatch at the tail of the retired list. These are not recoverable
// errors — they indicate the upcall contract was violated — so they panic
// the process rather than returning an error value, mirroring nistore's
// ASSERT/NOT_REACHABLE macros (nistore/lockstore.cc, nistore/occstore.cc).
package assert

import "fmt"

// That panics with msg if cond is false. Use for conditions the caller
// has already established must hold (e.g. "the retired tail's op-number
// matches the op-number we were asked to undo").
func That(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("chronokv: invariant violated: "+msg, args...))
	}
}

// Unreachable panics unconditionally. Use for branches that the upcall
// contract guarantees cannot be reached (e.g. unbegin on a txn that was
// never begun under a correctly single-threaded RSM).
func Unreachable(msg string, args ...any) {
	panic(fmt.Sprintf("chronokv: unreachable: "+msg, args...))
}
