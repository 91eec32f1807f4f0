// Package txnstore implements the two interchangeable transactional
// backends — LockStore (strict two-phase locking) and OCCStore
// (optimistic concurrency control) — behind a common Store interface, so
// the replica upcall shim (internal/replica) can be written once against
// either. Both backends are ports of nistore/lockstore.cc and
// nistore/occstore.cc: every forward transition has an exact un* inverse
// so a speculative RSM can roll a shard back to any earlier op-number
// (spec.md §4.3/§4.4, "Undo contract").
package txnstore

import (
	"errors"
	"fmt"
)

// Status codes mirror nistore's int return values exactly, since the
// replica shim forwards them verbatim as the wire reply's status field
// (spec.md §7).
const (
	StatusOK       = 0
	StatusNotFound = -1
	StatusBlocked  = -2
)

// Sentinel errors for the failure kinds spec.md §7 names, so a
// client-facing caller can tell them apart via errors.Is instead of
// comparing wire status ints directly. The wire protocol itself (like
// nistore's) only ever carries the int; these are reconstructed from
// which operation produced a negative status, since Get only ever fails
// with NotFound/Blocked. Prepare fails with the same -1 status for both
// Conflict (OCC only) and UnknownTxn, so PrepareError picks between them
// by backend.
var (
	ErrNotFound   = errors.New("txnstore: key not found")
	ErrBlocked    = errors.New("txnstore: lock unavailable within wait-timeout")
	ErrConflict   = errors.New("txnstore: prepare validation failed")
	ErrUnknownTxn = errors.New("txnstore: unknown or already-retired transaction")
)

// GetError maps a Get reply status to its sentinel error, or nil on
// success.
func GetError(status int) error {
	switch status {
	case StatusOK:
		return nil
	case StatusNotFound:
		return ErrNotFound
	case StatusBlocked:
		return ErrBlocked
	default:
		return fmt.Errorf("txnstore: unexpected get status %d", status)
	}
}

// PutError maps a Put reply status to its sentinel error, or nil on
// success.
func PutError(status int) error {
	switch status {
	case StatusOK:
		return nil
	case StatusBlocked:
		return ErrBlocked
	default:
		return fmt.Errorf("txnstore: unexpected put status %d", status)
	}
}

// PrepareError maps a Prepare reply status to its sentinel error, or nil
// on a yes vote. occ selects which of the two kinds a negative Prepare
// status means: with occ set it is always ErrConflict, including when
// OCCStore's Prepare failed because the txn was unknown; without it,
// ErrUnknownTxn, since LockStore's Prepare fails only on a stale or
// replayed prepare (locks already enforce isolation).
func PrepareError(status int, occ bool) error {
	if status == StatusOK {
		return nil
	}
	if occ {
		return ErrConflict
	}
	return ErrUnknownTxn
}

// RetiredState tags a RetiredTxn with how it left the running/prepared
// pipeline, so un*  can assert it is undoing the operation it thinks it
// is (spec.md §3 "RetiredTxn").
type RetiredState int

const (
	Committed RetiredState = iota
	AbortedPrepared
	AbortedRunning
)

func (s RetiredState) String() string {
	switch s {
	case Committed:
		return "COMMITTED"
	case AbortedPrepared:
		return "ABORTED_PREPARED"
	case AbortedRunning:
		return "ABORTED_RUNNING"
	default:
		return "UNKNOWN"
	}
}

// Store is the capability set the replica upcall shim depends on (spec.md
// §4.5, §9 "Polymorphism over backends"): both LockStore and OCCStore
// implement it, so a shard can be configured with either without the
// shim knowing which.
type Store interface {
	Begin(id uint64)
	Get(id uint64, key string) (value []byte, status int)
	Put(id uint64, key string, value []byte) (status int)
	Prepare(id uint64, op uint64) (status int)
	Commit(id uint64, ts uint64, op uint64)
	AbortTxn(id uint64, op uint64)

	UnBegin(id uint64)
	UnGet(id uint64, key string)
	UnPut(id uint64, key string, value []byte)
	UnPrepare(id uint64, op uint64)
	UnCommit(id uint64, ts uint64, op uint64)
	UnAbort(id uint64, op uint64)

	SpecCommit(op uint64)

	// SetShardLabel tags this store's RetiredTxnsGauge observations with
	// label, normally the shard index rendered as a string. Called once by
	// internal/replica at construction.
	SetShardLabel(label string)
}

// valueStack is a LIFO of written values for one key within one txn's
// write set, supporting undo of successive puts (spec.md §3).
type valueStack [][]byte

func (s valueStack) push(v []byte) valueStack {
	cp := make([]byte, len(v))
	copy(cp, v)
	return append(s, cp)
}

func (s valueStack) pop() (valueStack, []byte) {
	if len(s) == 0 {
		return s, nil
	}
	last := s[len(s)-1]
	return s[:len(s)-1], last
}

func (s valueStack) top() []byte {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}
