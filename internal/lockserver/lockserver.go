// Package lockserver implements a multi-reader/single-writer lock table
// keyed by opaque lock names, used by txnstore's LockStore backend for
// strict two-phase locking. It is a direct port of nistore's LockServer
// (nistore/lockserver.h), modeling holders and waiters as sets of plain
// txnids rather than pointers so the lock table has no reference cycles
// to manage (spec.md §9 "Cyclic references").
//
// There is no internal synchronization: like the rest of the storage
// engine, the lock table is only ever touched from the single RSM
// executor goroutine for the shard that owns it.
package lockserver

import (
	"time"

	"github.com/chronokv/chronokv/internal/metrics"
)

// WaitTimeout is the maximum duration a lock acquisition waits before a
// blocked caller is reported as timed out, per spec.md §4.2.
const WaitTimeout = 5 * time.Second

type lockState int

const (
	unlocked lockState = iota
	lockedForRead
	lockedForWrite
	lockedForReadWrite
)

// waiter records a txn that failed to acquire a lock, so a later retry by
// the same txnid can be checked against the original enqueue time for the
// wait-timeout policy.
type waiter struct {
	write    bool
	enqueued time.Time
}

// lock is the per-key lock record: current state, the txnids holding it,
// and the FIFO of txnids that have failed to acquire it so far.
type lock struct {
	state   lockState
	holders map[uint64]bool
	waitQ   []uint64
	waiters map[uint64]waiter
}

func newLock() *lock {
	return &lock{
		state:   unlocked,
		holders: make(map[uint64]bool),
		waiters: make(map[uint64]waiter),
	}
}

// Server is the lock table for one shard, keyed by lock name (normally
// the storage key being guarded).
type Server struct {
	locks map[string]*lock
	now   func() time.Time // overridable for tests
}

// New returns an empty lock table.
func New() *Server {
	return &Server{
		locks: make(map[string]*lock),
		now:   time.Now,
	}
}

// enqueue records requester as waiting for lock l in the given mode,
// unless it is already waiting (a retry of the same blocked call reuses
// its original enqueue time so the wait-timeout clock doesn't reset).
func (l *lock) enqueue(requester uint64, write bool, now time.Time) {
	if _, waiting := l.waiters[requester]; waiting {
		return
	}
	l.waiters[requester] = waiter{write: write, enqueued: now}
	l.waitQ = append(l.waitQ, requester)
}

func (l *lock) dequeue(requester uint64) {
	delete(l.waiters, requester)
	for i, id := range l.waitQ {
		if id == requester {
			l.waitQ = append(l.waitQ[:i], l.waitQ[i+1:]...)
			break
		}
	}
}

// timedOut reports whether requester has been waiting on l for longer
// than WaitTimeout, as of now.
func (l *lock) timedOut(requester uint64, now time.Time) bool {
	w, ok := l.waiters[requester]
	return ok && now.Sub(w.enqueued) >= WaitTimeout
}

// headIsWriter reports whether the next waiter in FIFO order is a writer,
// used to make readers yield to a waiting writer and avoid writer
// starvation (spec.md §4.2 "Waiter policy").
func (l *lock) headIsWriter() bool {
	if len(l.waitQ) == 0 {
		return false
	}
	w, ok := l.waiters[l.waitQ[0]]
	return ok && w.write
}

// recordGrant observes LockWaitSeconds if requester had previously been
// enqueued as a waiter on l — a lock granted on the first attempt (the
// common case) leaves no waiter entry and is not timed, matching the
// histogram's contract of only covering acquisitions that didn't
// succeed immediately.
func (s *Server) recordGrant(l *lock, requester uint64) {
	if w, ok := l.waiters[requester]; ok {
		metrics.LockWaitSeconds.WithLabelValues("granted").Observe(s.now().Sub(w.enqueued).Seconds())
	}
}

// recordTimeout observes LockWaitSeconds for a requester that gave up
// after WaitTimeout without ever being granted the lock.
func (s *Server) recordTimeout(l *lock, requester uint64) {
	if w, ok := l.waiters[requester]; ok {
		metrics.LockWaitSeconds.WithLabelValues("timeout").Observe(s.now().Sub(w.enqueued).Seconds())
	}
}

// ActiveLocks reports the number of lock table entries that are not in
// their trivial just-created shape (unlocked, no holders, no waiters),
// for tests that need to confirm the table has returned to an idle
// state. Entries are never deleted from the table once touched, so a
// plain len(s.locks) check can't distinguish "idle" from "never used".
func (s *Server) ActiveLocks() int {
	n := 0
	for _, l := range s.locks {
		if l.state != unlocked || len(l.holders) != 0 || len(l.waiters) != 0 {
			n++
		}
	}
	return n
}

func (s *Server) get(name string) *lock {
	l, ok := s.locks[name]
	if !ok {
		l = newLock()
		s.locks[name] = l
	}
	return l
}

// LockForRead attempts to acquire a read lock on name for requester,
// returning true once granted. A call that cannot be granted immediately
// enqueues requester as a waiter and returns false; the caller is
// expected to retry (there are no proactive wakeups — see spec.md §9 open
// question). If requester has already been waiting longer than
// WaitTimeout, the call gives up and returns false without re-enqueuing.
func (s *Server) LockForRead(name string, requester uint64) bool {
	l := s.get(name)

	if l.timedOut(requester, s.now()) {
		s.recordTimeout(l, requester)
		l.dequeue(requester)
		return false
	}

	switch l.state {
	case unlocked:
		l.state = lockedForRead
		l.holders[requester] = true
		s.recordGrant(l, requester)
		l.dequeue(requester)
		return true

	case lockedForRead:
		if l.holders[requester] {
			s.recordGrant(l, requester)
			l.dequeue(requester)
			return true
		}
		if l.headIsWriter() {
			// A writer is ahead in the queue; this reader yields to avoid
			// starving it.
			l.enqueue(requester, false, s.now())
			return false
		}
		l.holders[requester] = true
		s.recordGrant(l, requester)
		l.dequeue(requester)
		return true

	case lockedForWrite:
		if l.holders[requester] {
			// Reentrant read by the sole writer: upgrade.
			l.state = lockedForReadWrite
			s.recordGrant(l, requester)
			l.dequeue(requester)
			return true
		}
		l.enqueue(requester, false, s.now())
		return false

	case lockedForReadWrite:
		if l.holders[requester] {
			s.recordGrant(l, requester)
			l.dequeue(requester)
			return true
		}
		l.enqueue(requester, false, s.now())
		return false
	}

	return false
}

// LockForWrite attempts to acquire a write lock on name for requester.
// Semantics mirror LockForRead; see spec.md §4.2 "Acquisition rules".
func (s *Server) LockForWrite(name string, requester uint64) bool {
	l := s.get(name)

	if l.timedOut(requester, s.now()) {
		s.recordTimeout(l, requester)
		l.dequeue(requester)
		return false
	}

	switch l.state {
	case unlocked:
		l.state = lockedForWrite
		l.holders[requester] = true
		s.recordGrant(l, requester)
		l.dequeue(requester)
		return true

	case lockedForRead:
		if len(l.holders) == 1 && l.holders[requester] {
			// Sole reader upgrading to read+write.
			l.state = lockedForReadWrite
			s.recordGrant(l, requester)
			l.dequeue(requester)
			return true
		}
		l.enqueue(requester, true, s.now())
		return false

	case lockedForWrite:
		if l.holders[requester] {
			s.recordGrant(l, requester)
			l.dequeue(requester)
			return true
		}
		l.enqueue(requester, true, s.now())
		return false

	case lockedForReadWrite:
		if l.holders[requester] {
			s.recordGrant(l, requester)
			l.dequeue(requester)
			return true
		}
		l.enqueue(requester, true, s.now())
		return false
	}

	return false
}

// ReleaseForRead drops requester's read reference on name. If it was the
// sole remaining reference and the lock was upgraded (LOCKED_FOR_READ_WRITE),
// it falls back to LOCKED_FOR_WRITE; if it was a plain reader and the last
// one, the lock returns to UNLOCKED.
func (s *Server) ReleaseForRead(name string, holder uint64) {
	l, ok := s.locks[name]
	if !ok {
		return
	}

	switch l.state {
	case lockedForReadWrite:
		l.state = lockedForWrite
	case lockedForRead:
		delete(l.holders, holder)
		if len(l.holders) == 0 {
			l.state = unlocked
		}
	}
}

// ReleaseForWrite drops requester's write reference on name, symmetric to
// ReleaseForRead.
func (s *Server) ReleaseForWrite(name string, holder uint64) {
	l, ok := s.locks[name]
	if !ok {
		return
	}

	switch l.state {
	case lockedForReadWrite:
		l.state = lockedForRead
	case lockedForWrite:
		delete(l.holders, holder)
		if len(l.holders) == 0 {
			l.state = unlocked
		}
	}
}
