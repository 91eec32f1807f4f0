package txnstore

import (
	"github.com/chronokv/chronokv/internal/assert"
	"github.com/chronokv/chronokv/internal/kvstore"
	"github.com/chronokv/chronokv/internal/lockserver"
	"github.com/chronokv/chronokv/internal/log"
	"github.com/chronokv/chronokv/internal/metrics"
)

// lockTxn is a LockStore transaction: the set of keys read (with a
// per-key read count, since repeated reads within a txn don't re-acquire
// the lock) and the set of keys written (each a stack of values, since
// repeated puts push without re-acquiring the write lock either).
type lockTxn struct {
	id       uint64
	readSet  map[string]int
	writeSet map[string]valueStack
}

func newLockTxn(id uint64) *lockTxn {
	return &lockTxn{
		id:       id,
		readSet:  make(map[string]int),
		writeSet: make(map[string]valueStack),
	}
}

// retiredLockTxn is one entry on LockStore's retired list: the txn as it
// stood at commit/abort time, the RSM op-number that performed the
// transition, and which transition it was.
type retiredLockTxn struct {
	op    uint64
	txn   *lockTxn
	state RetiredState
}

// LockStore is the strict two-phase-locking transactional backend
// (spec.md §4.3), a direct port of nistore/lockstore.cc onto
// kvstore.Store and lockserver.Server.
type LockStore struct {
	store      *kvstore.Store
	locks      *lockserver.Server
	running    map[uint64]*lockTxn
	prepped    map[uint64]*lockTxn
	retired    []retiredLockTxn
	shardLabel string
}

// NewLockStore returns an empty LockStore over a fresh VersionedKVStore
// and lock table.
func NewLockStore() *LockStore {
	return &LockStore{
		store:   kvstore.New(),
		locks:   lockserver.New(),
		running: make(map[uint64]*lockTxn),
		prepped: make(map[uint64]*lockTxn),
	}
}

// SetShardLabel implements txnstore.Store.
func (s *LockStore) SetShardLabel(label string) {
	s.shardLabel = label
	s.reportRetired()
}

// reportRetired publishes the current retired-list depth to
// RetiredTxnsGauge, called after every mutation of s.retired.
func (s *LockStore) reportRetired() {
	metrics.RetiredTxnsGauge.WithLabelValues(s.shardLabel).Set(float64(len(s.retired)))
}

func (s *LockStore) getTxn(id uint64) *lockTxn {
	t, ok := s.running[id]
	if !ok {
		t = newLockTxn(id)
		s.running[id] = t
	}
	return t
}

// dropLocks releases every lock held by txn, called at commit and abort
// (second phase of 2PL).
func (s *LockStore) dropLocks(txn *lockTxn) {
	for key := range txn.writeSet {
		s.locks.ReleaseForWrite(key, txn.id)
	}
	for key := range txn.readSet {
		s.locks.ReleaseForRead(key, txn.id)
	}
}

// getLocks re-acquires every lock txn held, used only during rollback:
// sound because the RSM thread is single-threaded between commit/abort
// and the matching uncommit/unabort (spec.md §4.3, §9 open question).
func (s *LockStore) getLocks(txn *lockTxn) {
	for key := range txn.writeSet {
		ok := s.locks.LockForWrite(key, txn.id)
		assert.That(ok, "uncommit/unabort could not re-acquire write lock on %q for txn %d", key, txn.id)
	}
	for key := range txn.readSet {
		ok := s.locks.LockForRead(key, txn.id)
		assert.That(ok, "uncommit/unabort could not re-acquire read lock on %q for txn %d", key, txn.id)
	}
}

// popRetired pops the tail of the retired list, asserting it matches the
// op/id/state the caller expects to be undoing (mirrors nistore's
// getRetiredTxn, the tail-tag assertion from spec.md §7 "Fatal conditions").
func (s *LockStore) popRetired(op, id uint64, state RetiredState) *lockTxn {
	assert.That(len(s.retired) > 0, "no retired txn to undo for txn %d op %d", id, op)
	tail := s.retired[len(s.retired)-1]
	assert.That(tail.op == op, "retired tail op %d does not match undo op %d", tail.op, op)
	assert.That(tail.txn.id == id, "retired tail txn %d does not match undo txn %d", tail.txn.id, id)
	assert.That(tail.state == state, "retired tail state %s does not match expected %s", tail.state, state)
	s.retired = s.retired[:len(s.retired)-1]
	s.reportRetired()
	return tail.txn
}

// Begin creates a new RUNNING transaction for id.
func (s *LockStore) Begin(id uint64) {
	l := log.WithTxn(id)
	l.Debug().Msg("BEGIN")
	s.running[id] = newLockTxn(id)
}

// UnBegin is Begin's inverse.
func (s *LockStore) UnBegin(id uint64) {
	l := log.WithTxn(id)
	l.Debug().Msg("UNDO BEGIN")
	delete(s.running, id)
}

// Get reads key for txn id: read-your-writes first, then the store,
// acquiring a read lock on first read of a never-before-read key.
func (s *LockStore) Get(id uint64, key string) ([]byte, int) {
	txn := s.getTxn(id)

	if ws, ok := txn.writeSet[key]; ok {
		// Read-your-own-writes never needs a lock: it can't conflict.
		return ws.top(), StatusOK
	}

	_, value, err := s.store.Get(key)
	if err != nil {
		return nil, StatusNotFound
	}

	if _, seen := txn.readSet[key]; seen {
		txn.readSet[key]++
		return value, StatusOK
	}

	if s.locks.LockForRead(key, id) {
		txn.readSet[key] = 1
		return value, StatusOK
	}
	return nil, StatusBlocked
}

// UnGet is Get's inverse: decrements the read count, releasing the read
// lock once it reaches zero. A self-read (read-your-writes) leaves no
// readSet entry and is a no-op here, matching nistore's unget.
func (s *LockStore) UnGet(id uint64, key string) {
	txn, ok := s.running[id]
	assert.That(ok, "unget: no running txn %d", id)

	if count, seen := txn.readSet[key]; seen {
		if count > 1 {
			txn.readSet[key] = count - 1
		} else {
			delete(txn.readSet, key)
			s.locks.ReleaseForRead(key, id)
		}
	}
}

// Put records a write of value to key for txn id, acquiring the write
// lock only on the first write of key within this txn.
func (s *LockStore) Put(id uint64, key string, value []byte) int {
	txn := s.getTxn(id)

	if _, held := txn.writeSet[key]; !held {
		if !s.locks.LockForWrite(key, id) {
			return StatusBlocked
		}
	}
	txn.writeSet[key] = txn.writeSet[key].push(value)
	return StatusOK
}

// UnPut pops the most recent write to key for txn id, releasing the
// write lock once the stack empties.
func (s *LockStore) UnPut(id uint64, key string, value []byte) {
	txn, ok := s.running[id]
	assert.That(ok, "unput: no running txn %d", id)
	ws, ok := txn.writeSet[key]
	assert.That(ok, "unput: no write set entry for %q on txn %d", key, id)

	ws, top := ws.pop()
	assert.That(string(top) == string(value), "unput: value mismatch for %q on txn %d", key, id)
	if len(ws) == 0 {
		delete(txn.writeSet, key)
		s.locks.ReleaseForWrite(key, id)
	} else {
		txn.writeSet[key] = ws
	}
}

// Prepare moves a RUNNING txn to PREPARED. Locks already enforce
// isolation, so there are no additional checks (spec.md §4.3).
func (s *LockStore) Prepare(id uint64, _ uint64) int {
	txn, ok := s.running[id]
	if !ok {
		l := log.WithTxn(id)
		l.Warn().Msg("prepare: unknown transaction")
		return StatusNotFound
	}
	delete(s.running, id)
	s.prepped[id] = txn
	return StatusOK
}

// UnPrepare reverts a PREPARED txn back to RUNNING, or — if it was
// aborted during prepare — restores it from the retired list.
func (s *LockStore) UnPrepare(id uint64, op uint64) {
	if txn, ok := s.prepped[id]; ok {
		s.running[id] = txn
		delete(s.prepped, id)
		return
	}
	s.running[id] = s.popRetired(op, id, AbortedRunning)
}

// Commit applies every write in the PREPARED txn's write-set to the
// store at timestamp ts, drops its locks, and retires it.
func (s *LockStore) Commit(id uint64, ts uint64, op uint64) {
	txn, ok := s.prepped[id]
	assert.That(ok, "commit: txn %d is not prepared", id)

	for key, stack := range txn.writeSet {
		s.store.Put(key, stack.top(), ts)
	}
	s.dropLocks(txn)
	delete(s.prepped, id)
	s.retired = append(s.retired, retiredLockTxn{op: op, txn: txn, state: Committed})
	s.reportRetired()
}

// UnCommit reverses Commit: removes the applied versions, re-acquires
// every lock (sound only because no conflicting txn could have acquired
// them since — see getLocks), and restores the txn to PREPARED.
func (s *LockStore) UnCommit(id uint64, ts uint64, op uint64) {
	txn := s.popRetired(op, id, Committed)

	for key, stack := range txn.writeSet {
		_, value, err := s.store.Remove(key)
		assert.That(err == nil, "uncommit: no version to remove for %q", key)
		assert.That(string(value) == string(stack.top()), "uncommit: value mismatch for %q", key)
	}

	s.getLocks(txn)
	_, alreadyPrepped := s.prepped[id]
	assert.That(!alreadyPrepped, "uncommit: txn %d already prepared", id)
	s.prepped[id] = txn
	_ = ts
}

// AbortTxn releases the txn's locks (whether it was RUNNING or PREPARED)
// and retires it, tagged with the state it aborted from.
func (s *LockStore) AbortTxn(id uint64, op uint64) {
	if txn, ok := s.running[id]; ok {
		s.dropLocks(txn)
		s.retired = append(s.retired, retiredLockTxn{op: op, txn: txn, state: AbortedRunning})
		s.reportRetired()
		delete(s.running, id)
		return
	}
	if txn, ok := s.prepped[id]; ok {
		s.dropLocks(txn)
		s.retired = append(s.retired, retiredLockTxn{op: op, txn: txn, state: AbortedPrepared})
		s.reportRetired()
		delete(s.prepped, id)
		return
	}
	assert.Unreachable("abort: txn %d is neither running nor prepared", id)
}

// UnAbort restores a previously aborted txn (from either source state)
// and re-acquires its locks.
func (s *LockStore) UnAbort(id uint64, op uint64) {
	assert.That(len(s.retired) > 0, "unabort: nothing retired for txn %d", id)
	tail := s.retired[len(s.retired)-1]
	assert.That(tail.op == op, "unabort: retired tail op %d does not match %d", tail.op, op)
	assert.That(tail.txn.id == id, "unabort: retired tail txn %d does not match %d", tail.txn.id, id)
	assert.That(tail.state == AbortedPrepared || tail.state == AbortedRunning,
		"unabort: retired tail state %s is not an abort", tail.state)

	switch tail.state {
	case AbortedPrepared:
		_, ok := s.prepped[id]
		assert.That(!ok, "unabort: txn %d already prepared", id)
		s.prepped[id] = tail.txn
	case AbortedRunning:
		_, ok := s.running[id]
		assert.That(!ok, "unabort: txn %d already running", id)
		s.running[id] = tail.txn
	}

	s.getLocks(tail.txn)
	s.retired = s.retired[:len(s.retired)-1]
	s.reportRetired()
}

// SpecCommit drops every retired entry whose op-number is now stably
// committed, reclaiming undo memory (spec.md §4.4).
func (s *LockStore) SpecCommit(op uint64) {
	i := 0
	for ; i < len(s.retired); i++ {
		if s.retired[i].op > op {
			break
		}
	}
	s.retired = s.retired[i:]
	s.reportRetired()
}
