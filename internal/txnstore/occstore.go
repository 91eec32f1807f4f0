package txnstore

import (
	"github.com/chronokv/chronokv/internal/assert"
	"github.com/chronokv/chronokv/internal/kvstore"
	"github.com/chronokv/chronokv/internal/log"
	"github.com/chronokv/chronokv/internal/metrics"
)

// occRead remembers the timestamp a key carried when a txn read it, so
// Prepare can detect whether a conflicting writer landed between the
// read and the prepare (spec.md §4.4 "rw-conflict").
type occRead struct {
	ts    uint64
	count int
}

// occTxn is an OCCStore transaction: reads are validated, not locked, so
// all that's tracked is what was read at what version and what's pending
// to be written.
type occTxn struct {
	id       uint64
	readSet  map[string]occRead
	writeSet map[string]valueStack
}

func newOCCTxn(id uint64) *occTxn {
	return &occTxn{
		id:       id,
		readSet:  make(map[string]occRead),
		writeSet: make(map[string]valueStack),
	}
}

type retiredOCCTxn struct {
	op    uint64
	txn   *occTxn
	state RetiredState
}

// OCCStore is the optimistic-concurrency-control transactional backend
// (spec.md §4.4), a port of nistore/occstore.cc onto kvstore.Store. Reads
// and writes never block; conflicts are instead detected at Prepare time
// against the set of other PREPARED transactions.
type OCCStore struct {
	store   *kvstore.Store
	running map[uint64]*occTxn
	// prepared preserves insertion order so conflict scans are
	// deterministic, matching nistore's use of an ordered prepared list.
	prepared   map[uint64]*occTxn
	preparedID []uint64
	retired    []retiredOCCTxn
	shardLabel string
}

// NewOCCStore returns an empty OCCStore over a fresh VersionedKVStore.
func NewOCCStore() *OCCStore {
	return &OCCStore{
		store:    kvstore.New(),
		running:  make(map[uint64]*occTxn),
		prepared: make(map[uint64]*occTxn),
	}
}

// SetShardLabel implements txnstore.Store.
func (s *OCCStore) SetShardLabel(label string) {
	s.shardLabel = label
	s.reportRetired()
}

// reportRetired publishes the current retired-list depth to
// RetiredTxnsGauge, called after every mutation of s.retired.
func (s *OCCStore) reportRetired() {
	metrics.RetiredTxnsGauge.WithLabelValues(s.shardLabel).Set(float64(len(s.retired)))
}

func (s *OCCStore) getTxn(id uint64) *occTxn {
	t, ok := s.running[id]
	if !ok {
		t = newOCCTxn(id)
		s.running[id] = t
	}
	return t
}

func (s *OCCStore) popRetired(op, id uint64, state RetiredState) *occTxn {
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
func (s *OCCStore) Begin(id uint64) {
	l := log.WithTxn(id)
	l.Debug().Msg("BEGIN")
	s.running[id] = newOCCTxn(id)
}

// UnBegin is Begin's inverse.
func (s *OCCStore) UnBegin(id uint64) {
	l := log.WithTxn(id)
	l.Debug().Msg("UNDO BEGIN")
	delete(s.running, id)
}

// Get reads key for txn id, reading its own uncommitted write if any,
// otherwise the current head of the store and recording the version seen
// for later validation.
func (s *OCCStore) Get(id uint64, key string) ([]byte, int) {
	txn := s.getTxn(id)

	if ws, ok := txn.writeSet[key]; ok {
		return ws.top(), StatusOK
	}

	ts, value, err := s.store.Get(key)
	if err != nil {
		return nil, StatusNotFound
	}

	if r, seen := txn.readSet[key]; seen {
		r.count++
		txn.readSet[key] = r
	} else {
		txn.readSet[key] = occRead{ts: ts, count: 1}
	}
	return value, StatusOK
}

// UnGet is Get's inverse: decrements the read count, dropping the read
// record entirely once it reaches zero.
func (s *OCCStore) UnGet(id uint64, key string) {
	txn, ok := s.running[id]
	assert.That(ok, "unget: no running txn %d", id)

	if r, seen := txn.readSet[key]; seen {
		if r.count > 1 {
			r.count--
			txn.readSet[key] = r
		} else {
			delete(txn.readSet, key)
		}
	}
}

// Put records a write of value to key for txn id. OCC never blocks on
// write, so this always succeeds.
func (s *OCCStore) Put(id uint64, key string, value []byte) int {
	txn := s.getTxn(id)
	txn.writeSet[key] = txn.writeSet[key].push(value)
	return StatusOK
}

// UnPut pops the most recent write to key for txn id.
func (s *OCCStore) UnPut(id uint64, key string, value []byte) {
	txn, ok := s.running[id]
	assert.That(ok, "unput: no running txn %d", id)
	ws, ok := txn.writeSet[key]
	assert.That(ok, "unput: no write set entry for %q on txn %d", key, id)

	ws, top := ws.pop()
	assert.That(string(top) == string(value), "unput: value mismatch for %q on txn %d", key, id)
	if len(ws) == 0 {
		delete(txn.writeSet, key)
	} else {
		txn.writeSet[key] = ws
	}
}

// conflictsWithPrepared reports whether any prepared txn other than
// excludeID touches one of keys, either as a read or a write — used for
// both directions of OCC validation (spec.md §4.4 "Validation").
func (s *OCCStore) conflictsWithPrepared(excludeID uint64, keys map[string]struct{}, checkReads, checkWrites bool) bool {
	for _, pid := range s.preparedID {
		if pid == excludeID {
			continue
		}
		other, ok := s.prepared[pid]
		if !ok {
			continue
		}
		for key := range keys {
			if checkWrites {
				if _, ok := other.writeSet[key]; ok {
					return true
				}
			}
			if checkReads {
				if _, ok := other.readSet[key]; ok {
					return true
				}
			}
		}
	}
	return false
}

// Prepare validates txn id's read set against the store and against
// other PREPARED transactions' write sets (rw-conflict), and its write
// set against other PREPARED transactions' read and write sets
// (ww/wr-conflict). Any conflict aborts id immediately, mirroring
// nistore's occstore.cc Prepare.
func (s *OCCStore) Prepare(id uint64, op uint64) int {
	txn, ok := s.running[id]
	if !ok {
		l := log.WithTxn(id)
		l.Warn().Msg("prepare: unknown transaction")
		return StatusNotFound
	}

	readKeys := make(map[string]struct{}, len(txn.readSet))
	for key, r := range txn.readSet {
		ts, _, err := s.store.Get(key)
		if err != nil || ts != r.ts {
			s.selfAbort(txn, op)
			return StatusNotFound
		}
		readKeys[key] = struct{}{}
	}
	if s.conflictsWithPrepared(id, readKeys, false, true) {
		s.selfAbort(txn, op)
		return StatusNotFound
	}

	writeKeys := make(map[string]struct{}, len(txn.writeSet))
	for key := range txn.writeSet {
		writeKeys[key] = struct{}{}
	}
	if s.conflictsWithPrepared(id, writeKeys, true, true) {
		s.selfAbort(txn, op)
		return StatusNotFound
	}

	delete(s.running, id)
	s.prepared[id] = txn
	s.preparedID = append(s.preparedID, id)
	return StatusOK
}

// selfAbort is Prepare's failure path: a validation conflict retires the
// txn exactly as AbortTxn would, from RUNNING.
func (s *OCCStore) selfAbort(txn *occTxn, op uint64) {
	delete(s.running, txn.id)
	s.retired = append(s.retired, retiredOCCTxn{op: op, txn: txn, state: AbortedRunning})
	s.reportRetired()
}

// UnPrepare reverts a PREPARED txn to RUNNING, or restores it from the
// retired list if Prepare itself aborted it.
func (s *OCCStore) UnPrepare(id uint64, op uint64) {
	if txn, ok := s.prepared[id]; ok {
		s.unprepareList(id)
		delete(s.prepared, id)
		s.running[id] = txn
		return
	}
	s.running[id] = s.popRetired(op, id, AbortedRunning)
}

func (s *OCCStore) unprepareList(id uint64) {
	for i, pid := range s.preparedID {
		if pid == id {
			s.preparedID = append(s.preparedID[:i], s.preparedID[i+1:]...)
			return
		}
	}
}

// Commit applies every write in the PREPARED txn's write-set at
// timestamp ts and retires it.
func (s *OCCStore) Commit(id uint64, ts uint64, op uint64) {
	txn, ok := s.prepared[id]
	assert.That(ok, "commit: txn %d is not prepared", id)

	for key, stack := range txn.writeSet {
		s.store.Put(key, stack.top(), ts)
	}
	s.unprepareList(id)
	delete(s.prepared, id)
	s.retired = append(s.retired, retiredOCCTxn{op: op, txn: txn, state: Committed})
	s.reportRetired()
}

// UnCommit reverses Commit: removes the applied versions and restores
// the txn to PREPARED.
func (s *OCCStore) UnCommit(id uint64, ts uint64, op uint64) {
	txn := s.popRetired(op, id, Committed)

	for key, stack := range txn.writeSet {
		_, value, err := s.store.Remove(key)
		assert.That(err == nil, "uncommit: no version to remove for %q", key)
		assert.That(string(value) == string(stack.top()), "uncommit: value mismatch for %q", key)
	}

	_, alreadyPrepped := s.prepared[id]
	assert.That(!alreadyPrepped, "uncommit: txn %d already prepared", id)
	s.prepared[id] = txn
	s.preparedID = append(s.preparedID, id)
	_ = ts
}

// AbortTxn retires the txn from whichever pipeline stage it is in,
// tagged with the state it aborted from.
func (s *OCCStore) AbortTxn(id uint64, op uint64) {
	if txn, ok := s.running[id]; ok {
		delete(s.running, id)
		s.retired = append(s.retired, retiredOCCTxn{op: op, txn: txn, state: AbortedRunning})
		s.reportRetired()
		return
	}
	if txn, ok := s.prepared[id]; ok {
		s.unprepareList(id)
		delete(s.prepared, id)
		s.retired = append(s.retired, retiredOCCTxn{op: op, txn: txn, state: AbortedPrepared})
		s.reportRetired()
		return
	}
	assert.Unreachable("abort: txn %d is neither running nor prepared", id)
}

// UnAbort restores a previously aborted txn to whichever state it was
// aborted from.
func (s *OCCStore) UnAbort(id uint64, op uint64) {
	assert.That(len(s.retired) > 0, "unabort: nothing retired for txn %d", id)
	tail := s.retired[len(s.retired)-1]
	assert.That(tail.op == op, "unabort: retired tail op %d does not match %d", tail.op, op)
	assert.That(tail.txn.id == id, "unabort: retired tail txn %d does not match %d", tail.txn.id, id)
	assert.That(tail.state == AbortedPrepared || tail.state == AbortedRunning,
		"unabort: retired tail state %s is not an abort", tail.state)

	switch tail.state {
	case AbortedPrepared:
		_, ok := s.prepared[id]
		assert.That(!ok, "unabort: txn %d already prepared", id)
		s.prepared[id] = tail.txn
		s.preparedID = append(s.preparedID, id)
	case AbortedRunning:
		_, ok := s.running[id]
		assert.That(!ok, "unabort: txn %d already running", id)
		s.running[id] = tail.txn
	}

	s.retired = s.retired[:len(s.retired)-1]
	s.reportRetired()
}

// SpecCommit drops every retired entry whose op-number is now stably
// committed.
func (s *OCCStore) SpecCommit(op uint64) {
	i := 0
	for ; i < len(s.retired); i++ {
		if s.retired[i].op > op {
			break
		}
	}
	s.retired = s.retired[i:]
	s.reportRetired()
}
