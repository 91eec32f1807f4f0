// Package replica is the upcall shim between the RSM substrate
// (internal/rsm) and a shard's transactional backend (internal/txnstore):
// it decodes each opaque op as a wire.Request, dispatches it to the
// matching txnstore.Store method, and — on rollback — replays the same
// ops through their Un* inverses in reverse order (spec.md §4.5).
package replica

import (
	"strconv"

	"github.com/chronokv/chronokv/internal/assert"
	"github.com/chronokv/chronokv/internal/log"
	"github.com/chronokv/chronokv/internal/txnstore"
	"github.com/chronokv/chronokv/internal/wire"
)

// Shard binds one txnstore.Store (LockStore or OCCStore, chosen at
// startup per spec.md §4.3/§4.4) to the rsm.Upcalls contract for a
// single shard.
type Shard struct {
	ID    int
	store txnstore.Store
}

// New returns a Shard driving store, identified by id for logging and for
// labeling store's RetiredTxnsGauge observations.
func New(id int, store txnstore.Store) *Shard {
	store.SetShardLabel(strconv.Itoa(id))
	return &Shard{ID: id, store: store}
}

// ReplicaUpcall decodes op as a wire.Request and applies it to the
// shard's store, returning the marshaled wire.Reply.
func (s *Shard) ReplicaUpcall(opNum uint64, op []byte) []byte {
	var req wire.Request
	if err := wire.Unmarshal(op, &req); err != nil {
		assert.Unreachable("replica: corrupt op at %d: %v", opNum, err)
	}

	reply := s.apply(opNum, req)

	out, err := wire.Marshal(reply)
	assert.That(err == nil, "replica: failed to marshal reply at op %d: %v", opNum, err)
	return out
}

func (s *Shard) apply(opNum uint64, req wire.Request) wire.Reply {
	l := log.WithShard(s.ID)
	l.Debug().Str("op", req.Type.String()).Uint64("opnum", opNum).Uint64("txn", req.TxnID).Msg("apply")

	switch req.Type {
	case wire.OpBegin:
		s.store.Begin(req.TxnID)
		return wire.Reply{Status: txnstore.StatusOK}
	case wire.OpGet:
		value, status := s.store.Get(req.TxnID, req.Key)
		return wire.Reply{Status: status, Value: value}
	case wire.OpPut:
		status := s.store.Put(req.TxnID, req.Key, req.Value)
		return wire.Reply{Status: status}
	case wire.OpPrepare:
		status := s.store.Prepare(req.TxnID, opNum)
		return wire.Reply{Status: status}
	case wire.OpCommit:
		s.store.Commit(req.TxnID, req.TS, opNum)
		return wire.Reply{Status: txnstore.StatusOK}
	case wire.OpAbort:
		s.store.AbortTxn(req.TxnID, opNum)
		return wire.Reply{Status: txnstore.StatusOK}
	default:
		assert.Unreachable("replica: unknown op type %d at op %d", req.Type, opNum)
		return wire.Reply{}
	}
}

// RollbackUpcall undoes every op from current down to target, applying
// each op's Un* inverse in strictly reverse order.
func (s *Shard) RollbackUpcall(current, target uint64, undoLog map[uint64][]byte) {
	for opNum := current; opNum > target; opNum-- {
		raw, ok := undoLog[opNum]
		assert.That(ok, "rollback: missing undo record for op %d", opNum)

		var req wire.Request
		err := wire.Unmarshal(raw, &req)
		assert.That(err == nil, "rollback: corrupt op at %d: %v", opNum, err)

		s.unapply(opNum, req)
	}
}

func (s *Shard) unapply(opNum uint64, req wire.Request) {
	l := log.WithShard(s.ID)
	l.Debug().Str("op", req.Type.String()).Uint64("opnum", opNum).
		Uint64("txn", req.TxnID).Msg("undo")

	switch req.Type {
	case wire.OpBegin:
		s.store.UnBegin(req.TxnID)
	case wire.OpGet:
		s.store.UnGet(req.TxnID, req.Key)
	case wire.OpPut:
		s.store.UnPut(req.TxnID, req.Key, req.Value)
	case wire.OpPrepare:
		s.store.UnPrepare(req.TxnID, opNum)
	case wire.OpCommit:
		s.store.UnCommit(req.TxnID, req.TS, opNum)
	case wire.OpAbort:
		s.store.UnAbort(req.TxnID, opNum)
	default:
		assert.Unreachable("rollback: unknown op type %d at op %d", req.Type, opNum)
	}
}

// CommitUpcall tells the shard's store that opNum is stable.
func (s *Shard) CommitUpcall(opNum uint64) {
	s.store.SpecCommit(opNum)
}
