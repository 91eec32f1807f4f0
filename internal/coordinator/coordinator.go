package coordinator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chronokv/chronokv/internal/log"
	"github.com/chronokv/chronokv/internal/metrics"
	"github.com/chronokv/chronokv/internal/txnstore"
	"github.com/chronokv/chronokv/internal/wire"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// isOCCMode reports whether mode names an OCCStore backend, used to pick
// which Prepare failure kind (txnstore.ErrConflict vs.
// txnstore.ErrUnknownTxn) a no-vote maps to.
func isOCCMode(mode string) bool {
	return strings.Contains(mode, "occ")
}

// HashKey computes the shard-routing hash of spec.md §4.6: h0 = 0,
// h_{i+1} = (h_i << 1) XOR b_i, shard = h_n mod nShards. It must be bit-
// identical across every client in a deployment, since shard assignment
// is never communicated on the wire — each client derives it from the key
// bytes, and a shard serves whatever requests reach it.
func HashKey(key string, nShards int) int {
	var h uint64
	for i := 0; i < len(key); i++ {
		h = (h << 1) ^ uint64(key[i])
	}
	return int(h % uint64(nShards))
}

// Coordinator is the per-client 2PC orchestrator. It serves a single
// application thread at a time (spec.md §5 "Client side") — concurrent
// callers should use one Coordinator per goroutine. chronokv-bench runs a
// single loop over one Coordinator.
type Coordinator struct {
	clientID string
	nShards  int
	shards   []*ShardConn
	ts       *TSConn
	mode     string

	txnID           uint64
	allParticipants map[int]bool
	yesParticipants map[int]bool

	// lastPrepare/lastCommit/lastTS record the most recent Commit call's
	// per-phase latency, for a benchmark driver to accumulate into the
	// aggregate averages spec.md §6 asks for.
	lastPrepare time.Duration
	lastCommit  time.Duration
	lastTS      time.Duration
}

// LastPhaseDurations returns the prepare/commit/timestamp-fetch latencies
// of the most recently completed Commit call; a phase that call did not
// reach reports zero.
func (c *Coordinator) LastPhaseDurations() (prepare, commit, ts time.Duration) {
	return c.lastPrepare, c.lastCommit, c.lastTS
}

// New builds a Coordinator with one connection per shard plus one to the
// timestamp authority. shardAddrs must be ordered by shard index.
func New(shardAddrs []string, tsAddr string, mode string) (*Coordinator, error) {
	shards := make([]*ShardConn, len(shardAddrs))
	for i, addr := range shardAddrs {
		conn, err := DialShard(addr)
		if err != nil {
			return nil, err
		}
		shards[i] = conn
	}
	tsConn, err := DialTimestampAuthority(tsAddr)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		clientID: uuid.NewString(),
		nShards:  len(shardAddrs),
		shards:   shards,
		ts:       tsConn,
		mode:     mode,
	}, nil
}

// Close tears down every connection the Coordinator holds.
func (c *Coordinator) Close() error {
	var firstErr error
	for _, s := range c.shards {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.ts.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Begin starts a new transaction, resetting participant tracking.
func (c *Coordinator) Begin(txnID uint64) {
	c.txnID = txnID
	c.allParticipants = make(map[int]bool)
	c.yesParticipants = make(map[int]bool)
}

// ensureParticipant sends BEGIN to shard if this is the first operation
// to touch it this transaction, blocking for the reply.
func (c *Coordinator) ensureParticipant(shard int) error {
	if c.allParticipants[shard] {
		return nil
	}
	_, err := c.shards[shard].Call(wire.Request{Type: wire.OpBegin, TxnID: c.txnID})
	if err != nil {
		return fmt.Errorf("coordinator: begin on shard %d: %w", shard, err)
	}
	c.allParticipants[shard] = true
	return nil
}

// Get reads key, routing to its shard and sending BEGIN first if needed.
// It reports (value, found, error); found is false and err wraps
// txnstore.ErrNotFound or txnstore.ErrBlocked on a negative status, so a
// caller can tell the two failure kinds apart via errors.Is (spec.md §7
// "NotFound"/"Blocked").
func (c *Coordinator) Get(key string) ([]byte, bool, error) {
	shard := HashKey(key, c.nShards)
	if err := c.ensureParticipant(shard); err != nil {
		return nil, false, err
	}
	reply, err := c.shards[shard].Call(wire.Request{Type: wire.OpGet, TxnID: c.txnID, Key: key})
	if err != nil {
		return nil, false, err
	}
	if reply.Status < 0 {
		return nil, false, fmt.Errorf("coordinator: get %q: %w", key, txnstore.GetError(reply.Status))
	}
	return reply.Value, true, nil
}

// Put writes key=value, routing to its shard and sending BEGIN first if
// needed. A negative reply status comes back wrapped as
// txnstore.ErrBlocked; the current benchmark driver ignores it (spec.md
// §7), but a caller that cares can check via errors.Is.
func (c *Coordinator) Put(key string, value []byte) error {
	shard := HashKey(key, c.nShards)
	if err := c.ensureParticipant(shard); err != nil {
		return err
	}
	reply, err := c.shards[shard].Call(wire.Request{Type: wire.OpPut, TxnID: c.txnID, Key: key, Value: value})
	if err != nil {
		return err
	}
	if reply.Status < 0 {
		return fmt.Errorf("coordinator: put %q: %w", key, txnstore.PutError(reply.Status))
	}
	return nil
}

// phaseBarrier runs fn for every participant concurrently and blocks
// until all have reported in, mirroring spec.md §5's "one mutex plus one
// condition variable... signaled only when the reply counter equals the
// expected total" client synchronization model. Each fn call runs on its
// own goroutine (the Go equivalent of the spec's transport-thread
// callbacks) and mutates shared state only while holding mu.
func phaseBarrier(participants []int, fn func(shard int)) {
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	replies := 0
	expected := len(participants)

	for _, shard := range participants {
		go func(shard int) {
			fn(shard)
			mu.Lock()
			replies++
			if replies == expected {
				cond.Broadcast()
			}
			mu.Unlock()
		}(shard)
	}

	mu.Lock()
	for replies < expected {
		cond.Wait()
	}
	mu.Unlock()
}

// Commit runs two-phase commit across every participant touched since
// Begin (spec.md §5 "Commit()"). It returns true once every participant
// voted yes and was sent COMMIT at one timestamp; a failed COMMIT call to
// a participant is logged and does not change the result.
func (c *Coordinator) Commit() bool {
	l := log.WithComponent("coordinator").With().Str("client", c.clientID).
		Uint64("txn", c.txnID).Logger()
	c.lastPrepare, c.lastCommit, c.lastTS = 0, 0, 0

	participants := make([]int, 0, len(c.allParticipants))
	for shard := range c.allParticipants {
		participants = append(participants, shard)
	}
	// allParticipants is a map, so iteration order is random; sort so
	// each phase is dispatched and logged in a stable order across runs.
	slices.Sort(participants)

	prepareTimer := metrics.NewTimer()
	var mu sync.Mutex
	allYes := true
	occ := isOCCMode(c.mode)
	phaseBarrier(participants, func(shard int) {
		reply, err := c.shards[shard].Call(wire.Request{Type: wire.OpPrepare, TxnID: c.txnID})
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			allYes = false
			l.Debug().Err(err).Int("shard", shard).Msg("prepare: call failed")
			return
		}
		if reply.Status < 0 {
			allYes = false
			err := fmt.Errorf("coordinator: prepare on shard %d: %w", shard, txnstore.PrepareError(reply.Status, occ))
			l.Debug().Err(err).Msg("prepare: no vote")
			return
		}
		c.yesParticipants[shard] = true
	})
	c.lastPrepare = prepareTimer.Elapsed()
	prepareTimer.ObserveSeconds(metrics.PreparePhaseSeconds)

	if !allYes || len(c.yesParticipants) != len(participants) {
		c.Abort()
		metrics.TxnAbortsTotal.WithLabelValues(c.mode, "prepare").Inc()
		l.Debug().Msg("commit: aborted after prepare")
		return false
	}

	tsTimer := metrics.NewTimer()
	ts, err := c.ts.Next()
	c.lastTS = tsTimer.Elapsed()
	tsTimer.ObserveSeconds(metrics.TimestampPhaseSeconds)
	if err != nil {
		l.Error().Err(err).Msg("commit: timestamp fetch failed")
		c.Abort()
		metrics.TxnAbortsTotal.WithLabelValues(c.mode, "timestamp").Inc()
		return false
	}

	commitTimer := metrics.NewTimer()
	phaseBarrier(participants, func(shard int) {
		_, err := c.shards[shard].Call(wire.Request{Type: wire.OpCommit, TxnID: c.txnID, TS: ts})
		if err != nil {
			l.Error().Err(err).Int("shard", shard).Msg("commit: commit ack failed")
		}
	})
	c.lastCommit = commitTimer.Elapsed()
	commitTimer.ObserveSeconds(metrics.CommitPhaseSeconds)

	metrics.TxnCommitsTotal.WithLabelValues(c.mode).Inc()
	return true
}

// Abort sends ABORT to every participant that voted yes in Prepare; those
// that voted no have already aborted locally (spec.md §5 "Abort()").
func (c *Coordinator) Abort() {
	participants := make([]int, 0, len(c.yesParticipants))
	for shard := range c.yesParticipants {
		participants = append(participants, shard)
	}
	if len(participants) == 0 {
		return
	}
	slices.Sort(participants)
	phaseBarrier(participants, func(shard int) {
		_, err := c.shards[shard].Call(wire.Request{Type: wire.OpAbort, TxnID: c.txnID})
		if err != nil {
			l := log.WithComponent("coordinator")
			l.Error().Err(err).Int("shard", shard).Msg("abort: ack failed")
		}
	})
}
