// Package coordinator implements the client-side two-phase-commit
// coordinator of spec.md §4.6: shard routing by key hash, participant-set
// tracking, and 2PC orchestration (Prepare/Commit/Abort) against a
// per-shard RSM client connection plus a timestamp authority connection.
package coordinator

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/chronokv/chronokv/internal/wire"
)

// ShardConn is a persistent connection to one shard's RSM replica. The
// coordinator serves a single application thread (spec.md §5 "Client
// side"), and requests to a given shard are never pipelined, so one
// connection-level mutex is enough to serialize Call.
type ShardConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialShard opens a connection to a shard replica at addr.
func DialShard(addr string) (*ShardConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: dial shard %s: %w", addr, err)
	}
	return &ShardConn{conn: conn}, nil
}

// Call sends req and blocks for the matching reply.
func (s *ShardConn) Call(req wire.Request) (wire.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := wire.WriteMessage(s.conn, wire.ClientRequest{Req: req}); err != nil {
		return wire.Reply{}, err
	}
	var cr wire.ClientReply
	if err := wire.ReadMessage(s.conn, &cr); err != nil {
		return wire.Reply{}, err
	}
	return cr.Reply, nil
}

// Close closes the underlying connection.
func (s *ShardConn) Close() error {
	return s.conn.Close()
}

// TSConn is a persistent connection to the timestamp authority.
type TSConn struct {
	mu   sync.Mutex
	conn net.Conn
}

// DialTimestampAuthority opens a connection to the timestamp authority at
// addr.
func DialTimestampAuthority(addr string) (*TSConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: dial timestamp authority %s: %w", addr, err)
	}
	return &TSConn{conn: conn}, nil
}

// Next requests and returns the next commit timestamp.
func (t *TSConn) Next() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := wire.WriteMessage(t.conn, wire.ClientRequest{}); err != nil {
		return 0, err
	}
	var cr wire.ClientReply
	if err := wire.ReadMessage(t.conn, &cr); err != nil {
		return 0, err
	}
	ts, err := strconv.ParseUint(string(cr.Reply.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("coordinator: malformed timestamp reply %q: %w", cr.Reply.Value, err)
	}
	return ts, nil
}

// Close closes the underlying connection.
func (t *TSConn) Close() error {
	return t.conn.Close()
}
