// Package wire defines chronokv's on-the-wire request/reply schema and a
// length-prefixed framing codec for it. Messages are msgpack-encoded
// (github.com/vmihailenco/msgpack/v5, the encoding used across the
// retrieved KV-store pack for this concern) rather than protobuf, since
// the client/server boundary here needs a schema-typed payload with no
// code generation step.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single frame so a corrupt or hostile length
// prefix can't make ReadMessage allocate without limit.
const maxMessageSize = 64 << 20

// OpType enumerates the storage-engine operations a Request can carry.
// These mirror txnstore.Store's method set one-for-one (spec.md §4.5).
type OpType uint8

const (
	OpBegin OpType = iota
	OpGet
	OpPut
	OpPrepare
	OpCommit
	OpAbort
)

func (t OpType) String() string {
	switch t {
	case OpBegin:
		return "BEGIN"
	case OpGet:
		return "GET"
	case OpPut:
		return "PUT"
	case OpPrepare:
		return "PREPARE"
	case OpCommit:
		return "COMMIT"
	case OpAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Request is one client-to-shard operation, replicated and executed by
// the RSM substrate as a single opaque command.
type Request struct {
	Type  OpType
	TxnID uint64
	Key   string `msgpack:",omitempty"`
	Value []byte `msgpack:",omitempty"`
	TS    uint64 `msgpack:",omitempty"`
}

// Reply carries a txnstore status code and, for GET, the value read.
type Reply struct {
	Status int
	Value  []byte `msgpack:",omitempty"`
}

// ClientRequest is what a client sends a shard replica over the wire:
// the operation plus the shard-local op sequence isn't assigned by the
// client, only by the RSM substrate (spec.md §9 "Client retries").
type ClientRequest struct {
	Req Request
}

// ClientReply is the corresponding response, echoing the view/opnum the
// RSM substrate assigned so a client can detect a stale reply.
type ClientReply struct {
	View  uint64
	OpNum uint64
	Reply Reply
}

// WriteMessage encodes v as msgpack and writes it to w prefixed with its
// length as a 4-byte big-endian unsigned integer.
func WriteMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame from r and msgpack-decodes
// it into v.
func ReadMessage(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxMessageSize {
		return fmt.Errorf("wire: message of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("wire: read payload: %w", err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

// Marshal and Unmarshal expose the raw codec for callers (the RSM
// substrate) that need to stash an encoded Request as an opaque op for
// later replay during rollback.
func Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
