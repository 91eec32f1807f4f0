package coordinator

import (
	"net"
	"testing"

	"github.com/chronokv/chronokv/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeShard accepts one connection and echoes back a canned reply for
// every request it receives, standing in for a chronokv-server shard
// process.
func fakeShard(t *testing.T, reply wire.Reply) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cr wire.ClientRequest
			if err := wire.ReadMessage(conn, &cr); err != nil {
				return
			}
			out := wire.ClientReply{OpNum: 1, Reply: reply}
			if err := wire.WriteMessage(conn, out); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func TestShardConnCallRoundTrip(t *testing.T) {
	addr := fakeShard(t, wire.Reply{Status: 0, Value: []byte("v1")})

	conn, err := DialShard(addr)
	require.NoError(t, err)
	defer conn.Close()

	reply, err := conn.Call(wire.Request{Type: wire.OpGet, TxnID: 1, Key: "k1"})
	require.NoError(t, err)
	assert.Equal(t, 0, reply.Status)
	assert.Equal(t, []byte("v1"), reply.Value)
}

func TestTSConnNextParsesDecimalReply(t *testing.T) {
	addr := fakeShard(t, wire.Reply{Status: 0, Value: []byte("42")})

	conn, err := DialTimestampAuthority(addr)
	require.NoError(t, err)
	defer conn.Close()

	ts, err := conn.Next()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), ts)
}

func TestTSConnNextRejectsMalformedReply(t *testing.T) {
	addr := fakeShard(t, wire.Reply{Status: 0, Value: []byte("not-a-number")})

	conn, err := DialTimestampAuthority(addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Next()
	assert.Error(t, err)
}
