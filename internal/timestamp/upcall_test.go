package timestamp

import (
	"testing"

	"github.com/chronokv/chronokv/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorityReplicaUpcallAdvances(t *testing.T) {
	a := NewAuthority()

	out1 := a.ReplicaUpcall(1, nil)
	var r1 wire.Reply
	require.NoError(t, wire.Unmarshal(out1, &r1))
	assert.Equal(t, []byte("1"), r1.Value)

	out2 := a.ReplicaUpcall(2, nil)
	var r2 wire.Reply
	require.NoError(t, wire.Unmarshal(out2, &r2))
	assert.Equal(t, []byte("2"), r2.Value)
}

func TestAuthorityRollbackUpcallReverses(t *testing.T) {
	a := NewAuthority()
	a.ReplicaUpcall(1, nil)
	a.ReplicaUpcall(2, nil)
	assert.Equal(t, uint64(3), a.counter.Peek())

	a.RollbackUpcall(2, 0, map[uint64][]byte{1: nil, 2: nil})
	assert.Equal(t, uint64(1), a.counter.Peek())
}

func TestAuthorityCommitUpcallIsNoop(t *testing.T) {
	a := NewAuthority()
	a.ReplicaUpcall(1, nil)
	assert.NotPanics(t, func() { a.CommitUpcall(1) })
}
