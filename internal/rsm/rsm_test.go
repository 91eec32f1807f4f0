package rsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeApp is a tiny in-memory application: each op pushes its bytes onto
// a stack of strings and rollback pops one entry per undone op,
// exercising forward execution and undo symmetry.
type fakeApp struct {
	stack     []string
	committed []uint64
}

func (a *fakeApp) ReplicaUpcall(opNum uint64, op []byte) []byte {
	a.stack = append(a.stack, string(op))
	return []byte("ok")
}

func (a *fakeApp) RollbackUpcall(current, target uint64, undoLog map[uint64][]byte) {
	for i := 0; i < int(current-target); i++ {
		require_NonEmpty(a.stack)
		a.stack = a.stack[:len(a.stack)-1]
	}
}

func (a *fakeApp) CommitUpcall(opNum uint64) {
	a.committed = append(a.committed, opNum)
}

func require_NonEmpty(s []string) {
	if len(s) == 0 {
		panic("rollback underflow")
	}
}

func TestExecAssignsIncreasingOpNumbers(t *testing.T) {
	app := &fakeApp{}
	e := NewExecutor(app)

	op1, _ := e.Exec([]byte("a"))
	op2, _ := e.Exec([]byte("b"))

	assert.Equal(t, uint64(1), op1)
	assert.Equal(t, uint64(2), op2)
	assert.Equal(t, []string{"a", "b"}, app.stack)
}

func TestRollbackUndoesInReverseOrder(t *testing.T) {
	app := &fakeApp{}
	e := NewExecutor(app)

	e.Exec([]byte("a"))
	e.Exec([]byte("b"))
	e.Exec([]byte("c"))
	require.Equal(t, uint64(3), e.LastOp())

	e.Rollback(1)
	assert.Equal(t, []string{"a"}, app.stack)
	assert.Equal(t, uint64(1), e.LastOp())
}

func TestRollbackToCurrentTipIsNoOp(t *testing.T) {
	app := &fakeApp{}
	e := NewExecutor(app)
	e.Exec([]byte("a"))

	e.Rollback(1)
	assert.Equal(t, []string{"a"}, app.stack)
}

func TestExecAfterRollbackReusesOpNumbers(t *testing.T) {
	app := &fakeApp{}
	e := NewExecutor(app)
	e.Exec([]byte("a"))
	e.Exec([]byte("b"))
	e.Rollback(1)

	op, _ := e.Exec([]byte("b2"))
	assert.Equal(t, uint64(2), op)
	assert.Equal(t, []string{"a", "b2"}, app.stack)
}

func TestSpecCommitInvokesCommitUpcall(t *testing.T) {
	app := &fakeApp{}
	e := NewExecutor(app)
	op, _ := e.Exec([]byte("a"))

	e.SpecCommit(op)
	assert.Equal(t, []uint64{op}, app.committed)
}
