package txnstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOCCStoreReadYourOwnWrite(t *testing.T) {
	s := NewOCCStore()
	s.Begin(1)
	require.Equal(t, StatusOK, s.Put(1, "k1", []byte("v1")))

	v, status := s.Get(1, "k1")
	require.Equal(t, StatusOK, status)
	assert.Equal(t, []byte("v1"), v)
}

func TestOCCStoreCommitAppliesWrites(t *testing.T) {
	s := NewOCCStore()
	s.Begin(1)
	require.Equal(t, StatusOK, s.Put(1, "k1", []byte("v1")))
	require.Equal(t, StatusOK, s.Prepare(1, 100))
	s.Commit(1, 10, 100)

	s.Begin(2)
	v, status := s.Get(2, "k1")
	require.Equal(t, StatusOK, status)
	assert.Equal(t, []byte("v1"), v)
}

func TestOCCStoreNeverBlocksOnConflictingWrite(t *testing.T) {
	s := NewOCCStore()
	s.Begin(1)
	require.Equal(t, StatusOK, s.Put(1, "k1", []byte("v1")))

	s.Begin(2)
	// Unlike LockStore, a second writer is never blocked up front.
	assert.Equal(t, StatusOK, s.Put(2, "k1", []byte("v2")))
}

func TestOCCStorePrepareAbortsOnStaleRead(t *testing.T) {
	s := NewOCCStore()
	s.store.Put("k1", []byte("v0"), 1)

	s.Begin(1)
	_, status := s.Get(1, "k1")
	require.Equal(t, StatusOK, status)

	// Txn 2 commits a new version of k1 behind txn 1's back.
	s.Begin(2)
	require.Equal(t, StatusOK, s.Put(2, "k1", []byte("v1")))
	require.Equal(t, StatusOK, s.Prepare(2, 100))
	s.Commit(2, 10, 100)

	require.Equal(t, StatusOK, s.Put(1, "k2", []byte("unrelated")))
	status = s.Prepare(1, 200)
	assert.Equal(t, StatusNotFound, status)
}

func TestOCCStorePrepareAbortsOnWriteConflictWithOtherPrepared(t *testing.T) {
	s := NewOCCStore()
	s.Begin(1)
	require.Equal(t, StatusOK, s.Put(1, "k1", []byte("v1")))
	require.Equal(t, StatusOK, s.Prepare(1, 100))

	s.Begin(2)
	require.Equal(t, StatusOK, s.Put(2, "k1", []byte("v2")))
	status := s.Prepare(2, 200)
	assert.Equal(t, StatusNotFound, status)
}

func TestOCCStoreIndependentKeysBothPrepare(t *testing.T) {
	s := NewOCCStore()
	s.Begin(1)
	require.Equal(t, StatusOK, s.Put(1, "k1", []byte("v1")))
	require.Equal(t, StatusOK, s.Prepare(1, 100))

	s.Begin(2)
	require.Equal(t, StatusOK, s.Put(2, "k2", []byte("v2")))
	status := s.Prepare(2, 200)
	assert.Equal(t, StatusOK, status)
}

func TestOCCStoreUnCommitRestoresPriorValue(t *testing.T) {
	s := NewOCCStore()
	s.Begin(1)
	require.Equal(t, StatusOK, s.Put(1, "k1", []byte("v1")))
	require.Equal(t, StatusOK, s.Prepare(1, 100))
	s.Commit(1, 10, 100)

	s.UnCommit(1, 10, 100)
	_, _, err := s.store.Get("k1")
	assert.Error(t, err)
}

func TestOCCStoreSpecCommitPurgesRetiredEntries(t *testing.T) {
	s := NewOCCStore()
	s.Begin(1)
	require.Equal(t, StatusOK, s.Put(1, "k1", []byte("v1")))
	require.Equal(t, StatusOK, s.Prepare(1, 100))
	s.Commit(1, 10, 100)

	assert.Len(t, s.retired, 1)
	s.SpecCommit(100)
	assert.Len(t, s.retired, 0)
}
