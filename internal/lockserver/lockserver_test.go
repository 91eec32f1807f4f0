package lockserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnlockedGrantsRead(t *testing.T) {
	s := New()
	assert.True(t, s.LockForRead("k1", 1))
}

func TestMultipleReadersAllowed(t *testing.T) {
	s := New()
	assert.True(t, s.LockForRead("k1", 1))
	assert.True(t, s.LockForRead("k1", 2))
}

func TestWriteWaitsBehindReaders(t *testing.T) {
	s := New()
	assert.True(t, s.LockForRead("k1", 1))
	assert.False(t, s.LockForWrite("k1", 2))
}

func TestSoleReaderUpgradesToReadWrite(t *testing.T) {
	s := New()
	assert.True(t, s.LockForRead("k1", 1))
	assert.True(t, s.LockForWrite("k1", 1))
}

func TestWriterReentrantReadUpgrades(t *testing.T) {
	s := New()
	assert.True(t, s.LockForWrite("k1", 1))
	assert.True(t, s.LockForRead("k1", 1))
}

func TestOtherTxnWaitsOnWrite(t *testing.T) {
	s := New()
	assert.True(t, s.LockForWrite("k1", 1))
	assert.False(t, s.LockForRead("k1", 2))
	assert.False(t, s.LockForWrite("k1", 2))
}

func TestReleaseForReadUnlocksWhenLastReaderGone(t *testing.T) {
	s := New()
	assert.True(t, s.LockForRead("k1", 1))
	s.ReleaseForRead("k1", 1)
	// Lock should now be free for a writer.
	assert.True(t, s.LockForWrite("k1", 2))
}

func TestReleaseForReadFromReadWriteFallsBackToWrite(t *testing.T) {
	s := New()
	assert.True(t, s.LockForWrite("k1", 1))
	assert.True(t, s.LockForRead("k1", 1)) // upgrade to READ_WRITE
	s.ReleaseForRead("k1", 1)
	// Txn 1 should still hold the write lock; another txn must wait.
	assert.False(t, s.LockForRead("k1", 2))
	s.ReleaseForWrite("k1", 1)
	assert.True(t, s.LockForRead("k1", 2))
}

func TestWaitTimeoutExpires(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	assert.True(t, s.LockForWrite("k1", 1))
	assert.False(t, s.LockForRead("k1", 2))

	now = now.Add(WaitTimeout + time.Second)
	assert.False(t, s.LockForRead("k1", 2))
}

func TestTimedOutWaiterStopsOccupyingQueueHead(t *testing.T) {
	s := New()
	now := time.Now()
	s.now = func() time.Time { return now }

	assert.True(t, s.LockForRead("k1", 1))
	assert.False(t, s.LockForWrite("k1", 2)) // 2 queues behind reader 1

	now = now.Add(WaitTimeout + time.Second)
	assert.False(t, s.LockForWrite("k1", 2)) // 2 times out and must be dequeued

	// With the timed-out writer gone from the queue, a fresh reader must be
	// granted alongside reader 1 rather than yielding to a phantom queued
	// writer.
	assert.True(t, s.LockForRead("k1", 3))
}

func TestReaderYieldsToQueuedWriter(t *testing.T) {
	s := New()
	assert.True(t, s.LockForRead("k1", 1))
	// Writer 2 queues behind reader 1.
	assert.False(t, s.LockForWrite("k1", 2))
	// A brand new reader must yield to the queued writer to avoid starvation.
	assert.False(t, s.LockForRead("k1", 3))
}

func TestMutualExclusionProperty(t *testing.T) {
	s := New()
	assert.True(t, s.LockForWrite("k1", 1))
	assert.False(t, s.LockForWrite("k1", 2))
	assert.False(t, s.LockForRead("k1", 2))
}
