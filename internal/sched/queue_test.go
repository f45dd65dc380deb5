package sched

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRecord(priority int, seq uint64) *taskRecord {
	return &taskRecord{
		id:        uuid.New(),
		status:    StatusPending,
		priority:  priority,
		seq:       seq,
		heapIndex: -1,
		done:      make(chan struct{}),
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	// Every priority pair p1 > p2 must dequeue p1 first.
	q := newQueue("test", 1, 0)

	seq := uint64(0)
	for p := MinPriority; p <= MaxPriority; p++ {
		seq++
		require.NoError(t, q.push(pendingRecord(p, seq)))
	}

	for p := MaxPriority; p >= MinPriority; p-- {
		rec := q.pop()
		require.NotNil(t, rec)
		assert.Equal(t, p, rec.priority)
	}
	assert.Nil(t, q.pop())
}

func TestQueueStableOrderingWithinPriority(t *testing.T) {
	// Equal-priority tasks dequeue in submission order.
	q := newQueue("test", 1, 0)

	var ids []uuid.UUID
	for seq := uint64(1); seq <= 5; seq++ {
		rec := pendingRecord(5, seq)
		ids = append(ids, rec.id)
		require.NoError(t, q.push(rec))
	}

	for _, want := range ids {
		rec := q.pop()
		require.NotNil(t, rec)
		assert.Equal(t, want, rec.id)
	}
}

func TestQueueMixedPriorityAndOrder(t *testing.T) {
	q := newQueue("test", 1, 0)

	low1 := pendingRecord(3, 1)
	high := pendingRecord(9, 2)
	low2 := pendingRecord(3, 3)

	require.NoError(t, q.push(low1))
	require.NoError(t, q.push(high))
	require.NoError(t, q.push(low2))

	assert.Equal(t, high.id, q.pop().id)
	assert.Equal(t, low1.id, q.pop().id)
	assert.Equal(t, low2.id, q.pop().id)
}

func TestQueueCapacity(t *testing.T) {
	q := newQueue("test", 1, 2)

	require.NoError(t, q.push(pendingRecord(5, 1)))
	require.NoError(t, q.push(pendingRecord(5, 2)))

	err := q.push(pendingRecord(5, 3))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueRemove(t *testing.T) {
	q := newQueue("test", 1, 0)

	keep := pendingRecord(5, 1)
	drop := pendingRecord(7, 2)
	require.NoError(t, q.push(keep))
	require.NoError(t, q.push(drop))

	q.remove(drop)

	rec := q.pop()
	require.NotNil(t, rec)
	assert.Equal(t, keep.id, rec.id)
	assert.Nil(t, q.pop())
}

func TestQueueAvgCompletion(t *testing.T) {
	q := newQueue("test", 1, 0)
	assert.Equal(t, int64(0), q.avgCompletion())

	q.recordCompletion(100)
	q.recordCompletion(300)
	assert.Equal(t, int64(200), q.avgCompletion())

	// The window is bounded; old entries roll off.
	for i := 0; i < completionWindow; i++ {
		q.recordCompletion(50)
	}
	assert.Equal(t, int64(50), q.avgCompletion())
}
