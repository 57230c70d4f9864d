package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_RoundsCapacityToPowerOfTwo(t *testing.T) {
	r := New[int](5)
	assert.Equal(t, 7, r.Capacity()) // rounds to 8 slots, usable = 7
}

func TestRingBuffer_PushPopFIFO(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 5; i++ {
		require.True(t, r.TryPush(i))
	}
	for i := 0; i < 5; i++ {
		v, ok := r.TryPop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.TryPop()
	assert.False(t, ok, "empty buffer must report false")
}

func TestRingBuffer_FullReturnsFalse(t *testing.T) {
	r := New[int](4) // usable capacity 3
	assert.True(t, r.TryPush(1))
	assert.True(t, r.TryPush(2))
	assert.True(t, r.TryPush(3))
	assert.False(t, r.TryPush(4), "pushing past capacity must fail")
	assert.True(t, r.Full())
}

func TestRingBuffer_WrapAround(t *testing.T) {
	r := New[int](4) // usable capacity 3
	r.TryPush(1)
	r.TryPush(2)
	v, _ := r.TryPop()
	assert.Equal(t, 1, v)
	r.TryPush(3)
	r.TryPush(4) // fills the last slot of the backing array

	v, _ = r.TryPop()
	assert.Equal(t, 2, v)
	require.True(t, r.TryPush(5)) // wraps to slot 0 of the backing array
	v, _ = r.TryPop()
	assert.Equal(t, 3, v)
	v, _ = r.TryPop()
	assert.Equal(t, 4, v)
	v, _ = r.TryPop()
	assert.Equal(t, 5, v)
}

func TestRingBuffer_BatchPushPopPreservesOrder(t *testing.T) {
	r := New[int](16)
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	n := r.TryPushBatch(items)
	assert.Equal(t, 10, n)

	dst := make([]int, 10)
	popped := r.TryPopBatch(dst)
	assert.Equal(t, 10, popped)
	assert.Equal(t, items, dst)
}

func TestRingBuffer_BatchPushAcceptsOnlyWhatFits(t *testing.T) {
	r := New[int](4) // usable capacity 3
	n := r.TryPushBatch([]int{1, 2, 3, 4, 5})
	assert.Equal(t, 3, n)
	assert.True(t, r.Full())
}

func TestRingBuffer_BatchPushPopAcrossWrap(t *testing.T) {
	r := New[int](4) // usable capacity 3
	r.TryPush(100)
	r.TryPush(101)
	r.TryPop()
	r.TryPop()

	// Cursors now sit at slot 2, so a 3-item batch splits across the end.
	n := r.TryPushBatch([]int{1, 2, 3})
	assert.Equal(t, 3, n)

	dst := make([]int, 3)
	popped := r.TryPopBatch(dst)
	assert.Equal(t, 3, popped)
	assert.Equal(t, []int{1, 2, 3}, dst)
}

func TestRingBuffer_SizeEmptyFull(t *testing.T) {
	r := New[int](8) // usable capacity 7
	assert.True(t, r.Empty())
	assert.Equal(t, 0, r.Size())

	r.TryPush(1)
	r.TryPush(2)
	assert.Equal(t, 2, r.Size())
	assert.False(t, r.Empty())
	assert.False(t, r.Full())
}
