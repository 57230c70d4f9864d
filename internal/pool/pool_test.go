package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dummy struct {
	ID    int64
	Price float64
}

func TestPool_AcquireRelease(t *testing.T) {
	p := New[dummy](4)
	require.Equal(t, 4, p.Capacity())
	require.Equal(t, 4, p.Available())

	obj, idx, ok := p.Acquire()
	require.True(t, ok)
	require.NotNil(t, obj)
	assert.Equal(t, 3, p.Available())

	obj.ID = 42
	assert.True(t, p.Release(idx))
	assert.Equal(t, 4, p.Available())
}

func TestPool_ExhaustionReturnsFalse(t *testing.T) {
	p := New[dummy](2)
	_, _, ok1 := p.Acquire()
	_, _, ok2 := p.Acquire()
	_, _, ok3 := p.Acquire()

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
	assert.Equal(t, 0, p.Available())
}

func TestPool_DoubleReleaseRejected(t *testing.T) {
	p := New[dummy](2)
	_, idx, _ := p.Acquire()

	assert.True(t, p.Release(idx))
	assert.False(t, p.Release(idx), "releasing an already-free slot must fail")
}

func TestPool_ReleaseOutOfRangeRejected(t *testing.T) {
	p := New[dummy](2)
	assert.False(t, p.Release(-1))
	assert.False(t, p.Release(5))
}

func TestPool_ValidateMemoryDetectsNothingWrongOnFreshPool(t *testing.T) {
	p := New[dummy](8)
	assert.True(t, p.ValidateMemory())

	a, ai, _ := p.Acquire()
	_ = a
	b, bi, _ := p.Acquire()
	_ = b
	assert.True(t, p.ValidateMemory())

	p.Release(ai)
	p.Release(bi)
	assert.True(t, p.ValidateMemory())
}

func TestPool_ResetReclaimsAllSlots(t *testing.T) {
	p := New[dummy](3)
	p.Acquire()
	p.Acquire()
	require.Equal(t, 1, p.Available())

	p.Reset()
	assert.Equal(t, 3, p.Available())
	assert.True(t, p.ValidateMemory())
}

func TestPool_CountsTrackLifetimeAcquireRelease(t *testing.T) {
	p := New[dummy](2)
	_, idx, _ := p.Acquire()
	p.Release(idx)
	_, _, _ = p.Acquire()

	acquired, released := p.Counts()
	assert.Equal(t, uint64(2), acquired)
	assert.Equal(t, uint64(1), released)
}
