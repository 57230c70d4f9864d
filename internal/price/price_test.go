package price

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromDecimal_RoundsToNearest64th(t *testing.T) {
	p := FromDecimal(99.5)
	assert.Equal(t, Price32nd{Whole: 99, ThirtySecond: 16, Half32nd: 0}, p)
	assert.InDelta(t, 99.5, p.ToDecimal(), 1.0/128)
}

func TestFromDecimal_HalfThirtySecond(t *testing.T) {
	p := FromDecimal(100.0 + 1.0/64)
	assert.Equal(t, Price32nd{Whole: 100, ThirtySecond: 0, Half32nd: 1}, p)
}

func TestFromDecimal_NegativeClampsToZero(t *testing.T) {
	p := FromDecimal(-5)
	assert.Equal(t, Zero, p)
}

func TestPrice32nd_CompareTotalOrder(t *testing.T) {
	low := Price32nd{Whole: 99, ThirtySecond: 16, Half32nd: 0}
	high := Price32nd{Whole: 99, ThirtySecond: 16, Half32nd: 1}
	higher := Price32nd{Whole: 100, ThirtySecond: 0, Half32nd: 0}

	assert.True(t, low.Less(high))
	assert.True(t, high.Less(higher))
	assert.True(t, low.Less(higher))
	assert.True(t, low.Equal(low))
	assert.False(t, high.Less(low))
}

func TestPrice32nd_IsAligned(t *testing.T) {
	assert.True(t, Price32nd{Whole: 1, ThirtySecond: 5, Half32nd: 0}.IsAligned())
	assert.False(t, Price32nd{Whole: 1, ThirtySecond: 5, Half32nd: 1}.IsAligned())
}

func TestRoundBidDown(t *testing.T) {
	p := Price32nd{Whole: 99, ThirtySecond: 16, Half32nd: 1}
	assert.Equal(t, Price32nd{Whole: 99, ThirtySecond: 16, Half32nd: 0}, RoundBidDown(p))
	aligned := Price32nd{Whole: 99, ThirtySecond: 16, Half32nd: 0}
	assert.Equal(t, aligned, RoundBidDown(aligned))
}

func TestRoundAskUp(t *testing.T) {
	p := Price32nd{Whole: 99, ThirtySecond: 16, Half32nd: 1}
	assert.Equal(t, Price32nd{Whole: 99, ThirtySecond: 17, Half32nd: 0}, RoundAskUp(p))
}

func TestRoundAskUp_CarriesIntoWhole(t *testing.T) {
	p := Price32nd{Whole: 99, ThirtySecond: 31, Half32nd: 1}
	assert.Equal(t, Price32nd{Whole: 100, ThirtySecond: 0, Half32nd: 0}, RoundAskUp(p))
}

func TestSub64ths(t *testing.T) {
	a := Price32nd{Whole: 100, ThirtySecond: 0, Half32nd: 0}
	b := Price32nd{Whole: 99, ThirtySecond: 31, Half32nd: 1}
	assert.Equal(t, int64(1), Sub64ths(a, b))
	assert.Equal(t, int64(-1), Sub64ths(b, a))
}

func TestP1_RoundTripWithinOneOneTwentyEighth(t *testing.T) {
	for cents := 0; cents <= 100000; cents += 137 {
		d := float64(cents) / 100.0
		got := FromDecimal(d).ToDecimal()
		assert.InDelta(t, d, got, 1.0/128, "round-trip must stay within 1/128 of %f", d)
	}
}
