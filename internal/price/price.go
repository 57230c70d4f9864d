// Package price implements the 32nd-fractional Treasury price
// representation: an exact (whole, thirty_seconds, half_32nds) triple
// instead of a floating-point decimal, so price comparison and ladder
// ordering never suffer float rounding drift.
package price

import "math"

// Price32nd is an exact Treasury price: whole + thirty_seconds/32 +
// half_32nds/64. thirty_seconds must be in [0,32) and half_32nds in
// {0,1}; FromDecimal and the rounding helpers below always produce values in
// that range.
type Price32nd struct {
	Whole        uint32
	ThirtySecond uint8
	Half32nd     uint8
}

// Zero is the price representing 0.0.
var Zero = Price32nd{}

// FromDecimal rounds d to the nearest 1/64 and returns the corresponding
// Price32nd. Negative input is clamped to Zero. Pure function: identical
// input always yields identical output.
func FromDecimal(d float64) Price32nd {
	if d < 0 {
		d = 0
	}
	sixtyFourths := math.Round(d * 64)
	whole := uint32(sixtyFourths) / 64
	rem := uint32(sixtyFourths) % 64
	return Price32nd{
		Whole:        whole,
		ThirtySecond: uint8(rem / 2),
		Half32nd:     uint8(rem % 2),
	}
}

// ToDecimal returns the exact decimal value on the representable lattice.
func (p Price32nd) ToDecimal() float64 {
	return float64(p.Whole) + float64(p.ThirtySecond)/32 + float64(p.Half32nd)/64
}

// Compare returns -1, 0, or 1 using lexicographic order on
// (whole, thirty_seconds, half_32nds), which is total and consistent
// with numeric order on the representable lattice.
func (p Price32nd) Compare(other Price32nd) int {
	if p.Whole != other.Whole {
		if p.Whole < other.Whole {
			return -1
		}
		return 1
	}
	if p.ThirtySecond != other.ThirtySecond {
		if p.ThirtySecond < other.ThirtySecond {
			return -1
		}
		return 1
	}
	if p.Half32nd != other.Half32nd {
		if p.Half32nd < other.Half32nd {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether p is strictly less than other.
func (p Price32nd) Less(other Price32nd) bool { return p.Compare(other) < 0 }

// Equal reports whether p and other represent the same price.
func (p Price32nd) Equal(other Price32nd) bool { return p.Compare(other) == 0 }

// IsAligned reports whether p sits exactly on the 32nd grid (no half-32nd
// remainder).
func (p Price32nd) IsAligned() bool { return p.Half32nd == 0 }

// RoundBidDown snaps p to the next 32nd at or below its value, the
// rounding policy quote validation requires for bid prices.
func RoundBidDown(p Price32nd) Price32nd {
	if p.Half32nd == 0 {
		return p
	}
	return Price32nd{Whole: p.Whole, ThirtySecond: p.ThirtySecond, Half32nd: 0}
}

// RoundAskUp snaps p to the next 32nd at or above its value, the
// rounding policy quote validation requires for ask prices.
func RoundAskUp(p Price32nd) Price32nd {
	if p.Half32nd == 0 {
		return p
	}
	ts := p.ThirtySecond + 1
	whole := p.Whole
	if ts == 32 {
		ts = 0
		whole++
	}
	return Price32nd{Whole: whole, ThirtySecond: ts, Half32nd: 0}
}

// AddThirtySeconds returns p shifted by n thirty-seconds (n may be
// negative); results below zero clamp to Zero.
func AddThirtySeconds(p Price32nd, n int) Price32nd {
	total := int(p.Whole)*64 + int(p.ThirtySecond)*2 + int(p.Half32nd) + n*2
	if total < 0 {
		return Zero
	}
	return Price32nd{
		Whole:        uint32(total / 64),
		ThirtySecond: uint8((total % 64) / 2),
		Half32nd:     uint8(total % 2),
	}
}

// Sub64ths returns p - q as a signed number of sixty-fourths (1/64 units),
// useful for threshold comparisons like "|Δbid| < 0.5/32".
func Sub64ths(p, q Price32nd) int64 {
	pv := int64(p.Whole)*64 + int64(p.ThirtySecond)*2 + int64(p.Half32nd)
	qv := int64(q.Whole)*64 + int64(q.ThirtySecond)*2 + int64(q.Half32nd)
	return pv - qv
}
