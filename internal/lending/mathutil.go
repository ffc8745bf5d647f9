package lending

import (
	"math"

	"github.com/holiman/uint256"
)

// mulDiv computes a*b/d in 256-bit precision. ok is false when d is zero.
// The result saturates at MaxUint64.
func mulDiv(a, b, d uint64) (uint64, bool) {
	if d == 0 {
		return 0, false
	}
	x := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	x.Div(x, uint256.NewInt(d))
	return saturate(x), true
}

// mulDivUp is mulDiv rounded towards positive infinity.
func mulDivUp(a, b, d uint64) (uint64, bool) {
	if d == 0 {
		return 0, false
	}
	x := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(x, uint256.NewInt(d), r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return saturate(q), true
}

func saturate(x *uint256.Int) uint64 {
	if !x.IsUint64() {
		return math.MaxUint64
	}
	return x.Uint64()
}

func satAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func satMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
