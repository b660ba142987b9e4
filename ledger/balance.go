package ledger

import (
	"math"
	"math/bits"
	"strconv"
)

// Balance is an amount in the smallest currency unit.
type Balance uint64

// Unit is one whole token.
const Unit Balance = 1_000_000_000_000

// Add returns b+o, saturating at the maximum balance.
func (b Balance) Add(o Balance) Balance {
	sum, carry := bits.Add64(uint64(b), uint64(o), 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return Balance(sum)
}

// Sub returns b-o, saturating at zero.
func (b Balance) Sub(o Balance) Balance {
	if o >= b {
		return 0
	}
	return b - o
}

// Mul returns b*n, saturating at the maximum balance.
func (b Balance) Mul(n uint64) Balance {
	hi, lo := bits.Mul64(uint64(b), n)
	if hi != 0 {
		return math.MaxUint64
	}
	return Balance(lo)
}

// Percent returns b*pct/100 with truncating division. The intermediate
// product is 128 bits wide so large balances do not wrap.
func (b Balance) Percent(pct uint64) Balance {
	hi, lo := bits.Mul64(uint64(b), pct)
	if hi >= 100 {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, 100)
	return Balance(q)
}

// Min returns the smaller of b and o.
func (b Balance) Min(o Balance) Balance {
	if o < b {
		return o
	}
	return b
}

func (b Balance) String() string {
	return strconv.FormatUint(uint64(b), 10)
}
