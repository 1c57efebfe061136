package math

import (
	"fmt"
	"math/big"
)

// Normalized precision: all pooled arithmetic runs on 18-decimal amounts.
const NormalizedDecimals = 18

// PercentageBase is the fixed-point denominator for percentages: 10^27 == 100%.
// A commission of 30% is therefore 3 * 10^26.
var PercentageBase = pow10(27)

var (
	normalizedScale = pow10(NormalizedDecimals)
	zero            = big.NewInt(0)
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// RoundingMode selects the direction a truncated quotient is adjusted.
type RoundingMode int

const (
	RoundDown RoundingMode = iota // floor (default for all pro-rata splits)
	RoundUp
)

// MulDiv computes a * b / denom with the intermediate product kept at full
// precision. Every proportional split in the ledger goes through here —
// never divide twice.
func MulDiv(a, b, denom *big.Int, mode RoundingMode) *big.Int {
	if denom.Sign() == 0 {
		panic("math: MulDiv by zero denominator")
	}

	num := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(num, denom, new(big.Int))

	if mode == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}

	return quo
}

// Ratio computes amount * num / denom rounding down.
func Ratio(amount, num, denom *big.Int) *big.Int {
	return MulDiv(amount, num, denom, RoundDown)
}

// Percentage applies a PercentageBase-scaled percentage to an amount,
// rounding down.
func Percentage(amount, percent *big.Int) *big.Int {
	return MulDiv(amount, percent, PercentageBase, RoundDown)
}

// Normalize converts an amount in a token's native precision to 18-decimal
// normalized units.
func Normalize(amount *big.Int, nativeDecimals uint8) *big.Int {
	switch {
	case nativeDecimals == NormalizedDecimals:
		return new(big.Int).Set(amount)
	case nativeDecimals < NormalizedDecimals:
		return new(big.Int).Mul(amount, pow10(NormalizedDecimals-int(nativeDecimals)))
	default:
		return new(big.Int).Quo(amount, pow10(int(nativeDecimals)-NormalizedDecimals))
	}
}

// Denormalize converts an 18-decimal normalized amount back to a token's
// native precision, rounding down. Dust below the native precision stays in
// the pool rather than being paid out.
func Denormalize(amount *big.Int, nativeDecimals uint8) *big.Int {
	switch {
	case nativeDecimals == NormalizedDecimals:
		return new(big.Int).Set(amount)
	case nativeDecimals < NormalizedDecimals:
		return new(big.Int).Quo(amount, pow10(NormalizedDecimals-int(nativeDecimals)))
	default:
		return new(big.Int).Mul(amount, pow10(int(nativeDecimals)-NormalizedDecimals))
	}
}

// ParseAmount parses a base-10 amount string into a big.Int. Wire payloads
// carry amounts as strings because normalized values exceed int64.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// IsZero reports whether v is nil or zero. Nil amounts appear where a wire
// payload omitted an optional field.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Clone returns a defensive copy, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Min returns the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
