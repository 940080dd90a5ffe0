package math

import (
	"errors"
	"fmt"
	stdmath "math"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidAmount  = errors.New("math: invalid amount")
	ErrAmountOverflow = errors.New("math: amount exceeds u128")
)

// maxU128 is 2^128-1. uint256.Int limbs are little-endian.
var maxU128 = uint256.Int{stdmath.MaxUint64, stdmath.MaxUint64, 0, 0}

// Amount is an unsigned 128-bit quantity with saturating arithmetic.
// The zero value is 0. Amount is a plain value and safe to compare with ==.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding u.
func NewAmount(u uint64) Amount {
	var a Amount
	a.v.SetUint64(u)
	return a
}

// MaxAmount returns 2^128-1.
func MaxAmount() Amount {
	return Amount{v: maxU128}
}

// ParseAmount parses a base-10 string. Values above 2^128-1 are rejected
// rather than clamped: inputs are never silently rewritten.
func ParseAmount(s string) (Amount, error) {
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	var a Amount
	if err := a.v.SetFromDecimal(s); err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	if a.v.Gt(&maxU128) {
		return Amount{}, fmt.Errorf("%w: %s", ErrAmountOverflow, s)
	}
	return a, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func clamp(z *uint256.Int) Amount {
	if z.Gt(&maxU128) {
		return Amount{v: maxU128}
	}
	return Amount{v: *z}
}

// SaturatingAdd returns min(a+b, 2^128-1).
func (a Amount) SaturatingAdd(b Amount) Amount {
	var z uint256.Int
	z.Add(&a.v, &b.v) // both < 2^128, cannot wrap 256 bits
	return clamp(&z)
}

// CheckedAdd returns a+b and false when the sum exceeds 2^128-1.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	var z uint256.Int
	z.Add(&a.v, &b.v)
	if z.Gt(&maxU128) {
		return Amount{}, false
	}
	return Amount{v: z}, true
}

// SaturatingSub returns max(a-b, 0).
func (a Amount) SaturatingSub(b Amount) Amount {
	if a.v.Lt(&b.v) {
		return Amount{}
	}
	var z uint256.Int
	z.Sub(&a.v, &b.v)
	return Amount{v: z}
}

// SaturatingMul returns min(a*b, 2^128-1).
func (a Amount) SaturatingMul(b Amount) Amount {
	var z uint256.Int
	z.Mul(&a.v, &b.v) // both < 2^128, product < 2^256
	return clamp(&z)
}

// Div returns a/b rounded down. A zero divisor yields zero; callers that
// care must check IsZero on the divisor first.
func (a Amount) Div(b Amount) Amount {
	if b.v.IsZero() {
		return Amount{}
	}
	var z uint256.Int
	z.Div(&a.v, &b.v)
	return Amount{v: z}
}

func (a Amount) Cmp(b Amount) int { return a.v.Cmp(&b.v) }
func (a Amount) Lt(b Amount) bool { return a.v.Lt(&b.v) }
func (a Amount) Gt(b Amount) bool { return a.v.Gt(&b.v) }
func (a Amount) Gte(b Amount) bool { return !a.v.Lt(&b.v) }
func (a Amount) IsZero() bool     { return a.v.IsZero() }
func (a Amount) IsMax() bool      { return a.v.Eq(&maxU128) }

// Uint64 returns the value and whether it fit in 64 bits.
func (a Amount) Uint64() (uint64, bool) {
	return a.v.Uint64(), a.v.IsUint64()
}

// Big returns a fresh big.Int copy.
func (a Amount) Big() *big.Int {
	return a.v.ToBig()
}

// Float64 is a lossy view for metrics gauges.
func (a Amount) Float64() float64 {
	f, _ := new(big.Float).SetInt(a.Big()).Float64()
	return f
}

func (a Amount) String() string {
	return a.v.Dec()
}

// Bytes16 returns the 16-byte big-endian encoding, used for state digests.
func (a Amount) Bytes16() [16]byte {
	var out [16]byte
	b32 := a.v.Bytes32()
	copy(out[:], b32[16:])
	return out
}

// MarshalText encodes as a decimal string so JSON and TOML carry full precision.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	parsed, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
