package math_test

import (
	fpmath "OriumLedger/internal/math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const maxU128Dec = "340282366920938463463374607431768211455"

func TestParseAmount(t *testing.T) {
	a, err := fpmath.ParseAmount("5000")
	require.NoError(t, err)
	assert.Equal(t, fpmath.NewAmount(5000), a)

	maxAmt, err := fpmath.ParseAmount(maxU128Dec)
	require.NoError(t, err)
	assert.True(t, maxAmt.IsMax())
	assert.Equal(t, maxU128Dec, maxAmt.String())

	_, err = fpmath.ParseAmount("340282366920938463463374607431768211456")
	require.ErrorIs(t, err, fpmath.ErrAmountOverflow)

	_, err = fpmath.ParseAmount("")
	require.ErrorIs(t, err, fpmath.ErrInvalidAmount)

	_, err = fpmath.ParseAmount("12abc")
	require.ErrorIs(t, err, fpmath.ErrInvalidAmount)
}

func TestSaturatingArithmetic(t *testing.T) {
	top := fpmath.MaxAmount()
	one := fpmath.NewAmount(1)

	tests := []struct {
		name string
		got  fpmath.Amount
		want fpmath.Amount
	}{
		{"add", fpmath.NewAmount(2).SaturatingAdd(fpmath.NewAmount(3)), fpmath.NewAmount(5)},
		{"add saturates", top.SaturatingAdd(one), top},
		{"add max+max", top.SaturatingAdd(top), top},
		{"sub", fpmath.NewAmount(5).SaturatingSub(fpmath.NewAmount(3)), fpmath.NewAmount(2)},
		{"sub floors at zero", fpmath.NewAmount(3).SaturatingSub(fpmath.NewAmount(5)), fpmath.Amount{}},
		{"mul", fpmath.NewAmount(6).SaturatingMul(fpmath.NewAmount(7)), fpmath.NewAmount(42)},
		{"mul saturates", top.SaturatingMul(fpmath.NewAmount(2)), top},
		{"mul max*max", top.SaturatingMul(top), top},
		{"div", fpmath.NewAmount(10).Div(fpmath.NewAmount(3)), fpmath.NewAmount(3)},
		{"div by zero", fpmath.NewAmount(10).Div(fpmath.Amount{}), fpmath.Amount{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestCheckedAdd(t *testing.T) {
	top := fpmath.MaxAmount()

	sum, ok := fpmath.NewAmount(2).CheckedAdd(fpmath.NewAmount(3))
	require.True(t, ok)
	assert.Equal(t, fpmath.NewAmount(5), sum)

	sum, ok = top.SaturatingSub(fpmath.NewAmount(1)).CheckedAdd(fpmath.NewAmount(1))
	require.True(t, ok)
	assert.True(t, sum.IsMax())

	_, ok = top.CheckedAdd(fpmath.NewAmount(1))
	assert.False(t, ok)
	_, ok = top.CheckedAdd(top)
	assert.False(t, ok)
}

func TestAmountComparisons(t *testing.T) {
	a := fpmath.NewAmount(10)
	b := fpmath.NewAmount(20)

	assert.True(t, a.Lt(b))
	assert.True(t, b.Gt(a))
	assert.True(t, b.Gte(a))
	assert.True(t, a.Gte(a))
	assert.Equal(t, -1, a.Cmp(b))
	assert.True(t, fpmath.Amount{}.IsZero())
}

func TestAmountTextRoundTrip(t *testing.T) {
	want := fpmath.MustParseAmount(maxU128Dec)
	text, err := want.MarshalText()
	require.NoError(t, err)

	var got fpmath.Amount
	require.NoError(t, got.UnmarshalText(text))
	assert.Equal(t, want, got)
}

func TestAmountBytes16(t *testing.T) {
	b := fpmath.NewAmount(0x0102).Bytes16()
	assert.Equal(t, byte(0x01), b[14])
	assert.Equal(t, byte(0x02), b[15])

	allOnes := fpmath.MaxAmount().Bytes16()
	for i, v := range allOnes {
		assert.Equalf(t, byte(0xff), v, "byte %d", i)
	}
}
