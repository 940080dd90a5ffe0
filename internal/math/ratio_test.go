package math_test

import (
	fpmath "OriumLedger/internal/math"
	"testing"

	"github.com/stretchr/testify/assert"
)

var priceScale = fpmath.NewAmount(100_000)

func ratioOf(collateral, debtA, debtB, priceA, priceB uint64) (fpmath.Amount, bool) {
	pa := fpmath.NewAmount(priceA)
	cv := fpmath.CollateralValue(fpmath.NewAmount(collateral), pa, priceScale)
	dv := fpmath.DebtValue(fpmath.NewAmount(debtA), fpmath.NewAmount(debtB), pa, fpmath.NewAmount(priceB))
	return fpmath.RatioBp(cv, dv)
}

func TestRatioBp_ReferenceValues(t *testing.T) {
	tests := []struct {
		name                     string
		collateral, debtA, debtB uint64
		priceA, priceB           uint64
		want                     uint64
	}{
		{"5000 vs 3000 at 1.00", 5000, 3000, 0, 100_000, 80_000, 16666},
		{"5000 vs 3500 at 1.00", 5000, 3500, 0, 100_000, 80_000, 14285},
		{"10000 vs 7700 at 1.29", 10000, 7700, 0, 129_000, 80_000, 16753},
		{"10000 vs 7700 at 1.00", 10000, 7700, 0, 100_000, 80_000, 12987},
		{"4000 vs 2600 at 0.85", 4000, 2600, 0, 85_000, 80_000, 13076},
		{"4000 vs 2600 at 0.80", 4000, 2600, 0, 80_000, 80_000, 12307},
		{"multi-currency", 15000, 2000, 1500, 100_000, 80_000, 46875},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ratioOf(tt.collateral, tt.debtA, tt.debtB, tt.priceA, tt.priceB)
			assert.True(t, ok)
			assert.Equal(t, fpmath.NewAmount(tt.want), got)
		})
	}
}

func TestDebtValue_CrossConvertsThroughPriceA(t *testing.T) {
	got := fpmath.DebtValue(fpmath.NewAmount(2000), fpmath.NewAmount(1500),
		fpmath.NewAmount(100_000), fpmath.NewAmount(80_000))
	assert.Equal(t, fpmath.NewAmount(3200), got)
}

func TestRatioBp_NoDebtIsUnbounded(t *testing.T) {
	_, ok := fpmath.RatioBp(fpmath.NewAmount(1), fpmath.Amount{})
	assert.False(t, ok)
}

func TestCollateralValue_Saturates(t *testing.T) {
	got := fpmath.CollateralValue(fpmath.MaxAmount(), fpmath.MaxAmount(), fpmath.NewAmount(1))
	assert.True(t, got.IsMax())
}

func TestCollateralValue_WideScaleTruncates(t *testing.T) {
	wide := fpmath.MustParseAmount("1000000000000000000")
	got := fpmath.CollateralValue(fpmath.NewAmount(5000), fpmath.NewAmount(100_000), wide)
	assert.True(t, got.IsZero())
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "1.29", fpmath.FormatScaled(fpmath.NewAmount(129_000), priceScale))
	assert.Equal(t, "0.8", fpmath.FormatScaled(fpmath.NewAmount(80_000), priceScale))
	assert.Equal(t, "42", fpmath.FormatScaled(fpmath.NewAmount(42), fpmath.Amount{}))
	assert.Equal(t, "166.66", fpmath.FormatBasisPoints(fpmath.NewAmount(16666)))
	assert.Equal(t, "130.00", fpmath.FormatBasisPoints(fpmath.NewAmount(13000)))
}
