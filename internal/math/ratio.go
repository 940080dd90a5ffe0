package math

import (
	"github.com/shopspring/decimal"
)

// BasisPoints is 100% expressed in basis points.
const BasisPoints = 10_000

var basisPoints = NewAmount(BasisPoints)

// CollateralValue converts a collateral quantity to numeraire value:
// collateral * priceA / priceScale, saturating at every step.
func CollateralValue(collateral, priceA, priceScale Amount) Amount {
	return collateral.SaturatingMul(priceA).Div(priceScale)
}

// DebtValue returns debtA + debtB*priceB/priceA. debtA is already
// numeraire-denominated; debtB is cross-converted through priceA.
// priceA must be non-zero.
func DebtValue(debtA, debtB, priceA, priceB Amount) Amount {
	converted := debtB.SaturatingMul(priceB).Div(priceA)
	return debtA.SaturatingAdd(converted)
}

// RatioBp returns collateralValue*10000/debtValue. ok is false when there is
// no debt, in which case the ratio is unbounded.
func RatioBp(collateralValue, debtValue Amount) (ratio Amount, ok bool) {
	if debtValue.IsZero() {
		return Amount{}, false
	}
	return collateralValue.SaturatingMul(basisPoints).Div(debtValue), true
}

// FormatScaled renders a fixed-point amount as a decimal string, e.g.
// FormatScaled(129000, 100000) == "1.29".
func FormatScaled(a, scale Amount) string {
	if scale.IsZero() {
		return a.String()
	}
	num := decimal.NewFromBigInt(a.Big(), 0)
	den := decimal.NewFromBigInt(scale.Big(), 0)
	return num.Div(den).String()
}

// FormatBasisPoints renders a ratio in basis points as a percentage with two
// decimals, e.g. 16666 -> "166.66".
func FormatBasisPoints(bp Amount) string {
	return decimal.NewFromBigInt(bp.Big(), -2).StringFixed(2)
}
