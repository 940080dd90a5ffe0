package state

import (
	fpmath "OriumLedger/internal/math"
	"errors"
	"fmt"
)

var ErrInvalidParams = errors.New("state: invalid params")

// Params are the engine thresholds. Ratios are in basis points
// (15000 = 150%). PriceScale is the fixed-point unit of oracle prices.
type Params struct {
	MinCollateralRatio uint32        `toml:"min_collateral_ratio" json:"min_collateral_ratio"`
	LiquidationRatio   uint32        `toml:"liquidation_ratio" json:"liquidation_ratio"`
	PriceScale         fpmath.Amount `toml:"price_scale" json:"price_scale"`
	// StabilityFee is stored for governance tooling and not accrued.
	StabilityFee uint32 `toml:"stability_fee" json:"stability_fee"`
}

const (
	DefaultMinCollateralRatio = 15_000
	DefaultLiquidationRatio   = 13_000
	DefaultPriceScale         = 100_000
)

func DefaultParams() Params {
	return Params{
		MinCollateralRatio: DefaultMinCollateralRatio,
		LiquidationRatio:   DefaultLiquidationRatio,
		PriceScale:         fpmath.NewAmount(DefaultPriceScale),
	}
}

// ValidateParams checks liquidation_ratio > 0, min >= liquidation and
// price_scale > 0.
func ValidateParams(p Params) error {
	if p.LiquidationRatio == 0 {
		return fmt.Errorf("%w: liquidation_ratio must be > 0", ErrInvalidParams)
	}
	if p.MinCollateralRatio < p.LiquidationRatio {
		return fmt.Errorf("%w: min_collateral_ratio (%d) must be >= liquidation_ratio (%d)",
			ErrInvalidParams, p.MinCollateralRatio, p.LiquidationRatio)
	}
	if p.PriceScale.IsZero() {
		return fmt.Errorf("%w: price_scale must be > 0", ErrInvalidParams)
	}
	return nil
}
