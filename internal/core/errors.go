package core

import (
	"OriumLedger/internal/ledger"
	"errors"
)

var (
	ErrCdpNotFound            = errors.New("core: cdp not found")
	ErrCdpAlreadyExists       = errors.New("core: cdp already exists")
	ErrInsufficientCollateral = errors.New("core: insufficient collateral")
	ErrCollateralRatioTooLow  = errors.New("core: collateral ratio too low")
	ErrInsufficientDebt       = errors.New("core: insufficient debt")
	ErrPriceNotAvailable      = errors.New("core: price not available")
	ErrNotAuthorized          = errors.New("core: not authorized")
	ErrCdpNotLiquidatable     = errors.New("core: cdp not liquidatable")
	ErrUnsupportedAsset       = errors.New("core: unsupported asset")
	ErrUnknownOp              = errors.New("core: unknown op type")
	ErrDebtOverflow           = errors.New("core: total debt would exceed u128")
)

var rejectReasons = []struct {
	err    error
	reason string
}{
	{ErrCdpNotFound, "cdp_not_found"},
	{ErrCdpAlreadyExists, "cdp_already_exists"},
	{ErrInsufficientCollateral, "insufficient_collateral"},
	{ErrCollateralRatioTooLow, "collateral_ratio_too_low"},
	{ErrInsufficientDebt, "insufficient_debt"},
	{ErrPriceNotAvailable, "price_not_available"},
	{ErrNotAuthorized, "not_authorized"},
	{ErrCdpNotLiquidatable, "cdp_not_liquidatable"},
	{ErrUnsupportedAsset, "unsupported_asset"},
	{ErrUnknownOp, "unknown_op"},
	{ErrDebtOverflow, "debt_overflow"},
	{ledger.ErrInsufficientBalance, "insufficient_balance"},
	{ledger.ErrInsufficientAllowance, "insufficient_allowance"},
	{ledger.ErrSelfTransfer, "self_transfer"},
	{ledger.ErrInsufficientReserved, "insufficient_reserved"},
	{ledger.ErrSupplyOverflow, "supply_overflow"},
}

// RejectReason returns the metric/log label for a domain error.
// ok is false for errors outside the domain taxonomy.
func RejectReason(err error) (reason string, ok bool) {
	for _, r := range rejectReasons {
		if errors.Is(err, r.err) {
			return r.reason, true
		}
	}
	return "internal", false
}
