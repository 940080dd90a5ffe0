package query

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// BalanceResponse is one account's holdings of one asset.
type BalanceResponse struct {
	Account  uint64 `json:"account"`
	Asset    string `json:"asset"`
	Free     string `json:"free"`
	Reserved string `json:"reserved"` // collateral locked in a CDP (ORM only)
	Total    string `json:"total"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// GetBalance returns the free and reserved balance of account. Unknown
// accounts report zero.
func (qs *QueryService) GetBalance(ctx context.Context, asset ledger.Asset, account ledger.AccountID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT kind, amount
		FROM projections.balances
		WHERE asset = $1 AND account = $2
	`, asset.String(), int64(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var free, reserved fpmath.Amount
	for rows.Next() {
		var kind string
		var amount decimal.Decimal
		if err := rows.Scan(&kind, &amount); err != nil {
			return nil, err
		}
		a, err := toAmount(amount)
		if err != nil {
			return nil, err
		}
		if kind == ledger.BalanceReserved.String() {
			reserved = a
		} else {
			free = a
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Account:      uint64(account),
		Asset:        asset.String(),
		Free:         free.String(),
		Reserved:     reserved.String(),
		Total:        free.SaturatingAdd(reserved).String(),
		AsOfSequence: asOfSeq,
	}, nil
}

// toAmount converts a scanned NUMERIC(39,0) into an Amount.
func toAmount(d decimal.Decimal) (fpmath.Amount, error) {
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return fpmath.Amount{}, fmt.Errorf("query: %s is not a u128 amount", d)
	}
	return fpmath.ParseAmount(d.BigInt().String())
}
