package state

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
)

// Position is a collateralized debt position. Collateral is held as
// reserved ORM on the owner's account; DebtA is dUSD, DebtB is dEUR.
type Position struct {
	Owner      ledger.AccountID `json:"owner"`
	Collateral fpmath.Amount    `json:"collateral"`
	DebtA      fpmath.Amount    `json:"debt_a"`
	DebtB      fpmath.Amount    `json:"debt_b"`
	LastUpdate uint64           `json:"last_update"`
}

// Debt returns the outstanding debt denominated in asset.
func (p Position) Debt(asset ledger.Asset) fpmath.Amount {
	switch asset {
	case ledger.AssetDUSD:
		return p.DebtA
	case ledger.AssetDEUR:
		return p.DebtB
	default:
		return fpmath.Amount{}
	}
}

// WithDebt returns a copy of p with the debt in asset replaced.
func (p Position) WithDebt(asset ledger.Asset, debt fpmath.Amount) Position {
	switch asset {
	case ledger.AssetDUSD:
		p.DebtA = debt
	case ledger.AssetDEUR:
		p.DebtB = debt
	}
	return p
}

func (p Position) HasDebt() bool {
	return !p.DebtA.IsZero() || !p.DebtB.IsZero()
}
