package ledger

import (
	fpmath "OriumLedger/internal/math"
	"fmt"
)

// InvariantValidator checks supply conservation across ledgers.
type InvariantValidator struct {
	ledgers []*Ledger
}

func NewInvariantValidator(ledgers ...*Ledger) *InvariantValidator {
	return &InvariantValidator{
		ledgers: ledgers,
	}
}

// ValidateSupply verifies Σ free + Σ reserved == total_supply for one ledger.
// Stablecoins never hold reserved funds, so for them this reduces to
// Σ balances == total_supply.
func (v *InvariantValidator) ValidateSupply(l *Ledger) error {
	free, reserved := l.SumBalances()
	sum := free.SaturatingAdd(reserved)
	if sum != l.TotalSupply() {
		return fmt.Errorf("%s supply mismatch: free=%s reserved=%s total_supply=%s",
			l.Asset(), free, reserved, l.TotalSupply())
	}
	return nil
}

// ValidateAll runs ValidateSupply on every registered ledger.
func (v *InvariantValidator) ValidateAll() error {
	for _, l := range v.ledgers {
		if err := v.ValidateSupply(l); err != nil {
			return err
		}
	}
	return nil
}

// ValidateReserved verifies that the ledger's Σ reserved equals the
// collateral the CDP store reports as locked.
func (v *InvariantValidator) ValidateReserved(l *Ledger, locked fpmath.Amount) error {
	_, reserved := l.SumBalances()
	if reserved != locked {
		return fmt.Errorf("%s reserved %s does not match locked collateral %s", l.Asset(), reserved, locked)
	}
	return nil
}
