package state

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
)

// Endowment is an initial balance minted before the first operation.
type Endowment struct {
	Account ledger.AccountID `toml:"account" json:"account"`
	Asset   ledger.Asset     `toml:"asset" json:"asset"`
	Amount  fpmath.Amount    `toml:"amount" json:"amount"`
}

// Genesis is the initial protocol state applied to an empty core.
type Genesis struct {
	Params     Params                   `toml:"params" json:"params"`
	Prices     map[string]fpmath.Amount `toml:"prices" json:"prices"`
	Endowments []Endowment              `toml:"endowments" json:"endowments"`
}

func DefaultGenesis() Genesis {
	return Genesis{
		Params: DefaultParams(),
		Prices: map[string]fpmath.Amount{},
	}
}
