package event

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"fmt"
)

// Kind discriminator for emitted events
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCdpCreated
	KindCollateralDeposited
	KindCollateralWithdrawn
	KindDusdMinted
	KindDeurMinted
	KindDusdRepaid
	KindDeurRepaid
	KindCdpLiquidated
	KindPriceUpdated
	KindTransfer
	KindMint
	KindBurn
	KindApproval
)

var kindNames = [...]string{
	KindUnknown:             "Unknown",
	KindCdpCreated:          "CdpCreated",
	KindCollateralDeposited: "CollateralDeposited",
	KindCollateralWithdrawn: "CollateralWithdrawn",
	KindDusdMinted:          "DusdMinted",
	KindDeurMinted:          "DeurMinted",
	KindDusdRepaid:          "DusdRepaid",
	KindDeurRepaid:          "DeurRepaid",
	KindCdpLiquidated:       "CdpLiquidated",
	KindPriceUpdated:        "PriceUpdated",
	KindTransfer:            "Transfer",
	KindMint:                "Mint",
	KindBurn:                "Burn",
	KindApproval:            "Approval",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for i, name := range kindNames {
		if name == string(text) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("event: unknown kind %q", text)
}

// Emitted is a domain event produced by a successful op. Only the fields
// relevant to Kind are set:
//
//	CdpCreated                  Owner, Amount (collateral)
//	Collateral*, *Minted, *Repaid Owner, Amount
//	CdpLiquidated               Owner, Liquidator, Amount (collateral seized)
//	PriceUpdated                Symbol, Amount (price)
//	Transfer/Mint/Burn/Approval Asset, From, To, Spender, Amount
type Emitted struct {
	Kind       Kind             `json:"kind"`
	Owner      ledger.AccountID `json:"owner,omitempty"`
	Liquidator ledger.AccountID `json:"liquidator,omitempty"`
	Symbol     string           `json:"symbol,omitempty"`
	Asset      string           `json:"asset,omitempty"`
	From       ledger.AccountID `json:"from,omitempty"`
	To         ledger.AccountID `json:"to,omitempty"`
	Spender    ledger.AccountID `json:"spender,omitempty"`
	Amount     fpmath.Amount    `json:"amount"`
}

// FromLedger converts a ledger event into its emitted form.
func FromLedger(e ledger.Event) Emitted {
	out := Emitted{
		Asset:   e.Asset.String(),
		From:    e.From,
		To:      e.To,
		Spender: e.Spender,
		Amount:  e.Amount,
	}
	switch e.Kind {
	case ledger.EventTransfer:
		out.Kind = KindTransfer
	case ledger.EventMint:
		out.Kind = KindMint
	case ledger.EventBurn:
		out.Kind = KindBurn
	case ledger.EventApproval:
		out.Kind = KindApproval
	}
	return out
}

// DebtMinted returns DusdMinted or DeurMinted for asset.
func DebtMinted(asset ledger.Asset) Kind {
	if asset == ledger.AssetDEUR {
		return KindDeurMinted
	}
	return KindDusdMinted
}

// DebtRepaid returns DusdRepaid or DeurRepaid for asset.
func DebtRepaid(asset ledger.Asset) Kind {
	if asset == ledger.AssetDEUR {
		return KindDeurRepaid
	}
	return KindDusdRepaid
}
