package event

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
)

type CreateCdp struct {
	Header
	Collateral fpmath.Amount `json:"collateral"`
}

func (o *CreateCdp) OpType() OpType { return OpTypeCreateCdp }

type DepositCollateral struct {
	Header
	Amount fpmath.Amount `json:"amount"`
}

func (o *DepositCollateral) OpType() OpType { return OpTypeDepositCollateral }

type WithdrawCollateral struct {
	Header
	Amount fpmath.Amount `json:"amount"`
}

func (o *WithdrawCollateral) OpType() OpType { return OpTypeWithdrawCollateral }

// MintDebt borrows Amount of a stablecoin against the signer's position.
type MintDebt struct {
	Header
	Asset  ledger.Asset  `json:"asset"`
	Amount fpmath.Amount `json:"amount"`
}

func (o *MintDebt) OpType() OpType { return OpTypeMintDebt }

type RepayDebt struct {
	Header
	Asset  ledger.Asset  `json:"asset"`
	Amount fpmath.Amount `json:"amount"`
}

func (o *RepayDebt) OpType() OpType { return OpTypeRepayDebt }

// Liquidate seizes the whole position of Target for the signer.
type Liquidate struct {
	Header
	Target ledger.AccountID `json:"target"`
}

func (o *Liquidate) OpType() OpType { return OpTypeLiquidate }

// UpdatePrice is root-only. Symbol is e.g. "ORM/USD".
type UpdatePrice struct {
	Header
	Symbol string        `json:"symbol"`
	Price  fpmath.Amount `json:"price"`
}

func (o *UpdatePrice) OpType() OpType { return OpTypeUpdatePrice }
