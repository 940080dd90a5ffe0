package event

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
)

// Direct ledger operations. The signer is the source account unless noted.

type Transfer struct {
	Header
	Asset  ledger.Asset     `json:"asset"`
	To     ledger.AccountID `json:"to"`
	Amount fpmath.Amount    `json:"amount"`
}

func (o *Transfer) OpType() OpType { return OpTypeTransfer }

type Approve struct {
	Header
	Asset   ledger.Asset     `json:"asset"`
	Spender ledger.AccountID `json:"spender"`
	Amount  fpmath.Amount    `json:"amount"`
}

func (o *Approve) OpType() OpType { return OpTypeApprove }

// TransferFrom is signed by the spender.
type TransferFrom struct {
	Header
	Asset  ledger.Asset     `json:"asset"`
	From   ledger.AccountID `json:"from"`
	To     ledger.AccountID `json:"to"`
	Amount fpmath.Amount    `json:"amount"`
}

func (o *TransferFrom) OpType() OpType { return OpTypeTransferFrom }

// Mint is root-only.
type Mint struct {
	Header
	Asset  ledger.Asset     `json:"asset"`
	To     ledger.AccountID `json:"to"`
	Amount fpmath.Amount    `json:"amount"`
}

func (o *Mint) OpType() OpType { return OpTypeMint }

type Burn struct {
	Header
	Asset  ledger.Asset  `json:"asset"`
	Amount fpmath.Amount `json:"amount"`
}

func (o *Burn) OpType() OpType { return OpTypeBurn }
