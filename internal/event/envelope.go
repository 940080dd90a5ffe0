package event

import (
	"OriumLedger/internal/ledger"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// OpType discriminator for inbound operations
type OpType int32

const (
	OpTypeUnknown OpType = iota
	OpTypeCreateCdp
	OpTypeDepositCollateral
	OpTypeWithdrawCollateral
	OpTypeMintDebt
	OpTypeRepayDebt
	OpTypeLiquidate
	OpTypeUpdatePrice
	OpTypeTransfer
	OpTypeApprove
	OpTypeTransferFrom
	OpTypeMint
	OpTypeBurn
)

var opTypeNames = map[OpType]string{
	OpTypeCreateCdp:          "create_cdp",
	OpTypeDepositCollateral:  "deposit_collateral",
	OpTypeWithdrawCollateral: "withdraw_collateral",
	OpTypeMintDebt:           "mint_debt",
	OpTypeRepayDebt:          "repay_debt",
	OpTypeLiquidate:          "liquidate",
	OpTypeUpdatePrice:        "update_price",
	OpTypeTransfer:           "transfer",
	OpTypeApprove:            "approve",
	OpTypeTransferFrom:       "transfer_from",
	OpTypeMint:               "mint",
	OpTypeBurn:               "burn",
}

func (t OpType) String() string {
	if name, ok := opTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseOpType maps a wire name such as "create_cdp" to its OpType.
func ParseOpType(s string) (OpType, bool) {
	for t, name := range opTypeNames {
		if name == s {
			return t, true
		}
	}
	return OpTypeUnknown, false
}

// OriginKind distinguishes signed accounts from the privileged root.
type OriginKind uint8

const (
	OriginSigned OriginKind = iota
	OriginRoot
)

// Origin is the authenticated caller of an operation.
// On the wire it is "root" or "signed:<account>".
type Origin struct {
	Kind    OriginKind
	Account ledger.AccountID
}

func Signed(account ledger.AccountID) Origin {
	return Origin{Kind: OriginSigned, Account: account}
}

func Root() Origin {
	return Origin{Kind: OriginRoot}
}

func (o Origin) String() string {
	if o.Kind == OriginRoot {
		return "root"
	}
	return fmt.Sprintf("signed:%s", o.Account)
}

func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Origin) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "root" {
		*o = Root()
		return nil
	}
	rest, ok := strings.CutPrefix(s, "signed:")
	if !ok {
		return fmt.Errorf("event: invalid origin %q", s)
	}
	acct, err := ledger.ParseAccountID(rest)
	if err != nil {
		return fmt.Errorf("event: invalid origin %q: %w", s, err)
	}
	*o = Signed(acct)
	return nil
}

// Header carries the fields common to every operation.
type Header struct {
	OpID     uuid.UUID `json:"op_id"`
	Origin   Origin    `json:"origin"`
	Height   uint64    `json:"height"`
	Sequence int64     `json:"sequence"`
}

func (h *Header) IdempotencyKey() string { return h.OpID.String() }
func (h *Header) SourceSequence() int64  { return h.Sequence }
func (h *Header) OpOrigin() Origin       { return h.Origin }
func (h *Header) BlockHeight() uint64    { return h.Height }

// Op is the interface all inbound operations implement
type Op interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	OpType() OpType

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	OpOrigin() Origin

	// BlockHeight is the versioned height the op executes at.
	// The core never reads wall-clock time.
	BlockHeight() uint64
}

// Outcome records whether an op was applied.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// OpEnvelope wraps every processed op in the log
type OpEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	IdempotencyKey string
	OpType         OpType
	Origin         Origin
	Height         uint64
	SourceSequence int64

	Outcome      Outcome
	RejectReason string

	// JSON-encoded op body
	Payload []byte

	// Events emitted by the op, empty when rejected
	Events []Emitted

	// SHA-256 of state AFTER applying this op
	StateHash [32]byte

	// Previous op's state hash (chain integrity)
	PrevHash [32]byte
}
