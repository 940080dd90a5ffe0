package ingestion

import (
	"OriumLedger/internal/event"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidOp wraps every decode failure so callers can tell bad input
// apart from transport errors.
var ErrInvalidOp = errors.New("ingestion: invalid op")

// Wire format is the JSON encoding of the event.* op structs plus an
// optional "op_type" discriminator:
//
//	{"op_type":"mint_debt","op_id":"<uuid>","origin":"signed:7",
//	 "height":12,"sequence":41,"asset":"dUSD","amount":"3000"}
//
// Amounts are base-10 strings so values beyond 2^53 survive JSON.
type opTypeJSON struct {
	OpType string `json:"op_type"`
}

// ParseRawOp decodes a NATS message. defaultType is used when the payload
// has no op_type.
func ParseRawOp(raw RawOp, defaultType string) (event.Op, error) {
	return ParseOp(raw.Data, defaultType)
}

// ParseOp decodes data into a typed op.
func ParseOp(data []byte, defaultType string) (event.Op, error) {
	var peek opTypeJSON
	if err := json.Unmarshal(data, &peek); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOp, err)
	}

	name := peek.OpType
	if name == "" {
		name = defaultType
	}
	opType, ok := event.ParseOpType(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown op type %q", ErrInvalidOp, name)
	}

	op := newOp(opType)
	if err := json.Unmarshal(data, op); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidOp, opType, err)
	}

	if op.IdempotencyKey() == uuid.Nil.String() {
		return nil, fmt.Errorf("%w: %s: missing op_id", ErrInvalidOp, opType)
	}
	return op, nil
}

func newOp(t event.OpType) event.Op {
	switch t {
	case event.OpTypeCreateCdp:
		return &event.CreateCdp{}
	case event.OpTypeDepositCollateral:
		return &event.DepositCollateral{}
	case event.OpTypeWithdrawCollateral:
		return &event.WithdrawCollateral{}
	case event.OpTypeMintDebt:
		return &event.MintDebt{}
	case event.OpTypeRepayDebt:
		return &event.RepayDebt{}
	case event.OpTypeLiquidate:
		return &event.Liquidate{}
	case event.OpTypeUpdatePrice:
		return &event.UpdatePrice{}
	case event.OpTypeTransfer:
		return &event.Transfer{}
	case event.OpTypeApprove:
		return &event.Approve{}
	case event.OpTypeTransferFrom:
		return &event.TransferFrom{}
	case event.OpTypeMint:
		return &event.Mint{}
	case event.OpTypeBurn:
		return &event.Burn{}
	}
	// ParseOpType never yields an unknown type
	panic(fmt.Sprintf("ingestion: no op for %v", t))
}

// EncodeOp renders op in wire format, including op_type.
func EncodeOp(op event.Op) ([]byte, error) {
	body, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op.OpType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op.OpType(), err)
	}
	fields["op_type"], _ = json.Marshal(op.OpType().String())
	return json.Marshal(fields)
}
