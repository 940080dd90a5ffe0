package query

import (
	"OriumLedger/internal/projection"
	"encoding/json"
)

// CdpResponse is a position with its ratio evaluated against the latest
// projected prices. All responses carry as_of_sequence for freshness.
type CdpResponse struct {
	Owner      uint64 `json:"owner"`
	Collateral string `json:"collateral"`
	DebtA      string `json:"debt_dusd"`
	DebtB      string `json:"debt_deur"`
	LastUpdate uint64 `json:"last_update"`

	// Derived at query time
	CollateralValue string `json:"collateral_value,omitempty"` // numeraire, decimal
	RatioBp         string `json:"ratio_bp,omitempty"`         // empty when no debt or no price
	RatioPercent    string `json:"ratio_percent,omitempty"`
	PriceAvailable  bool   `json:"price_available"`
	Liquidatable    bool   `json:"liquidatable"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// PriceResponse is one oracle price.
type PriceResponse struct {
	Symbol  string `json:"symbol"`
	Price   string `json:"price"`   // raw fixed-point
	Decimal string `json:"decimal"` // price / price_scale
}

type PricesResponse struct {
	Prices       []PriceResponse `json:"prices"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// TotalsResponse holds the aggregate counters and ledger supplies.
type TotalsResponse struct {
	TotalCollateral string `json:"total_collateral"`
	TotalDebtA      string `json:"total_debt_dusd"`
	TotalDebtB      string `json:"total_debt_deur"`
	SupplyORM       string `json:"supply_orm"`
	SupplyDUSD      string `json:"supply_dusd"`
	SupplyDEUR      string `json:"supply_deur"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// StatusResponse reports how far projections have caught up.
type StatusResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Height    uint64 `json:"height"`
}

// OpHistoryEntry is one logged op as returned to clients.
type OpHistoryEntry struct {
	Sequence     int64           `json:"sequence"`
	OpID         string          `json:"op_id"`
	OpType       string          `json:"op_type"`
	Origin       string          `json:"origin"`
	Height       int64           `json:"height"`
	Outcome      string          `json:"outcome"`
	RejectReason string          `json:"reject_reason,omitempty"`
	Events       json.RawMessage `json:"events"`
	StateHash    string          `json:"state_hash"`
}

type LiquidationsResponse struct {
	Liquidations []projection.LiquidationEntry `json:"liquidations"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy          bool             `json:"is_healthy"`
	HashChainBreaks    []int64          `json:"hash_chain_breaks,omitempty"`
	SupplyMismatches   []SupplyMismatch `json:"supply_mismatches,omitempty"`
	CollateralMismatch *SupplyMismatch  `json:"collateral_mismatch,omitempty"`
}

// SupplyMismatch is an asset whose projected balances do not add up to
// its projected supply.
type SupplyMismatch struct {
	Asset    string `json:"asset"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}
