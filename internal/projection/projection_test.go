package projection_test

import (
	"OriumLedger/internal/projection"
	"OriumLedger/internal/testutil"
	"context"
	"testing"
)

// ============================================================================
// Test: liquidation history
// ============================================================================

func TestLiquidationHistory_QueryByOwner(t *testing.T) {
	h := projection.NewLiquidationHistory(10)
	h.Add(projection.LiquidationEntry{Sequence: 1, Owner: 1, Liquidator: 2, Collateral: "5000"})
	h.Add(projection.LiquidationEntry{Sequence: 2, Owner: 3, Liquidator: 2, Collateral: "100"})
	h.Add(projection.LiquidationEntry{Sequence: 3, Owner: 1, Liquidator: 4, Collateral: "700"})

	got := h.QueryByOwner(1, 10)
	if len(got) != 2 {
		t.Fatalf("owner 1: got %d entries, want 2", len(got))
	}
	if got[0].Sequence != 3 || got[1].Sequence != 1 {
		t.Errorf("order: got %d,%d, want newest first 3,1", got[0].Sequence, got[1].Sequence)
	}

	if got := h.QueryByOwner(1, 1); len(got) != 1 || got[0].Sequence != 3 {
		t.Errorf("limit: got %+v", got)
	}
	if got := h.QueryByOwner(99, 10); len(got) != 0 {
		t.Errorf("unknown owner: got %+v", got)
	}
}

func TestLiquidationHistory_EvictsOldest(t *testing.T) {
	h := projection.NewLiquidationHistory(2)
	for seq := int64(1); seq <= 3; seq++ {
		h.Add(projection.LiquidationEntry{Sequence: seq, Owner: uint64(seq)})
	}

	if h.Len() != 2 {
		t.Fatalf("len: got %d, want 2", h.Len())
	}
	recent := h.Recent(10)
	if recent[0].Sequence != 3 || recent[1].Sequence != 2 {
		t.Errorf("recent: got %+v", recent)
	}
}

// ============================================================================
// Test: Postgres projections
// ============================================================================

func TestProjectionWorker_AppliesAndRemoves(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	totals := projection.TotalsRow{
		TotalCollateral: "5000", TotalDebtA: "3000", TotalDebtB: "0",
		SupplyORM: "10000", SupplyDUSD: "3000", SupplyDEUR: "0",
	}
	in := make(chan projection.ProjectionOutput, 2)
	in <- projection.ProjectionOutput{
		Sequence:  0,
		Height:    1,
		StateHash: []byte{1},
		Balances: []projection.BalanceRow{
			{Asset: "ORM", Account: 1, Kind: "reserved", Amount: "5000"},
			{Asset: "dUSD", Account: 1, Kind: "free", Amount: "3000"},
		},
		Cdps:   []projection.CdpRow{{Owner: 1, Collateral: "5000", DebtA: "3000", DebtB: "0", LastUpdate: 1}},
		Prices: map[string]string{"ORM/USD": "100000"},
		Totals: totals,
	}
	in <- projection.ProjectionOutput{
		Sequence:     1,
		Height:       2,
		StateHash:    []byte{2},
		Cdps:         []projection.CdpRow{{Owner: 1, Removed: true}},
		Prices:       map[string]string{"ORM/USD": "50000"},
		Totals:       totals,
		Liquidations: []projection.LiquidationEntry{{Sequence: 1, Owner: 1, Liquidator: 2, Collateral: "5000"}},
	}
	close(in)

	history := projection.NewLiquidationHistory(10)
	worker := projection.NewProjectionWorker(db, in, history, nil)
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if worker.LastSequence() != 1 {
		t.Fatalf("last sequence: got %d, want 1", worker.LastSequence())
	}

	var cdps int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.cdps`).Scan(&cdps); err != nil || cdps != 0 {
		t.Errorf("cdps after liquidation: got %d (%v), want 0", cdps, err)
	}
	var price string
	if err := db.QueryRowContext(ctx, `SELECT price::text FROM projections.prices WHERE symbol = 'ORM/USD'`).Scan(&price); err != nil || price != "50000" {
		t.Errorf("price: got %q (%v), want 50000", price, err)
	}
	if history.Len() != 1 {
		t.Errorf("liquidation history: got %d, want 1", history.Len())
	}
}
