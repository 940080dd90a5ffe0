package persistence_test

import (
	"OriumLedger/internal/persistence"
	"OriumLedger/internal/testutil"
	"context"
	"testing"
	"time"
)

func opRow(seq int64, opID, outcome string) persistence.OpRow {
	return persistence.OpRow{
		Sequence:       seq,
		OpID:           opID,
		OpType:         "create_cdp",
		Origin:         "signed:1",
		Height:         seq + 1,
		SourceSequence: seq,
		Outcome:        outcome,
		Payload:        []byte(`{"collateral":"5000"}`),
		StateHash:      []byte{byte(seq)},
		PrevHash:       []byte{0},
		CreatedAt:      time.Now().UTC(),
	}
}

// ============================================================================
// Test: operation log + Postgres dedup tier
// ============================================================================

func TestOpLog_WriteAndReplay(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	writer := persistence.NewOpLogWriter(db)
	rows := []persistence.OpRow{
		opRow(0, "op-0", "accepted"),
		opRow(1, "op-1", "rejected"),
	}
	rows[1].RejectReason = "cdp_already_exists"

	if err := writer.WriteOpBatch(ctx, db, rows); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Re-delivery of the same batch is absorbed
	if err := writer.WriteOpBatch(ctx, db, rows); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	loaded, err := snapMgr.LoadOpsFrom(ctx, 1, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 || loaded[0].OpID != "op-1" || loaded[0].RejectReason != "cdp_already_exists" {
		t.Fatalf("loaded: %+v", loaded)
	}

	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil || latest != 1 {
		t.Fatalf("latest: got %d (%v), want 1", latest, err)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("create_cdp", "op-0")
	if err != nil || !dup {
		t.Errorf("op-0: dup=%v err=%v, want duplicate", dup, err)
	}
	dup, err = checker.IsDuplicate("create_cdp", "op-9")
	if err != nil || dup {
		t.Errorf("op-9: dup=%v err=%v, want fresh", dup, err)
	}
}

// ============================================================================
// Test: snapshots
// ============================================================================

func TestSnapshot_OnlyVerifiedIsLoaded(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	snapMgr := persistence.NewSnapshotManager(db)

	if snap, err := snapMgr.LoadLatestSnapshot(ctx); err != nil || snap != nil {
		t.Fatalf("empty table: snap=%v err=%v", snap, err)
	}

	rec := &persistence.SnapshotRecord{Sequence: 41, StateHash: []byte{1, 2, 3}, Data: []byte(`{"sequence":41}`)}
	if err := snapMgr.SaveSnapshot(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if snap, _ := snapMgr.LoadLatestSnapshot(ctx); snap != nil {
		t.Fatalf("unverified snapshot must not load")
	}

	if err := snapMgr.MarkVerified(ctx, 41); err != nil {
		t.Fatalf("verify: %v", err)
	}
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil || snap == nil {
		t.Fatalf("load: snap=%v err=%v", snap, err)
	}
	if snap.Sequence != 41 || string(snap.Data) != `{"sequence":41}` || !snap.Verified {
		t.Errorf("snapshot: %+v", snap)
	}
}

// ============================================================================
// Test: worker flush on close
// ============================================================================

func TestPersistenceWorker_FlushesOnClose(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	in := make(chan persistence.CoreOutput, 3)
	for i := int64(0); i < 3; i++ {
		in <- persistence.CoreOutput{Op: opRow(i, "w-"+string(rune('a'+i)), "accepted")}
	}
	close(in)

	worker := persistence.NewPersistenceWorker(db, in, 50, time.Second, nil)
	var flushed []int64
	worker.OnFlushed(func(last int64) { flushed = append(flushed, last) })
	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(flushed) != 1 || flushed[0] != 2 {
		t.Errorf("flush hook: got %v, want [2]", flushed)
	}

	latest, err := persistence.NewSnapshotManager(db).GetLatestSequence(context.Background())
	if err != nil || latest != 2 {
		t.Fatalf("latest: got %d (%v), want 2", latest, err)
	}
}
