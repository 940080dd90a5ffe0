package ingestion_test

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/ingestion"
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"OriumLedger/internal/testutil"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

const opID = "550e8400-e29b-41d4-a716-446655440000"

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawOp {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawOp{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

// ===========================================================================
// CDP ops
// ===========================================================================

func TestParseCreateCdp(t *testing.T) {
	raw := rawFromJSON(t, "orium.ops.cdp", map[string]interface{}{
		"op_type":    "create_cdp",
		"op_id":      opID,
		"origin":     "signed:7",
		"height":     12,
		"sequence":   41,
		"collateral": "340282366920938463463374607431768211455",
	})

	op, err := ingestion.ParseRawOp(raw, "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	c, ok := op.(*event.CreateCdp)
	if !ok {
		t.Fatalf("expected *event.CreateCdp, got %T", op)
	}
	if c.IdempotencyKey() != opID {
		t.Errorf("op_id: got %s", c.IdempotencyKey())
	}
	if c.OpOrigin() != event.Signed(7) {
		t.Errorf("origin: got %v, want signed:7", c.OpOrigin())
	}
	if c.BlockHeight() != 12 || c.SourceSequence() != 41 {
		t.Errorf("height/sequence: got %d/%d, want 12/41", c.BlockHeight(), c.SourceSequence())
	}
	if !c.Collateral.IsMax() {
		t.Errorf("collateral: got %s, want u128 max", c.Collateral)
	}
}

func TestParseMintDebt(t *testing.T) {
	raw := rawFromJSON(t, "orium.ops.cdp", map[string]interface{}{
		"op_type": "mint_debt",
		"op_id":   opID,
		"origin":  "signed:1",
		"asset":   "dEUR",
		"amount":  "3000",
	})

	op, err := ingestion.ParseRawOp(raw, "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	m := op.(*event.MintDebt)
	if m.Asset != ledger.AssetDEUR {
		t.Errorf("asset: got %v, want dEUR", m.Asset)
	}
	if m.Amount != fpmath.NewAmount(3000) {
		t.Errorf("amount: got %s, want 3000", m.Amount)
	}
}

func TestParseLiquidate(t *testing.T) {
	raw := rawFromJSON(t, "orium.ops.cdp", map[string]interface{}{
		"op_type": "liquidate",
		"op_id":   opID,
		"origin":  "signed:2",
		"target":  1,
	})

	op, err := ingestion.ParseRawOp(raw, "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if l := op.(*event.Liquidate); l.Target != 1 {
		t.Errorf("target: got %d, want 1", l.Target)
	}
}

// ===========================================================================
// Prices: op type from subject
// ===========================================================================

func TestParseUpdatePrice_DefaultFromSubject(t *testing.T) {
	raw := rawFromJSON(t, "orium.prices.ORM-USD", map[string]interface{}{
		"op_id":  opID,
		"origin": "root",
		"symbol": "ORM/USD",
		"price":  "120000",
	})

	defaultType, ok := ingestion.ResolveOpType(raw.Subject, ingestion.DefaultSubjects())
	if !ok || defaultType != "update_price" {
		t.Fatalf("resolve: got %q/%v, want update_price", defaultType, ok)
	}

	op, err := ingestion.ParseRawOp(raw, defaultType)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	p := op.(*event.UpdatePrice)
	if p.OpOrigin() != event.Root() {
		t.Errorf("origin: got %v, want root", p.OpOrigin())
	}
	if p.Symbol != "ORM/USD" || p.Price != fpmath.NewAmount(120000) {
		t.Errorf("got %s=%s", p.Symbol, p.Price)
	}
}

func TestParse_PayloadTypeOverridesSubject(t *testing.T) {
	raw := rawFromJSON(t, "orium.prices.x", map[string]interface{}{
		"op_type": "transfer",
		"op_id":   opID,
		"origin":  "signed:1",
		"asset":   "ORM",
		"to":      2,
		"amount":  "5",
	})
	op, err := ingestion.ParseRawOp(raw, "update_price")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if op.OpType() != event.OpTypeTransfer {
		t.Errorf("op type: got %v, want transfer", op.OpType())
	}
}

func TestResolveOpType(t *testing.T) {
	tests := []struct {
		subject string
		want    string
		ok      bool
	}{
		{"orium.ops.cdp.1", "", true},
		{"orium.prices.ORM-EUR", "update_price", true},
		{"orium.tokens.dUSD", "", true},
		{"other.subject", "", false},
	}
	for _, tc := range tests {
		got, ok := ingestion.ResolveOpType(tc.subject, ingestion.DefaultSubjects())
		if got != tc.want || ok != tc.ok {
			t.Errorf("%s: got %q/%v, want %q/%v", tc.subject, got, ok, tc.want, tc.ok)
		}
	}
}

// ===========================================================================
// Token ops
// ===========================================================================

func TestParseTransferFrom(t *testing.T) {
	raw := rawFromJSON(t, "orium.tokens.dUSD", map[string]interface{}{
		"op_type": "transfer_from",
		"op_id":   opID,
		"origin":  "signed:3",
		"asset":   "dusd",
		"from":    1,
		"to":      2,
		"amount":  "150",
	})

	op, err := ingestion.ParseRawOp(raw, "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	tf := op.(*event.TransferFrom)
	if tf.Asset != ledger.AssetDUSD || tf.From != 1 || tf.To != 2 {
		t.Errorf("got asset=%v from=%d to=%d", tf.Asset, tf.From, tf.To)
	}
	if tf.OpOrigin().Account != 3 {
		t.Errorf("spender: got %d, want 3", tf.OpOrigin().Account)
	}
}

// ===========================================================================
// Rejections
// ===========================================================================

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"unknown op type", map[string]interface{}{"op_type": "close_position", "op_id": opID}},
		{"missing op type", map[string]interface{}{"op_id": opID}},
		{"missing op_id", map[string]interface{}{"op_type": "burn", "asset": "ORM", "amount": "1"}},
		{"bad origin", map[string]interface{}{"op_type": "burn", "op_id": opID, "origin": "alice"}},
		{"unknown asset", map[string]interface{}{"op_type": "burn", "op_id": opID, "asset": "BTC"}},
		{"numeric amount", map[string]interface{}{"op_type": "burn", "op_id": opID, "amount": 5}},
		{"amount overflow", map[string]interface{}{"op_type": "burn", "op_id": opID, "amount": "340282366920938463463374607431768211456"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawFromJSON(t, "orium.ops.x", tc.payload)
			_, err := ingestion.ParseRawOp(raw, "")
			if !errors.Is(err, ingestion.ErrInvalidOp) {
				t.Fatalf("expected ErrInvalidOp, got %v", err)
			}
		})
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	_, err := ingestion.ParseOp([]byte("{not json"), "create_cdp")
	if !errors.Is(err, ingestion.ErrInvalidOp) {
		t.Fatalf("expected ErrInvalidOp, got %v", err)
	}
}

// ===========================================================================
// Encode round trip: stored payloads must replay through the parser
// ===========================================================================

func TestEncodeOp_ParsesBack(t *testing.T) {
	ops := []event.Op{
		&event.CreateCdp{
			Header:     event.Header{OpID: uuid.MustParse(opID), Origin: event.Signed(1), Height: 3, Sequence: 9},
			Collateral: fpmath.NewAmount(1000),
		},
		&event.UpdatePrice{
			Header: event.Header{OpID: uuid.New(), Origin: event.Root(), Height: 4, Sequence: 10},
			Symbol: "ORM/EUR",
			Price:  fpmath.NewAmount(80000),
		},
		&event.Approve{
			Header:  event.Header{OpID: uuid.New(), Origin: event.Signed(1), Height: 5, Sequence: 11},
			Asset:   ledger.AssetDUSD,
			Spender: 2,
			Amount:  fpmath.NewAmount(200),
		},
	}

	for _, want := range ops {
		data, err := ingestion.EncodeOp(want)
		if err != nil {
			t.Fatalf("encode %v: %v", want.OpType(), err)
		}
		got, err := ingestion.ParseOp(data, "")
		if err != nil {
			t.Fatalf("parse %v: %v", want.OpType(), err)
		}
		gotJSON, _ := json.Marshal(got)
		wantJSON, _ := json.Marshal(want)
		if string(gotJSON) != string(wantJSON) {
			t.Errorf("%v: got %s, want %s", want.OpType(), gotJSON, wantJSON)
		}
	}
}

// The wire format is consumed by other services; key names and amount
// encoding must not drift.
func TestEncodeOp_Golden(t *testing.T) {
	op := &event.MintDebt{
		Header: event.Header{OpID: uuid.MustParse(opID), Origin: event.Signed(7), Height: 12, Sequence: 41},
		Asset:  ledger.AssetDUSD,
		Amount: fpmath.NewAmount(3000),
	}
	data, err := ingestion.EncodeOp(op)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	testutil.AssertGolden(t, "mint_debt.golden.json", data)
}

// ===========================================================================
// Router
// ===========================================================================

type deadLetterRecorder struct {
	subjects []string
	reasons  []string
	err      error
}

func (d *deadLetterRecorder) DeadLetter(_ context.Context, raw ingestion.RawOp, reason error) error {
	if d.err != nil {
		return d.err
	}
	d.subjects = append(d.subjects, raw.Subject)
	d.reasons = append(d.reasons, reason.Error())
	return nil
}

func TestRouter_ForwardsWithoutAcking(t *testing.T) {
	out := make(chan ingestion.Inbound, 4)
	rawChan := make(chan ingestion.RawOp, 4)
	dead := &deadLetterRecorder{}
	router := ingestion.NewRouter(ingestion.DefaultSubjects(), out, dead, nil)

	var acked, naked int
	send := func(subject string, payload map[string]interface{}) {
		raw := rawFromJSON(t, subject, payload)
		raw.AckFunc = func() { acked++ }
		raw.NakFunc = func() { naked++ }
		rawChan <- raw
	}

	send("orium.prices.ORM-USD", map[string]interface{}{"op_id": opID, "origin": "root", "symbol": "ORM/USD", "price": "100000"})
	send("orium.ops.x", map[string]interface{}{"op_type": "nope", "op_id": opID})
	send("unrelated.subject", map[string]interface{}{"op_id": opID})
	close(rawChan)

	if err := router.Run(context.Background(), rawChan); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Only the two dead-lettered messages are settled by the router
	if acked != 2 || naked != 0 {
		t.Errorf("acks: got ack=%d nak=%d, want 2/0", acked, naked)
	}
	if len(dead.subjects) != 2 || dead.subjects[0] != "orium.ops.x" || dead.subjects[1] != "unrelated.subject" {
		t.Errorf("dead letters: %v", dead.subjects)
	}
	if len(out) != 1 {
		t.Fatalf("forwarded: got %d, want 1", len(out))
	}
	in := <-out
	if in.Op.OpType() != event.OpTypeUpdatePrice || in.Source != ingestion.SourceNATS {
		t.Errorf("got %v from %s", in.Op.OpType(), in.Source)
	}

	// The queued op carries its own acknowledgement
	in.Ack()
	if acked != 3 {
		t.Errorf("Inbound.Ack did not reach the message: ack=%d", acked)
	}
}

func TestRouter_NaksWhenDeadLetterFails(t *testing.T) {
	for _, tc := range []struct {
		name string
		sink ingestion.DeadLetterSink
	}{
		{"no sink", nil},
		{"publish error", &deadLetterRecorder{err: errors.New("nats down")}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rawChan := make(chan ingestion.RawOp, 1)
			router := ingestion.NewRouter(ingestion.DefaultSubjects(), make(chan ingestion.Inbound, 1), tc.sink, nil)

			var naked int
			raw := rawFromJSON(t, "orium.ops.x", map[string]interface{}{"op_type": "mint", "op_id": "not-a-uuid"})
			raw.AckFunc = func() { t.Error("unparseable message must not be acked") }
			raw.NakFunc = func() { naked++ }
			rawChan <- raw
			close(rawChan)

			if err := router.Run(context.Background(), rawChan); err != nil {
				t.Fatalf("run: %v", err)
			}
			if naked != 1 {
				t.Errorf("naks: got %d, want 1", naked)
			}
		})
	}
}

func TestRouter_NaksOnShutdown(t *testing.T) {
	out := make(chan ingestion.Inbound) // unbuffered, never read
	rawChan := make(chan ingestion.RawOp, 1)
	router := ingestion.NewRouter(ingestion.DefaultSubjects(), out, nil, nil)

	naked := make(chan struct{}, 1)
	raw := rawFromJSON(t, "orium.prices.x", map[string]interface{}{"op_id": opID, "origin": "root", "symbol": "ORM/USD", "price": "1"})
	raw.AckFunc = func() { t.Error("unexpected ack") }
	raw.NakFunc = func() { naked <- struct{}{} }
	rawChan <- raw

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := router.Run(ctx, rawChan); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("run: got %v, want deadline exceeded", err)
	}
	select {
	case <-naked:
	default:
		t.Fatal("expected NAK")
	}
}

// ===========================================================================
// Admin ingest
// ===========================================================================

func TestAdminIngest_Submit(t *testing.T) {
	out := make(chan ingestion.Inbound, 1)
	svc := ingestion.NewAdminIngestService(out, nil)

	body, _ := json.Marshal(map[string]interface{}{
		"op_type": "mint", "op_id": opID, "origin": "root", "asset": "ORM", "to": 4, "amount": "10",
	})
	op, err := svc.Submit(context.Background(), body)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if op.OpType() != event.OpTypeMint {
		t.Errorf("op type: got %v", op.OpType())
	}
	in := <-out
	if in.Source != ingestion.SourceAdmin {
		t.Errorf("source: got %s, want admin", in.Source)
	}
	// Admin ops have no broker message behind them
	in.Ack()
	in.Nak()

	if _, err := svc.Submit(context.Background(), []byte(`{"op_type":"mint"}`)); !errors.Is(err, ingestion.ErrInvalidOp) {
		t.Errorf("expected ErrInvalidOp, got %v", err)
	}
}

func TestPublishableEvent_Subject(t *testing.T) {
	evt := ingestion.PublishableEvent{Event: event.Emitted{Kind: event.KindCdpLiquidated}}
	if got := evt.Subject(); got != "orium.ledger.events.CdpLiquidated" {
		t.Errorf("subject: got %s", got)
	}
}
