package event_test

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/ledger"
	"encoding/json"
	"testing"
)

// ===========================================================================
// Origin
// ===========================================================================

func TestOrigin_TextRoundTrip(t *testing.T) {
	for _, o := range []event.Origin{event.Root(), event.Signed(0), event.Signed(42)} {
		text, err := o.MarshalText()
		if err != nil {
			t.Fatalf("marshal %v: %v", o, err)
		}
		var got event.Origin
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("unmarshal %q: %v", text, err)
		}
		if got != o {
			t.Errorf("round trip %q: got %v, want %v", text, got, o)
		}
	}
}

func TestOrigin_Invalid(t *testing.T) {
	for _, s := range []string{"", "admin", "signed:", "signed:-1", "signed:abc", "Root"} {
		var o event.Origin
		if err := o.UnmarshalText([]byte(s)); err == nil {
			t.Errorf("%q: expected error, got %v", s, o)
		}
	}
}

func TestHeader_JSON(t *testing.T) {
	var h event.Header
	data := []byte(`{"op_id":"550e8400-e29b-41d4-a716-446655440000","origin":"signed:9","height":7,"sequence":3}`)
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if h.Origin != event.Signed(ledger.AccountID(9)) {
		t.Errorf("origin: got %v", h.Origin)
	}
	if h.BlockHeight() != 7 || h.SourceSequence() != 3 {
		t.Errorf("height/sequence: got %d/%d", h.BlockHeight(), h.SourceSequence())
	}
}

// ===========================================================================
// OpType / Kind
// ===========================================================================

func TestParseOpType(t *testing.T) {
	for _, name := range []string{"create_cdp", "liquidate", "update_price", "transfer_from", "burn"} {
		ot, ok := event.ParseOpType(name)
		if !ok {
			t.Fatalf("%s: not recognised", name)
		}
		if ot.String() != name {
			t.Errorf("%s: String() = %s", name, ot.String())
		}
	}
	if _, ok := event.ParseOpType("open_position"); ok {
		t.Error("unknown op type accepted")
	}
	if event.OpTypeUnknown.String() != "unknown" {
		t.Errorf("OpTypeUnknown.String() = %s", event.OpTypeUnknown.String())
	}
}

func TestKind_Text(t *testing.T) {
	text, err := event.KindCdpLiquidated.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(text) != "CdpLiquidated" {
		t.Errorf("got %s, want CdpLiquidated", text)
	}

	var k event.Kind
	if err := k.UnmarshalText([]byte("DeurRepaid")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if k != event.KindDeurRepaid {
		t.Errorf("got %v, want DeurRepaid", k)
	}
	if err := k.UnmarshalText([]byte("PositionClosed")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestDebtKinds(t *testing.T) {
	if event.DebtMinted(ledger.AssetDUSD) != event.KindDusdMinted {
		t.Error("DebtMinted(dUSD)")
	}
	if event.DebtMinted(ledger.AssetDEUR) != event.KindDeurMinted {
		t.Error("DebtMinted(dEUR)")
	}
	if event.DebtRepaid(ledger.AssetDEUR) != event.KindDeurRepaid {
		t.Error("DebtRepaid(dEUR)")
	}
}
