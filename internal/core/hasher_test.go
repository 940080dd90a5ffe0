package core

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"OriumLedger/internal/state"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/rs/zerolog"
)

func TestStateHasher_Chain(t *testing.T) {
	h1, h2 := NewStateHasher(), NewStateHasher()
	if h1.Tip() != sha256.Sum256([]byte(GenesisHashSeed)) || h1.Tip() != h2.Tip() {
		t.Fatal("genesis tips differ")
	}

	a := h1.Advance(0, []byte("x"))
	b := h2.Advance(0, []byte("y"))
	if a == b {
		t.Error("different digests produced equal hashes")
	}
	if h1.Tip() != a {
		t.Error("chain tip not advanced")
	}

	// state_hash[n] = SHA-256(prev || u64le(n) || digest)
	prev := h1.Tip()
	got := h1.Advance(1, []byte("z"))
	buf := append(prev[:], binary.LittleEndian.AppendUint64(nil, 1)...)
	if got != sha256.Sum256(append(buf, 'z')) {
		t.Error("chain formula changed")
	}

	h2.Reset(got)
	if h2.Advance(2, nil) != h1.Advance(2, nil) {
		t.Error("reset tip does not continue the same chain")
	}
}

func TestCdpDigest_Position(t *testing.T) {
	open := state.Position{Owner: 3, Collateral: fpmath.NewAmount(10), LastUpdate: 4}
	live := cdpDigest(nil).position(PositionUpdate{Owner: 3, Position: &open})
	removed := cdpDigest(nil).position(PositionUpdate{Owner: 3})

	if len(live) != 8+1+3*16+8 {
		t.Errorf("open position encodes to %d bytes", len(live))
	}
	if len(removed) != 9 || removed[8] != 0 {
		t.Errorf("removed position: %x", removed)
	}

	// A zeroed position must not collide with a removed one
	zero := state.Position{Owner: 3}
	if bytes.Equal(cdpDigest(nil).position(PositionUpdate{Owner: 3, Position: &zero}), removed) {
		t.Error("zero position and removed position share a digest")
	}
}

func TestCdpDigest_FieldsAreDelimited(t *testing.T) {
	// Length prefixes keep ("ab","c") and ("a","bc") apart
	if bytes.Equal(cdpDigest(nil).str("ab").str("c"), cdpDigest(nil).str("a").str("bc")) {
		t.Error("string fields run together")
	}
	top := cdpDigest(nil).amount(fpmath.MaxAmount())
	if len(top) != 16 || !bytes.Equal(top, bytes.Repeat([]byte{0xff}, 16)) {
		t.Errorf("u128 max: %x", top)
	}
}

func TestComputeStateDigest_CoversSupplyAndPrices(t *testing.T) {
	c, err := NewDeterministicCore(CoreConfig{Params: state.DefaultParams()}, nil, nil, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	base := c.computeStateDigest(nil, nil)

	if _, err := c.ledger(ledger.AssetDEUR).Mint(1, fpmath.NewAmount(1)); err != nil {
		t.Fatal(err)
	}
	minted := c.computeStateDigest(nil, nil)
	if bytes.Equal(base, minted) {
		t.Error("supply change not reflected in digest")
	}

	c.oracle.SetPrice("ORM/USD", fpmath.NewAmount(100_000))
	if bytes.Equal(minted, c.computeStateDigest(nil, nil)) {
		t.Error("price change not reflected in digest")
	}
}
