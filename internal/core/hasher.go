package core

import (
	fpmath "OriumLedger/internal/math"
	"crypto/sha256"
	"encoding/binary"
)

// GenesisHashSeed is hashed to form the chain tip before the first op.
const GenesisHashSeed = "OriumLedger:genesis:v1"

// StateHasher keeps the tip of the per-op hash chain
//
//	state_hash[n] = SHA-256(state_hash[n-1] || u64le(n) || cdp_digest[n])
//
// where cdp_digest is the encoding built by computeStateDigest.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: sha256.Sum256([]byte(GenesisHashSeed))}
}

// Advance hashes the digest of op n onto the chain and returns the new tip.
func (h *StateHasher) Advance(sequence int64, digest []byte) [32]byte {
	sum := sha256.New()
	sum.Write(h.tip[:])
	sum.Write(binary.LittleEndian.AppendUint64(nil, uint64(sequence)))
	sum.Write(digest)
	copy(h.tip[:], sum.Sum(nil))
	return h.tip
}

func (h *StateHasher) Tip() [32]byte { return h.tip }

// Reset moves the tip to a snapshot's state hash.
func (h *StateHasher) Reset(tip [32]byte) { h.tip = tip }

// cdpDigest is the canonical encoding of the state an op leaves behind.
// Amounts are 16-byte big-endian, integers 8-byte little-endian, strings
// length-prefixed.
type cdpDigest []byte

func (d cdpDigest) str(s string) cdpDigest {
	d = append(d, byte(len(s)))
	return append(d, s...)
}

func (d cdpDigest) amount(a fpmath.Amount) cdpDigest {
	b := a.Bytes16()
	return append(d, b[:]...)
}

func (d cdpDigest) u64(v uint64) cdpDigest {
	return binary.LittleEndian.AppendUint64(d, v)
}

// position encodes a touched CDP; a removed one is its owner and a zero tag.
func (d cdpDigest) position(p PositionUpdate) cdpDigest {
	d = d.u64(uint64(p.Owner))
	if p.Position == nil {
		return append(d, 0)
	}
	d = append(d, 1)
	d = d.amount(p.Position.Collateral).amount(p.Position.DebtA).amount(p.Position.DebtB)
	return d.u64(p.Position.LastUpdate)
}

// computeStateDigest covers touched balances and positions in drain
// order, then every price, the CDP totals, the three supplies and the
// block height.
func (c *DeterministicCore) computeStateDigest(balances []BalanceUpdate, positions []PositionUpdate) []byte {
	d := make(cdpDigest, 0, len(balances)*64+len(positions)*80+256)

	for _, b := range balances {
		d = d.str(b.Key.AccountPath()).amount(b.Amount)
	}
	for _, p := range positions {
		d = d.position(p)
	}
	for _, symbol := range c.oracle.Symbols() {
		d = d.str(symbol).amount(c.oracle.GetPrice(symbol))
	}

	totals := c.store.Totals()
	d = d.amount(totals.Collateral).amount(totals.DebtA).amount(totals.DebtB)
	for _, l := range c.ledgers {
		d = d.amount(l.TotalSupply())
	}
	return d.u64(c.clock.CurrentHeight())
}
