package state

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"fmt"
	"sort"
)

// Totals are the protocol-wide aggregate counters.
type Totals struct {
	Collateral fpmath.Amount `json:"total_collateral"`
	DebtA      fpmath.Amount `json:"total_debt_a"`
	DebtB      fpmath.Amount `json:"total_debt_b"`
}

// Debt returns the outstanding total for a stablecoin.
func (t Totals) Debt(asset ledger.Asset) fpmath.Amount {
	switch asset {
	case ledger.AssetDUSD:
		return t.DebtA
	case ledger.AssetDEUR:
		return t.DebtB
	default:
		return fpmath.Amount{}
	}
}

// Store holds at most one Position per owner together with the aggregate
// counters. Counters are maintained on every Put and Remove.
// Not thread-safe: owned by the deterministic core.
type Store struct {
	positions map[ledger.AccountID]Position
	totals    Totals
	touched   map[ledger.AccountID]struct{}
}

func NewStore() *Store {
	return &Store{
		positions: make(map[ledger.AccountID]Position),
		touched:   make(map[ledger.AccountID]struct{}),
	}
}

func (s *Store) Get(owner ledger.AccountID) (Position, bool) {
	pos, ok := s.positions[owner]
	return pos, ok
}

func (s *Store) Exists(owner ledger.AccountID) bool {
	_, ok := s.positions[owner]
	return ok
}

// Put inserts or replaces the position of pos.Owner and moves the counters
// by the difference between the old and new values.
func (s *Store) Put(pos Position) {
	old := s.positions[pos.Owner]
	s.totals.Collateral = s.totals.Collateral.SaturatingSub(old.Collateral).SaturatingAdd(pos.Collateral)
	s.totals.DebtA = s.totals.DebtA.SaturatingSub(old.DebtA).SaturatingAdd(pos.DebtA)
	s.totals.DebtB = s.totals.DebtB.SaturatingSub(old.DebtB).SaturatingAdd(pos.DebtB)
	s.positions[pos.Owner] = pos
	s.touched[pos.Owner] = struct{}{}
}

// Remove deletes the position of owner and returns it.
func (s *Store) Remove(owner ledger.AccountID) (Position, bool) {
	pos, ok := s.positions[owner]
	if !ok {
		return Position{}, false
	}
	s.totals.Collateral = s.totals.Collateral.SaturatingSub(pos.Collateral)
	s.totals.DebtA = s.totals.DebtA.SaturatingSub(pos.DebtA)
	s.totals.DebtB = s.totals.DebtB.SaturatingSub(pos.DebtB)
	delete(s.positions, owner)
	s.touched[owner] = struct{}{}
	return pos, true
}

func (s *Store) Totals() Totals { return s.totals }

func (s *Store) Len() int { return len(s.positions) }

// All returns every position ordered by owner.
func (s *Store) All() []Position {
	out := make([]Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// DrainTouched returns the owners whose position changed since the last
// call, in ascending order.
func (s *Store) DrainTouched() []ledger.AccountID {
	owners := make([]ledger.AccountID, 0, len(s.touched))
	for o := range s.touched {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	clear(s.touched)
	return owners
}

// SumCheck recomputes the counters from the positions and compares.
func (s *Store) SumCheck() error {
	var sum Totals
	for _, pos := range s.positions {
		sum.Collateral = sum.Collateral.SaturatingAdd(pos.Collateral)
		sum.DebtA = sum.DebtA.SaturatingAdd(pos.DebtA)
		sum.DebtB = sum.DebtB.SaturatingAdd(pos.DebtB)
	}
	if sum != s.totals {
		return fmt.Errorf("counter mismatch: positions=%+v counters=%+v", sum, s.totals)
	}
	return nil
}

// --- Snapshot ---

type StoreSnapshot struct {
	Positions []Position `json:"positions"`
	Totals    Totals     `json:"totals"`
}

func (s *Store) Snapshot() StoreSnapshot {
	return StoreSnapshot{
		Positions: s.All(),
		Totals:    s.totals,
	}
}

// Restore replaces the store contents. Counters are taken from the
// snapshot as-is so a corrupted snapshot fails SumCheck.
func (s *Store) Restore(snap StoreSnapshot) {
	clear(s.positions)
	clear(s.touched)
	for _, pos := range snap.Positions {
		s.positions[pos.Owner] = pos
	}
	s.totals = snap.Totals
}
