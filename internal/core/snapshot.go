package core

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"OriumLedger/internal/state"
	"fmt"
)

// SnapshotState is the serializable in-memory state of the core.
type SnapshotState struct {
	Sequence        int64                    `json:"sequence"` // last processed sequence
	StateHash       [32]byte                 `json:"-"`
	Height          uint64                   `json:"height"`
	Params          state.Params             `json:"params"`
	Ledgers         []ledger.Snapshot        `json:"ledgers"`
	Store           state.StoreSnapshot      `json:"store"`
	Prices          map[string]fpmath.Amount `json:"prices"`
	SequenceState   map[string]int64         `json:"sequence_state"`
	IdempotencyKeys []string                 `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	ledgers := make([]ledger.Snapshot, 0, len(c.ledgers))
	for _, l := range c.ledgers {
		ledgers = append(ledgers, l.Snapshot())
	}
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.Tip(),
		Height:          c.clock.CurrentHeight(),
		Params:          c.engine.Params(),
		Ledgers:         ledgers,
		Store:           c.store.Snapshot(),
		Prices:          c.oracle.Snapshot(),
		SequenceState:   c.sequenceValidator.Partitions(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// RestoreFromSnapshot replaces the core's in-memory state. The restored
// state is checked against the invariants before it is accepted.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) error {
	for _, ls := range snap.Ledgers {
		l := c.ledger(ls.Asset)
		if l == nil {
			return fmt.Errorf("snapshot: unknown ledger %v", ls.Asset)
		}
		l.Restore(ls)
		l.DrainTouched()
	}
	if snap.Params != c.engine.Params() {
		c.logger.Warn().
			Interface("snapshot_params", snap.Params).
			Interface("config_params", c.engine.Params()).
			Msg("snapshot params differ from configured params; using configured")
	}
	c.store.Restore(snap.Store)
	c.oracle.Restore(snap.Prices)
	c.clock.Set(snap.Height)

	if err := c.postCheckInvariants(); err != nil {
		return fmt.Errorf("snapshot at sequence %d: %w", snap.Sequence, err)
	}

	c.sequence = snap.Sequence + 1
	c.hasher.Reset(snap.StateHash)
	for partition, next := range snap.SequenceState {
		c.sequenceValidator.SetExpectedSequence(partition, next)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)
	return nil
}
