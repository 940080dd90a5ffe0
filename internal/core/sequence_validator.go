package core

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceGap = errors.New("core: sequence gap")
	ErrOutOfOrder  = errors.New("core: out-of-order op")
)

// SequenceValidator enforces a gap-free source sequence per partition.
// The op stream uses a single partition; per-partition state is kept so
// snapshots stay forward compatible with sharded inputs.
// Not thread-safe: only accessed from the deterministic core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64
	gaps            int64
	outOfOrder      int64
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
	}
}

// ValidateSequence checks source sequence ordering. A stale sequence is
// accepted only for a known duplicate, which the caller then skips.
func (sv *SequenceValidator) ValidateSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expectedNextSeq[partition]

	switch {
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		sv.outOfOrder++
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	case sourceSequence == expected:
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	default:
		sv.gaps++
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrSequenceGap, partition, expected, sourceSequence)
	}
}

func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// SetExpectedSequence initializes expected sequence (used during recovery)
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Partitions returns a copy of the per-partition state for snapshots.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for p, s := range sv.expectedNextSeq {
		out[p] = s
	}
	return out
}

func (sv *SequenceValidator) Gaps() int64       { return sv.gaps }
func (sv *SequenceValidator) OutOfOrder() int64 { return sv.outOfOrder }
