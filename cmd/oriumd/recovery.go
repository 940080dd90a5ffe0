package main

import (
	"OriumLedger/internal/core"
	"OriumLedger/internal/ingestion"
	"OriumLedger/internal/observability"
	"OriumLedger/internal/persistence"
	"OriumLedger/internal/state"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

var errSnapshotUnverified = errors.New("snapshot does not match event log")

// recoverCore brings an empty core up to the head of the event log: the
// latest verified snapshot (or genesis on a cold start), then every
// logged op after it.
func recoverCore(
	ctx context.Context,
	c *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	genesis state.Genesis,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (int64, error) {
	start := time.Now()

	rec, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying from genesis")
		rec = nil
	}

	var snap *core.SnapshotState
	if rec != nil {
		if snap, err = decodeSnapshot(rec); err != nil {
			logger.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("unreadable snapshot, replaying from genesis")
		}
	}

	if snap != nil {
		if err := c.RestoreFromSnapshot(snap); err != nil {
			return 0, fmt.Errorf("restore snapshot: %w", err)
		}
		logger.Info().
			Int64("sequence", snap.Sequence).
			Int("idempotency_keys", len(snap.IdempotencyKeys)).
			Msg("restored state from snapshot")
	} else {
		if err := c.ApplyGenesis(genesis); err != nil {
			return 0, fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info().
			Int("prices", len(genesis.Prices)).
			Int("endowments", len(genesis.Endowments)).
			Msg("no snapshot found, cold start from genesis")
	}

	replayed, err := replayFromLog(ctx, c, snapMgr, logger)
	if err != nil {
		return replayed, err
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return replayed, nil
}

// replayFromLog re-applies every logged op from the core's next sequence.
// Any divergence from the logged hashes is fatal.
func replayFromLog(
	ctx context.Context,
	c *core.DeterministicCore,
	snapMgr *persistence.SnapshotManager,
	logger zerolog.Logger,
) (int64, error) {
	var total int64
	from := c.GetSequence()

	for {
		rows, err := snapMgr.LoadOpsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load ops from seq %d: %w", from, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		for _, row := range rows {
			op, err := ingestion.ParseOp(row.Payload, row.OpType)
			if err != nil {
				return total, fmt.Errorf("parse logged op seq=%d type=%s: %w", row.Sequence, row.OpType, err)
			}
			var hash [32]byte
			copy(hash[:], row.StateHash)
			if err := c.Replay(op, row.Sequence, hash); err != nil {
				return total, fmt.Errorf("replay seq=%d: %w", row.Sequence, err)
			}
			total++
		}

		from = rows[len(rows)-1].Sequence + 1
		logger.Debug().Int64("replayed", total).Int64("next_sequence", from).Msg("replay progress")
	}
}

// --- Snapshots ---

func encodeSnapshot(c *core.DeterministicCore) (*persistence.SnapshotRecord, error) {
	snap := c.CreateSnapshotState()
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return &persistence.SnapshotRecord{
		Sequence:      snap.Sequence,
		StateHash:     bytes.Clone(snap.StateHash[:]),
		Data:          data,
		FormatVersion: persistence.SnapshotFormatV1,
	}, nil
}

func decodeSnapshot(rec *persistence.SnapshotRecord) (*core.SnapshotState, error) {
	if rec.FormatVersion != persistence.SnapshotFormatV1 {
		return nil, fmt.Errorf("unsupported snapshot format %d", rec.FormatVersion)
	}
	var snap core.SnapshotState
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Sequence != rec.Sequence {
		return nil, fmt.Errorf("snapshot sequence %d does not match record %d", snap.Sequence, rec.Sequence)
	}
	copy(snap.StateHash[:], rec.StateHash)
	return &snap, nil
}

// snapshotter saves snapshots captured on the core goroutine. A snapshot
// is marked verified only once the event log holds its sequence with the
// same state hash.
type snapshotter struct {
	mgr     *persistence.SnapshotManager
	metrics *observability.Metrics
	logger  zerolog.Logger
	pending chan *persistence.SnapshotRecord

	pollInterval time.Duration
	maxWait      time.Duration
}

func newSnapshotter(mgr *persistence.SnapshotManager, metrics *observability.Metrics, logger zerolog.Logger) *snapshotter {
	return &snapshotter{
		mgr:          mgr,
		metrics:      metrics,
		logger:       logger,
		pending:      make(chan *persistence.SnapshotRecord, 1),
		pollInterval: 100 * time.Millisecond,
		maxWait:      30 * time.Second,
	}
}

// offer queues rec without blocking. It reports false when a snapshot is
// already in flight.
func (s *snapshotter) offer(rec *persistence.SnapshotRecord) bool {
	select {
	case s.pending <- rec:
		return true
	default:
		return false
	}
}

func (s *snapshotter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-s.pending:
			if err := s.save(ctx, rec); err != nil {
				s.logger.Warn().Err(err).Int64("sequence", rec.Sequence).Msg("snapshot failed")
			}
		}
	}
}

func (s *snapshotter) save(ctx context.Context, rec *persistence.SnapshotRecord) error {
	if rec.Sequence < 0 {
		return nil
	}
	start := time.Now()

	if err := s.mgr.SaveSnapshot(ctx, rec); err != nil {
		return err
	}
	if err := s.waitLogged(ctx, rec); err != nil {
		return err
	}
	if err := s.mgr.MarkVerified(ctx, rec.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(len(rec.Data)))
		s.metrics.SnapshotLastSeq.Set(float64(rec.Sequence))
	}
	s.logger.Info().Int64("sequence", rec.Sequence).Int("bytes", len(rec.Data)).Msg("snapshot saved")
	return nil
}

func (s *snapshotter) waitLogged(ctx context.Context, rec *persistence.SnapshotRecord) error {
	deadline := time.Now().Add(s.maxWait)
	for {
		hash, err := s.mgr.StateHashAt(ctx, rec.Sequence)
		if err != nil {
			return fmt.Errorf("read logged hash: %w", err)
		}
		if hash != nil {
			if !bytes.Equal(hash, rec.StateHash) {
				return fmt.Errorf("%w at sequence %d", errSnapshotUnverified, rec.Sequence)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("sequence %d not persisted after %s", rec.Sequence, s.maxWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}
