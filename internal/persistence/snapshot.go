package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotFormatV1 is a JSON-encoded core snapshot.
const SnapshotFormatV1 = 1

// SnapshotManager stores and loads state snapshots for recovery.
// The state itself is opaque here; cmd/oriumd encodes the core snapshot.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotRecord is a row of event_log.snapshots.
type SnapshotRecord struct {
	SnapshotID    uuid.UUID
	Sequence      int64 // last op included
	StateHash     []byte
	Data          []byte
	FormatVersion int32
	Verified      bool
	CreatedAt     time.Time
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot upserts a snapshot keyed by sequence. It is stored
// unverified; see MarkVerified.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	if rec.SnapshotID == uuid.Nil {
		rec.SnapshotID = uuid.New()
	}
	if rec.FormatVersion == 0 {
		rec.FormatVersion = SnapshotFormatV1
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, rec.SnapshotID, rec.Sequence, rec.Data, rec.StateHash, rec.FormatVersion, len(rec.Data), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot seq=%d: %w", rec.Sequence, err)
	}
	return nil
}

// LoadLatestSnapshot returns the most recent verified snapshot, or nil on
// a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	err := sm.db.QueryRowContext(ctx, `
		SELECT snapshot_id, sequence, state_hash, data, format_version, verified, created_at
		FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&rec.SnapshotID, &rec.Sequence, &rec.StateHash, &rec.Data, &rec.FormatVersion, &rec.Verified, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if rec.FormatVersion != SnapshotFormatV1 {
		return nil, fmt.Errorf("load snapshot seq=%d: unsupported format %d", rec.Sequence, rec.FormatVersion)
	}
	return &rec, nil
}

// MarkVerified flags a snapshot as safe to restore from.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOpsFrom returns up to limit logged ops with sequence >= fromSequence,
// in sequence order.
func (sm *SnapshotManager) LoadOpsFrom(ctx context.Context, fromSequence int64, limit int) ([]OpRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, op_id, op_type, origin, height, source_sequence, outcome,
		       COALESCE(reject_reason, ''), payload, events, state_hash, prev_hash, created_at
		FROM event_log.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OpRow
	for rows.Next() {
		var r OpRow
		if err := rows.Scan(
			&r.Sequence, &r.OpID, &r.OpType, &r.Origin, &r.Height, &r.SourceSequence, &r.Outcome,
			&r.RejectReason, &r.Payload, &r.Events, &r.StateHash, &r.PrevHash, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		ops = append(ops, r)
	}
	return ops, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, or -1 when the
// log is empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.operations
	`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// StateHashAt returns the logged state hash at sequence, or nil when that
// sequence has not been written yet.
func (sm *SnapshotManager) StateHashAt(ctx context.Context, sequence int64) ([]byte, error) {
	var hash []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT state_hash FROM event_log.operations WHERE sequence = $1
	`, sequence).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return hash, err
}
