package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// OpLogWriter appends processed ops to event_log.operations with
// multi-row INSERTs.
type OpLogWriter struct {
	db *sql.DB
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// OpRow is a row in event_log.operations. Rejected ops are stored too so
// replay consumes the same sequence numbers.
type OpRow struct {
	Sequence       int64
	OpID           string
	OpType         string
	Origin         string
	Height         int64
	SourceSequence int64
	Outcome        string
	RejectReason   string
	Payload        []byte // op in wire JSON
	Events         []byte // JSON array of emitted events
	StateHash      []byte
	PrevHash       []byte
	CreatedAt      time.Time
}

const opColumns = 13

func NewOpLogWriter(db *sql.DB) *OpLogWriter {
	return &OpLogWriter{db: db}
}

// WriteOpBatch inserts rows through ex, normally a transaction.
// Re-inserting an existing sequence is a no-op.
func (w *OpLogWriter) WriteOpBatch(ctx context.Context, ex Execer, rows []OpRow) error {
	if len(rows) == 0 {
		return nil
	}
	query, args := buildOpInsert(rows)
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d ops: %w", len(rows), err)
	}
	return nil
}

func buildOpInsert(rows []OpRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO event_log.operations
		(sequence, op_id, op_type, origin, height, source_sequence, outcome, reject_reason,
		 payload, events, state_hash, prev_hash, created_at)
		VALUES `)

	args := make([]interface{}, 0, len(rows)*opColumns)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 1; c <= opColumns; c++ {
			if c > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*opColumns+c)
		}
		b.WriteByte(')')

		var reason interface{}
		if r.RejectReason != "" {
			reason = r.RejectReason
		}
		events := r.Events
		if len(events) == 0 {
			events = []byte("[]")
		}
		args = append(args,
			r.Sequence, r.OpID, r.OpType, r.Origin, r.Height, r.SourceSequence,
			r.Outcome, reason, r.Payload, events, r.StateHash, r.PrevHash, r.CreatedAt,
		)
	}
	b.WriteString(" ON CONFLICT (sequence) DO NOTHING")
	return b.String(), args
}
