package persistence

import (
	"OriumLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// CoreOutput mirrors the persisted part of core.CoreOutput to avoid an
// import cycle. cmd/oriumd bridges between the two.
type CoreOutput struct {
	Op OpRow
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel with a blocking send, so a slow worker
// stalls the core instead of losing ops.
type PersistenceWorker struct {
	writer       *OpLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
	onFlushed    func(lastSequence int64)
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		writer:       NewOpLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// OnFlushed registers fn to run after every committed batch with the
// highest sequence it wrote. Must be called before Run.
func (pw *PersistenceWorker) OnFlushed(fn func(lastSequence int64)) {
	pw.onFlushed = fn
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]OpRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("ops", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("ops", len(batch)).Msg("final flush failed")
						return err
					}
				}
				return nil
			}

			batch = append(batch, output.Op)
			if len(batch) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. On cancellation it makes one last attempt.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, rows []OpRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("ops", len(rows)).Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), rows); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, rows)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, rows []OpRow) error {
	start := time.Now()

	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteOpBatch(ctx, tx, rows); err != nil {
		pw.countError("write_ops")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	last := rows[len(rows)-1].Sequence
	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(rows)))
		pw.metrics.PersistOpsWritten.Add(float64(len(rows)))
		pw.metrics.PersistLastSequence.Set(float64(last))
	}
	if pw.onFlushed != nil {
		pw.onFlushed(last)
	}
	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
