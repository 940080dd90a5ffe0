package projection

import (
	"OriumLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data projections need from one processed
// op. cmd/oriumd bridges core.CoreOutput into it. Amounts are base-10
// strings so they map onto NUMERIC(39,0) without loss.
type ProjectionOutput struct {
	Sequence     int64
	Height       uint64
	StateHash    []byte
	Balances     []BalanceRow
	Cdps         []CdpRow
	Prices       map[string]string
	Totals       TotalsRow
	Liquidations []LiquidationEntry
}

// BalanceRow is the post-op value of one balance cell.
type BalanceRow struct {
	Asset   string
	Account uint64
	Kind    string // "free" or "reserved"
	Amount  string
}

// CdpRow is the post-op value of one position. Removed is set when the
// position was liquidated.
type CdpRow struct {
	Owner      uint64
	Collateral string
	DebtA      string
	DebtB      string
	LastUpdate uint64
	Removed    bool
}

// TotalsRow holds the aggregate counters and ledger supplies.
type TotalsRow struct {
	TotalCollateral string
	TotalDebtA      string
	TotalDebtB      string
	SupplyORM       string
	SupplyDUSD      string
	SupplyDEUR      string
}

// ProjectionWorker updates projection tables from core outputs.
// The projection channel drops on full, so these tables are eventually
// consistent; Rebuild resets them from a full state image.
type ProjectionWorker struct {
	db           *sql.DB
	inputChan    <-chan ProjectionOutput
	liquidations *LiquidationHistory
	metrics      *observability.Metrics
	logger       zerolog.Logger
	lastSeq      int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	liquidations *LiquidationHistory,
	metrics *observability.Metrics,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:           db,
		inputChan:    inputChan,
		liquidations: liquidations,
		metrics:      metrics,
		logger:       observability.NewLogger("projection"),
		lastSeq:      -1,
	}
}

// Run applies outputs until the channel closes or ctx is cancelled.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Continue: projections can be rebuilt
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// LastSequence returns the last sequence applied, or -1.
func (pw *ProjectionWorker) LastSequence() int64 { return pw.lastSeq }

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := pw.timed("balances", func() error { return upsertBalances(ctx, tx, output) }); err != nil {
		return fmt.Errorf("balance projection: %w", err)
	}
	if err := pw.timed("cdps", func() error { return upsertCdps(ctx, tx, output) }); err != nil {
		return fmt.Errorf("cdp projection: %w", err)
	}
	if err := pw.timed("prices", func() error { return upsertPrices(ctx, tx, output) }); err != nil {
		return fmt.Errorf("price projection: %w", err)
	}
	if err := pw.timed("totals", func() error { return upsertTotals(ctx, tx, output) }); err != nil {
		return fmt.Errorf("totals projection: %w", err)
	}

	stateHash := output.StateHash
	if stateHash == nil {
		stateHash = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (id, last_sequence, state_hash, height, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET last_sequence = $1, state_hash = $2, height = $3, updated_at = NOW()
	`, output.Sequence, stateHash, int64(output.Height)); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.liquidations != nil {
		for _, l := range output.Liquidations {
			pw.liquidations.Add(l)
		}
	}
	return nil
}

func (pw *ProjectionWorker) timed(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return err
}

func upsertBalances(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for _, b := range output.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (asset, account, kind, amount, updated_seq)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (asset, account, kind)
			DO UPDATE SET amount = $4, updated_seq = $5
		`, b.Asset, int64(b.Account), b.Kind, b.Amount, output.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func upsertCdps(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for _, c := range output.Cdps {
		if c.Removed {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM projections.cdps WHERE owner = $1`, int64(c.Owner),
			); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.cdps (owner, collateral, debt_a, debt_b, last_update, updated_seq)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (owner) DO UPDATE
				SET collateral = $2, debt_a = $3, debt_b = $4, last_update = $5, updated_seq = $6
		`, int64(c.Owner), c.Collateral, c.DebtA, c.DebtB, int64(c.LastUpdate), output.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func upsertPrices(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for symbol, price := range output.Prices {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.prices (symbol, price, updated_seq)
			VALUES ($1, $2, $3)
			ON CONFLICT (symbol) DO UPDATE SET price = $2, updated_seq = $3
		`, symbol, price, output.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func upsertTotals(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	t := output.Totals
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.totals
			(id, total_collateral, total_debt_a, total_debt_b, supply_orm, supply_dusd, supply_deur, updated_seq)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			total_collateral = $1, total_debt_a = $2, total_debt_b = $3,
			supply_orm = $4, supply_dusd = $5, supply_deur = $6, updated_seq = $7
	`, t.TotalCollateral, t.TotalDebtA, t.TotalDebtB, t.SupplyORM, t.SupplyDUSD, t.SupplyDEUR, output.Sequence)
	return err
}

// Rebuild truncates every projection table and loads full, which must
// describe the entire state (all balances, all positions).
func Rebuild(ctx context.Context, db *sql.DB, full ProjectionOutput) error {
	stmts := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.cdps`,
		`TRUNCATE projections.prices`,
		`DELETE FROM projections.totals`,
		`DELETE FROM projections.watermark`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	pw := &ProjectionWorker{db: db, logger: observability.NewLogger("projection")}
	if err := pw.processOutput(ctx, full); err != nil {
		return fmt.Errorf("load full state: %w", err)
	}
	pw.logger.Info().
		Int64("sequence", full.Sequence).
		Int("balances", len(full.Balances)).
		Int("cdps", len(full.Cdps)).
		Msg("projection rebuild complete")
	return nil
}
