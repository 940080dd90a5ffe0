package query

import (
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"OriumLedger/internal/oracle"
	"OriumLedger/internal/projection"
	"OriumLedger/internal/state"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the requested entity has no projection row.
var ErrNotFound = errors.New("query: not found")

// QueryService provides read-only access to projection tables. Derived
// values (ratios, liquidatable flags) are computed at query time with the
// same arithmetic as the engine.
type QueryService struct {
	db           *sql.DB
	params       state.Params
	liquidations *projection.LiquidationHistory
}

func NewQueryService(db *sql.DB, params state.Params, liquidations *projection.LiquidationHistory) *QueryService {
	return &QueryService{db: db, params: params, liquidations: liquidations}
}

// GetCdp returns owner's position with its current ratio.
func (qs *QueryService) GetCdp(ctx context.Context, owner ledger.AccountID) (*CdpResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var collateral, debtA, debtB decimal.Decimal
	var lastUpdate int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT collateral, debt_a, debt_b, last_update
		FROM projections.cdps
		WHERE owner = $1
	`, int64(owner)).Scan(&collateral, &debtA, &debtB, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cdp %d: %w", owner, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var pos state.Position
	pos.Owner = owner
	pos.LastUpdate = uint64(lastUpdate)
	if pos.Collateral, err = toAmount(collateral); err != nil {
		return nil, err
	}
	if pos.DebtA, err = toAmount(debtA); err != nil {
		return nil, err
	}
	if pos.DebtB, err = toAmount(debtB); err != nil {
		return nil, err
	}

	prices, err := qs.loadPrices(ctx)
	if err != nil {
		return nil, err
	}

	resp := EvaluateCdp(pos, prices[oracle.SymbolUSD], prices[oracle.SymbolEUR], qs.params)
	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// EvaluateCdp derives the ratio view of pos. A zero price means the
// ratio cannot be evaluated; such a position is never reported
// liquidatable.
func EvaluateCdp(pos state.Position, priceA, priceB fpmath.Amount, params state.Params) CdpResponse {
	resp := CdpResponse{
		Owner:      uint64(pos.Owner),
		Collateral: pos.Collateral.String(),
		DebtA:      pos.DebtA.String(),
		DebtB:      pos.DebtB.String(),
		LastUpdate: pos.LastUpdate,
	}
	if priceA.IsZero() || priceB.IsZero() {
		return resp
	}
	resp.PriceAvailable = true

	cv := fpmath.CollateralValue(pos.Collateral, priceA, params.PriceScale)
	dv := fpmath.DebtValue(pos.DebtA, pos.DebtB, priceA, priceB)
	resp.CollateralValue = cv.String()

	ratio, hasDebt := fpmath.RatioBp(cv, dv)
	if !hasDebt {
		return resp
	}
	resp.RatioBp = ratio.String()
	resp.RatioPercent = fpmath.FormatBasisPoints(ratio)
	resp.Liquidatable = ratio.Lt(fpmath.NewAmount(uint64(params.LiquidationRatio)))
	return resp
}

// GetPrices returns every projected oracle price, sorted by symbol.
func (qs *QueryService) GetPrices(ctx context.Context) (*PricesResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	prices, err := qs.loadPrices(ctx)
	if err != nil {
		return nil, err
	}

	resp := &PricesResponse{Prices: make([]PriceResponse, 0, len(prices)), AsOfSequence: asOfSeq}
	for _, symbol := range []string{oracle.SymbolUSD, oracle.SymbolEUR} {
		p, ok := prices[symbol]
		if !ok {
			continue
		}
		resp.Prices = append(resp.Prices, PriceResponse{
			Symbol:  symbol,
			Price:   p.String(),
			Decimal: fpmath.FormatScaled(p, qs.params.PriceScale),
		})
	}
	return resp, nil
}

// GetTotals returns the aggregate counters and supplies.
func (qs *QueryService) GetTotals(ctx context.Context) (*TotalsResponse, error) {
	var t TotalsResponse
	var c, a, b, orm, dusd, deur decimal.Decimal
	err := qs.db.QueryRowContext(ctx, `
		SELECT total_collateral, total_debt_a, total_debt_b,
		       supply_orm, supply_dusd, supply_deur, updated_seq
		FROM projections.totals WHERE id = 1
	`).Scan(&c, &a, &b, &orm, &dusd, &deur, &t.AsOfSequence)
	if errors.Is(err, sql.ErrNoRows) {
		zero := "0"
		return &TotalsResponse{
			TotalCollateral: zero, TotalDebtA: zero, TotalDebtB: zero,
			SupplyORM: zero, SupplyDUSD: zero, SupplyDEUR: zero,
			AsOfSequence: -1,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	t.TotalCollateral = c.String()
	t.TotalDebtA = a.String()
	t.TotalDebtB = b.String()
	t.SupplyORM = orm.String()
	t.SupplyDUSD = dusd.String()
	t.SupplyDEUR = deur.String()
	return &t, nil
}

// GetStatus returns the projection watermark.
func (qs *QueryService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var s StatusResponse
	var hash []byte
	var height int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence, state_hash, height FROM projections.watermark WHERE id = 1
	`).Scan(&s.Sequence, &hash, &height)
	if errors.Is(err, sql.ErrNoRows) {
		return &StatusResponse{Sequence: -1}, nil
	}
	if err != nil {
		return nil, err
	}
	s.StateHash = hex.EncodeToString(hash)
	s.Height = uint64(height)
	return &s, nil
}

// GetOpHistory returns ops signed by account, newest first. beforeSequence
// is an exclusive cursor.
func (qs *QueryService) GetOpHistory(
	ctx context.Context,
	account ledger.AccountID,
	limit int,
	beforeSequence *int64,
) ([]OpHistoryEntry, error) {
	query := `
		SELECT sequence, op_id, op_type, origin, height, outcome,
		       COALESCE(reject_reason, ''), events, state_hash
		FROM event_log.operations
		WHERE origin = $1
	`
	args := []interface{}{fmt.Sprintf("signed:%d", account)}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]OpHistoryEntry, 0)
	for rows.Next() {
		var e OpHistoryEntry
		var hash []byte
		if err := rows.Scan(
			&e.Sequence, &e.OpID, &e.OpType, &e.Origin, &e.Height, &e.Outcome,
			&e.RejectReason, &e.Events, &hash,
		); err != nil {
			return nil, err
		}
		e.StateHash = hex.EncodeToString(hash)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetLiquidations returns recent liquidations, optionally of one owner.
func (qs *QueryService) GetLiquidations(owner *ledger.AccountID, limit int) *LiquidationsResponse {
	if qs.liquidations == nil {
		return &LiquidationsResponse{Liquidations: []projection.LiquidationEntry{}}
	}
	if owner != nil {
		return &LiquidationsResponse{Liquidations: qs.liquidations.QueryByOwner(uint64(*owner), limit)}
	}
	return &LiquidationsResponse{Liquidations: qs.liquidations.Recent(limit)}
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain of the op log, that projected
// balances add up to projected supplies, and that reserved ORM equals
// the total collateral counter.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM event_log.operations o1
		JOIN event_log.operations o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.prev_hash <> o2.state_hash
		ORDER BY o1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal)
	var reservedORM decimal.Decimal
	balRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, kind, SUM(amount)
		FROM projections.balances
		GROUP BY asset, kind
	`)
	if err != nil {
		return nil, err
	}
	for balRows.Next() {
		var asset, kind string
		var sum decimal.Decimal
		if err := balRows.Scan(&asset, &kind, &sum); err != nil {
			balRows.Close()
			return nil, err
		}
		sums[asset] = sums[asset].Add(sum)
		if asset == ledger.AssetORM.String() && kind == ledger.BalanceReserved.String() {
			reservedORM = sum
		}
	}
	balRows.Close()
	if err := balRows.Err(); err != nil {
		return nil, err
	}

	totals, err := qs.GetTotals(ctx)
	if err != nil {
		return nil, err
	}
	if totals.AsOfSequence >= 0 {
		expected := map[string]string{
			ledger.AssetORM.String():  totals.SupplyORM,
			ledger.AssetDUSD.String(): totals.SupplyDUSD,
			ledger.AssetDEUR.String(): totals.SupplyDEUR,
		}
		for _, asset := range ledger.AllAssets() {
			name := asset.String()
			want := decimal.RequireFromString(expected[name])
			if !sums[name].Equal(want) {
				report.SupplyMismatches = append(report.SupplyMismatches, SupplyMismatch{
					Asset: name, Expected: want.String(), Actual: sums[name].String(),
				})
			}
		}
		wantCollateral := decimal.RequireFromString(totals.TotalCollateral)
		if !reservedORM.Equal(wantCollateral) {
			report.CollateralMismatch = &SupplyMismatch{
				Asset: ledger.AssetORM.String(), Expected: wantCollateral.String(), Actual: reservedORM.String(),
			}
		}
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SupplyMismatches) == 0 &&
		report.CollateralMismatch == nil
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) loadPrices(ctx context.Context) (map[string]fpmath.Amount, error) {
	rows, err := qs.db.QueryContext(ctx, `SELECT symbol, price FROM projections.prices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	prices := make(map[string]fpmath.Amount)
	for rows.Next() {
		var symbol string
		var price decimal.Decimal
		if err := rows.Scan(&symbol, &price); err != nil {
			return nil, err
		}
		a, err := toAmount(price)
		if err != nil {
			return nil, err
		}
		prices[symbol] = a
	}
	return prices, rows.Err()
}
