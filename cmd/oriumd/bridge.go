package main

import (
	"OriumLedger/internal/core"
	"OriumLedger/internal/event"
	"OriumLedger/internal/ingestion"
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"OriumLedger/internal/observability"
	"OriumLedger/internal/persistence"
	"OriumLedger/internal/projection"
	"OriumLedger/internal/state"
	"encoding/hex"
	"encoding/json"
	"time"
)

// bridgeCoreOutputs converts core outputs into persistence, projection and
// publish messages. core must not import those packages, so the
// conversion lives here. It returns once both input channels are closed,
// then closes the outputs so the workers drain.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(projectionOut)
	defer close(publishOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}

			// Blocking: every sequenced op reaches the event log
			persistOut <- persistence.CoreOutput{Op: toOpRow(output.Envelope)}

			for _, evt := range toPublishable(output.Envelope) {
				select {
				case publishOut <- evt:
				default:
					if metrics != nil {
						metrics.PublishDrops.Inc()
					}
				}
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}

			select {
			case projectionOut <- toProjectionOutput(output):
			default:
				if metrics != nil {
					metrics.ProjectionDrops.Inc()
				}
			}
		}
	}
}

func toOpRow(env *event.OpEnvelope) persistence.OpRow {
	events := []byte("[]")
	if len(env.Events) > 0 {
		// Emitted is plain data; marshalling cannot fail
		events, _ = json.Marshal(env.Events)
	}
	stateHash := env.StateHash
	prevHash := env.PrevHash
	return persistence.OpRow{
		Sequence:       env.Sequence,
		OpID:           env.IdempotencyKey,
		OpType:         env.OpType.String(),
		Origin:         env.Origin.String(),
		Height:         int64(env.Height),
		SourceSequence: env.SourceSequence,
		Outcome:        string(env.Outcome),
		RejectReason:   env.RejectReason,
		Payload:        env.Payload,
		Events:         events,
		StateHash:      stateHash[:],
		PrevHash:       prevHash[:],
		CreatedAt:      time.Now().UTC(),
	}
}

func toPublishable(env *event.OpEnvelope) []ingestion.PublishableEvent {
	if len(env.Events) == 0 {
		return nil
	}
	hash := hex.EncodeToString(env.StateHash[:])
	out := make([]ingestion.PublishableEvent, 0, len(env.Events))
	for _, e := range env.Events {
		out = append(out, ingestion.PublishableEvent{
			Sequence:       env.Sequence,
			OpType:         env.OpType.String(),
			IdempotencyKey: env.IdempotencyKey,
			Height:         env.Height,
			Event:          e,
			StateHash:      hash,
		})
	}
	return out
}

func toProjectionOutput(output core.CoreOutput) projection.ProjectionOutput {
	env := output.Envelope
	stateHash := env.StateHash
	p := projection.ProjectionOutput{
		Sequence:  env.Sequence,
		Height:    env.Height,
		StateHash: stateHash[:],
		Balances:  make([]projection.BalanceRow, 0, len(output.Balances)),
		Cdps:      make([]projection.CdpRow, 0, len(output.Positions)),
		Prices:    amountMap(output.Prices),
		Totals:    toTotalsRow(output),
	}

	for _, b := range output.Balances {
		p.Balances = append(p.Balances, balanceRow(b.Key, b.Amount))
	}
	for _, u := range output.Positions {
		if u.Position == nil {
			p.Cdps = append(p.Cdps, projection.CdpRow{Owner: uint64(u.Owner), Removed: true})
			continue
		}
		p.Cdps = append(p.Cdps, cdpRow(*u.Position))
	}
	for _, e := range env.Events {
		if e.Kind == event.KindCdpLiquidated {
			p.Liquidations = append(p.Liquidations, projection.LiquidationEntry{
				Sequence:   env.Sequence,
				Height:     env.Height,
				Owner:      uint64(e.Owner),
				Liquidator: uint64(e.Liquidator),
				Collateral: e.Amount.String(),
			})
		}
	}
	return p
}

// fullProjection describes the entire core state, for projection.Rebuild.
// Must run on the core goroutine (or before it starts).
func fullProjection(c *core.DeterministicCore) projection.ProjectionOutput {
	stateHash := c.GetStateHash()
	totals := c.Store().Totals()
	supplies := make(map[ledger.Asset]fpmath.Amount)

	p := projection.ProjectionOutput{
		Sequence:  c.GetSequence() - 1,
		Height:    c.Height(),
		StateHash: stateHash[:],
		Prices:    amountMap(c.Oracle().Snapshot()),
	}

	for _, asset := range ledger.AllAssets() {
		l := c.Ledger(asset)
		snap := l.Snapshot()
		supplies[asset] = snap.TotalSupply
		for account, amount := range snap.Free {
			p.Balances = append(p.Balances, balanceRow(ledger.AccountKey{Asset: asset, Account: account, Kind: ledger.BalanceFree}, amount))
		}
		for account, amount := range snap.Reserved {
			p.Balances = append(p.Balances, balanceRow(ledger.AccountKey{Asset: asset, Account: account, Kind: ledger.BalanceReserved}, amount))
		}
	}
	for _, pos := range c.Store().All() {
		p.Cdps = append(p.Cdps, cdpRow(pos))
	}
	p.Totals = toTotalsRow(core.CoreOutput{Totals: totals, Supplies: supplies})
	return p
}

func balanceRow(key ledger.AccountKey, amount fpmath.Amount) projection.BalanceRow {
	return projection.BalanceRow{
		Asset:   key.Asset.String(),
		Account: uint64(key.Account),
		Kind:    key.Kind.String(),
		Amount:  amount.String(),
	}
}

func cdpRow(pos state.Position) projection.CdpRow {
	return projection.CdpRow{
		Owner:      uint64(pos.Owner),
		Collateral: pos.Collateral.String(),
		DebtA:      pos.DebtA.String(),
		DebtB:      pos.DebtB.String(),
		LastUpdate: pos.LastUpdate,
	}
}

func toTotalsRow(output core.CoreOutput) projection.TotalsRow {
	return projection.TotalsRow{
		TotalCollateral: output.Totals.Collateral.String(),
		TotalDebtA:      output.Totals.DebtA.String(),
		TotalDebtB:      output.Totals.DebtB.String(),
		SupplyORM:       output.Supplies[ledger.AssetORM].String(),
		SupplyDUSD:      output.Supplies[ledger.AssetDUSD].String(),
		SupplyDEUR:      output.Supplies[ledger.AssetDEUR].String(),
	}
}

func amountMap(in map[string]fpmath.Amount) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v.String()
	}
	return out
}
