package core

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"OriumLedger/internal/observability"
	"OriumLedger/internal/oracle"
	"OriumLedger/internal/state"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const globalPartition = "global"

// CoreConfig configures a DeterministicCore.
type CoreConfig struct {
	StartSequence       int64
	IdempotencyCapacity int
	Params              state.Params
}

// DeterministicCore is the single-threaded op processor. It owns the
// three ledgers, the CDP store and the oracle; nothing else mutates them.
type DeterministicCore struct {
	sequence          int64
	hasher            *StateHasher
	ledgers           []*ledger.Ledger // ORM, dUSD, dEUR
	store             *state.Store
	oracle            *oracle.Oracle
	clock             *state.HeightClock
	engine            *Engine
	events            *EventBuffer
	validator         *ledger.InvariantValidator
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// BalanceUpdate is the post-op value of one balance cell.
type BalanceUpdate struct {
	Key    ledger.AccountKey
	Amount fpmath.Amount
}

// PositionUpdate is the post-op value of a position; Position is nil when
// the position was removed.
type PositionUpdate struct {
	Owner    ledger.AccountID
	Position *state.Position
}

// CoreOutput is everything downstream workers need from one processed op.
type CoreOutput struct {
	Envelope  *event.OpEnvelope
	Balances  []BalanceUpdate
	Positions []PositionUpdate
	Prices    map[string]fpmath.Amount
	Totals    state.Totals
	Supplies  map[ledger.Asset]fpmath.Amount
}

func NewDeterministicCore(
	cfg CoreConfig,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*DeterministicCore, error) {
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	idempotency, err := NewIdempotencyChecker(capacity, dbChecker)
	if err != nil {
		return nil, err
	}

	orm := ledger.NewLedger(ledger.AssetORM)
	dusd := ledger.NewLedger(ledger.AssetDUSD)
	deur := ledger.NewLedger(ledger.AssetDEUR)
	store := state.NewStore()
	prices := oracle.New()
	clock := &state.HeightClock{}
	events := &EventBuffer{}

	engine, err := NewEngine(EngineConfig{
		Params: cfg.Params,
		Store:  store,
		ORM:    orm,
		DUSD:   dusd,
		DEUR:   deur,
		Prices: prices,
		Clock:  clock,
		Auth:   OriginAuth{},
		Sink:   events,
	})
	if err != nil {
		return nil, err
	}

	sequenceValidator := NewSequenceValidator()
	sequenceValidator.SetExpectedSequence(globalPartition, 0)

	return &DeterministicCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		ledgers:           []*ledger.Ledger{orm, dusd, deur},
		store:             store,
		oracle:            prices,
		clock:             clock,
		engine:            engine,
		events:            events,
		validator:         ledger.NewInvariantValidator(orm, dusd, deur),
		idempotency:       idempotency,
		sequenceValidator: sequenceValidator,
		metrics:           metrics,
		logger:            logger,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}, nil
}

// ApplyGenesis seeds prices and endowments into an empty core. It emits no
// outputs; the genesis file is replayed identically on every cold start.
func (c *DeterministicCore) ApplyGenesis(g state.Genesis) error {
	if c.sequence != 0 || c.store.Len() != 0 {
		return fmt.Errorf("genesis applied to non-empty core at sequence %d", c.sequence)
	}
	for symbol, price := range g.Prices {
		if !c.oracle.SetPrice(symbol, price) {
			return fmt.Errorf("genesis: unknown price symbol %q", symbol)
		}
	}
	for _, e := range g.Endowments {
		l := c.ledger(e.Asset)
		if l == nil {
			return fmt.Errorf("genesis: unknown asset %v for account %s", e.Asset, e.Account)
		}
		if _, err := l.Mint(e.Account, e.Amount); err != nil {
			return fmt.Errorf("genesis: endow %s with %s %v: %w", e.Account, e.Amount, e.Asset, err)
		}
	}
	for _, l := range c.ledgers {
		l.DrainTouched()
	}
	if err := c.postCheckInvariants(); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	return nil
}

// ErrReplayDiverged is returned by Replay when re-applying a logged op does
// not reproduce the logged sequence or state hash.
var ErrReplayDiverged = errors.New("core: replay diverged from event log")

// ProcessOp is the main processing pipeline. A returned error means the op
// was not sequenced (ordering failure); domain rejections are recorded as
// rejected outcomes and return nil.
func (c *DeterministicCore) ProcessOp(op event.Op) error {
	start := time.Now()
	opType := op.OpType().String()
	idempotencyKey := op.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate, tier := c.idempotency.IsDuplicate(opType, idempotencyKey)

	// Step 2: Sequence validation
	if err := c.validateSequence(op, isDuplicate); err != nil {
		return err
	}

	if isDuplicate {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(opType, tier).Inc()
			c.metrics.CoreOpsRejected.WithLabelValues(opType, "duplicate").Inc()
		}
		return nil
	}

	output := c.apply(op, start)

	// Emit. Persistence is a blocking send so no op is lost; projections
	// drop on full and are rebuilt from the event log.
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.Inc()
			}
		}
	}
	return nil
}

// Replay re-applies an op read back from the event log during recovery.
// The op is known to be sequenced, so the Postgres dedup tier is skipped
// and nothing is emitted. sequence and stateHash are the logged values.
func (c *DeterministicCore) Replay(op event.Op, sequence int64, stateHash [32]byte) error {
	if sequence != c.sequence {
		return fmt.Errorf("%w: logged sequence %d, core at %d", ErrReplayDiverged, sequence, c.sequence)
	}
	if err := c.validateSequence(op, false); err != nil {
		return err
	}

	output := c.apply(op, time.Now())
	if output.Envelope.StateHash != stateHash {
		return fmt.Errorf("%w: state hash at sequence %d: logged %x, replayed %x",
			ErrReplayDiverged, sequence, stateHash, output.Envelope.StateHash)
	}
	if c.metrics != nil {
		c.metrics.ReplayOpsTotal.Inc()
	}
	return nil
}

func (c *DeterministicCore) validateSequence(op event.Op, isDuplicate bool) error {
	if err := c.sequenceValidator.ValidateSequence(globalPartition, op.SourceSequence(), isDuplicate); err != nil {
		if c.metrics != nil {
			if errors.Is(err, ErrSequenceGap) {
				c.metrics.OpSequenceGap.Inc()
			} else {
				c.metrics.OpOutOfOrder.Inc()
			}
		}
		return fmt.Errorf("sequence validation failed: %w", err)
	}
	return nil
}

// apply runs a sequenced op through dispatch, post-checks and the hash
// chain, and assigns it the next global sequence.
func (c *DeterministicCore) apply(op event.Op, start time.Time) CoreOutput {
	opType := op.OpType().String()
	idempotencyKey := op.IdempotencyKey()

	// Advance the block height, then dispatch
	c.clock.Observe(op.BlockHeight())
	applyErr := c.dispatch(op)
	emitted := c.events.Drain()

	outcome := event.OutcomeAccepted
	rejectReason := ""
	if applyErr != nil {
		outcome = event.OutcomeRejected
		rejectReason, _ = RejectReason(applyErr)
		emitted = nil
		observability.WithOp(c.logger.Debug(), opType, op).
			Str("origin", op.OpOrigin().String()).
			Err(applyErr).
			Msg("op rejected")
	}

	// Post-checks. A violation here means the in-memory state is corrupt
	// and must never reach the event log.
	if err := c.postCheckInvariants(); err != nil {
		observability.WithOp(c.logger.Error(), opType, op).Err(err).Int64("sequence", c.sequence).Msg("invariant violated")
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// State digest and hash chain
	hashStart := time.Now()
	balances, positions := c.collectChanges()
	stateDigest := c.computeStateDigest(balances, positions)
	prevHash := c.hasher.Tip()
	stateHash := c.hasher.Advance(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(op)
	if err != nil {
		panic(fmt.Sprintf("FATAL: op %s not serializable: %v", opType, err))
	}

	envelope := &event.OpEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		OpType:         op.OpType(),
		Origin:         op.OpOrigin(),
		Height:         c.clock.CurrentHeight(),
		SourceSequence: op.SourceSequence(),
		Outcome:        outcome,
		RejectReason:   rejectReason,
		Payload:        payload,
		Events:         emitted,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:  envelope,
		Balances:  balances,
		Positions: positions,
		Prices:    c.oracle.Snapshot(),
		Totals:    c.store.Totals(),
		Supplies:  c.supplies(),
	}
	c.sequence++

	// Rejected ops are consumed too, so a redelivery does not get a
	// second chance at a different state.
	c.idempotency.MarkProcessed(opType, idempotencyKey)

	c.recordMetrics(op, opType, applyErr, rejectReason, start)
	return output
}

func (c *DeterministicCore) dispatch(op event.Op) error {
	origin := op.OpOrigin()
	switch o := op.(type) {
	case *event.CreateCdp:
		return c.engine.CreateCdp(origin, o.Collateral)
	case *event.DepositCollateral:
		return c.engine.DepositCollateral(origin, o.Amount)
	case *event.WithdrawCollateral:
		return c.engine.WithdrawCollateral(origin, o.Amount)
	case *event.MintDebt:
		return c.engine.MintDebt(origin, o.Asset, o.Amount)
	case *event.RepayDebt:
		return c.engine.RepayDebt(origin, o.Asset, o.Amount)
	case *event.Liquidate:
		return c.engine.Liquidate(origin, o.Target)
	case *event.UpdatePrice:
		return c.engine.UpdatePrice(origin, o.Symbol, o.Price)
	case *event.Transfer:
		return c.engine.Transfer(origin, o.Asset, o.To, o.Amount)
	case *event.Approve:
		return c.engine.Approve(origin, o.Asset, o.Spender, o.Amount)
	case *event.TransferFrom:
		return c.engine.TransferFrom(origin, o.Asset, o.From, o.To, o.Amount)
	case *event.Mint:
		return c.engine.Mint(origin, o.Asset, o.To, o.Amount)
	case *event.Burn:
		return c.engine.Burn(origin, o.Asset, o.Amount)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownOp, op)
	}
}

// collectChanges drains the touched sets of the ledgers and the store.
func (c *DeterministicCore) collectChanges() ([]BalanceUpdate, []PositionUpdate) {
	var balances []BalanceUpdate
	for _, l := range c.ledgers {
		for _, key := range l.DrainTouched() {
			balances = append(balances, BalanceUpdate{Key: key, Amount: l.Get(key)})
		}
	}

	owners := c.store.DrainTouched()
	positions := make([]PositionUpdate, 0, len(owners))
	for _, owner := range owners {
		update := PositionUpdate{Owner: owner}
		if pos, ok := c.store.Get(owner); ok {
			update.Position = &pos
		}
		positions = append(positions, update)
	}
	return balances, positions
}

// postCheckInvariants validates supply conservation, counter conservation
// and that locked collateral matches reserved ORM.
func (c *DeterministicCore) postCheckInvariants() error {
	if err := c.validator.ValidateAll(); err != nil {
		return err
	}
	if err := c.store.SumCheck(); err != nil {
		return err
	}
	return c.validator.ValidateReserved(c.ledgers[0], c.store.Totals().Collateral)
}

func (c *DeterministicCore) recordMetrics(op event.Op, opType string, applyErr error, reason string, start time.Time) {
	if c.metrics == nil {
		return
	}
	if applyErr != nil {
		c.metrics.CoreOpsRejected.WithLabelValues(opType, reason).Inc()
	} else {
		c.metrics.CoreOpsApplied.WithLabelValues(opType).Inc()
		switch o := op.(type) {
		case *event.Liquidate:
			c.metrics.Liquidations.Inc()
		case *event.UpdatePrice:
			if oracle.IsKnownSymbol(o.Symbol) {
				c.metrics.OraclePrice.WithLabelValues(o.Symbol).Set(o.Price.Float64())
			}
		}
	}
	c.metrics.CoreOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	c.metrics.CoreHeight.Set(float64(c.clock.CurrentHeight()))
	c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))

	totals := c.store.Totals()
	c.metrics.OpenCdps.Set(float64(c.store.Len()))
	c.metrics.TotalCollateral.Set(totals.Collateral.Float64())
	c.metrics.TotalDebt.WithLabelValues(ledger.AssetDUSD.String()).Set(totals.DebtA.Float64())
	c.metrics.TotalDebt.WithLabelValues(ledger.AssetDEUR.String()).Set(totals.DebtB.Float64())
}

func (c *DeterministicCore) ledger(asset ledger.Asset) *ledger.Ledger {
	for _, l := range c.ledgers {
		if l.Asset() == asset {
			return l
		}
	}
	return nil
}

func (c *DeterministicCore) supplies() map[ledger.Asset]fpmath.Amount {
	out := make(map[ledger.Asset]fpmath.Amount, len(c.ledgers))
	for _, l := range c.ledgers {
		out[l.Asset()] = l.TotalSupply()
	}
	return out
}

// --- Read-only accessors (core goroutine or tests only) ---

func (c *DeterministicCore) Engine() *Engine { return c.engine }

func (c *DeterministicCore) Ledger(asset ledger.Asset) *ledger.Ledger { return c.ledger(asset) }

func (c *DeterministicCore) Store() *state.Store { return c.store }

func (c *DeterministicCore) Oracle() *oracle.Oracle { return c.oracle }

// GetSequence returns the next global sequence number to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.Tip()
}

func (c *DeterministicCore) Height() uint64 { return c.clock.CurrentHeight() }

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}
