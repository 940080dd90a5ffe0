package core

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
	"OriumLedger/internal/oracle"
	"OriumLedger/internal/state"
	"fmt"
)

// EngineConfig wires the Engine to its collaborators.
type EngineConfig struct {
	Params state.Params
	Store  *state.Store
	ORM    LedgerAccount
	DUSD   LedgerAccount
	DEUR   LedgerAccount
	Prices PriceSource
	Clock  Clock
	Auth   OriginAuthenticator
	Sink   EventSink
}

// Engine applies CDP lifecycle and token operations. Every method validates
// all preconditions before its first mutation, so an error return leaves
// the store, ledgers and oracle untouched. Each success emits exactly one
// event to the sink.
// Not thread-safe: driven by the DeterministicCore goroutine.
type Engine struct {
	params  state.Params
	store   *state.Store
	ledgers map[ledger.Asset]LedgerAccount
	prices  PriceSource
	clock   Clock
	auth    OriginAuthenticator
	sink    EventSink
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := state.ValidateParams(cfg.Params); err != nil {
		return nil, err
	}
	if cfg.Store == nil || cfg.ORM == nil || cfg.DUSD == nil || cfg.DEUR == nil ||
		cfg.Prices == nil || cfg.Clock == nil || cfg.Sink == nil {
		return nil, fmt.Errorf("core: incomplete engine config")
	}
	auth := cfg.Auth
	if auth == nil {
		auth = OriginAuth{}
	}
	return &Engine{
		params: cfg.Params,
		store:  cfg.Store,
		ledgers: map[ledger.Asset]LedgerAccount{
			ledger.AssetORM:  cfg.ORM,
			ledger.AssetDUSD: cfg.DUSD,
			ledger.AssetDEUR: cfg.DEUR,
		},
		prices: cfg.Prices,
		clock:  cfg.Clock,
		auth:   auth,
		sink:   cfg.Sink,
	}, nil
}

func (e *Engine) Params() state.Params { return e.params }

func (e *Engine) orm() LedgerAccount { return e.ledgers[ledger.AssetORM] }

func (e *Engine) ledgerFor(asset ledger.Asset) (LedgerAccount, error) {
	l, ok := e.ledgers[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAsset, asset)
	}
	return l, nil
}

func (e *Engine) stablecoin(asset ledger.Asset) (LedgerAccount, error) {
	if !asset.IsStablecoin() {
		return nil, fmt.Errorf("%w: %v is not a stablecoin", ErrUnsupportedAsset, asset)
	}
	return e.ledgers[asset], nil
}

// ============================================================================
// CDP lifecycle
// ============================================================================

func (e *Engine) CreateCdp(origin event.Origin, collateral fpmath.Amount) error {
	who, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	if e.store.Exists(who) {
		return ErrCdpAlreadyExists
	}
	if err := e.orm().Reserve(who, collateral); err != nil {
		return err
	}

	e.store.Put(state.Position{
		Owner:      who,
		Collateral: collateral,
		LastUpdate: e.clock.CurrentHeight(),
	})
	e.sink.Emit(event.Emitted{Kind: event.KindCdpCreated, Owner: who, Amount: collateral})
	return nil
}

func (e *Engine) DepositCollateral(origin event.Origin, amount fpmath.Amount) error {
	who, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	pos, ok := e.store.Get(who)
	if !ok {
		return ErrCdpNotFound
	}
	if err := e.orm().Reserve(who, amount); err != nil {
		return err
	}

	pos.Collateral = pos.Collateral.SaturatingAdd(amount)
	pos.LastUpdate = e.clock.CurrentHeight()
	e.store.Put(pos)
	e.sink.Emit(event.Emitted{Kind: event.KindCollateralDeposited, Owner: who, Amount: amount})
	return nil
}

// WithdrawCollateral releases collateral. The ratio is only checked while
// the position carries debt.
func (e *Engine) WithdrawCollateral(origin event.Origin, amount fpmath.Amount) error {
	who, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	pos, ok := e.store.Get(who)
	if !ok {
		return ErrCdpNotFound
	}
	if pos.Collateral.Lt(amount) {
		return ErrInsufficientCollateral
	}

	remaining := pos.Collateral.SaturatingSub(amount)
	if pos.HasDebt() {
		if err := e.requireSolvent(remaining, pos.DebtA, pos.DebtB); err != nil {
			return err
		}
	}
	if err := e.orm().Unreserve(who, amount); err != nil {
		return fmt.Errorf("unreserve collateral for %s: %w", who, err)
	}

	pos.Collateral = remaining
	pos.LastUpdate = e.clock.CurrentHeight()
	e.store.Put(pos)
	e.sink.Emit(event.Emitted{Kind: event.KindCollateralWithdrawn, Owner: who, Amount: amount})
	return nil
}

// MintDebt borrows amount of a stablecoin, credited to the signer.
func (e *Engine) MintDebt(origin event.Origin, asset ledger.Asset, amount fpmath.Amount) error {
	who, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	coin, err := e.stablecoin(asset)
	if err != nil {
		return err
	}
	pos, ok := e.store.Get(who)
	if !ok {
		return ErrCdpNotFound
	}

	// Debt can outlive supply (plain burns), so the debt total is bounded
	// on its own. A position's debt never exceeds the total.
	if _, ok := e.store.Totals().Debt(asset).CheckedAdd(amount); !ok {
		return ErrDebtOverflow
	}

	updated := pos.WithDebt(asset, pos.Debt(asset).SaturatingAdd(amount))
	if err := e.requireSolvent(updated.Collateral, updated.DebtA, updated.DebtB); err != nil {
		return err
	}
	if _, err := coin.Mint(who, amount); err != nil {
		return fmt.Errorf("mint %s to %s: %w", asset, who, err)
	}

	updated.LastUpdate = e.clock.CurrentHeight()
	e.store.Put(updated)
	e.sink.Emit(event.Emitted{Kind: event.DebtMinted(asset), Owner: who, Amount: amount})
	return nil
}

// RepayDebt burns amount from the signer and reduces the matching debt.
// Repaying more than is owed fails.
func (e *Engine) RepayDebt(origin event.Origin, asset ledger.Asset, amount fpmath.Amount) error {
	who, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	coin, err := e.stablecoin(asset)
	if err != nil {
		return err
	}
	pos, ok := e.store.Get(who)
	if !ok {
		return ErrCdpNotFound
	}
	debt := pos.Debt(asset)
	if debt.Lt(amount) {
		return ErrInsufficientDebt
	}
	if coin.BalanceOf(who).Lt(amount) {
		return ledger.ErrInsufficientBalance
	}
	if _, err := coin.Burn(who, amount); err != nil {
		return err
	}

	updated := pos.WithDebt(asset, debt.SaturatingSub(amount))
	updated.LastUpdate = e.clock.CurrentHeight()
	e.store.Put(updated)
	e.sink.Emit(event.Emitted{Kind: event.DebtRepaid(asset), Owner: who, Amount: amount})
	return nil
}

// Liquidate seizes all collateral of target into the signer's free ORM
// balance and removes the position together with its debt.
func (e *Engine) Liquidate(origin event.Origin, target ledger.AccountID) error {
	liquidator, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	pos, ok := e.store.Get(target)
	if !ok {
		return ErrCdpNotFound
	}
	liquidatable, err := e.liquidatable(pos)
	if err != nil {
		return err
	}
	if !liquidatable {
		return ErrCdpNotLiquidatable
	}
	if err := e.orm().RepatriateReserved(target, liquidator, pos.Collateral); err != nil {
		return fmt.Errorf("seize collateral of %s: %w", target, err)
	}

	e.store.Remove(target)
	e.sink.Emit(event.Emitted{
		Kind:       event.KindCdpLiquidated,
		Owner:      target,
		Liquidator: liquidator,
		Amount:     pos.Collateral,
	})
	return nil
}

// UpdatePrice is root-only. Unknown symbols store nothing but the event is
// still emitted.
func (e *Engine) UpdatePrice(origin event.Origin, symbol string, price fpmath.Amount) error {
	if !e.auth.IsPrivileged(origin) {
		return ErrNotAuthorized
	}
	e.prices.SetPrice(symbol, price)
	e.sink.Emit(event.Emitted{Kind: event.KindPriceUpdated, Symbol: symbol, Amount: price})
	return nil
}

// ============================================================================
// Direct ledger operations
// ============================================================================

func (e *Engine) Transfer(origin event.Origin, asset ledger.Asset, to ledger.AccountID, amount fpmath.Amount) error {
	who, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	l, err := e.ledgerFor(asset)
	if err != nil {
		return err
	}
	return e.emitLedger(l.Transfer(who, to, amount))
}

func (e *Engine) Approve(origin event.Origin, asset ledger.Asset, spender ledger.AccountID, amount fpmath.Amount) error {
	who, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	l, err := e.ledgerFor(asset)
	if err != nil {
		return err
	}
	return e.emitLedger(l.Approve(who, spender, amount))
}

// TransferFrom is signed by the spender.
func (e *Engine) TransferFrom(origin event.Origin, asset ledger.Asset, from, to ledger.AccountID, amount fpmath.Amount) error {
	spender, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	l, err := e.ledgerFor(asset)
	if err != nil {
		return err
	}
	return e.emitLedger(l.TransferFrom(spender, from, to, amount))
}

// Mint is root-only and bypasses the CDP debt counters.
func (e *Engine) Mint(origin event.Origin, asset ledger.Asset, to ledger.AccountID, amount fpmath.Amount) error {
	if !e.auth.IsPrivileged(origin) {
		return ErrNotAuthorized
	}
	l, err := e.ledgerFor(asset)
	if err != nil {
		return err
	}
	return e.emitLedger(l.Mint(to, amount))
}

func (e *Engine) Burn(origin event.Origin, asset ledger.Asset, amount fpmath.Amount) error {
	who, err := e.auth.SignedAccount(origin)
	if err != nil {
		return err
	}
	l, err := e.ledgerFor(asset)
	if err != nil {
		return err
	}
	return e.emitLedger(l.Burn(who, amount))
}

func (e *Engine) emitLedger(evt ledger.Event, err error) error {
	if err != nil {
		return err
	}
	e.sink.Emit(event.FromLedger(evt))
	return nil
}

// ============================================================================
// Solvency
// ============================================================================

// CheckRatio returns the collateral ratio in basis points. hasDebt is false
// when the debt value is zero, in which case ratio is meaningless and the
// position is solvent. Both prices must be set.
func (e *Engine) CheckRatio(collateral, debtA, debtB fpmath.Amount) (ratio fpmath.Amount, hasDebt bool, err error) {
	priceA := e.prices.GetPrice(oracle.SymbolUSD)
	priceB := e.prices.GetPrice(oracle.SymbolEUR)
	if priceA.IsZero() || priceB.IsZero() {
		return fpmath.Amount{}, false, ErrPriceNotAvailable
	}
	cv := fpmath.CollateralValue(collateral, priceA, e.params.PriceScale)
	dv := fpmath.DebtValue(debtA, debtB, priceA, priceB)
	ratio, hasDebt = fpmath.RatioBp(cv, dv)
	return ratio, hasDebt, nil
}

func (e *Engine) requireSolvent(collateral, debtA, debtB fpmath.Amount) error {
	ratio, hasDebt, err := e.CheckRatio(collateral, debtA, debtB)
	if err != nil {
		return err
	}
	if hasDebt && ratio.Lt(fpmath.NewAmount(uint64(e.params.MinCollateralRatio))) {
		return ErrCollateralRatioTooLow
	}
	return nil
}

func (e *Engine) liquidatable(pos state.Position) (bool, error) {
	ratio, hasDebt, err := e.CheckRatio(pos.Collateral, pos.DebtA, pos.DebtB)
	if err != nil {
		return false, err
	}
	return hasDebt && ratio.Lt(fpmath.NewAmount(uint64(e.params.LiquidationRatio))), nil
}

// CollateralRatio reports the current ratio of owner's position.
func (e *Engine) CollateralRatio(owner ledger.AccountID) (ratio fpmath.Amount, hasDebt bool, err error) {
	pos, ok := e.store.Get(owner)
	if !ok {
		return fpmath.Amount{}, false, ErrCdpNotFound
	}
	return e.CheckRatio(pos.Collateral, pos.DebtA, pos.DebtB)
}

func (e *Engine) IsLiquidatable(owner ledger.AccountID) (bool, error) {
	pos, ok := e.store.Get(owner)
	if !ok {
		return false, ErrCdpNotFound
	}
	return e.liquidatable(pos)
}
