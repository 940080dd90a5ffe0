package core

import (
	"OriumLedger/internal/event"
	"OriumLedger/internal/ledger"
	fpmath "OriumLedger/internal/math"
)

// LedgerAccount is the fungible-ledger surface the Engine drives.
// *ledger.Ledger implements it.
type LedgerAccount interface {
	Mint(to ledger.AccountID, amount fpmath.Amount) (ledger.Event, error)
	Burn(from ledger.AccountID, amount fpmath.Amount) (ledger.Event, error)
	Transfer(from, to ledger.AccountID, amount fpmath.Amount) (ledger.Event, error)
	Approve(owner, spender ledger.AccountID, amount fpmath.Amount) (ledger.Event, error)
	TransferFrom(spender, from, to ledger.AccountID, amount fpmath.Amount) (ledger.Event, error)
	Reserve(who ledger.AccountID, amount fpmath.Amount) error
	Unreserve(who ledger.AccountID, amount fpmath.Amount) error
	RepatriateReserved(slashed, beneficiary ledger.AccountID, amount fpmath.Amount) error
	BalanceOf(who ledger.AccountID) fpmath.Amount
	ReservedOf(who ledger.AccountID) fpmath.Amount
	TotalSupply() fpmath.Amount
}

// PriceSource is implemented by *oracle.Oracle.
type PriceSource interface {
	GetPrice(symbol string) fpmath.Amount
	SetPrice(symbol string, price fpmath.Amount) bool
}

type Clock interface {
	CurrentHeight() uint64
}

type OriginAuthenticator interface {
	// SignedAccount returns the signing account or ErrNotAuthorized.
	SignedAccount(origin event.Origin) (ledger.AccountID, error)
	IsPrivileged(origin event.Origin) bool
}

type EventSink interface {
	Emit(e event.Emitted)
}

// OriginAuth accepts origins as delivered by the ingestion layer, which
// has already verified signatures.
type OriginAuth struct{}

func (OriginAuth) SignedAccount(origin event.Origin) (ledger.AccountID, error) {
	if origin.Kind != event.OriginSigned {
		return 0, ErrNotAuthorized
	}
	return origin.Account, nil
}

func (OriginAuth) IsPrivileged(origin event.Origin) bool {
	return origin.Kind == event.OriginRoot
}

// EventBuffer is an EventSink that collects events in order.
type EventBuffer struct {
	events []event.Emitted
}

func (b *EventBuffer) Emit(e event.Emitted) {
	b.events = append(b.events, e)
}

// Drain returns the buffered events and empties the buffer.
func (b *EventBuffer) Drain() []event.Emitted {
	out := b.events
	b.events = nil
	return out
}
