package ledger

import (
	fpmath "OriumLedger/internal/math"
	"errors"
	"sort"
)

var (
	ErrInsufficientBalance   = errors.New("ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("ledger: insufficient allowance")
	ErrSelfTransfer          = errors.New("ledger: self transfer")
	ErrInsufficientReserved  = errors.New("ledger: insufficient reserved balance")
	ErrSupplyOverflow        = errors.New("ledger: total supply would exceed u128")
)

// EventKind discriminates ledger events.
type EventKind uint8

const (
	EventTransfer EventKind = iota + 1
	EventMint
	EventBurn
	EventApproval
)

func (k EventKind) String() string {
	switch k {
	case EventTransfer:
		return "Transfer"
	case EventMint:
		return "Mint"
	case EventBurn:
		return "Burn"
	case EventApproval:
		return "Approval"
	default:
		return "Unknown"
	}
}

// Event is returned by every successful user-facing ledger operation.
// From is the debited account (or the owner for Approval), To the credited one.
type Event struct {
	Kind    EventKind
	Asset   Asset
	From    AccountID
	To      AccountID
	Spender AccountID
	Amount  fpmath.Amount
}

type allowanceKey struct {
	owner   AccountID
	spender AccountID
}

// Ledger is one fungible asset: free balances, reserved balances,
// allowances and total supply. Every mutating method validates fully
// before touching state, so a returned error means nothing changed.
// Not thread-safe; only the deterministic core mutates it.
type Ledger struct {
	asset       Asset
	free        map[AccountID]fpmath.Amount
	reserved    map[AccountID]fpmath.Amount
	allowances  map[allowanceKey]fpmath.Amount
	totalSupply fpmath.Amount

	touched map[AccountKey]struct{}
}

func NewLedger(asset Asset) *Ledger {
	return &Ledger{
		asset:      asset,
		free:       make(map[AccountID]fpmath.Amount),
		reserved:   make(map[AccountID]fpmath.Amount),
		allowances: make(map[allowanceKey]fpmath.Amount),
		touched:    make(map[AccountKey]struct{}),
	}
}

func (l *Ledger) Asset() Asset { return l.asset }

// Mint credits amount to `to` and grows the supply. Origin checks belong
// to the caller. A mint that would push the supply past u128 is refused
// without touching state; since every balance is bounded by the supply,
// no later credit can saturate either.
func (l *Ledger) Mint(to AccountID, amount fpmath.Amount) (Event, error) {
	supply, ok := l.totalSupply.CheckedAdd(amount)
	if !ok {
		return Event{}, ErrSupplyOverflow
	}
	l.setFree(to, l.free[to].SaturatingAdd(amount))
	l.totalSupply = supply
	return Event{Kind: EventMint, Asset: l.asset, To: to, Amount: amount}, nil
}

// Burn destroys amount from the free balance of `from`.
func (l *Ledger) Burn(from AccountID, amount fpmath.Amount) (Event, error) {
	if l.free[from].Lt(amount) {
		return Event{}, ErrInsufficientBalance
	}
	l.setFree(from, l.free[from].SaturatingSub(amount))
	l.totalSupply = l.totalSupply.SaturatingSub(amount)
	return Event{Kind: EventBurn, Asset: l.asset, From: from, Amount: amount}, nil
}

// Transfer moves free balance between two distinct accounts.
func (l *Ledger) Transfer(from, to AccountID, amount fpmath.Amount) (Event, error) {
	if from == to {
		return Event{}, ErrSelfTransfer
	}
	if l.free[from].Lt(amount) {
		return Event{}, ErrInsufficientBalance
	}
	l.move(from, to, amount)
	return Event{Kind: EventTransfer, Asset: l.asset, From: from, To: to, Amount: amount}, nil
}

// Approve overwrites the allowance of spender over owner's funds.
func (l *Ledger) Approve(owner, spender AccountID, amount fpmath.Amount) (Event, error) {
	key := allowanceKey{owner: owner, spender: spender}
	if amount.IsZero() {
		delete(l.allowances, key)
	} else {
		l.allowances[key] = amount
	}
	return Event{Kind: EventApproval, Asset: l.asset, From: owner, Spender: spender, Amount: amount}, nil
}

// TransferFrom spends allowance granted by `from` to `spender`.
func (l *Ledger) TransferFrom(spender, from, to AccountID, amount fpmath.Amount) (Event, error) {
	if from == to {
		return Event{}, ErrSelfTransfer
	}
	key := allowanceKey{owner: from, spender: spender}
	if l.allowances[key].Lt(amount) {
		return Event{}, ErrInsufficientAllowance
	}
	if l.free[from].Lt(amount) {
		return Event{}, ErrInsufficientBalance
	}
	l.move(from, to, amount)
	remaining := l.allowances[key].SaturatingSub(amount)
	if remaining.IsZero() {
		delete(l.allowances, key)
	} else {
		l.allowances[key] = remaining
	}
	return Event{Kind: EventTransfer, Asset: l.asset, From: from, To: to, Spender: spender, Amount: amount}, nil
}

// Reserve locks amount of who's free balance.
func (l *Ledger) Reserve(who AccountID, amount fpmath.Amount) error {
	if l.free[who].Lt(amount) {
		return ErrInsufficientBalance
	}
	l.setFree(who, l.free[who].SaturatingSub(amount))
	l.setReserved(who, l.reserved[who].SaturatingAdd(amount))
	return nil
}

// Unreserve releases amount of who's reserved balance back to free.
func (l *Ledger) Unreserve(who AccountID, amount fpmath.Amount) error {
	if l.reserved[who].Lt(amount) {
		return ErrInsufficientReserved
	}
	l.setReserved(who, l.reserved[who].SaturatingSub(amount))
	l.setFree(who, l.free[who].SaturatingAdd(amount))
	return nil
}

// RepatriateReserved moves reserved funds of slashed into the free balance
// of beneficiary. Supply is unchanged.
func (l *Ledger) RepatriateReserved(slashed, beneficiary AccountID, amount fpmath.Amount) error {
	if l.reserved[slashed].Lt(amount) {
		return ErrInsufficientReserved
	}
	l.setReserved(slashed, l.reserved[slashed].SaturatingSub(amount))
	l.setFree(beneficiary, l.free[beneficiary].SaturatingAdd(amount))
	return nil
}

// BalanceOf returns the free balance.
func (l *Ledger) BalanceOf(who AccountID) fpmath.Amount {
	return l.free[who]
}

// ReservedOf returns the balance locked as collateral.
func (l *Ledger) ReservedOf(who AccountID) fpmath.Amount {
	return l.reserved[who]
}

func (l *Ledger) Allowance(owner, spender AccountID) fpmath.Amount {
	return l.allowances[allowanceKey{owner: owner, spender: spender}]
}

func (l *Ledger) TotalSupply() fpmath.Amount {
	return l.totalSupply
}

// SumBalances returns Σ free and Σ reserved over all accounts.
func (l *Ledger) SumBalances() (free, reserved fpmath.Amount) {
	for _, v := range l.free {
		free = free.SaturatingAdd(v)
	}
	for _, v := range l.reserved {
		reserved = reserved.SaturatingAdd(v)
	}
	return free, reserved
}

// DrainTouched returns every balance cell modified since the last call,
// sorted by AccountPath, and resets the tracking set.
func (l *Ledger) DrainTouched() []AccountKey {
	keys := make([]AccountKey, 0, len(l.touched))
	for k := range l.touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	clear(l.touched)
	return keys
}

// Get returns the balance stored under key.
func (l *Ledger) Get(key AccountKey) fpmath.Amount {
	if key.Kind == BalanceReserved {
		return l.reserved[key.Account]
	}
	return l.free[key.Account]
}

func (l *Ledger) move(from, to AccountID, amount fpmath.Amount) {
	l.setFree(from, l.free[from].SaturatingSub(amount))
	l.setFree(to, l.free[to].SaturatingAdd(amount))
}

// Zero balances are deleted so snapshots and digests stay canonical.
func (l *Ledger) setFree(who AccountID, v fpmath.Amount) {
	if v.IsZero() {
		delete(l.free, who)
	} else {
		l.free[who] = v
	}
	l.touched[AccountKey{Asset: l.asset, Account: who, Kind: BalanceFree}] = struct{}{}
}

func (l *Ledger) setReserved(who AccountID, v fpmath.Amount) {
	if v.IsZero() {
		delete(l.reserved, who)
	} else {
		l.reserved[who] = v
	}
	l.touched[AccountKey{Asset: l.asset, Account: who, Kind: BalanceReserved}] = struct{}{}
}

// --- Snapshot ---

// Snapshot is the serializable state of one ledger.
type Snapshot struct {
	Asset       Asset                       `json:"asset"`
	Free        map[AccountID]fpmath.Amount `json:"free"`
	Reserved    map[AccountID]fpmath.Amount `json:"reserved"`
	Allowances  []AllowanceEntry            `json:"allowances"`
	TotalSupply fpmath.Amount               `json:"total_supply"`
}

type AllowanceEntry struct {
	Owner   AccountID     `json:"owner"`
	Spender AccountID     `json:"spender"`
	Amount  fpmath.Amount `json:"amount"`
}

func (l *Ledger) Snapshot() Snapshot {
	snap := Snapshot{
		Asset:       l.asset,
		Free:        make(map[AccountID]fpmath.Amount, len(l.free)),
		Reserved:    make(map[AccountID]fpmath.Amount, len(l.reserved)),
		Allowances:  make([]AllowanceEntry, 0, len(l.allowances)),
		TotalSupply: l.totalSupply,
	}
	for k, v := range l.free {
		snap.Free[k] = v
	}
	for k, v := range l.reserved {
		snap.Reserved[k] = v
	}
	for k, v := range l.allowances {
		snap.Allowances = append(snap.Allowances, AllowanceEntry{Owner: k.owner, Spender: k.spender, Amount: v})
	}
	sort.Slice(snap.Allowances, func(i, j int) bool {
		a, b := snap.Allowances[i], snap.Allowances[j]
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Spender < b.Spender
	})
	return snap
}

// Restore replaces the ledger's state with snap.
func (l *Ledger) Restore(snap Snapshot) {
	l.free = make(map[AccountID]fpmath.Amount, len(snap.Free))
	l.reserved = make(map[AccountID]fpmath.Amount, len(snap.Reserved))
	l.allowances = make(map[allowanceKey]fpmath.Amount, len(snap.Allowances))
	for k, v := range snap.Free {
		if !v.IsZero() {
			l.free[k] = v
		}
	}
	for k, v := range snap.Reserved {
		if !v.IsZero() {
			l.reserved[k] = v
		}
	}
	for _, a := range snap.Allowances {
		if !a.Amount.IsZero() {
			l.allowances[allowanceKey{owner: a.Owner, spender: a.Spender}] = a.Amount
		}
	}
	l.totalSupply = snap.TotalSupply
	clear(l.touched)
}
