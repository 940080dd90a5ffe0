package oracle

import (
	fpmath "OriumLedger/internal/math"
	"sort"
)

// Recognised price symbols. Prices are quoted in units of the reserve asset.
const (
	SymbolUSD = "ORM/USD" // price A, backs dUSD
	SymbolEUR = "ORM/EUR" // price B, backs dEUR
)

// IsKnownSymbol reports whether symbol is stored by SetPrice.
func IsKnownSymbol(symbol string) bool {
	return symbol == SymbolUSD || symbol == SymbolEUR
}

// Oracle holds the latest root-supplied prices. A missing price reads as 0,
// which callers treat as unavailable.
// Not thread-safe: owned by the deterministic core.
type Oracle struct {
	prices map[string]fpmath.Amount
}

func New() *Oracle {
	return &Oracle{
		prices: make(map[string]fpmath.Amount),
	}
}

// SetPrice overwrites the price for symbol. Unknown symbols are ignored and
// SetPrice returns false.
func (o *Oracle) SetPrice(symbol string, price fpmath.Amount) bool {
	if !IsKnownSymbol(symbol) {
		return false
	}
	o.prices[symbol] = price
	return true
}

func (o *Oracle) GetPrice(symbol string) fpmath.Amount {
	return o.prices[symbol]
}

func (o *Oracle) PriceA() fpmath.Amount { return o.prices[SymbolUSD] }
func (o *Oracle) PriceB() fpmath.Amount { return o.prices[SymbolEUR] }

// Symbols returns the stored symbols in lexical order.
func (o *Oracle) Symbols() []string {
	out := make([]string, 0, len(o.prices))
	for s := range o.prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of all stored prices.
func (o *Oracle) Snapshot() map[string]fpmath.Amount {
	out := make(map[string]fpmath.Amount, len(o.prices))
	for s, p := range o.prices {
		out[s] = p
	}
	return out
}

// Restore replaces the stored prices. Unknown symbols are dropped.
func (o *Oracle) Restore(prices map[string]fpmath.Amount) {
	clear(o.prices)
	for s, p := range prices {
		o.SetPrice(s, p)
	}
}
