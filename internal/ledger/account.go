package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// AccountID identifies a ledger account holder.
type AccountID uint64

func (a AccountID) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// ParseAccountID parses a base-10 account id.
func ParseAccountID(s string) (AccountID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse account id %q: %w", s, err)
	}
	return AccountID(v), nil
}

// Asset identifies one of the three fungible ledgers.
type Asset uint8

const (
	AssetUnknown Asset = iota
	AssetORM           // reserve asset, the only collateral
	AssetDUSD          // stablecoin A, priced 1:1 against the numeraire
	AssetDEUR          // stablecoin B, cross-priced through ORM/EUR
)

var (
	assetToName = map[Asset]string{
		AssetORM:  "ORM",
		AssetDUSD: "dUSD",
		AssetDEUR: "dEUR",
	}
	nameToAsset = map[string]Asset{
		"orm":  AssetORM,
		"dusd": AssetDUSD,
		"deur": AssetDEUR,
	}
)

func (a Asset) String() string {
	if name, ok := assetToName[a]; ok {
		return name
	}
	return "unknown"
}

// IsStablecoin reports whether debt can be minted in this asset.
func (a Asset) IsStablecoin() bool {
	return a == AssetDUSD || a == AssetDEUR
}

// ParseAsset resolves an asset name case-insensitively.
func ParseAsset(s string) (Asset, bool) {
	a, ok := nameToAsset[strings.ToLower(s)]
	return a, ok
}

func (a Asset) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Asset) UnmarshalText(text []byte) error {
	parsed, ok := ParseAsset(string(text))
	if !ok {
		return fmt.Errorf("unknown asset %q", text)
	}
	*a = parsed
	return nil
}

// AllAssets lists the ledgers in canonical order.
func AllAssets() []Asset {
	return []Asset{AssetORM, AssetDUSD, AssetDEUR}
}

// BalanceKind separates spendable funds from funds locked as collateral.
type BalanceKind uint8

const (
	BalanceFree BalanceKind = iota
	BalanceReserved
)

func (k BalanceKind) String() string {
	if k == BalanceReserved {
		return "reserved"
	}
	return "free"
}

// AccountKey addresses one balance cell across all ledgers.
type AccountKey struct {
	Asset   Asset
	Account AccountID
	Kind    BalanceKind
}

// AccountPath returns the canonical string form, e.g. "ORM:42:reserved".
// Paths sort deterministically and are used for state digests and projections.
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("%s:%020d:%s", k.Asset, uint64(k.Account), k.Kind)
}
