package oracle_test

import (
	fpmath "OriumLedger/internal/math"
	"OriumLedger/internal/oracle"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOracle_UnsetPriceIsZero(t *testing.T) {
	o := oracle.New()
	assert.True(t, o.PriceA().IsZero())
	assert.True(t, o.GetPrice(oracle.SymbolEUR).IsZero())
}

func TestOracle_SetPriceOverwrites(t *testing.T) {
	o := oracle.New()

	require.True(t, o.SetPrice(oracle.SymbolUSD, fpmath.NewAmount(100_000)))
	require.True(t, o.SetPrice(oracle.SymbolUSD, fpmath.NewAmount(129_000)))

	assert.Equal(t, fpmath.NewAmount(129_000), o.PriceA())
	assert.Equal(t, fpmath.NewAmount(129_000), o.GetPrice(oracle.SymbolUSD))
}

func TestOracle_SetPriceIdempotent(t *testing.T) {
	o := oracle.New()
	o.SetPrice(oracle.SymbolEUR, fpmath.NewAmount(85_000))
	before := o.Snapshot()

	o.SetPrice(oracle.SymbolEUR, fpmath.NewAmount(85_000))
	assert.Equal(t, before, o.Snapshot())
}

func TestOracle_UnknownSymbolIgnored(t *testing.T) {
	o := oracle.New()

	assert.False(t, o.SetPrice("ORM/JPY", fpmath.NewAmount(1)))
	assert.True(t, o.GetPrice("ORM/JPY").IsZero())
	assert.Empty(t, o.Symbols())
}

func TestOracle_SnapshotRestore(t *testing.T) {
	o := oracle.New()
	o.SetPrice(oracle.SymbolUSD, fpmath.NewAmount(100_000))
	o.SetPrice(oracle.SymbolEUR, fpmath.NewAmount(90_000))

	restored := oracle.New()
	restored.SetPrice(oracle.SymbolUSD, fpmath.NewAmount(1))
	restored.Restore(o.Snapshot())

	assert.Equal(t, o.PriceA(), restored.PriceA())
	assert.Equal(t, o.PriceB(), restored.PriceB())
	assert.Equal(t, []string{oracle.SymbolEUR, oracle.SymbolUSD}, restored.Symbols())
}
