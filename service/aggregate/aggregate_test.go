package aggregate

import (
	"testing"

	"github.com/brojonat/solflow/service/accumulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func delta(key accumulator.Key, newValue float64) accumulator.Delta {
	return accumulator.Delta{Key: key, New: newValue, Existed: true}
}

func TestReduce_VolumeScenario(t *testing.T) {
	volume := []accumulator.Delta{
		delta(accumulator.TotalVolumeKey("W"), 150),
		delta(accumulator.MonthlyVolumeKey("W", "2024-05"), 150),
	}

	got := Reduce(nil, volume, nil)

	require.Len(t, got, 1)
	assert.Equal(t, WalletAggregates{
		Wallet:                  "W",
		TotalTradingVolumeUSD:   150,
		MonthlyTradingVolumeUSD: map[string]float64{"2024-05": 150},
		Portfolio:               []Holding{},
	}, got[0])
}

func TestReduce_Portfolio(t *testing.T) {
	portfolio := []accumulator.Delta{
		{Key: accumulator.HoldingKey("W", "SOL"), Old: 5, New: 3, Existed: true},
		{Key: accumulator.HoldingKey("W", "BONK"), Old: 0, New: 1000},
	}
	prices := MapPrices(map[string]float64{"SOL": 150})

	got := Reduce(portfolio, nil, prices)
	require.Len(t, got, 1)

	assert.Equal(t, []Holding{
		{Mint: "SOL", Amount: 3, ValueUSD: 450},
		{Mint: "BONK", Amount: 1000, ValueUSD: 0},
	}, got[0].Portfolio, "amount is the running total, a missing price values at zero")
	assert.Zero(t, got[0].TotalTradingVolumeUSD)
	assert.Empty(t, got[0].MonthlyTradingVolumeUSD)
}

func TestReduce_WalletOrderAndGrouping(t *testing.T) {
	portfolio := []accumulator.Delta{
		delta(accumulator.HoldingKey("B", "M1"), 1),
		delta(accumulator.HoldingKey("A", "M1"), 2),
		delta(accumulator.HoldingKey("B", "M2"), 3),
	}
	volume := []accumulator.Delta{
		delta(accumulator.TotalVolumeKey("C"), 9),
		delta(accumulator.TotalVolumeKey("A"), 7),
	}

	got := Reduce(portfolio, volume, nil)

	require.Len(t, got, 3)
	assert.Equal(t, "B", got[0].Wallet)
	assert.Len(t, got[0].Portfolio, 2)
	assert.Equal(t, "A", got[1].Wallet)
	assert.Equal(t, 7.0, got[1].TotalTradingVolumeUSD)
	assert.Equal(t, "C", got[2].Wallet)
}

// Duplicate month keys within one window overwrite rather than sum, matching
// the running-total meaning of an additive store's new value.
func TestReduce_MonthlyLaterWins(t *testing.T) {
	volume := []accumulator.Delta{
		delta(accumulator.MonthlyVolumeKey("W", "2024-05"), 100),
		delta(accumulator.MonthlyVolumeKey("W", "2024-06"), 10),
		delta(accumulator.MonthlyVolumeKey("W", "2024-05"), 130),
		delta(accumulator.TotalVolumeKey("W"), 120),
		delta(accumulator.TotalVolumeKey("W"), 140),
	}

	got := Reduce(nil, volume, nil)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]float64{"2024-05": 130, "2024-06": 10}, got[0].MonthlyTradingVolumeUSD)
	assert.Equal(t, 140.0, got[0].TotalTradingVolumeUSD)
}

func TestReduce_HoldingLaterWins(t *testing.T) {
	portfolio := []accumulator.Delta{
		delta(accumulator.HoldingKey("W", "M"), 1),
		delta(accumulator.HoldingKey("W", "M"), 4),
	}

	got := Reduce(portfolio, nil, nil)
	require.Len(t, got, 1)
	assert.Equal(t, []Holding{{Mint: "M", Amount: 4}}, got[0].Portfolio)
}

func TestReduce_IgnoresForeignKinds(t *testing.T) {
	got := Reduce(
		[]accumulator.Delta{delta(accumulator.TotalVolumeKey("W"), 1)},
		[]accumulator.Delta{delta(accumulator.PriceKey("M"), 1)},
		nil,
	)
	assert.Empty(t, got)
}

func TestReduce_Empty(t *testing.T) {
	assert.Empty(t, Reduce(nil, nil, nil))
}

func TestReduceEncoded(t *testing.T) {
	portfolio := []accumulator.EncodedDelta{
		{Key: "W:SOL", New: 2},
		{Key: "W:SOL:extra", New: 99},
		{Key: "nocolon", New: 99},
	}
	volume := []accumulator.EncodedDelta{
		{Key: "W:total", New: 150},
		{Key: "W:2024-05", New: 150},
		{Key: "bad", New: 1},
	}

	got := ReduceEncoded(portfolio, volume, MapPrices(map[string]float64{"SOL": 100}))

	require.Len(t, got, 1)
	assert.Equal(t, "W", got[0].Wallet)
	assert.Equal(t, []Holding{{Mint: "SOL", Amount: 2, ValueUSD: 200}}, got[0].Portfolio)
	assert.Equal(t, 150.0, got[0].TotalTradingVolumeUSD)
	assert.Equal(t, map[string]float64{"2024-05": 150}, got[0].MonthlyTradingVolumeUSD)
}

func TestStorePrices(t *testing.T) {
	store := accumulator.NewLatest(accumulator.SpacePrice)
	_, err := store.Apply(1, []accumulator.Op{accumulator.Set(accumulator.PriceKey("SOL"), 150)})
	require.NoError(t, err)

	lookup := StorePrices(store)
	p, ok := lookup.Price("SOL")
	require.True(t, ok)
	assert.Equal(t, 150.0, p)

	_, ok = lookup.Price("USDC")
	assert.False(t, ok)
}

func TestByWallet(t *testing.T) {
	aggs := []WalletAggregates{{Wallet: "A"}, {Wallet: "B", TotalTradingVolumeUSD: 3}}
	idx := ByWallet(aggs)
	assert.Len(t, idx, 2)
	assert.Equal(t, 3.0, idx["B"].TotalTradingVolumeUSD)
}

func TestMerge(t *testing.T) {
	prev := WalletAggregates{
		Wallet:                  "W",
		TotalTradingVolumeUSD:   150,
		MonthlyTradingVolumeUSD: map[string]float64{"2024-05": 150},
		Portfolio:               []Holding{{Mint: "SOL", Amount: 1, ValueUSD: 50}, {Mint: "USDC", Amount: 200, ValueUSD: 200}},
	}

	tests := []struct {
		name string
		next WalletAggregates
		want WalletAggregates
	}{
		{
			name: "plain send keeps volume and untouched holdings",
			next: WalletAggregates{
				Wallet:                  "W",
				MonthlyTradingVolumeUSD: map[string]float64{},
				Portfolio:               []Holding{{Mint: "USDC", Amount: 150, ValueUSD: 150}},
			},
			want: WalletAggregates{
				Wallet:                  "W",
				TotalTradingVolumeUSD:   150,
				MonthlyTradingVolumeUSD: map[string]float64{"2024-05": 150},
				Portfolio:               []Holding{{Mint: "SOL", Amount: 1, ValueUSD: 50}, {Mint: "USDC", Amount: 150, ValueUSD: 150}},
			},
		},
		{
			name: "trade in a new month",
			next: WalletAggregates{
				Wallet:                  "W",
				TotalTradingVolumeUSD:   180,
				MonthlyTradingVolumeUSD: map[string]float64{"2024-06": 30},
				Portfolio:               []Holding{{Mint: "BONK", Amount: 10}},
			},
			want: WalletAggregates{
				Wallet:                  "W",
				TotalTradingVolumeUSD:   180,
				MonthlyTradingVolumeUSD: map[string]float64{"2024-05": 150, "2024-06": 30},
				Portfolio:               []Holding{{Mint: "SOL", Amount: 1, ValueUSD: 50}, {Mint: "USDC", Amount: 200, ValueUSD: 200}, {Mint: "BONK", Amount: 10}},
			},
		},
		{
			name: "undoing the first trade resets volume to zero",
			next: WalletAggregates{
				Wallet:                  "W",
				MonthlyTradingVolumeUSD: map[string]float64{"2024-05": 0},
				Portfolio:               []Holding{},
			},
			want: WalletAggregates{
				Wallet:                  "W",
				MonthlyTradingVolumeUSD: map[string]float64{"2024-05": 0},
				Portfolio:               []Holding{{Mint: "SOL", Amount: 1, ValueUSD: 50}, {Mint: "USDC", Amount: 200, ValueUSD: 200}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(prev, tt.next))
		})
	}

	// inputs are not modified
	assert.Equal(t, map[string]float64{"2024-05": 150}, prev.MonthlyTradingVolumeUSD)
	assert.Equal(t, 200.0, prev.Portfolio[1].Amount)
}

func TestMerge_EmptyPrev(t *testing.T) {
	next := WalletAggregates{Wallet: "W", TotalTradingVolumeUSD: 10, MonthlyTradingVolumeUSD: map[string]float64{"2024-05": 10}}

	got := Merge(WalletAggregates{}, next)
	assert.Equal(t, "W", got.Wallet)
	assert.Equal(t, 10.0, got.TotalTradingVolumeUSD)
	assert.Equal(t, []Holding{}, got.Portfolio)
}
