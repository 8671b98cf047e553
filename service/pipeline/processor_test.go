package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/solflow/service/accumulator"
	"github.com/brojonat/solflow/service/aggregate"
	"github.com/brojonat/solflow/service/ledger"
	"github.com/brojonat/solflow/service/metrics"
	"github.com/brojonat/solflow/service/solana"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(cfg ProcessorConfig) *Processor {
	cfg.Logger = discardLogger()
	return NewProcessor(cfg)
}

func TestProcessBlock_Swap(t *testing.T) {
	sink := newRecordingSink("test")
	p := newTestProcessor(ProcessorConfig{Sinks: []Sink{sink}})

	res, err := p.ProcessBlock(context.Background(), blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.NoError(t, err)

	require.Len(t, res.Output.Transactions, 1)
	assert.Equal(t, "SWAP_JUPITER", res.Output.Transactions[0].Label)

	assert.Equal(t, []accumulator.Delta{
		{Key: accumulator.PriceKey(ledger.NativeMint), New: 50},
	}, res.PriceDeltas)
	assert.Equal(t, []accumulator.Delta{
		{Key: accumulator.HoldingKey(walletA, ledger.NativeMint), New: -2},
		{Key: accumulator.HoldingKey(walletA, ledger.USDCMint), New: 100},
	}, res.PortfolioDeltas)
	assert.Equal(t, []accumulator.Delta{
		{Key: accumulator.TotalVolumeKey(walletA), New: 100},
		{Key: accumulator.MonthlyVolumeKey(walletA, "2024-05"), New: 100},
	}, res.VolumeDeltas)

	require.Len(t, res.Aggregates, 1)
	agg := res.Aggregates[0]
	assert.Equal(t, walletA, agg.Wallet)
	assert.Equal(t, 100.0, agg.TotalTradingVolumeUSD)
	assert.Equal(t, map[string]float64{"2024-05": 100}, agg.MonthlyTradingVolumeUSD)
	assert.Equal(t, []aggregate.Holding{
		{Mint: ledger.NativeMint, Amount: -2, ValueUSD: -100},
		{Mint: ledger.USDCMint, Amount: 100},
	}, agg.Portfolio)

	require.Len(t, sink.writes, 1)
	assert.Same(t, res, sink.writes[0])

	last, ok := p.LastSlot()
	assert.True(t, ok)
	assert.Equal(t, uint64(100), last)
}

func TestProcessBlock_NativeLegVolumeUsesStoredPrice(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{})
	ctx := context.Background()

	_, err := p.ProcessBlock(ctx, blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.NoError(t, err)

	res, err := p.ProcessBlock(ctx, blockAt(101, mayTime+60, bonkBuyTx("s2", walletA, 1_000_000_000, 5000)))
	require.NoError(t, err)

	assert.Empty(t, res.PriceDeltas, "no stable leg, no price")
	assert.Equal(t, []accumulator.Delta{
		{Key: accumulator.TotalVolumeKey(walletA), Old: 100, New: 150, Existed: true},
		{Key: accumulator.MonthlyVolumeKey(walletA, "2024-05"), Old: 100, New: 150, Existed: true},
	}, res.VolumeDeltas)

	require.Len(t, res.Aggregates, 1)
	assert.Equal(t, []aggregate.Holding{
		{Mint: ledger.NativeMint, Amount: -3, ValueUSD: -150},
		{Mint: bonkMint, Amount: 5000},
	}, res.Aggregates[0].Portfolio)
}

func TestProcessBlock_SendHasNoVolume(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{})

	res, err := p.ProcessBlock(context.Background(), blockAt(100, mayTime, transferTx("s1", walletA, walletB, 1_000_000_000)))
	require.NoError(t, err)

	assert.Equal(t, ledger.DefaultLabel, res.Output.Transactions[0].Label)
	assert.Empty(t, res.VolumeDeltas)
	assert.Len(t, res.PortfolioDeltas, 2)

	wallets := aggregate.ByWallet(res.Aggregates)
	assert.Equal(t, -1.0, wallets[walletA].Portfolio[0].Amount)
	assert.Equal(t, 1.0, wallets[walletB].Portfolio[0].Amount)
	assert.Zero(t, wallets[walletA].TotalTradingVolumeUSD)
}

func TestProcessBlock_EmptyBlockIsJournaled(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{})
	ctx := context.Background()

	_, err := p.ProcessBlock(ctx, blockAt(100, mayTime))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Portfolio().JournalLen())

	res, err := p.UndoBlock(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, res.Aggregates)
}

func TestProcessBlock_Errors(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{})
	ctx := context.Background()

	_, err := p.ProcessBlock(ctx, nil)
	assert.ErrorIs(t, err, ledger.ErrMalformedBlock)

	_, err = p.ProcessBlock(ctx, blockAt(100, mayTime))
	require.NoError(t, err)

	_, err = p.ProcessBlock(ctx, blockAt(100, mayTime))
	assert.ErrorIs(t, err, accumulator.ErrBlockApplied)

	_, err = p.ProcessBlock(ctx, blockAt(99, mayTime))
	assert.ErrorIs(t, err, accumulator.ErrOutOfOrder)
}

func TestUndoBlock_RestoresAggregates(t *testing.T) {
	sink := newRecordingSink("test")
	p := newTestProcessor(ProcessorConfig{Sinks: []Sink{sink}})
	ctx := context.Background()

	_, err := p.ProcessBlock(ctx, blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.NoError(t, err)
	before := p.Portfolio().Snapshot()

	_, err = p.ProcessBlock(ctx, blockAt(101, mayTime+60, bonkBuyTx("s2", walletA, 1_000_000_000, 5000)))
	require.NoError(t, err)

	res, err := p.UndoBlock(ctx, 101)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), res.Slot)
	assert.Equal(t, before, p.Portfolio().Snapshot())

	require.Len(t, res.Aggregates, 1)
	agg := res.Aggregates[0]
	assert.Equal(t, 100.0, agg.TotalTradingVolumeUSD)
	assert.Equal(t, map[string]float64{"2024-05": 100}, agg.MonthlyTradingVolumeUSD)
	assert.Equal(t, []aggregate.Holding{
		{Mint: ledger.NativeMint, Amount: -2, ValueUSD: -100},
		{Mint: bonkMint, Amount: 0},
	}, agg.Portfolio)

	assert.Equal(t, res.Aggregates, sink.undos[101])

	last, _ := p.LastSlot()
	assert.Equal(t, uint64(100), last)
}

func TestUndoBlock_Ordering(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{})
	ctx := context.Background()

	for slot := uint64(100); slot <= 102; slot++ {
		_, err := p.ProcessBlock(ctx, blockAt(slot, mayTime))
		require.NoError(t, err)
	}

	_, err := p.UndoBlock(ctx, 101)
	assert.ErrorIs(t, err, accumulator.ErrUndoOutOfOrder)

	for slot := uint64(102); slot >= 100; slot-- {
		_, err := p.UndoBlock(ctx, slot)
		require.NoError(t, err)
	}
	_, ok := p.LastSlot()
	assert.False(t, ok)
}

func TestUndoBlock_PastRetention(t *testing.T) {
	backend := newMemoryBackend()
	p := newTestProcessor(ProcessorConfig{UndoRetention: 1, Backend: backend})
	ctx := context.Background()

	for slot := uint64(100); slot <= 102; slot++ {
		_, err := p.ProcessBlock(ctx, blockAt(slot, mayTime, swapTx("s", walletA, 1_000_000_000, 10)))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, p.Volume().JournalLen())
	assert.Equal(t, 1, backend.pruneTo)

	_, err := p.UndoBlock(ctx, 102)
	require.NoError(t, err)

	_, err = p.UndoBlock(ctx, 101)
	require.Error(t, err)
	assert.True(t, IsUndoUnavailable(err))
}

func TestProcessBlock_BackendFailureRollsBack(t *testing.T) {
	backend := newMemoryBackend()
	sink := newRecordingSink("test")
	p := newTestProcessor(ProcessorConfig{Backend: backend, Sinks: []Sink{sink}})
	ctx := context.Background()

	backend.saveErr = errors.New("connection refused")
	_, err := p.ProcessBlock(ctx, blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Zero(t, p.Portfolio().Len())
	assert.Zero(t, p.Volume().Len())
	assert.Zero(t, p.Prices().Len())
	_, ok := p.LastSlot()
	assert.False(t, ok)
	assert.Empty(t, sink.writes)

	backend.saveErr = nil
	_, err = p.ProcessBlock(ctx, blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.NoError(t, err, "the block can be retried")
	assert.Equal(t, 1, backend.saves)
}

func TestProcessBlock_StoreFailureRollsBackEarlierStores(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{})

	// the volume store is ahead, so the block fails at the last store
	_, err := p.Volume().Apply(200, nil)
	require.NoError(t, err)

	_, err = p.ProcessBlock(context.Background(), blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.Error(t, err)
	assert.ErrorIs(t, err, accumulator.ErrOutOfOrder)

	assert.Zero(t, p.Prices().Len())
	assert.Zero(t, p.Portfolio().Len())
	_, ok := p.Prices().LastBlock()
	assert.False(t, ok, "prices are rolled back")
	_, ok = p.Portfolio().LastBlock()
	assert.False(t, ok, "portfolio is rolled back")
}

func TestUndoBlock_BackendFailureKeepsState(t *testing.T) {
	backend := newMemoryBackend()
	p := newTestProcessor(ProcessorConfig{Backend: backend})
	ctx := context.Background()

	_, err := p.ProcessBlock(ctx, blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.NoError(t, err)

	backend.undoErr = errors.New("timeout")
	_, err = p.UndoBlock(ctx, 100)
	require.Error(t, err)

	last, ok := p.LastSlot()
	assert.True(t, ok)
	assert.Equal(t, uint64(100), last)
	assert.Equal(t, 2, p.Portfolio().Len())
}

func TestProcessBlock_SinkFailureDoesNotFailBlock(t *testing.T) {
	failing := newRecordingSink("failing")
	failing.err = errors.New("sink down")
	healthy := newRecordingSink("healthy")
	reg := prometheus.NewRegistry()
	p := newTestProcessor(ProcessorConfig{
		Sinks:   []Sink{failing, healthy},
		Metrics: metrics.NewMetrics(reg),
	})

	_, err := p.ProcessBlock(context.Background(), blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.NoError(t, err)
	assert.Len(t, failing.writes, 1)
	assert.Len(t, healthy.writes, 1)

	families, err := reg.Gather()
	require.NoError(t, err)
	statuses := make(map[string]string)
	for _, f := range families {
		if f.GetName() != "sink_writes_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := make(map[string]string)
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			statuses[labels["sink"]] = labels["status"]
		}
	}
	assert.Equal(t, map[string]string{"failing": "error", "healthy": "success"}, statuses)
}

func TestProcessBlocks_AppliesInSlotOrder(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{Workers: 4})

	blocks := []*solana.Block{
		blockAt(102, mayTime+120, swapTx("s3", walletA, 1_000_000_000, 10)),
		blockAt(100, mayTime, swapTx("s1", walletA, 1_000_000_000, 10)),
		blockAt(101, mayTime+60, swapTx("s2", walletA, 1_000_000_000, 10)),
	}

	results, err := p.ProcessBlocks(context.Background(), blocks)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, uint64(100+i), res.Slot())
	}

	total, ok := p.Volume().Get(accumulator.TotalVolumeKey(walletA))
	require.True(t, ok)
	assert.Equal(t, 30.0, total)
}

func TestProcessBlocks_StopsAtFirstFailure(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{})
	ctx := context.Background()

	_, err := p.ProcessBlock(ctx, blockAt(101, mayTime))
	require.NoError(t, err)

	results, err := p.ProcessBlocks(ctx, []*solana.Block{blockAt(102, mayTime), blockAt(101, mayTime), blockAt(103, mayTime)})
	require.Error(t, err)
	assert.ErrorIs(t, err, accumulator.ErrBlockApplied)
	assert.Empty(t, results, "slot 101 sorts first and fails")
}

func TestRestore(t *testing.T) {
	backend := newMemoryBackend()
	ctx := context.Background()

	first := newTestProcessor(ProcessorConfig{Backend: backend})
	_, err := first.ProcessBlock(ctx, blockAt(100, mayTime, swapTx("s1", walletA, 2_000_000_000, 100)))
	require.NoError(t, err)
	_, err = first.ProcessBlock(ctx, blockAt(101, mayTime+60, bonkBuyTx("s2", walletA, 1_000_000_000, 5000)))
	require.NoError(t, err)

	second := newTestProcessor(ProcessorConfig{Backend: backend})
	require.NoError(t, second.Restore(ctx))

	assert.Equal(t, first.Portfolio().Snapshot(), second.Portfolio().Snapshot())
	assert.Equal(t, first.Volume().Snapshot(), second.Volume().Snapshot())
	assert.Equal(t, first.Prices().Snapshot(), second.Prices().Snapshot())

	last, ok := second.LastSlot()
	require.True(t, ok)
	assert.Equal(t, uint64(101), last)

	// the restored journal still allows undo
	_, err = second.UndoBlock(ctx, 101)
	require.NoError(t, err)
	v, _ := second.Volume().Get(accumulator.TotalVolumeKey(walletA))
	assert.Equal(t, 100.0, v)

	_, err = second.ProcessBlock(ctx, blockAt(101, mayTime+60, bonkBuyTx("s2", walletA, 1_000_000_000, 5000)))
	require.NoError(t, err)
}

func TestRestore_NoBackend(t *testing.T) {
	p := newTestProcessor(ProcessorConfig{})
	assert.NoError(t, p.Restore(context.Background()))
}

func TestTradeVolumeUSD(t *testing.T) {
	leg := func(mint string, amount float64) ledger.BalanceChange {
		return ledger.BalanceChange{Mint: mint, ChangeAmount: amount}
	}

	tests := []struct {
		name        string
		changes     []ledger.BalanceChange
		nativePrice float64
		want        float64
	}{
		{"largest stable leg", []ledger.BalanceChange{leg(ledger.USDCMint, -40), leg(ledger.USDTMint, 60), leg(ledger.NativeMint, 1)}, 150, 60},
		{"native leg at price", []ledger.BalanceChange{leg(ledger.NativeMint, -0.5), leg(ledger.NativeMint, 2), leg(bonkMint, 10)}, 150, 300},
		{"native leg without price", []ledger.BalanceChange{leg(ledger.NativeMint, -2)}, 0, 0},
		{"token only", []ledger.BalanceChange{leg(bonkMint, 10)}, 150, 0},
		{"empty", nil, 150, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TradeVolumeUSD(tt.changes, tt.nativePrice))
		})
	}
}
