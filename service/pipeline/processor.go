// Package pipeline hosts the accumulator stores and drives blocks through
// extraction, accumulation, persistence and fan-out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/brojonat/solflow/service/accumulator"
	"github.com/brojonat/solflow/service/aggregate"
	"github.com/brojonat/solflow/service/ledger"
	"github.com/brojonat/solflow/service/metrics"
	"github.com/brojonat/solflow/service/solana"
)

// Sink receives the results of every applied and undone block.
// Sink errors are logged and counted; they never fail the block.
type Sink interface {
	Name() string
	WriteBlock(ctx context.Context, result *BlockResult) error
	UndoBlock(ctx context.Context, slot uint64, aggregates []aggregate.WalletAggregates) error
}

// JournalPruner is implemented by backends that can drop finalized journal entries.
type JournalPruner interface {
	PruneJournal(ctx context.Context, keep int) error
}

// BlockResult is everything produced by applying one block.
type BlockResult struct {
	Output          *ledger.BlockOutput          `json:"output"`
	PortfolioDeltas []accumulator.Delta          `json:"portfolio_deltas"`
	VolumeDeltas    []accumulator.Delta          `json:"volume_deltas"`
	PriceDeltas     []accumulator.Delta          `json:"price_deltas"`
	Aggregates      []aggregate.WalletAggregates `json:"aggregates"`
}

// Slot returns the slot of the applied block.
func (r *BlockResult) Slot() uint64 {
	return r.Output.Slot
}

// UndoResult is everything produced by reverting one block.
type UndoResult struct {
	Slot            uint64                       `json:"slot"`
	PortfolioDeltas []accumulator.Delta          `json:"portfolio_deltas"`
	VolumeDeltas    []accumulator.Delta          `json:"volume_deltas"`
	PriceDeltas     []accumulator.Delta          `json:"price_deltas"`
	Aggregates      []aggregate.WalletAggregates `json:"aggregates"`
}

// ProcessorConfig contains configuration for a Processor.
type ProcessorConfig struct {
	// Extraction settings
	Whitelist ledger.Whitelist
	Table     ledger.ProgramTable // nil uses ledger.DefaultProgramTable
	Workers   int                 // per-block and per-batch extraction concurrency; 0 means GOMAXPROCS

	// UndoRetention is the number of recent blocks that stay undoable. Zero keeps all of them.
	UndoRetention int

	// Dependencies
	Backend accumulator.Backend // Optional: if nil, state is memory only
	Sinks   []Sink
	Metrics *metrics.Metrics // Optional: if nil, no metrics will be recorded
	Logger  *slog.Logger
}

// Processor is the single writer of the portfolio, volume and price stores.
type Processor struct {
	mu sync.Mutex

	extractor *ledger.Extractor
	workers   int
	retention int

	portfolio *accumulator.Store
	volume    *accumulator.Store
	prices    *accumulator.Store

	backend accumulator.Backend
	sinks   []Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProcessor creates a Processor with empty stores.
// Call Restore to load persisted state before processing.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	table := cfg.Table
	if table == nil {
		table = ledger.DefaultProgramTable()
	}

	return &Processor{
		extractor: &ledger.Extractor{Whitelist: cfg.Whitelist, Table: table, Workers: cfg.Workers},
		workers:   cfg.Workers,
		retention: cfg.UndoRetention,
		portfolio: accumulator.NewAdditive(accumulator.SpacePortfolio),
		volume:    accumulator.NewAdditive(accumulator.SpaceVolume),
		prices:    accumulator.NewLatest(accumulator.SpacePrice),
		backend:   cfg.Backend,
		sinks:     cfg.Sinks,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With("component", "processor"),
	}
}

// Portfolio returns the holdings store for reads.
func (p *Processor) Portfolio() *accumulator.Store { return p.portfolio }

// Volume returns the trading volume store for reads.
func (p *Processor) Volume() *accumulator.Store { return p.volume }

// Prices returns the latest price store for reads.
func (p *Processor) Prices() *accumulator.Store { return p.prices }

// LastSlot returns the most recently applied slot.
func (p *Processor) LastSlot() (uint64, bool) {
	id, ok := p.portfolio.LastBlock()
	return uint64(id), ok
}

// Restore loads persisted accumulator state from the backend.
// It is a no-op without a backend or when nothing was saved yet.
func (p *Processor) Restore(ctx context.Context) error {
	if p.backend == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := accumulator.Load(ctx, p.backend, p.prices, p.portfolio, p.volume); err != nil {
		return fmt.Errorf("failed to restore accumulator state: %w", err)
	}
	if p.retention > 0 {
		for _, s := range p.stores() {
			s.Prune(p.retention)
		}
	}

	last, ok := p.portfolio.LastBlock()
	p.logger.InfoContext(ctx, "restored accumulator state",
		"last_slot", last,
		"has_state", ok,
		"holdings", p.portfolio.Len(),
		"volume_keys", p.volume.Len(),
		"prices", p.prices.Len(),
		"undoable_blocks", p.portfolio.JournalLen(),
	)
	return nil
}

// ProcessBlock extracts, accumulates, persists and fans out one block.
func (p *Processor) ProcessBlock(ctx context.Context, block *solana.Block) (*BlockResult, error) {
	start := time.Now()
	out, err := p.extractor.ExtractBlock(block)
	p.recordStage("extract", start)
	if err != nil {
		if p.metrics != nil && block != nil {
			p.metrics.RecordBlockProcessed(block.Slot, "error")
		}
		return nil, fmt.Errorf("failed to extract block: %w", err)
	}
	return p.ApplyOutput(ctx, out)
}

// ProcessBlocks extracts blocks in parallel and applies them serially in slot order.
// On failure it returns the results applied so far together with the error.
func (p *Processor) ProcessBlocks(ctx context.Context, blocks []*solana.Block) ([]*BlockResult, error) {
	start := time.Now()
	outputs, err := p.extractor.ExtractBlocks(ctx, blocks, p.workers)
	p.recordStage("extract", start)
	if err != nil {
		return nil, fmt.Errorf("failed to extract blocks: %w", err)
	}

	sort.SliceStable(outputs, func(i, j int) bool { return outputs[i].Slot < outputs[j].Slot })

	results := make([]*BlockResult, 0, len(outputs))
	for _, out := range outputs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.ApplyOutput(ctx, out)
		if err != nil {
			return results, fmt.Errorf("slot %d: %w", out.Slot, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// ApplyOutput applies an already extracted block. The stores and the backend
// change together or not at all.
func (p *Processor) ApplyOutput(ctx context.Context, out *ledger.BlockOutput) (*BlockResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := accumulator.BlockID(out.Slot)

	start := time.Now()
	res, err := p.apply(ctx, id, out)
	p.recordStage("accumulate", start)
	if err != nil {
		p.recordFailure(out.Slot)
		return nil, err
	}

	if p.backend != nil {
		start = time.Now()
		err := p.backend.SaveBlock(ctx, id, map[accumulator.Space][]accumulator.Delta{
			accumulator.SpacePortfolio: res.PortfolioDeltas,
			accumulator.SpaceVolume:    res.VolumeDeltas,
			accumulator.SpacePrice:     res.PriceDeltas,
		})
		p.recordStage("persist", start)
		if err != nil {
			p.rollback(ctx, id, p.volume, p.portfolio, p.prices)
			p.recordFailure(out.Slot)
			return nil, fmt.Errorf("failed to persist block %d: %w", out.Slot, err)
		}
	}

	res.Aggregates = aggregate.Reduce(res.PortfolioDeltas, res.VolumeDeltas, aggregate.StorePrices(p.prices))

	start = time.Now()
	p.fanOut(ctx, "write", func(s Sink) error { return s.WriteBlock(ctx, res) })
	p.recordStage("sinks", start)

	p.prune(ctx)
	p.recordApplied(res)

	p.logger.DebugContext(ctx, "applied block",
		"slot", out.Slot,
		"transactions", len(out.Transactions),
		"skipped", out.Skipped.Total(),
		"balance_changes", len(out.BalanceChanges),
		"prices", len(out.Prices),
		"wallets", len(res.Aggregates),
	)
	return res, nil
}

// apply runs the three stores in dependency order: prices first so the volume
// estimator sees this block's native price.
func (p *Processor) apply(ctx context.Context, id accumulator.BlockID, out *ledger.BlockOutput) (*BlockResult, error) {
	priceDeltas, err := p.prices.Apply(id, priceOps(out))
	if err != nil {
		return nil, fmt.Errorf("failed to apply prices: %w", err)
	}

	portfolioDeltas, err := p.portfolio.Apply(id, portfolioOps(out))
	if err != nil {
		p.rollback(ctx, id, p.prices)
		return nil, fmt.Errorf("failed to apply portfolio: %w", err)
	}

	nativePrice, _ := p.prices.Get(accumulator.PriceKey(ledger.NativeMint))
	volumeDeltas, err := p.volume.Apply(id, volumeOps(out, nativePrice))
	if err != nil {
		p.rollback(ctx, id, p.portfolio, p.prices)
		return nil, fmt.Errorf("failed to apply volume: %w", err)
	}

	return &BlockResult{
		Output:          out,
		PortfolioDeltas: portfolioDeltas,
		VolumeDeltas:    volumeDeltas,
		PriceDeltas:     priceDeltas,
	}, nil
}

// rollback undoes a block that was just applied to stores.
func (p *Processor) rollback(ctx context.Context, id accumulator.BlockID, stores ...*accumulator.Store) {
	for _, s := range stores {
		if _, err := s.Undo(id); err != nil {
			p.logger.ErrorContext(ctx, "failed to roll back store", "space", s.Space(), "slot", id, "error", err)
		}
	}
}

// UndoBlock reverts slot, which must be the most recently applied block.
// Aggregates in the result reflect the restored values.
func (p *Processor) UndoBlock(ctx context.Context, slot uint64) (*UndoResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := accumulator.BlockID(slot)
	for _, s := range p.stores() {
		if err := s.CheckUndo(id); err != nil {
			return nil, fmt.Errorf("cannot undo %s: %w", s.Space(), err)
		}
	}

	if p.backend != nil {
		if err := p.backend.UndoBlock(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to undo persisted block %d: %w", slot, err)
		}
	}

	res := &UndoResult{Slot: slot}
	var err error
	if res.VolumeDeltas, err = p.volume.Undo(id); err != nil {
		return nil, fmt.Errorf("failed to undo volume: %w", err)
	}
	if res.PortfolioDeltas, err = p.portfolio.Undo(id); err != nil {
		return nil, fmt.Errorf("failed to undo portfolio: %w", err)
	}
	if res.PriceDeltas, err = p.prices.Undo(id); err != nil {
		return nil, fmt.Errorf("failed to undo prices: %w", err)
	}

	res.Aggregates = aggregate.Reduce(res.PortfolioDeltas, res.VolumeDeltas, aggregate.StorePrices(p.prices))

	p.fanOut(ctx, "undo", func(s Sink) error { return s.UndoBlock(ctx, slot, res.Aggregates) })

	if p.metrics != nil {
		p.metrics.RecordBlockUndone()
	}
	p.logger.InfoContext(ctx, "undid block",
		"slot", slot,
		"holdings_restored", len(res.PortfolioDeltas),
		"volume_restored", len(res.VolumeDeltas),
		"prices_restored", len(res.PriceDeltas),
	)
	return res, nil
}

func (p *Processor) stores() []*accumulator.Store {
	return []*accumulator.Store{p.volume, p.portfolio, p.prices}
}

func (p *Processor) fanOut(ctx context.Context, op string, fn func(Sink) error) {
	for _, s := range p.sinks {
		start := time.Now()
		err := fn(s)
		if p.metrics != nil {
			p.metrics.RecordSinkWrite(s.Name(), op, time.Since(start).Seconds(), err)
		}
		if err != nil {
			p.logger.ErrorContext(ctx, "sink failed",
				"sink", s.Name(),
				"operation", op,
				"error", err,
			)
		}
	}
}

func (p *Processor) prune(ctx context.Context) {
	if p.retention <= 0 {
		return
	}
	for _, s := range p.stores() {
		s.Prune(p.retention)
	}
	if pruner, ok := p.backend.(JournalPruner); ok {
		if err := pruner.PruneJournal(ctx, p.retention); err != nil {
			p.logger.WarnContext(ctx, "failed to prune persisted journal", "error", err)
		}
	}
}

func (p *Processor) recordStage(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordBlockStage(stage, time.Since(start).Seconds())
	}
}

func (p *Processor) recordFailure(slot uint64) {
	if p.metrics != nil {
		p.metrics.RecordBlockProcessed(slot, "error")
	}
}

func (p *Processor) recordApplied(res *BlockResult) {
	if p.metrics == nil {
		return
	}
	out := res.Output
	p.metrics.RecordBlockProcessed(out.Slot, "success")
	for _, tx := range out.Transactions {
		p.metrics.RecordTransactionExtracted(tx.Label)
	}
	for reason, n := range out.Skipped {
		p.metrics.RecordTransactionsSkipped(string(reason), n)
	}
	p.metrics.RecordBalanceChanges(len(out.BalanceChanges))
	p.metrics.RecordPricesDiscovered(len(out.Prices))
	p.metrics.RecordAccumulator(string(accumulator.SpacePortfolio), p.portfolio.Len(), p.portfolio.JournalLen(), len(res.PortfolioDeltas))
	p.metrics.RecordAccumulator(string(accumulator.SpaceVolume), p.volume.Len(), p.volume.JournalLen(), len(res.VolumeDeltas))
	p.metrics.RecordAccumulator(string(accumulator.SpacePrice), p.prices.Len(), p.prices.JournalLen(), len(res.PriceDeltas))
}

// IsUndoUnavailable reports whether err means the block is already final.
func IsUndoUnavailable(err error) bool {
	return errors.Is(err, accumulator.ErrUndoUnavailable)
}
