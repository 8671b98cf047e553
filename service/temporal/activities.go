package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solflow/service/accumulator"
	"github.com/brojonat/solflow/service/db"
	"github.com/brojonat/solflow/service/ledger"
	"github.com/brojonat/solflow/service/metrics"
	"github.com/brojonat/solflow/service/pipeline"
	"github.com/brojonat/solflow/service/solana"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// ResolveSlotRangeInput bounds a run. Zero StartSlot resumes after the cursor;
// zero EndSlot means the current tip.
type ResolveSlotRangeInput struct {
	StartSlot uint64 `json:"start_slot"`
	EndSlot   uint64 `json:"end_slot"`
	MaxSlots  int    `json:"max_slots"`
}

// SlotRange is an inclusive range of slots. Empty ranges have nothing to do.
type SlotRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
	Empty bool   `json:"empty"`
}

// ProcessSlotInput names one slot to fetch and process.
type ProcessSlotInput struct {
	Slot uint64 `json:"slot"`
}

// ProcessSlotResult summarizes one processed slot.
type ProcessSlotResult struct {
	Slot           uint64 `json:"slot"`
	Skipped        bool   `json:"skipped"`
	AlreadyApplied bool   `json:"already_applied"`
	Transactions   int    `json:"transactions"`
	BalanceChanges int    `json:"balance_changes"`
	Prices         int    `json:"prices"`
	Wallets        int    `json:"wallets"`
}

// UndoSlotInput names one slot to undo.
type UndoSlotInput struct {
	Slot uint64 `json:"slot"`
}

// UndoSlotResult summarizes one undone slot.
type UndoSlotResult struct {
	Slot    uint64 `json:"slot"`
	Wallets int    `json:"wallets"`
}

// CursorStore persists the last finished slot.
type CursorStore interface {
	GetCursor(ctx context.Context) (uint64, error)
	SetCursor(ctx context.Context, slot uint64) error
}

// BlockSource fetches blocks from the chain.
type BlockSource interface {
	GetBlock(ctx context.Context, slot uint64) (*solana.Block, error)
	GetLatestSlot(ctx context.Context) (uint64, error)
}

// LedgerProcessor applies and undoes blocks. It is implemented by pipeline.Processor.
type LedgerProcessor interface {
	ProcessBlock(ctx context.Context, block *solana.Block) (*pipeline.BlockResult, error)
	UndoBlock(ctx context.Context, slot uint64) (*pipeline.UndoResult, error)
	LastSlot() (uint64, bool)
}

// Activities holds the dependencies needed by Temporal activities.
// The worker must run them one at a time since the processor is single-writer.
type Activities struct {
	cursor    CursorStore
	source    BlockSource
	processor LedgerProcessor
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(cursor CursorStore, source BlockSource, processor LedgerProcessor, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		cursor:    cursor,
		source:    source,
		processor: processor,
		metrics:   m,
		logger:    logger,
	}
}

func (a *Activities) record(activity string, start time.Time, err error) {
	if a.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordActivityDuration(activity, status, time.Since(start).Seconds())
}

// ResolveSlotRange turns a possibly open-ended request into a concrete range.
func (a *Activities) ResolveSlotRange(ctx context.Context, input ResolveSlotRangeInput) (_ *SlotRange, err error) {
	start := time.Now()
	defer func() { a.record("ResolveSlotRange", start, err) }()

	from := input.StartSlot
	if from == 0 {
		cursor, err := a.cursor.GetCursor(ctx)
		switch {
		case err == nil:
			from = cursor + 1
		case errors.Is(err, db.ErrNotFound):
			if last, ok := a.processor.LastSlot(); ok {
				from = last + 1
			}
		default:
			return nil, fmt.Errorf("failed to read cursor: %w", err)
		}
	}

	to := input.EndSlot
	if to == 0 {
		tip, err := a.source.GetLatestSlot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest slot: %w", err)
		}
		to = tip
	}
	if from == 0 {
		// nothing processed yet: start following at the tip
		from = to
	}

	if from > to {
		a.logger.DebugContext(ctx, "slot range is empty", "start", from, "end", to)
		return &SlotRange{Start: from, End: to, Empty: true}, nil
	}
	if input.MaxSlots > 0 && to-from+1 > uint64(input.MaxSlots) {
		to = from + uint64(input.MaxSlots) - 1
	}

	a.logger.InfoContext(ctx, "resolved slot range", "start", from, "end", to, "slots", to-from+1)
	return &SlotRange{Start: from, End: to}, nil
}

// ProcessSlot fetches one block, applies it and advances the cursor.
// Retrying a slot that was already applied only advances the cursor.
func (a *Activities) ProcessSlot(ctx context.Context, input ProcessSlotInput) (_ *ProcessSlotResult, err error) {
	start := time.Now()
	defer func() { a.record("ProcessSlot", start, err) }()

	result := &ProcessSlotResult{Slot: input.Slot}

	block, err := a.source.GetBlock(ctx, input.Slot)
	if errors.Is(err, solana.ErrSlotSkipped) {
		a.logger.InfoContext(ctx, "slot skipped", "slot", input.Slot)
		result.Skipped = true
		return result, a.setCursor(ctx, input.Slot)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch block %d: %w", input.Slot, err)
	}

	res, err := a.processor.ProcessBlock(ctx, block)
	switch {
	case errors.Is(err, accumulator.ErrBlockApplied):
		a.logger.WarnContext(ctx, "block already applied", "slot", input.Slot)
		result.AlreadyApplied = true
		return result, a.setCursor(ctx, input.Slot)
	case errors.Is(err, accumulator.ErrOutOfOrder), errors.Is(err, ledger.ErrMalformedBlock):
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("cannot process block %d", input.Slot), "InvalidBlock", err)
	case err != nil:
		return nil, fmt.Errorf("failed to process block %d: %w", input.Slot, err)
	}

	result.Transactions = len(res.Output.Transactions)
	result.BalanceChanges = len(res.Output.BalanceChanges)
	result.Prices = len(res.Output.Prices)
	result.Wallets = len(res.Aggregates)

	if err := a.setCursor(ctx, input.Slot); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "processed slot",
		"slot", input.Slot,
		"transactions", result.Transactions,
		"balance_changes", result.BalanceChanges,
		"prices", result.Prices,
		"wallets", result.Wallets,
	)
	return result, nil
}

// UndoSlot reverts one slot and moves the cursor back to the newest applied slot,
// or to just before the undone slot when no applied block remains.
func (a *Activities) UndoSlot(ctx context.Context, input UndoSlotInput) (_ *UndoSlotResult, err error) {
	start := time.Now()
	defer func() { a.record("UndoSlot", start, err) }()

	res, err := a.processor.UndoBlock(ctx, input.Slot)
	switch {
	case errors.Is(err, accumulator.ErrUndoOutOfOrder), pipeline.IsUndoUnavailable(err):
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("cannot undo slot %d", input.Slot), "UndoRejected", err)
	case err != nil:
		return nil, fmt.Errorf("failed to undo slot %d: %w", input.Slot, err)
	}

	// with nothing left applied, resume at the undone slot
	last, ok := a.processor.LastSlot()
	if !ok && input.Slot > 0 {
		last = input.Slot - 1
	}
	if err := a.setCursor(ctx, last); err != nil {
		return nil, err
	}

	a.logger.InfoContext(ctx, "undid slot", "slot", input.Slot, "wallets", len(res.Aggregates))
	return &UndoSlotResult{Slot: input.Slot, Wallets: len(res.Aggregates)}, nil
}

func (a *Activities) setCursor(ctx context.Context, slot uint64) error {
	if err := a.cursor.SetCursor(ctx, slot); err != nil {
		return fmt.Errorf("failed to set cursor to %d: %w", slot, err)
	}
	return nil
}
