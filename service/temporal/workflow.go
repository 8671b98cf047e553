package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// ProcessSlotsInput contains the input parameters for a processing run.
type ProcessSlotsInput struct {
	StartSlot uint64 `json:"start_slot"`
	EndSlot   uint64 `json:"end_slot"`
	MaxSlots  int    `json:"max_slots"`
}

// ProcessSlotsResult contains the result of a processing run.
type ProcessSlotsResult struct {
	StartSlot      uint64 `json:"start_slot"`
	EndSlot        uint64 `json:"end_slot"`
	Processed      int    `json:"processed"`
	Skipped        int    `json:"skipped"`
	AlreadyApplied int    `json:"already_applied"`
	Transactions   int    `json:"transactions"`
	BalanceChanges int    `json:"balance_changes"`
	LastSlot       uint64 `json:"last_slot"`
}

// UndoSlotsInput lists slots to undo, newest first.
type UndoSlotsInput struct {
	Slots []uint64 `json:"slots"`
}

// UndoSlotsResult contains the slots that were undone.
type UndoSlotsResult struct {
	Undone []uint64 `json:"undone"`
}

func activityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 120 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// ProcessSlotsWorkflow resolves a slot range and processes it in slot order.
// It is started by the follow schedule and by backfill requests.
//
// The workflow performs these steps:
// 1. Resolve the range from the input, the cursor and the chain tip (ResolveSlotRange)
// 2. Fetch, process and checkpoint each slot in order (ProcessSlot)
func ProcessSlotsWorkflow(ctx workflow.Context, input ProcessSlotsInput) (*ProcessSlotsResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ProcessSlotsWorkflow started", "start_slot", input.StartSlot, "end_slot", input.EndSlot)

	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	var slots *SlotRange
	err := workflow.ExecuteActivity(ctx, a.ResolveSlotRange, ResolveSlotRangeInput(input)).Get(ctx, &slots)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve slot range: %w", err)
	}

	result := &ProcessSlotsResult{StartSlot: slots.Start, EndSlot: slots.End}
	if slots.Empty {
		logger.Info("no slots to process", "start_slot", slots.Start, "end_slot", slots.End)
		return result, nil
	}

	for slot := slots.Start; slot <= slots.End; slot++ {
		var res *ProcessSlotResult
		if err := workflow.ExecuteActivity(ctx, a.ProcessSlot, ProcessSlotInput{Slot: slot}).Get(ctx, &res); err != nil {
			logger.Error("failed to process slot", "slot", slot, "error", err)
			return result, fmt.Errorf("failed to process slot %d: %w", slot, err)
		}

		switch {
		case res.Skipped:
			result.Skipped++
		case res.AlreadyApplied:
			result.AlreadyApplied++
		default:
			result.Processed++
			result.Transactions += res.Transactions
			result.BalanceChanges += res.BalanceChanges
		}
		result.LastSlot = slot
	}

	logger.Info("ProcessSlotsWorkflow completed",
		"start_slot", result.StartSlot,
		"end_slot", result.EndSlot,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"transactions", result.Transactions,
	)
	return result, nil
}

// UndoSlotsWorkflow undoes slots one at a time in the given order.
func UndoSlotsWorkflow(ctx workflow.Context, input UndoSlotsInput) (*UndoSlotsResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("UndoSlotsWorkflow started", "slots", input.Slots)

	for i := 1; i < len(input.Slots); i++ {
		if input.Slots[i] >= input.Slots[i-1] {
			return nil, temporalsdk.NewNonRetryableApplicationError(
				fmt.Sprintf("slots must be strictly descending: %d after %d", input.Slots[i], input.Slots[i-1]),
				"InvalidInput", nil)
		}
	}

	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	result := &UndoSlotsResult{}
	for _, slot := range input.Slots {
		var res *UndoSlotResult
		if err := workflow.ExecuteActivity(ctx, a.UndoSlot, UndoSlotInput{Slot: slot}).Get(ctx, &res); err != nil {
			logger.Error("failed to undo slot", "slot", slot, "error", err)
			return result, fmt.Errorf("failed to undo slot %d: %w", slot, err)
		}
		result.Undone = append(result.Undone, slot)
	}

	logger.Info("UndoSlotsWorkflow completed", "undone", len(result.Undone))
	return result, nil
}
