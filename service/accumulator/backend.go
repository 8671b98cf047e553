package accumulator

import (
	"context"
	"fmt"
)

// Backend persists accumulator state so a process can restart without
// replaying the chain. Implementations must write a block's deltas for every
// space atomically.
type Backend interface {
	// SaveBlock records the deltas a block produced in each space.
	SaveBlock(ctx context.Context, id BlockID, changes map[Space][]Delta) error
	// UndoBlock reverts a previously saved block in every space.
	UndoBlock(ctx context.Context, id BlockID) error
	// LoadValues returns the current values of a space.
	LoadValues(ctx context.Context, space Space) (map[Key]float64, error)
	// LoadJournal returns the retained journal of a space in apply order.
	LoadJournal(ctx context.Context, space Space) ([]JournalEntry, error)
	// LastBlock returns the newest saved block, or false if none.
	LastBlock(ctx context.Context) (BlockID, bool, error)
}

// Load restores stores from backend. It is a no-op when nothing was saved yet.
func Load(ctx context.Context, backend Backend, stores ...*Store) error {
	last, ok, err := backend.LastBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last block: %w", err)
	}
	if !ok {
		return nil
	}

	for _, s := range stores {
		values, err := backend.LoadValues(ctx, s.Space())
		if err != nil {
			return fmt.Errorf("failed to load %s values: %w", s.Space(), err)
		}
		journal, err := backend.LoadJournal(ctx, s.Space())
		if err != nil {
			return fmt.Errorf("failed to load %s journal: %w", s.Space(), err)
		}
		if err := s.Restore(values, journal, last); err != nil {
			return fmt.Errorf("failed to restore %s: %w", s.Space(), err)
		}
	}
	return nil
}
