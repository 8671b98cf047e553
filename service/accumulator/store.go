package accumulator

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrBlockApplied is returned when a block id is applied twice.
	ErrBlockApplied = errors.New("block already applied")
	// ErrOutOfOrder is returned when a block id is not newer than the last applied block.
	ErrOutOfOrder = errors.New("block applied out of order")
	// ErrUndoOutOfOrder is returned when undo does not target the most recent block.
	ErrUndoOutOfOrder = errors.New("undo must target the most recently applied block")
	// ErrUndoUnavailable is returned when the block's journal entry was pruned.
	ErrUndoUnavailable = errors.New("undo journal for block was pruned")
	// ErrInvalidValue is returned for NaN or infinite op values.
	ErrInvalidValue = errors.New("invalid accumulator value")
)

// BlockID identifies a processing unit. Blocks must be applied in increasing order.
type BlockID uint64

// Mode selects how a store combines an op with the current value.
type Mode uint8

const (
	// Additive adds the op value to the running total.
	Additive Mode = iota + 1
	// Latest overwrites the current value.
	Latest
)

func (m Mode) String() string {
	switch m {
	case Additive:
		return "additive"
	case Latest:
		return "latest"
	}
	return "unknown"
}

// Op is one mutation request.
type Op struct {
	Key   Key
	Value float64
}

// Add is an Op for an additive store.
func Add(key Key, delta float64) Op {
	return Op{Key: key, Value: delta}
}

// Set is an Op for a latest-value store.
func Set(key Key, value float64) Op {
	return Op{Key: key, Value: value}
}

// Delta is the before/after state of one key mutated by a block.
// Existed is false when the key had no value before the block.
type Delta struct {
	Key     Key
	Old     float64
	New     float64
	Existed bool
}

// JournalEntry is the recorded effect of one applied block.
type JournalEntry struct {
	Block  BlockID
	Deltas []Delta
}

// Store is keyed accumulator state with block-level apply and undo.
//
// A Store is single-writer: Apply, Undo, Prune and Restore serialize on the
// write lock. Readers see either the state before a block or after it.
type Store struct {
	mu      sync.RWMutex
	space   Space
	mode    Mode
	values  map[Key]float64
	journal []JournalEntry
	last    BlockID
	hasLast bool

	// floor is the newest block that left the journal; it is final.
	floor    BlockID
	hasFloor bool
}

// NewAdditive returns a running-sum store.
func NewAdditive(space Space) *Store {
	return newStore(space, Additive)
}

// NewLatest returns an overwrite store.
func NewLatest(space Space) *Store {
	return newStore(space, Latest)
}

func newStore(space Space, mode Mode) *Store {
	return &Store{space: space, mode: mode, values: make(map[Key]float64)}
}

// Space returns the store's key space.
func (s *Store) Space() Space { return s.space }

// Mode returns the store's combine mode.
func (s *Store) Mode() Mode { return s.mode }

// Apply applies all ops of block id atomically. It returns one Delta per
// touched key in first-touch order. Nothing is visible until every op is applied.
func (s *Store) Apply(id BlockID, ops []Op) ([]Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkApply(id); err != nil {
		return nil, err
	}

	index := make(map[Key]int, len(ops))
	deltas := make([]Delta, 0, len(ops))
	for _, op := range ops {
		if math.IsNaN(op.Value) || math.IsInf(op.Value, 0) {
			return nil, fmt.Errorf("%w: %v for key %s", ErrInvalidValue, op.Value, op.Key)
		}
		if op.Key.Space() != s.space {
			return nil, fmt.Errorf("key %s (%s) does not belong to space %s", op.Key, op.Key.Kind, s.space)
		}

		i, touched := index[op.Key]
		if !touched {
			old, existed := s.values[op.Key]
			i = len(deltas)
			index[op.Key] = i
			deltas = append(deltas, Delta{Key: op.Key, Old: old, New: old, Existed: existed})
		}

		switch s.mode {
		case Additive:
			deltas[i].New += op.Value
		case Latest:
			deltas[i].New = op.Value
		}
	}

	for _, d := range deltas {
		s.values[d.Key] = d.New
	}
	s.journal = append(s.journal, JournalEntry{Block: id, Deltas: deltas})
	s.last = id
	s.hasLast = true

	return cloneDeltas(deltas), nil
}

func (s *Store) checkApply(id BlockID) error {
	if !s.hasLast {
		return nil
	}
	if id == s.last {
		return fmt.Errorf("%w: %d", ErrBlockApplied, id)
	}
	for _, e := range s.journal {
		if e.Block == id {
			return fmt.Errorf("%w: %d", ErrBlockApplied, id)
		}
	}
	if id < s.last {
		return fmt.Errorf("%w: block %d after %d", ErrOutOfOrder, id, s.last)
	}
	return nil
}

// Undo reverts block id, which must be the most recently applied block.
// Every key is restored to its exact pre-block value and keys the block created
// are removed. The returned deltas describe the reversal.
func (s *Store) Undo(id BlockID) ([]Delta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUndo(id); err != nil {
		return nil, err
	}

	top := s.journal[len(s.journal)-1]
	inverse := make([]Delta, 0, len(top.Deltas))
	for i := len(top.Deltas) - 1; i >= 0; i-- {
		d := top.Deltas[i]
		if d.Existed {
			s.values[d.Key] = d.Old
		} else {
			delete(s.values, d.Key)
		}
		inverse = append(inverse, Delta{Key: d.Key, Old: d.New, New: d.Old, Existed: true})
	}

	s.journal = s.journal[:len(s.journal)-1]
	if len(s.journal) > 0 {
		s.last = s.journal[len(s.journal)-1].Block
	} else {
		s.last, s.hasLast = s.floor, s.hasFloor
	}

	// report in first-touch order like Apply
	for i, j := 0, len(inverse)-1; i < j; i, j = i+1, j-1 {
		inverse[i], inverse[j] = inverse[j], inverse[i]
	}
	return inverse, nil
}

// CheckUndo reports whether Undo(id) would succeed without changing the store.
func (s *Store) CheckUndo(id BlockID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkUndo(id)
}

func (s *Store) checkUndo(id BlockID) error {
	if len(s.journal) == 0 {
		if s.hasLast && id <= s.last {
			return fmt.Errorf("%w: %d", ErrUndoUnavailable, id)
		}
		return fmt.Errorf("%w: %d", ErrUndoOutOfOrder, id)
	}
	if top := s.journal[len(s.journal)-1]; top.Block != id {
		return fmt.Errorf("%w: got %d, last applied %d", ErrUndoOutOfOrder, id, top.Block)
	}
	return nil
}

// Get returns the current value of key.
func (s *Store) Get(key Key) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns a copy of all current values.
func (s *Store) Snapshot() map[Key]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Key]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Len returns the number of keys with a value.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// LastBlock returns the most recently applied block.
func (s *Store) LastBlock() (BlockID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.hasLast
}

// JournalLen returns the number of blocks that can still be undone.
func (s *Store) JournalLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.journal)
}

// Prune drops journal entries older than the newest keep blocks. Those blocks
// are final and can no longer be undone.
func (s *Store) Prune(keep int) int {
	if keep < 0 {
		keep = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := len(s.journal) - keep
	if drop <= 0 {
		return 0
	}
	s.floor, s.hasFloor = s.journal[drop-1].Block, true
	s.journal = append([]JournalEntry(nil), s.journal[drop:]...)
	return drop
}

// Restore replaces the store's state with persisted values and journal.
// The journal must be in apply order. last is the newest applied block.
func (s *Store) Restore(values map[Key]float64, journal []JournalEntry, last BlockID) error {
	for i := 1; i < len(journal); i++ {
		if journal[i].Block <= journal[i-1].Block {
			return fmt.Errorf("%w: journal block %d after %d", ErrOutOfOrder, journal[i].Block, journal[i-1].Block)
		}
	}
	if n := len(journal); n > 0 && journal[n-1].Block != last {
		return fmt.Errorf("journal ends at block %d, expected %d", journal[n-1].Block, last)
	}

	restored := make(map[Key]float64, len(values))
	for k, v := range values {
		if k.Space() != s.space {
			return fmt.Errorf("key %s does not belong to space %s", k, s.space)
		}
		restored[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = restored
	s.journal = append([]JournalEntry(nil), journal...)
	s.last, s.hasLast = last, true
	switch {
	case len(journal) == 0:
		s.floor, s.hasFloor = last, true
	case journal[0].Block > 0:
		// blocks older than the restored journal are final
		s.floor, s.hasFloor = journal[0].Block-1, true
	default:
		s.floor, s.hasFloor = 0, false
	}
	return nil
}

func cloneDeltas(in []Delta) []Delta {
	return append([]Delta(nil), in...)
}
