package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solflow/service/accumulator"
	"github.com/jackc/pgx/v5"
)

var _ accumulator.Backend = (*Store)(nil)

// SaveBlock writes the block's deltas for every space in one transaction:
// the new values, one journal row per space and the accumulator state.
func (s *Store) SaveBlock(ctx context.Context, id accumulator.BlockID, changes map[accumulator.Space][]accumulator.Delta) (err error) {
	start := time.Now()
	defer func() { s.observe("save_block", "accumulator_journal", start, err) }()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var last int64
		var hasLast bool
		err := tx.QueryRow(ctx, `SELECT last_block, has_last FROM accumulator_state WHERE id FOR UPDATE`).Scan(&last, &hasLast)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to read accumulator state: %w", err)
		}
		if hasLast && uint64(last) >= uint64(id) {
			return fmt.Errorf("%w: block %d, last saved %d", accumulator.ErrOutOfOrder, id, last)
		}

		batch := &pgx.Batch{}
		for space, deltas := range changes {
			for _, d := range deltas {
				batch.Queue(`
					INSERT INTO accumulator_values (space, key, value)
					VALUES ($1, $2, $3)
					ON CONFLICT (space, key) DO UPDATE SET value = EXCLUDED.value
				`, string(space), d.Key.String(), d.New)
			}
			encoded, err := json.Marshal(accumulator.EncodeDeltas(deltas))
			if err != nil {
				return fmt.Errorf("failed to encode %s deltas: %w", space, err)
			}
			batch.Queue(`
				INSERT INTO accumulator_journal (space, block_id, deltas)
				VALUES ($1, $2, $3)
			`, string(space), int64(id), encoded)
		}
		batch.Queue(`
			INSERT INTO accumulator_state (id, last_block, has_last)
			VALUES (TRUE, $1, TRUE)
			ON CONFLICT (id) DO UPDATE SET
				last_block = EXCLUDED.last_block,
				has_last = TRUE,
				updated_at = NOW()
		`, int64(id))

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save block %d: %w", id, err)
		}
		return nil
	})
}

// UndoBlock reverts the newest saved block in every space in one transaction.
func (s *Store) UndoBlock(ctx context.Context, id accumulator.BlockID) (err error) {
	start := time.Now()
	defer func() { s.observe("undo_block", "accumulator_journal", start, err) }()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var (
			last, floor       int64
			hasLast, hasFloor bool
		)
		err := tx.QueryRow(ctx, `
			SELECT last_block, has_last, floor, has_floor
			FROM accumulator_state
			WHERE id
			FOR UPDATE
		`).Scan(&last, &hasLast, &floor, &hasFloor)
		if errors.Is(err, pgx.ErrNoRows) || (err == nil && !hasLast) {
			return fmt.Errorf("%w: %d", accumulator.ErrUndoOutOfOrder, id)
		}
		if err != nil {
			return fmt.Errorf("failed to read accumulator state: %w", err)
		}
		if uint64(last) != uint64(id) {
			return fmt.Errorf("%w: got %d, last saved %d", accumulator.ErrUndoOutOfOrder, id, last)
		}

		rows, err := tx.Query(ctx, `
			DELETE FROM accumulator_journal
			WHERE block_id = $1
			RETURNING space, deltas
		`, int64(id))
		if err != nil {
			return fmt.Errorf("failed to pop journal: %w", err)
		}
		type entry struct {
			space  accumulator.Space
			deltas []accumulator.EncodedDelta
		}
		var entries []entry
		for rows.Next() {
			var (
				space string
				raw   []byte
			)
			if err := rows.Scan(&space, &raw); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan journal row: %w", err)
			}
			e := entry{space: accumulator.Space(space)}
			if err := json.Unmarshal(raw, &e.deltas); err != nil {
				rows.Close()
				return fmt.Errorf("failed to decode %s journal: %w", space, err)
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read journal: %w", err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("%w: %d", accumulator.ErrUndoUnavailable, id)
		}

		batch := &pgx.Batch{}
		for _, e := range entries {
			for i := len(e.deltas) - 1; i >= 0; i-- {
				d := e.deltas[i]
				if d.Existed {
					batch.Queue(`
						INSERT INTO accumulator_values (space, key, value)
						VALUES ($1, $2, $3)
						ON CONFLICT (space, key) DO UPDATE SET value = EXCLUDED.value
					`, string(e.space), d.Key, d.Old)
				} else {
					batch.Queue(`DELETE FROM accumulator_values WHERE space = $1 AND key = $2`, string(e.space), d.Key)
				}
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to restore values: %w", err)
		}

		var prev *int64
		if err := tx.QueryRow(ctx, `SELECT MAX(block_id) FROM accumulator_journal`).Scan(&prev); err != nil {
			return fmt.Errorf("failed to find previous block: %w", err)
		}
		newLast, newHasLast := floor, hasFloor
		if prev != nil {
			newLast, newHasLast = *prev, true
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accumulator_state
			SET last_block = $1, has_last = $2, updated_at = NOW()
			WHERE id
		`, newLast, newHasLast); err != nil {
			return fmt.Errorf("failed to update accumulator state: %w", err)
		}
		return nil
	})
}

// LoadValues returns every stored value of space. Rows with malformed keys
// are logged and skipped.
func (s *Store) LoadValues(ctx context.Context, space accumulator.Space) (_ map[accumulator.Key]float64, err error) {
	start := time.Now()
	defer func() { s.observe("select", "accumulator_values", start, err) }()

	rows, err := s.pool.Query(ctx, `SELECT key, value FROM accumulator_values WHERE space = $1`, string(space))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s values: %w", space, err)
	}
	defer rows.Close()

	out := make(map[accumulator.Key]float64)
	for rows.Next() {
		var (
			raw   string
			value float64
		)
		if err = rows.Scan(&raw, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s value: %w", space, err)
		}
		key, ok := accumulator.ParseKey(space, raw)
		if !ok {
			slog.Default().WarnContext(ctx, "skipping malformed accumulator key", "space", space, "key", raw)
			continue
		}
		out[key] = value
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s values: %w", space, err)
	}
	return out, nil
}

// LoadJournal returns the retained journal of space in apply order.
func (s *Store) LoadJournal(ctx context.Context, space accumulator.Space) (_ []accumulator.JournalEntry, err error) {
	start := time.Now()
	defer func() { s.observe("select", "accumulator_journal", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT block_id, deltas
		FROM accumulator_journal
		WHERE space = $1
		ORDER BY block_id
	`, string(space))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s journal: %w", space, err)
	}
	defer rows.Close()

	var out []accumulator.JournalEntry
	for rows.Next() {
		var (
			block   int64
			raw     []byte
			encoded []accumulator.EncodedDelta
		)
		if err = rows.Scan(&block, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s journal row: %w", space, err)
		}
		if err = json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("failed to decode %s journal for block %d: %w", space, block, err)
		}
		out = append(out, accumulator.JournalEntry{
			Block:  accumulator.BlockID(block),
			Deltas: accumulator.DecodeDeltas(space, encoded),
		})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s journal: %w", space, err)
	}
	return out, nil
}

// LastBlock returns the newest saved block.
func (s *Store) LastBlock(ctx context.Context) (_ accumulator.BlockID, _ bool, err error) {
	start := time.Now()
	defer func() { s.observe("select", "accumulator_state", start, err) }()

	var (
		last    int64
		hasLast bool
	)
	err = s.pool.QueryRow(ctx, `SELECT last_block, has_last FROM accumulator_state WHERE id`).Scan(&last, &hasLast)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read accumulator state: %w", err)
	}
	return accumulator.BlockID(last), hasLast, nil
}

// PruneJournal keeps the journal rows of the newest keep blocks and marks
// everything older as final.
func (s *Store) PruneJournal(ctx context.Context, keep int) (err error) {
	if keep < 0 {
		keep = 0
	}
	start := time.Now()
	defer func() { s.observe("prune", "accumulator_journal", start, err) }()

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var cutoff int64
		err := tx.QueryRow(ctx, `
			SELECT block_id
			FROM (SELECT DISTINCT block_id FROM accumulator_journal) b
			ORDER BY block_id DESC
			OFFSET $1
			LIMIT 1
		`, keep).Scan(&cutoff)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find prune cutoff: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM accumulator_journal WHERE block_id <= $1`, cutoff); err != nil {
			return fmt.Errorf("failed to prune journal: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE accumulator_state
			SET floor = GREATEST(floor, $1), has_floor = TRUE, updated_at = NOW()
			WHERE id
		`, cutoff); err != nil {
			return fmt.Errorf("failed to update journal floor: %w", err)
		}
		return nil
	})
}

// GetCursor returns the last slot the orchestrator finished.
func (s *Store) GetCursor(ctx context.Context) (_ uint64, err error) {
	start := time.Now()
	defer func() { s.observe("select", "ledger_cursor", start, err) }()

	var slot int64
	err = s.pool.QueryRow(ctx, `SELECT slot FROM ledger_cursor WHERE id`).Scan(&slot)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor: %w", err)
	}
	return uint64(slot), nil
}

// SetCursor records slot as the last finished slot.
func (s *Store) SetCursor(ctx context.Context, slot uint64) (err error) {
	start := time.Now()
	defer func() { s.observe("upsert", "ledger_cursor", start, err) }()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ledger_cursor (id, slot)
		VALUES (TRUE, $1)
		ON CONFLICT (id) DO UPDATE SET slot = EXCLUDED.slot, updated_at = NOW()
	`, int64(slot))
	if err != nil {
		return fmt.Errorf("failed to set cursor: %w", err)
	}
	return nil
}
