package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/brojonat/solflow/service/ledger"
)

// Sink writes balance changes and price history to ClickHouse.
type Sink struct {
	conn   *Conn
	logger *slog.Logger
}

// NewSink creates a Sink. A nil logger uses slog.Default.
func NewSink(conn *Conn, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{conn: conn, logger: logger.With("component", "clickhouse_sink")}
}

// InsertBalanceChanges appends changes in one batch. Replays of the same
// (owner, mint, tx_id) collapse on merge.
func (s *Sink) InsertBalanceChanges(ctx context.Context, changes []ledger.BalanceChange) error {
	if len(changes) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO wallet_balance_changes (
			block_date, block_time, block_slot, tx_id, owner, mint,
			change_amount, new_balance, decimals, change_type, network_fee
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare balance change batch: %w", err)
	}

	for _, c := range changes {
		err := batch.Append(
			blockDate(c),
			c.BlockTime,
			c.BlockSlot,
			c.TxID,
			c.Owner,
			c.Mint,
			c.ChangeAmount,
			c.NewBalance,
			c.Decimals,
			c.ChangeType,
			c.NetworkFee,
		)
		if err != nil {
			return fmt.Errorf("failed to append balance change %s: %w", c.TxID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send %d balance changes: %w", len(changes), err)
	}
	s.logger.DebugContext(ctx, "inserted balance changes", "count", len(changes))
	return nil
}

// InsertTokenPrices appends discovered prices in one batch.
func (s *Sink) InsertTokenPrices(ctx context.Context, prices []ledger.TokenPrice) error {
	if len(prices) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO token_prices (mint, slot, price_usd)`)
	if err != nil {
		return fmt.Errorf("failed to prepare price batch: %w", err)
	}
	for _, p := range prices {
		if err := batch.Append(p.MintAddress, p.Slot, p.PriceUSD); err != nil {
			return fmt.Errorf("failed to append price for %s: %w", p.MintAddress, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send %d prices: %w", len(prices), err)
	}
	return nil
}

// DeleteSlot removes every row written for slot. The mutation runs
// synchronously so readers never see undone rows after it returns.
func (s *Sink) DeleteSlot(ctx context.Context, slot uint64) error {
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"mutations_sync": 1,
	}))
	if err := s.conn.Exec(ctx, `ALTER TABLE wallet_balance_changes DELETE WHERE block_slot = ?`, slot); err != nil {
		return fmt.Errorf("failed to delete balance changes for slot %d: %w", slot, err)
	}
	if err := s.conn.Exec(ctx, `ALTER TABLE token_prices DELETE WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("failed to delete prices for slot %d: %w", slot, err)
	}
	s.logger.InfoContext(ctx, "deleted undone slot", "slot", slot)
	return nil
}

func blockDate(c ledger.BalanceChange) time.Time {
	if t, err := time.Parse("2006-01-02", c.BlockDate); err == nil {
		return t
	}
	return time.Unix(c.BlockTime, 0).UTC()
}
