package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/brojonat/solflow/service/aggregate"
	"github.com/brojonat/solflow/service/ledger"
	natspkg "github.com/brojonat/solflow/service/nats"
)

// LedgerStore is the relational store behind DBSink. It is implemented by db.Store.
type LedgerStore interface {
	InsertBalanceChanges(ctx context.Context, changes []ledger.BalanceChange) error
	DeleteBalanceChangesBySlot(ctx context.Context, slot uint64) (int64, error)
	InsertTokenPrices(ctx context.Context, prices []ledger.TokenPrice) error
	DeleteTokenPricesBySlot(ctx context.Context, slot uint64) (int64, error)
	UpsertWalletAggregates(ctx context.Context, slot uint64, aggs []aggregate.WalletAggregates) error
}

// DBSink writes balance change rows, price history and the latest wallet
// aggregates to Postgres.
type DBSink struct {
	store LedgerStore
}

// NewDBSink creates a DBSink.
func NewDBSink(store LedgerStore) *DBSink {
	return &DBSink{store: store}
}

// Name implements Sink.
func (s *DBSink) Name() string { return "postgres" }

// WriteBlock implements Sink.
func (s *DBSink) WriteBlock(ctx context.Context, res *BlockResult) error {
	if err := s.store.InsertBalanceChanges(ctx, res.Output.BalanceChanges); err != nil {
		return fmt.Errorf("failed to insert balance changes: %w", err)
	}
	if err := s.store.InsertTokenPrices(ctx, res.Output.Prices); err != nil {
		return fmt.Errorf("failed to insert token prices: %w", err)
	}
	if err := s.store.UpsertWalletAggregates(ctx, res.Slot(), res.Aggregates); err != nil {
		return fmt.Errorf("failed to upsert wallet aggregates: %w", err)
	}
	return nil
}

// UndoBlock implements Sink.
func (s *DBSink) UndoBlock(ctx context.Context, slot uint64, aggs []aggregate.WalletAggregates) error {
	if _, err := s.store.DeleteBalanceChangesBySlot(ctx, slot); err != nil {
		return fmt.Errorf("failed to delete balance changes: %w", err)
	}
	if _, err := s.store.DeleteTokenPricesBySlot(ctx, slot); err != nil {
		return fmt.Errorf("failed to delete token prices: %w", err)
	}
	if err := s.store.UpsertWalletAggregates(ctx, slot, aggs); err != nil {
		return fmt.Errorf("failed to restore wallet aggregates: %w", err)
	}
	return nil
}

// Warehouse is the analytics store behind WarehouseSink. It is implemented by clickhouse.Sink.
type Warehouse interface {
	InsertBalanceChanges(ctx context.Context, changes []ledger.BalanceChange) error
	InsertTokenPrices(ctx context.Context, prices []ledger.TokenPrice) error
	DeleteSlot(ctx context.Context, slot uint64) error
}

// WarehouseSink appends balance changes and prices to the analytics warehouse.
type WarehouseSink struct {
	warehouse Warehouse
}

// NewWarehouseSink creates a WarehouseSink.
func NewWarehouseSink(w Warehouse) *WarehouseSink {
	return &WarehouseSink{warehouse: w}
}

// Name implements Sink.
func (s *WarehouseSink) Name() string { return "clickhouse" }

// WriteBlock implements Sink.
func (s *WarehouseSink) WriteBlock(ctx context.Context, res *BlockResult) error {
	return errors.Join(
		s.warehouse.InsertBalanceChanges(ctx, res.Output.BalanceChanges),
		s.warehouse.InsertTokenPrices(ctx, res.Output.Prices),
	)
}

// UndoBlock implements Sink.
func (s *WarehouseSink) UndoBlock(ctx context.Context, slot uint64, _ []aggregate.WalletAggregates) error {
	return s.warehouse.DeleteSlot(ctx, slot)
}

// EventSink publishes block, wallet and price events to NATS.
type EventSink struct {
	publisher natspkg.Publisher
}

// NewEventSink creates an EventSink.
func NewEventSink(p natspkg.Publisher) *EventSink {
	return &EventSink{publisher: p}
}

// Name implements Sink.
func (s *EventSink) Name() string { return "nats" }

// WriteBlock implements Sink.
func (s *EventSink) WriteBlock(ctx context.Context, res *BlockResult) error {
	return errors.Join(
		s.publisher.PublishPrices(ctx, natspkg.PriceEvents(res.Output.Prices)),
		s.publisher.PublishWallets(ctx, natspkg.WalletEvents(res.Slot(), res.Aggregates, false)),
		s.publisher.PublishBlock(ctx, natspkg.NewBlockEvent(res.Output, len(res.Aggregates))),
	)
}

// UndoBlock implements Sink.
func (s *EventSink) UndoBlock(ctx context.Context, slot uint64, aggs []aggregate.WalletAggregates) error {
	return errors.Join(
		s.publisher.PublishWallets(ctx, natspkg.WalletEvents(slot, aggs, true)),
		s.publisher.PublishBlock(ctx, natspkg.NewUndoEvent(slot, len(aggs))),
	)
}
