package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/solflow/service/aggregate"
	"github.com/brojonat/solflow/service/ledger"
	"github.com/brojonat/solflow/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store provides database operations for the ledger.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewPool opens a connection pool and verifies it with a ping.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewStore creates a new Store with the given database connection pool.
// m may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) observe(op, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(op, table, time.Since(start).Seconds(), err)
	}
}

// InsertBalanceChanges upserts balance change rows keyed by (tx_id, owner, mint).
func (s *Store) InsertBalanceChanges(ctx context.Context, changes []ledger.BalanceChange) (err error) {
	if len(changes) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.observe("insert", "wallet_balance_changes", start, err) }()

	const query = `
		INSERT INTO wallet_balance_changes (
			tx_id, owner, mint, block_date, block_time, block_slot,
			change_amount, new_balance, decimals, change_type, network_fee
		) VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tx_id, owner, mint) DO UPDATE SET
			block_date = EXCLUDED.block_date,
			block_time = EXCLUDED.block_time,
			block_slot = EXCLUDED.block_slot,
			change_amount = EXCLUDED.change_amount,
			new_balance = EXCLUDED.new_balance,
			decimals = EXCLUDED.decimals,
			change_type = EXCLUDED.change_type,
			network_fee = EXCLUDED.network_fee
	`

	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(query,
			c.TxID,
			c.Owner,
			c.Mint,
			c.BlockDate,
			c.BlockTime,
			int64(c.BlockSlot),
			decimal.NewFromFloat(c.ChangeAmount),
			decimal.NewFromFloat(c.NewBalance),
			int16(c.Decimals),
			c.ChangeType,
			int64(c.NetworkFee),
		)
	}
	if err = s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert %d balance changes: %w", len(changes), err)
	}
	return nil
}

// DeleteBalanceChangesBySlot removes every balance change of a slot.
func (s *Store) DeleteBalanceChangesBySlot(ctx context.Context, slot uint64) (n int64, err error) {
	start := time.Now()
	defer func() { s.observe("delete", "wallet_balance_changes", start, err) }()

	tag, err := s.pool.Exec(ctx, `DELETE FROM wallet_balance_changes WHERE block_slot = $1`, int64(slot))
	if err != nil {
		return 0, fmt.Errorf("failed to delete balance changes for slot %d: %w", slot, err)
	}
	return tag.RowsAffected(), nil
}

// ListBalanceChangesByOwner returns an owner's newest balance changes first.
func (s *Store) ListBalanceChangesByOwner(ctx context.Context, owner string, limit int) (out []ledger.BalanceChange, err error) {
	start := time.Now()
	defer func() { s.observe("select", "wallet_balance_changes", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT block_date::text, block_time, block_slot, tx_id, owner, mint,
		       change_amount, new_balance, decimals, change_type, network_fee
		FROM wallet_balance_changes
		WHERE owner = $1
		ORDER BY block_slot DESC, tx_id, mint
		LIMIT $2
	`, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list balance changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c              ledger.BalanceChange
			slot, fee      int64
			decimals       int16
			change, newBal decimal.Decimal
		)
		if err = rows.Scan(&c.BlockDate, &c.BlockTime, &slot, &c.TxID, &c.Owner, &c.Mint,
			&change, &newBal, &decimals, &c.ChangeType, &fee); err != nil {
			return nil, fmt.Errorf("failed to scan balance change: %w", err)
		}
		c.BlockSlot = uint64(slot)
		c.NetworkFee = uint64(fee)
		c.Decimals = uint8(decimals)
		c.ChangeAmount = change.InexactFloat64()
		c.NewBalance = newBal.InexactFloat64()
		out = append(out, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate balance changes: %w", err)
	}
	return out, nil
}

// InsertTokenPrices records discovered prices. A mint priced twice in one slot
// keeps the later price.
func (s *Store) InsertTokenPrices(ctx context.Context, prices []ledger.TokenPrice) (err error) {
	if len(prices) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.observe("insert", "token_prices", start, err) }()

	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(`
			INSERT INTO token_prices (mint, slot, price_usd)
			VALUES ($1, $2, $3)
			ON CONFLICT (mint, slot) DO UPDATE SET
				price_usd = EXCLUDED.price_usd,
				updated_at = NOW()
		`, p.MintAddress, int64(p.Slot), p.PriceUSD)
	}
	if err = s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert %d token prices: %w", len(prices), err)
	}
	return nil
}

// DeleteTokenPricesBySlot removes the prices discovered in a slot, which makes
// the previous price of each mint current again.
func (s *Store) DeleteTokenPricesBySlot(ctx context.Context, slot uint64) (n int64, err error) {
	start := time.Now()
	defer func() { s.observe("delete", "token_prices", start, err) }()

	tag, err := s.pool.Exec(ctx, `DELETE FROM token_prices WHERE slot = $1`, int64(slot))
	if err != nil {
		return 0, fmt.Errorf("failed to delete token prices for slot %d: %w", slot, err)
	}
	return tag.RowsAffected(), nil
}

// GetTokenPrice returns the latest price of mint.
func (s *Store) GetTokenPrice(ctx context.Context, mint string) (_ *ledger.TokenPrice, err error) {
	start := time.Now()
	defer func() { s.observe("select", "token_prices", start, err) }()

	var (
		p    ledger.TokenPrice
		slot int64
	)
	err = s.pool.QueryRow(ctx, `
		SELECT mint, price_usd, slot
		FROM token_prices
		WHERE mint = $1
		ORDER BY slot DESC
		LIMIT 1
	`, mint).Scan(&p.MintAddress, &p.PriceUSD, &slot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token price: %w", err)
	}
	p.Slot = uint64(slot)
	return &p, nil
}

// ListTokenPrices returns the latest price of every mint, ordered by mint.
func (s *Store) ListTokenPrices(ctx context.Context) (out []ledger.TokenPrice, err error) {
	start := time.Now()
	defer func() { s.observe("select", "token_prices", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (mint) mint, price_usd, slot
		FROM token_prices
		ORDER BY mint, slot DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list token prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p    ledger.TokenPrice
			slot int64
		)
		if err = rows.Scan(&p.MintAddress, &p.PriceUSD, &slot); err != nil {
			return nil, fmt.Errorf("failed to scan token price: %w", err)
		}
		p.Slot = uint64(slot)
		out = append(out, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate token prices: %w", err)
	}
	return out, nil
}

// StoredAggregates is the persisted view of one wallet.
type StoredAggregates struct {
	aggregate.WalletAggregates
	Slot      uint64    `json:"slot"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpsertWalletAggregates folds per-block aggregates into the stored view of
// every given wallet. A block record only carries the keys that block touched,
// so the stored row is read, merged with aggregate.Merge and written back in
// one transaction.
func (s *Store) UpsertWalletAggregates(ctx context.Context, slot uint64, aggs []aggregate.WalletAggregates) (err error) {
	if len(aggs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.observe("upsert", "wallet_aggregates", start, err) }()

	wallets := make([]string, 0, len(aggs))
	for _, a := range aggs {
		wallets = append(wallets, a.Wallet)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		stored, err := lockWalletAggregates(ctx, tx, wallets)
		if err != nil {
			return err
		}

		var order []string
		merged := make(map[string]aggregate.WalletAggregates, len(aggs))
		for _, a := range aggs {
			prev, ok := merged[a.Wallet]
			if !ok {
				order = append(order, a.Wallet)
				prev = stored[a.Wallet]
			}
			merged[a.Wallet] = aggregate.Merge(prev, a)
		}

		batch := &pgx.Batch{}
		for _, wallet := range order {
			a := merged[wallet]
			batch.Queue(`
				INSERT INTO wallet_aggregates (wallet, slot, total_volume_usd, monthly_volume_usd, portfolio)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (wallet) DO UPDATE SET
					slot = EXCLUDED.slot,
					total_volume_usd = EXCLUDED.total_volume_usd,
					monthly_volume_usd = EXCLUDED.monthly_volume_usd,
					portfolio = EXCLUDED.portfolio,
					updated_at = NOW()
			`, a.Wallet, int64(slot), a.TotalTradingVolumeUSD, a.MonthlyTradingVolumeUSD, a.Portfolio)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to upsert %d wallet aggregates: %w", len(order), err)
		}
		return nil
	})
}

// lockWalletAggregates reads the stored views of wallets and locks their rows.
func lockWalletAggregates(ctx context.Context, tx pgx.Tx, wallets []string) (map[string]aggregate.WalletAggregates, error) {
	rows, err := tx.Query(ctx, `
		SELECT wallet, total_volume_usd, monthly_volume_usd, portfolio
		FROM wallet_aggregates
		WHERE wallet = ANY($1)
		FOR UPDATE
	`, wallets)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet aggregates: %w", err)
	}
	defer rows.Close()

	out := make(map[string]aggregate.WalletAggregates, len(wallets))
	for rows.Next() {
		var a aggregate.WalletAggregates
		if err := rows.Scan(&a.Wallet, &a.TotalTradingVolumeUSD, &a.MonthlyTradingVolumeUSD, &a.Portfolio); err != nil {
			return nil, fmt.Errorf("failed to scan wallet aggregates: %w", err)
		}
		out[a.Wallet] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate wallet aggregates: %w", err)
	}
	return out, nil
}

// GetWalletAggregates returns the stored view of wallet.
func (s *Store) GetWalletAggregates(ctx context.Context, wallet string) (_ *StoredAggregates, err error) {
	start := time.Now()
	defer func() { s.observe("select", "wallet_aggregates", start, err) }()

	var (
		out  StoredAggregates
		slot int64
	)
	err = s.pool.QueryRow(ctx, `
		SELECT wallet, slot, total_volume_usd, monthly_volume_usd, portfolio, updated_at
		FROM wallet_aggregates
		WHERE wallet = $1
	`, wallet).Scan(
		&out.Wallet,
		&slot,
		&out.TotalTradingVolumeUSD,
		&out.MonthlyTradingVolumeUSD,
		&out.Portfolio,
		&out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet aggregates: %w", err)
	}
	out.Slot = uint64(slot)
	return &out, nil
}
