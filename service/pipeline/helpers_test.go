package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/brojonat/solflow/service/accumulator"
	"github.com/brojonat/solflow/service/aggregate"
	"github.com/brojonat/solflow/service/ledger"
	"github.com/brojonat/solflow/service/solana"
)

const (
	walletA  = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	walletB  = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	poolAcc  = "58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2"
	usdcAta  = "UsdcAta1111111111111111111111111111111111111"
	bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

	// 2024-05-06T12:53:20Z
	mayTime int64 = 1715000000
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tokenBalance(index uint16, mint, owner string, amount float64, decimals uint8) solana.TokenBalance {
	return solana.TokenBalance{
		AccountIndex:  index,
		Mint:          mint,
		Owner:         owner,
		UITokenAmount: &solana.UITokenAmount{Decimals: decimals, UIAmount: &amount},
	}
}

// swapTx sells sol lamports for usdc through Jupiter.
func swapTx(sig, wallet string, sol uint64, usdc float64) *solana.Transaction {
	return &solana.Transaction{
		Signatures: []string{sig},
		Message: &solana.Message{
			AccountKeys:  []string{wallet, poolAcc, ledger.JupiterV6ProgramID, usdcAta},
			Instructions: []solana.Instruction{{ProgramIDIndex: 2}},
		},
		Meta: &solana.Meta{
			Fee:               5000,
			PreBalances:       []uint64{10_000_000_000, 10, 1, 2_039_280},
			PostBalances:      []uint64{10_000_000_000 - sol, 10, 1, 2_039_280},
			PostTokenBalances: []solana.TokenBalance{tokenBalance(3, ledger.USDCMint, wallet, usdc, 6)},
		},
	}
}

// bonkBuyTx spends sol lamports on a non-stable token through Raydium.
func bonkBuyTx(sig, wallet string, sol uint64, bonk float64) *solana.Transaction {
	return &solana.Transaction{
		Signatures: []string{sig},
		Message: &solana.Message{
			AccountKeys:  []string{wallet, poolAcc, ledger.RaydiumAMMV4ProgramID, usdcAta},
			Instructions: []solana.Instruction{{ProgramIDIndex: 2}},
		},
		Meta: &solana.Meta{
			Fee:               5000,
			PreBalances:       []uint64{10_000_000_000, 10, 1, 2_039_280},
			PostBalances:      []uint64{10_000_000_000 - sol, 10, 1, 2_039_280},
			PostTokenBalances: []solana.TokenBalance{tokenBalance(3, bonkMint, wallet, bonk, 5)},
		},
	}
}

// transferTx moves lamports between wallets through the system program.
func transferTx(sig, from, to string, lamports uint64) *solana.Transaction {
	return &solana.Transaction{
		Signatures: []string{sig},
		Message: &solana.Message{
			AccountKeys:  []string{from, to, ledger.SystemProgramID},
			Instructions: []solana.Instruction{{ProgramIDIndex: 2, Accounts: []uint16{0, 1}}},
		},
		Meta: &solana.Meta{
			Fee:          5000,
			PreBalances:  []uint64{5_000_000_000, 0, 1},
			PostBalances: []uint64{5_000_000_000 - lamports, lamports, 1},
		},
	}
}

func blockAt(slot uint64, ts int64, txs ...*solana.Transaction) *solana.Block {
	return &solana.Block{Slot: slot, ParentSlot: slot - 1, BlockTime: &ts, Transactions: txs}
}

// memoryBackend is an in-memory accumulator.Backend that mirrors what the
// Postgres backend persists.
type memoryBackend struct {
	mu      sync.Mutex
	values  map[accumulator.Space]map[accumulator.Key]float64
	journal map[accumulator.Space][]accumulator.JournalEntry
	last    accumulator.BlockID
	hasLast bool
	saveErr error
	undoErr error
	saves   int
	pruneTo int
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{
		values:  make(map[accumulator.Space]map[accumulator.Key]float64),
		journal: make(map[accumulator.Space][]accumulator.JournalEntry),
	}
}

func (b *memoryBackend) SaveBlock(ctx context.Context, id accumulator.BlockID, changes map[accumulator.Space][]accumulator.Delta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.saveErr != nil {
		return b.saveErr
	}
	b.saves++
	for space, deltas := range changes {
		if b.values[space] == nil {
			b.values[space] = make(map[accumulator.Key]float64)
		}
		for _, d := range deltas {
			b.values[space][d.Key] = d.New
		}
		b.journal[space] = append(b.journal[space], accumulator.JournalEntry{Block: id, Deltas: deltas})
	}
	b.last, b.hasLast = id, true
	return nil
}

func (b *memoryBackend) UndoBlock(ctx context.Context, id accumulator.BlockID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.undoErr != nil {
		return b.undoErr
	}
	for space, entries := range b.journal {
		n := len(entries)
		if n == 0 || entries[n-1].Block != id {
			continue
		}
		for _, d := range entries[n-1].Deltas {
			if d.Existed {
				b.values[space][d.Key] = d.Old
			} else {
				delete(b.values[space], d.Key)
			}
		}
		b.journal[space] = entries[:n-1]
		if n > 1 {
			b.last = entries[n-2].Block
		} else {
			b.hasLast = false
		}
	}
	return nil
}

func (b *memoryBackend) LoadValues(ctx context.Context, space accumulator.Space) (map[accumulator.Key]float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[accumulator.Key]float64, len(b.values[space]))
	for k, v := range b.values[space] {
		out[k] = v
	}
	return out, nil
}

func (b *memoryBackend) LoadJournal(ctx context.Context, space accumulator.Space) ([]accumulator.JournalEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]accumulator.JournalEntry(nil), b.journal[space]...), nil
}

func (b *memoryBackend) LastBlock(ctx context.Context) (accumulator.BlockID, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast, nil
}

func (b *memoryBackend) PruneJournal(ctx context.Context, keep int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneTo = keep
	for space, entries := range b.journal {
		if drop := len(entries) - keep; drop > 0 {
			b.journal[space] = append([]accumulator.JournalEntry(nil), entries[drop:]...)
		}
	}
	return nil
}

// recordingSink captures what the processor fans out.
type recordingSink struct {
	mu     sync.Mutex
	name   string
	err    error
	writes []*BlockResult
	undos  map[uint64][]aggregate.WalletAggregates
}

func newRecordingSink(name string) *recordingSink {
	return &recordingSink{name: name, undos: make(map[uint64][]aggregate.WalletAggregates)}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) WriteBlock(ctx context.Context, res *BlockResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, res)
	return s.err
}

func (s *recordingSink) UndoBlock(ctx context.Context, slot uint64, aggs []aggregate.WalletAggregates) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.undos[slot] = aggs
	return s.err
}
