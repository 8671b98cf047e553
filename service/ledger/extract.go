package ledger

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"

	"github.com/brojonat/solflow/service/solana"
	"golang.org/x/sync/errgroup"
)

// ErrMalformedBlock is returned when a block cannot be processed at all.
var ErrMalformedBlock = errors.New("malformed block")

// topProgramsLimit is the number of programs reported in BlockStats.
const topProgramsLimit = 5

// SkipReason explains why a transaction produced no output.
type SkipReason string

const (
	SkipFailed      SkipReason = "failed"
	SkipNoSignature SkipReason = "no_signature"
	SkipMalformed   SkipReason = "malformed"
	SkipFiltered    SkipReason = "filtered"
)

// TransactionItem is the processed view of one successful transaction.
type TransactionItem struct {
	Signature        string          `json:"signature"`
	Slot             uint64          `json:"slot"`
	BlockTime        int64           `json:"block_time"`
	Success          bool            `json:"success"`
	Sender           string          `json:"sender"`
	InvolvedAccounts []string        `json:"involved_accounts"`
	Fee              uint64          `json:"fee"`
	LogMessages      []string        `json:"log_messages"`
	Label            string          `json:"label"`
	BalanceChanges   []BalanceChange `json:"balance_changes"`
}

// ProgramCount is the number of instructions targeting a known program in a block.
type ProgramCount struct {
	ProgramID string `json:"program_id"`
	Label     string `json:"label"`
	Count     int    `json:"instruction_count"`
}

// BlockStats summarizes known-program activity in a block.
type BlockStats struct {
	ProgramInstructions int            `json:"program_instructions"`
	UniqueAccounts      int            `json:"unique_accounts"`
	UniqueMints         int            `json:"unique_mints"`
	TopPrograms         []ProgramCount `json:"top_programs"`
}

// SkipCounts counts skipped transactions per reason.
type SkipCounts map[SkipReason]int

// Total returns the number of skipped transactions.
func (s SkipCounts) Total() int {
	n := 0
	for _, c := range s {
		n += c
	}
	return n
}

// BlockOutput is everything extracted from one block.
type BlockOutput struct {
	Slot           uint64             `json:"slot"`
	BlockTime      int64              `json:"block_time"`
	BlockDate      string             `json:"block_date"`
	Transactions   []*TransactionItem `json:"transactions"`
	BalanceChanges []BalanceChange    `json:"balance_changes"`
	Prices         []TokenPrice       `json:"prices"`
	Stats          BlockStats         `json:"stats"`
	Skipped        SkipCounts         `json:"skipped"`
}

// Extractor turns decoded blocks into balance changes, classifications and prices.
// Extraction has no side effects, so one Extractor may be shared by many goroutines.
type Extractor struct {
	Whitelist Whitelist
	Table     ProgramTable
	// Workers bounds per-block transaction concurrency. Zero means GOMAXPROCS.
	Workers   int
}

// NewExtractor returns an Extractor using the default program table.
func NewExtractor(wl Whitelist) *Extractor {
	return &Extractor{Whitelist: wl, Table: DefaultProgramTable()}
}

// txResult is the per-transaction output merged back in block order.
type txResult struct {
	item  *TransactionItem
	price *TokenPrice
	skip  SkipReason
	scan  []ScannedInstruction
	accts []string
}

// ExtractBlock processes every transaction of block.
// Failed, unsigned, malformed and filtered transactions are skipped and counted.
// Prices are observed on every successful transaction, whitelisted or not.
func (e *Extractor) ExtractBlock(block *solana.Block) (*BlockOutput, error) {
	if block == nil {
		return nil, fmt.Errorf("%w: nil block", ErrMalformedBlock)
	}

	results := make([]txResult, len(block.Transactions))

	var g errgroup.Group
	g.SetLimit(e.workers())
	for i, tx := range block.Transactions {
		g.Go(func() error {
			results[i] = e.extractTransaction(block, tx)
			return nil
		})
	}
	// extractTransaction never fails; Wait only joins the goroutines
	_ = g.Wait()

	return e.merge(block, results), nil
}

func (e *Extractor) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (e *Extractor) table() ProgramTable {
	if e.Table == nil {
		return DefaultProgramTable()
	}
	return e.Table
}

func (e *Extractor) extractTransaction(block *solana.Block, tx *solana.Transaction) txResult {
	if tx == nil || tx.Meta == nil || tx.Message == nil {
		return txResult{skip: SkipMalformed}
	}
	if tx.Meta.Failed() {
		return txResult{skip: SkipFailed}
	}
	if len(tx.Signatures) == 0 {
		return txResult{skip: SkipNoSignature}
	}

	accounts := ResolveAccounts(tx)
	if len(accounts) == 0 {
		return txResult{skip: SkipMalformed}
	}
	relevant := e.Whitelist.IsRelevant(accounts)

	seq := MergeInstructions(tx)
	class := Classify(accounts, seq, e.table())

	tc := TxContext{
		Slot:      block.Slot,
		BlockTime: block.Timestamp(),
		TxID:      tx.FirstSignature(),
		Label:     class.Label,
		Fee:       tx.Meta.Fee,
	}

	// prices are global: always discovered from the unfiltered diff
	unfiltered := ComputeBalanceChanges(tc, accounts, tx.Meta, Whitelist{})
	var price *TokenPrice
	if p, ok := DiscoverPrice(unfiltered); ok {
		price = &p
	}

	if !relevant {
		return txResult{skip: SkipFiltered, price: price}
	}

	changes := unfiltered
	if e.Whitelist.Enabled() {
		changes = ComputeBalanceChanges(tc, accounts, tx.Meta, e.Whitelist)
	}

	res := txResult{
		item: &TransactionItem{
			Signature:        tc.TxID,
			Slot:             block.Slot,
			BlockTime:        tc.BlockTime,
			Success:          true,
			Sender:           accounts[0],
			InvolvedAccounts: accounts,
			Fee:              tx.Meta.Fee,
			LogMessages:      tx.Meta.LogMessages,
			Label:            class.Label,
			BalanceChanges:   changes,
		},
		scan:  seq,
		accts: accounts,
		price: price,
	}
	return res
}

func (e *Extractor) merge(block *solana.Block, results []txResult) *BlockOutput {
	out := &BlockOutput{
		Slot:      block.Slot,
		BlockTime: block.Timestamp(),
		BlockDate: BlockDate(block.Timestamp()),
		Skipped:   SkipCounts{},
	}

	book := NewPriceBook(block.Slot)
	stats := newStatsBuilder(e.table())
	for _, r := range results {
		if r.price != nil {
			book.Observe(*r.price)
		}
		if r.item == nil {
			out.Skipped[r.skip]++
			continue
		}
		out.Transactions = append(out.Transactions, r.item)
		out.BalanceChanges = append(out.BalanceChanges, r.item.BalanceChanges...)
		stats.add(r.accts, r.scan, r.item.BalanceChanges)
	}

	out.Prices = book.Prices()
	out.Stats = stats.build()
	return out
}

type statsBuilder struct {
	table    ProgramTable
	hits     int
	accounts map[string]struct{}
	mints    map[string]struct{}
	programs map[string]int
}

func newStatsBuilder(table ProgramTable) *statsBuilder {
	return &statsBuilder{
		table:    table,
		accounts: make(map[string]struct{}),
		mints:    make(map[string]struct{}),
		programs: make(map[string]int),
	}
}

func (s *statsBuilder) add(accounts []string, seq []ScannedInstruction, changes []BalanceChange) {
	for _, ix := range seq {
		programID, ok := AccountAt(accounts, int(ix.ProgramIDIndex))
		if !ok {
			continue
		}
		if _, known := s.table.Lookup(programID); !known {
			continue
		}
		s.hits++
		s.programs[programID]++
		for _, idx := range ix.Accounts {
			if addr, ok := AccountAt(accounts, int(idx)); ok {
				s.accounts[addr] = struct{}{}
			}
		}
	}
	for _, c := range changes {
		if !c.IsNative() {
			s.mints[c.Mint] = struct{}{}
		}
	}
}

func (s *statsBuilder) build() BlockStats {
	top := make([]ProgramCount, 0, len(s.programs))
	for id, n := range s.programs {
		info, _ := s.table.Lookup(id)
		top = append(top, ProgramCount{ProgramID: id, Label: info.Label, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].ProgramID < top[j].ProgramID
	})
	if len(top) > topProgramsLimit {
		top = top[:topProgramsLimit]
	}

	return BlockStats{
		ProgramInstructions: s.hits,
		UniqueAccounts:      len(s.accounts),
		UniqueMints:         len(s.mints),
		TopPrograms:         top,
	}
}

// ExtractBlocks extracts many blocks concurrently, at most workers at a time,
// and returns the outputs in input order. A malformed block fails the batch.
func (e *Extractor) ExtractBlocks(ctx context.Context, blocks []*solana.Block, workers int) ([]*BlockOutput, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	outputs := make([]*BlockOutput, len(blocks))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, block := range blocks {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			out, err := e.ExtractBlock(block)
			if err != nil {
				return fmt.Errorf("block at position %d: %w", i, err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}
