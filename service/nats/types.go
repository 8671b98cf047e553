package nats

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/brojonat/solflow/service/aggregate"
	"github.com/brojonat/solflow/service/ledger"
)

const (
	// BlocksSubject carries one BlockEvent per applied or undone block.
	BlocksSubject = "ledger.blocks"

	walletSubjectPrefix = "ledger.wallets."
	priceSubjectPrefix  = "ledger.prices."

	// AllWalletsSubject matches every wallet subject.
	AllWalletsSubject = walletSubjectPrefix + "*"

	// AllPricesSubject matches every price subject.
	AllPricesSubject = priceSubjectPrefix + "*"
)

// WalletSubject returns the subject for a wallet's aggregate updates.
func WalletSubject(wallet string) string {
	return walletSubjectPrefix + wallet
}

// PriceSubject returns the subject for a mint's price updates.
func PriceSubject(mint string) string {
	return priceSubjectPrefix + mint
}

// WalletFromSubject extracts the wallet address from a wallet subject.
func WalletFromSubject(subject string) (string, bool) {
	wallet, ok := strings.CutPrefix(subject, walletSubjectPrefix)
	return wallet, ok && wallet != "" && !strings.Contains(wallet, ".")
}

// BlockEvent summarizes one applied or undone block.
// This is published to the subject "ledger.blocks".
type BlockEvent struct {
	Slot           uint64            `json:"slot"`
	BlockTime      int64             `json:"block_time"`
	BlockDate      string            `json:"block_date"`
	Undone         bool              `json:"undone"`
	Transactions   int               `json:"transactions"`
	Skipped        int               `json:"skipped"`
	BalanceChanges int               `json:"balance_changes"`
	Prices         int               `json:"prices"`
	Wallets        int               `json:"wallets"`
	Stats          ledger.BlockStats `json:"stats"`

	PublishedAt time.Time `json:"published_at"`
}

// WalletEvent carries a wallet's aggregates after a block.
// This is published to the subject "ledger.wallets.{wallet}".
type WalletEvent struct {
	Slot       uint64                     `json:"slot"`
	Undone     bool                       `json:"undone"`
	Aggregates aggregate.WalletAggregates `json:"aggregates"`

	PublishedAt time.Time `json:"published_at"`
}

// PriceEvent carries a price discovered in a block.
// This is published to the subject "ledger.prices.{mint}".
type PriceEvent struct {
	Slot        uint64  `json:"slot"`
	MintAddress string  `json:"mint_address"`
	PriceUSD    float64 `json:"price_usd"`

	PublishedAt time.Time `json:"published_at"`
}

// NewBlockEvent builds the summary event for an applied block.
func NewBlockEvent(out *ledger.BlockOutput, wallets int) *BlockEvent {
	return &BlockEvent{
		Slot:           out.Slot,
		BlockTime:      out.BlockTime,
		BlockDate:      out.BlockDate,
		Transactions:   len(out.Transactions),
		Skipped:        out.Skipped.Total(),
		BalanceChanges: len(out.BalanceChanges),
		Prices:         len(out.Prices),
		Wallets:        wallets,
		Stats:          out.Stats,
		PublishedAt:    time.Now().UTC(),
	}
}

// NewUndoEvent builds the summary event for an undone block.
func NewUndoEvent(slot uint64, wallets int) *BlockEvent {
	return &BlockEvent{
		Slot:        slot,
		Undone:      true,
		Wallets:     wallets,
		PublishedAt: time.Now().UTC(),
	}
}

// WalletEvents builds one event per wallet aggregate.
func WalletEvents(slot uint64, aggs []aggregate.WalletAggregates, undone bool) []*WalletEvent {
	now := time.Now().UTC()
	events := make([]*WalletEvent, 0, len(aggs))
	for _, a := range aggs {
		events = append(events, &WalletEvent{Slot: slot, Undone: undone, Aggregates: a, PublishedAt: now})
	}
	return events
}

// PriceEvents builds one event per discovered price.
func PriceEvents(prices []ledger.TokenPrice) []*PriceEvent {
	now := time.Now().UTC()
	events := make([]*PriceEvent, 0, len(prices))
	for _, p := range prices {
		events = append(events, &PriceEvent{
			Slot:        p.Slot,
			MintAddress: p.MintAddress,
			PriceUSD:    p.PriceUSD,
			PublishedAt: now,
		})
	}
	return events
}

// MsgID is the JetStream deduplication id. Retries of the same block produce the same id.
func (e *BlockEvent) MsgID() string {
	return msgID("block", e.Slot, e.Undone, e.Transactions, e.BalanceChanges, e.Prices, e.Wallets, e.Stats)
}

// MsgID is the JetStream deduplication id.
func (e *WalletEvent) MsgID() string {
	return msgID("wallet:"+e.Aggregates.Wallet, e.Slot, e.Undone, e.Aggregates)
}

// MsgID is the JetStream deduplication id.
func (e *PriceEvent) MsgID() string {
	return msgID("price:"+e.MintAddress, e.Slot, false, e.PriceUSD)
}

// msgID combines the identity of an event with a digest of its content.
func msgID(kind string, slot uint64, undone bool, content ...any) string {
	op := "apply"
	if undone {
		op = "undo"
	}
	h := fnv.New64a()
	for _, c := range content {
		b, _ := json.Marshal(c)
		h.Write(b)
	}
	return fmt.Sprintf("%s:%d:%s:%016x", kind, slot, op, h.Sum64())
}
