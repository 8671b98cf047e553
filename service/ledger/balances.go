package ledger

import (
	"math"
	"math/big"
	"time"

	"github.com/brojonat/solflow/service/solana"
	"github.com/shopspring/decimal"
)

const (
	// NativeMint is the sentinel mint used for SOL balance changes.
	NativeMint = "So11111111111111111111111111111111111111112"

	// LamportsPerSOL is the native unit scale.
	LamportsPerSOL = 1_000_000_000

	// NativeDecimals is the decimal count reported for native changes.
	NativeDecimals = 9

	// Epsilon suppresses float noise when comparing balances. It is not a dust threshold.
	Epsilon = 2.220446049250313e-16
)

// BalanceChange is one owner's balance movement for one mint within a transaction.
type BalanceChange struct {
	BlockDate    string  `json:"block_date"`
	BlockTime    int64   `json:"block_time"`
	BlockSlot    uint64  `json:"block_slot"`
	TxID         string  `json:"tx_id"`
	Owner        string  `json:"owner"`
	Mint         string  `json:"mint"`
	ChangeAmount float64 `json:"change_amount"`
	NewBalance   float64 `json:"new_balance"`
	Decimals     uint8   `json:"decimals"`
	ChangeType   string  `json:"change_type"`
	NetworkFee   uint64  `json:"network_fee"`
}

// IsNative reports whether the change is a SOL leg.
func (c BalanceChange) IsNative() bool {
	return c.Mint == NativeMint
}

// TxContext carries the per-transaction fields copied into every BalanceChange.
type TxContext struct {
	Slot      uint64
	BlockTime int64
	TxID      string
	Label     string
	Fee       uint64
}

// BlockDate formats a unix timestamp as YYYY-MM-DD in UTC.
func BlockDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.DateOnly)
}

// BlockMonth formats a unix timestamp as YYYY-MM in UTC.
func BlockMonth(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01")
}

// ComputeBalanceChanges diffs the native and token balance snapshots of a transaction.
//
// Native changes come first in account index order, then token changes in
// post-balance order. Records with an unresolvable account index are skipped.
//
// Every account an owner holds of one mint folds into a single record: the
// changes and post balances are summed. The native leg shares NativeMint with
// wrapped SOL, so wrapping or unwrapping nets out. A record is emitted only
// when its summed change exceeds Epsilon.
func ComputeBalanceChanges(tc TxContext, accounts []string, meta *solana.Meta, wl Whitelist) []BalanceChange {
	if meta == nil {
		return nil
	}

	b := changeBuilder{tc: tc, date: BlockDate(tc.BlockTime), index: make(map[ownerMint]int)}
	b.native(accounts, meta.PreBalances, meta.PostBalances, wl)
	b.tokens(accounts, meta.PreTokenBalances, meta.PostTokenBalances)
	return b.changed()
}

type ownerMint struct {
	owner string
	mint  string
}

type accountMint struct {
	index uint16
	mint  string
}

type changeBuilder struct {
	tc    TxContext
	date  string
	out   []BalanceChange
	index map[ownerMint]int
}

func (b *changeBuilder) native(accounts []string, pre, post []uint64, wl Whitelist) {
	// mismatched arrays are unreliable, so the whole native pass is skipped
	if len(pre) != len(post) {
		return
	}

	for i := range pre {
		addr, ok := AccountAt(accounts, i)
		if !ok || addr == "" {
			continue
		}
		if wl.Enabled() && !wl.Contains(addr) {
			continue
		}

		// unchanged accounts still contribute their balance to a wrapped SOL record
		change, balance := lamportsToSOL(pre[i], post[i])
		b.add(addr, NativeMint, change, balance, NativeDecimals)
	}
}

func (b *changeBuilder) tokens(accounts []string, pre, post []solana.TokenBalance) {
	preAmounts := make(map[accountMint]float64, len(pre))
	for _, tb := range pre {
		preAmounts[accountMint{tb.AccountIndex, tb.Mint}] = tb.UIAmount()
	}

	for _, tb := range post {
		if tb.Owner == "" {
			continue
		}
		if _, ok := AccountAt(accounts, int(tb.AccountIndex)); !ok {
			continue
		}

		postAmount := tb.UIAmount()
		change := postAmount - preAmounts[accountMint{tb.AccountIndex, tb.Mint}]
		b.add(tb.Owner, tb.Mint, change, postAmount, tb.Decimals())
	}
}

// add folds one account's movement into its owner and mint record.
func (b *changeBuilder) add(owner, mint string, change, balance float64, decimals uint8) {
	k := ownerMint{owner, mint}
	if i, ok := b.index[k]; ok {
		b.out[i].ChangeAmount += change
		b.out[i].NewBalance += balance
		return
	}

	b.index[k] = len(b.out)
	b.out = append(b.out, BalanceChange{
		BlockDate:    b.date,
		BlockTime:    b.tc.BlockTime,
		BlockSlot:    b.tc.Slot,
		TxID:         b.tc.TxID,
		Owner:        owner,
		Mint:         mint,
		ChangeAmount: change,
		NewBalance:   balance,
		Decimals:     decimals,
		ChangeType:   b.tc.Label,
		NetworkFee:   b.tc.Fee,
	})
}

// changed drops the records whose summed change is within Epsilon.
func (b *changeBuilder) changed() []BalanceChange {
	var out []BalanceChange
	for _, c := range b.out {
		if math.Abs(c.ChangeAmount) > Epsilon {
			out = append(out, c)
		}
	}
	return out
}

// lamportsToSOL converts a lamport pair to a SOL change and post balance.
// The subtraction is done in decimal so large balances keep full precision.
func lamportsToSOL(pre, post uint64) (change, balance float64) {
	preDec := decimal.NewFromBigInt(new(big.Int).SetUint64(pre), -NativeDecimals)
	postDec := decimal.NewFromBigInt(new(big.Int).SetUint64(post), -NativeDecimals)

	change, _ = postDec.Sub(preDec).Float64()
	balance, _ = postDec.Float64()
	return change, balance
}
