package pipeline

import (
	"math"

	"github.com/brojonat/solflow/service/accumulator"
	"github.com/brojonat/solflow/service/ledger"
)

// TradeVolumeUSD estimates the USD notional of one transaction's balance changes.
// The largest stablecoin leg wins. Without one, the largest native leg is valued
// at nativePrice. Zero means the volume is unknown.
func TradeVolumeUSD(changes []ledger.BalanceChange, nativePrice float64) float64 {
	var stable, native float64
	for _, c := range changes {
		amount := math.Abs(c.ChangeAmount)
		switch {
		case ledger.IsStable(c.Mint):
			stable = max(stable, amount)
		case c.IsNative():
			native = max(native, amount)
		}
	}
	if stable > 0 {
		return stable
	}
	if nativePrice > 0 {
		return native * nativePrice
	}
	return 0
}

// volumeOps builds the volume store ops for a block. Every classified (non-SEND)
// transaction with a known volume adds to the sender's total and monthly keys.
func volumeOps(out *ledger.BlockOutput, nativePrice float64) []accumulator.Op {
	month := ledger.BlockMonth(out.BlockTime)

	var ops []accumulator.Op
	for _, tx := range out.Transactions {
		if tx.Label == ledger.DefaultLabel || tx.Sender == "" {
			continue
		}
		v := TradeVolumeUSD(tx.BalanceChanges, nativePrice)
		if v <= 0 {
			continue
		}
		ops = append(ops,
			accumulator.Add(accumulator.TotalVolumeKey(tx.Sender), v),
			accumulator.Add(accumulator.MonthlyVolumeKey(tx.Sender, month), v),
		)
	}
	return ops
}

func portfolioOps(out *ledger.BlockOutput) []accumulator.Op {
	ops := make([]accumulator.Op, 0, len(out.BalanceChanges))
	for _, c := range out.BalanceChanges {
		ops = append(ops, accumulator.Add(accumulator.HoldingKey(c.Owner, c.Mint), c.ChangeAmount))
	}
	return ops
}

func priceOps(out *ledger.BlockOutput) []accumulator.Op {
	ops := make([]accumulator.Op, 0, len(out.Prices))
	for _, p := range out.Prices {
		ops = append(ops, accumulator.Set(accumulator.PriceKey(p.MintAddress), p.PriceUSD))
	}
	return ops
}
