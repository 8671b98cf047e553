// Package aggregate folds accumulator deltas into per-wallet summaries.
package aggregate

import (
	"maps"

	"github.com/brojonat/solflow/service/accumulator"
)

// Holding is a wallet's current balance of one mint.
type Holding struct {
	Mint     string  `json:"mint"`
	Amount   float64 `json:"amount"`
	ValueUSD float64 `json:"value_usd"`
}

// WalletAggregates is the reduced view of one wallet for a block or window.
type WalletAggregates struct {
	Wallet                  string             `json:"wallet"`
	TotalTradingVolumeUSD   float64            `json:"total_trading_volume_usd"`
	MonthlyTradingVolumeUSD map[string]float64 `json:"monthly_trading_volume_usd"`
	Portfolio               []Holding          `json:"portfolio"`
}

// PriceLookup resolves the current USD price of a mint.
type PriceLookup interface {
	Price(mint string) (float64, bool)
}

// PriceFunc adapts a function to PriceLookup.
type PriceFunc func(mint string) (float64, bool)

// Price implements PriceLookup.
func (f PriceFunc) Price(mint string) (float64, bool) { return f(mint) }

// StorePrices looks prices up in a latest-value price store.
func StorePrices(store *accumulator.Store) PriceLookup {
	return PriceFunc(func(mint string) (float64, bool) {
		return store.Get(accumulator.PriceKey(mint))
	})
}

// MapPrices looks prices up in a fixed map.
func MapPrices(prices map[string]float64) PriceLookup {
	return PriceFunc(func(mint string) (float64, bool) {
		p, ok := prices[mint]
		return p, ok
	})
}

type walletState struct {
	agg      *WalletAggregates
	holdings map[string]int
}

type reducer struct {
	order   []string
	wallets map[string]*walletState
	prices  PriceLookup
}

func (r *reducer) wallet(addr string) *walletState {
	if w, ok := r.wallets[addr]; ok {
		return w
	}
	w := &walletState{
		agg: &WalletAggregates{
			Wallet:                  addr,
			MonthlyTradingVolumeUSD: make(map[string]float64),
			Portfolio:               []Holding{},
		},
		holdings: make(map[string]int),
	}
	r.wallets[addr] = w
	r.order = append(r.order, addr)
	return w
}

func (r *reducer) holding(d accumulator.Delta) {
	w := r.wallet(d.Key.Wallet)

	h := Holding{Mint: d.Key.Mint, Amount: d.New}
	if r.prices != nil {
		if price, ok := r.prices.Price(d.Key.Mint); ok {
			h.ValueUSD = d.New * price
		}
	}

	// a later delta for the same key carries the newer running total
	if i, ok := w.holdings[h.Mint]; ok {
		w.agg.Portfolio[i] = h
		return
	}
	w.holdings[h.Mint] = len(w.agg.Portfolio)
	w.agg.Portfolio = append(w.agg.Portfolio, h)
}

func (r *reducer) volume(d accumulator.Delta) {
	w := r.wallet(d.Key.Wallet)
	switch d.Key.Kind {
	case accumulator.KindTotalVolume:
		w.agg.TotalTradingVolumeUSD = d.New
	case accumulator.KindMonthlyVolume:
		w.agg.MonthlyTradingVolumeUSD[d.Key.Month] = d.New
	}
}

// Reduce groups portfolio and volume deltas by wallet, in order of first
// appearance, and emits one record per wallet with at least one delta.
//
// A holding's amount is the delta's new running total. Its USD value is that
// amount times the looked-up price, or 0 when no price is known. A total volume
// delta sets the total and a monthly delta sets that month; when a key appears
// twice the later delta wins.
func Reduce(portfolio, volume []accumulator.Delta, prices PriceLookup) []WalletAggregates {
	r := &reducer{wallets: make(map[string]*walletState), prices: prices}

	for _, d := range portfolio {
		if d.Key.Kind != accumulator.KindHolding || d.Key.Wallet == "" {
			continue
		}
		r.holding(d)
	}
	for _, d := range volume {
		if d.Key.Kind != accumulator.KindTotalVolume && d.Key.Kind != accumulator.KindMonthlyVolume {
			continue
		}
		if d.Key.Wallet == "" {
			continue
		}
		r.volume(d)
	}

	out := make([]WalletAggregates, 0, len(r.order))
	for _, addr := range r.order {
		out = append(out, *r.wallets[addr].agg)
	}
	return out
}

// ReduceEncoded reduces string-keyed deltas. Malformed keys are dropped.
func ReduceEncoded(portfolio, volume []accumulator.EncodedDelta, prices PriceLookup) []WalletAggregates {
	return Reduce(
		accumulator.DecodeDeltas(accumulator.SpacePortfolio, portfolio),
		accumulator.DecodeDeltas(accumulator.SpaceVolume, volume),
		prices,
	)
}

// Merge folds a later per-block record into an earlier view of the same wallet.
// A block record only carries the keys that block touched. Total and monthly
// volume keys always move together, so the total is taken only when the later
// record has volume. Holdings are replaced by mint. Neither input is modified.
func Merge(prev, next WalletAggregates) WalletAggregates {
	out := WalletAggregates{
		Wallet:                  prev.Wallet,
		TotalTradingVolumeUSD:   prev.TotalTradingVolumeUSD,
		MonthlyTradingVolumeUSD: make(map[string]float64, len(prev.MonthlyTradingVolumeUSD)+len(next.MonthlyTradingVolumeUSD)),
		Portfolio:               make([]Holding, 0, len(prev.Portfolio)+len(next.Portfolio)),
	}
	if out.Wallet == "" {
		out.Wallet = next.Wallet
	}

	maps.Copy(out.MonthlyTradingVolumeUSD, prev.MonthlyTradingVolumeUSD)
	if len(next.MonthlyTradingVolumeUSD) > 0 || next.TotalTradingVolumeUSD != 0 {
		out.TotalTradingVolumeUSD = next.TotalTradingVolumeUSD
	}
	maps.Copy(out.MonthlyTradingVolumeUSD, next.MonthlyTradingVolumeUSD)

	holdings := make(map[string]int, len(prev.Portfolio))
	for _, h := range prev.Portfolio {
		holdings[h.Mint] = len(out.Portfolio)
		out.Portfolio = append(out.Portfolio, h)
	}
	for _, h := range next.Portfolio {
		if i, ok := holdings[h.Mint]; ok {
			out.Portfolio[i] = h
			continue
		}
		holdings[h.Mint] = len(out.Portfolio)
		out.Portfolio = append(out.Portfolio, h)
	}
	return out
}

// ByWallet indexes aggregates by wallet address.
func ByWallet(aggs []WalletAggregates) map[string]WalletAggregates {
	out := make(map[string]WalletAggregates, len(aggs))
	for _, a := range aggs {
		out[a.Wallet] = a
	}
	return out
}
