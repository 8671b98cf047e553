package ledger

import "math"

const (
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"

	// minStableLeg and minOtherLeg reject dust trades that would produce bad prices.
	minStableLeg = 1.0
	minOtherLeg  = 1e-6
)

// IsStable reports whether mint is a USD stablecoin.
func IsStable(mint string) bool {
	return mint == USDCMint || mint == USDTMint
}

// TokenPrice is a USD price observed in a block.
type TokenPrice struct {
	MintAddress string  `json:"mint_address"`
	PriceUSD    float64 `json:"price_usd"`
	Slot        uint64  `json:"slot"`
}

// DiscoverPrice infers a USD price from a stable leg paired with another leg.
//
// The last seen magnitude per category is used, not the largest. Downstream
// price history already depends on this, so it is kept as is.
func DiscoverPrice(changes []BalanceChange) (TokenPrice, bool) {
	var (
		stableAmount float64
		otherAmount  float64
		otherMint    string
	)
	for _, c := range changes {
		if IsStable(c.Mint) {
			stableAmount = math.Abs(c.ChangeAmount)
			continue
		}
		otherAmount = math.Abs(c.ChangeAmount)
		otherMint = c.Mint
		if otherMint == "" {
			otherMint = NativeMint
		}
	}

	if stableAmount > minStableLeg && otherAmount > minOtherLeg && otherMint != "" {
		price := TokenPrice{MintAddress: otherMint, PriceUSD: stableAmount / otherAmount}
		if len(changes) > 0 {
			price.Slot = changes[0].BlockSlot
		}
		return price, true
	}
	return TokenPrice{}, false
}

// PriceBook collects the prices observed in one block.
// A later observation for the same mint overwrites the earlier one.
type PriceBook struct {
	slot   uint64
	order  []string
	prices map[string]float64
}

// NewPriceBook returns an empty book for slot.
func NewPriceBook(slot uint64) *PriceBook {
	return &PriceBook{slot: slot, prices: make(map[string]float64)}
}

// Observe records a price. Last write wins.
func (b *PriceBook) Observe(p TokenPrice) {
	if _, ok := b.prices[p.MintAddress]; !ok {
		b.order = append(b.order, p.MintAddress)
	}
	b.prices[p.MintAddress] = p.PriceUSD
}

// Get returns the price recorded for mint.
func (b *PriceBook) Get(mint string) (float64, bool) {
	p, ok := b.prices[mint]
	return p, ok
}

// Len returns the number of distinct mints priced.
func (b *PriceBook) Len() int {
	return len(b.order)
}

// Prices returns one entry per mint in first-seen order.
func (b *PriceBook) Prices() []TokenPrice {
	out := make([]TokenPrice, 0, len(b.order))
	for _, mint := range b.order {
		out = append(out, TokenPrice{MintAddress: mint, PriceUSD: b.prices[mint], Slot: b.slot})
	}
	return out
}
