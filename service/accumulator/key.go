package accumulator

import (
	"fmt"
	"strings"
)

// Space names an accumulator key space. Each space is owned by exactly one store.
type Space string

const (
	SpacePortfolio Space = "portfolio"
	SpaceVolume    Space = "volume"
	SpacePrice     Space = "price"
)

// KeyKind discriminates the Key union.
type KeyKind uint8

const (
	KindHolding KeyKind = iota + 1
	KindTotalVolume
	KindMonthlyVolume
	KindPrice
)

func (k KeyKind) String() string {
	switch k {
	case KindHolding:
		return "holding"
	case KindTotalVolume:
		return "total_volume"
	case KindMonthlyVolume:
		return "monthly_volume"
	case KindPrice:
		return "price"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

const totalSuffix = "total"

// Key is a structured accumulator key. It is comparable and safe to use as a map key.
// Use the constructors; the string form exists only at the storage boundary.
type Key struct {
	Kind   KeyKind
	Wallet string
	Mint   string
	Month  string // YYYY-MM
}

// HoldingKey is a wallet's running balance of one mint.
func HoldingKey(wallet, mint string) Key {
	return Key{Kind: KindHolding, Wallet: wallet, Mint: mint}
}

// TotalVolumeKey is a wallet's all-time trading volume.
func TotalVolumeKey(wallet string) Key {
	return Key{Kind: KindTotalVolume, Wallet: wallet}
}

// MonthlyVolumeKey is a wallet's trading volume for one month.
func MonthlyVolumeKey(wallet, month string) Key {
	return Key{Kind: KindMonthlyVolume, Wallet: wallet, Month: month}
}

// PriceKey is the latest USD price of a mint.
func PriceKey(mint string) Key {
	return Key{Kind: KindPrice, Mint: mint}
}

// Space returns the key space the key belongs to.
func (k Key) Space() Space {
	switch k.Kind {
	case KindHolding:
		return SpacePortfolio
	case KindTotalVolume, KindMonthlyVolume:
		return SpaceVolume
	case KindPrice:
		return SpacePrice
	}
	return ""
}

// String encodes the key: "wallet:mint", "wallet:total", "wallet:YYYY-MM" or "mint".
func (k Key) String() string {
	switch k.Kind {
	case KindHolding:
		return k.Wallet + ":" + k.Mint
	case KindTotalVolume:
		return k.Wallet + ":" + totalSuffix
	case KindMonthlyVolume:
		return k.Wallet + ":" + k.Month
	case KindPrice:
		return k.Mint
	}
	return ""
}

// ParseKey decodes a stored key for space.
//
// Portfolio keys must contain exactly one colon. Volume keys split on the
// first colon; the suffix "total" is the total and any other suffix is a month.
// Price keys are the mint itself. Malformed input returns false.
func ParseKey(space Space, s string) (Key, bool) {
	switch space {
	case SpacePortfolio:
		parts := strings.Split(s, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return Key{}, false
		}
		return HoldingKey(parts[0], parts[1]), true

	case SpaceVolume:
		wallet, suffix, ok := strings.Cut(s, ":")
		if !ok || wallet == "" || suffix == "" {
			return Key{}, false
		}
		if suffix == totalSuffix {
			return TotalVolumeKey(wallet), true
		}
		return MonthlyVolumeKey(wallet, suffix), true

	case SpacePrice:
		if s == "" {
			return Key{}, false
		}
		return PriceKey(s), true
	}
	return Key{}, false
}
