package pricing

import (
	"fmt"
	"strings"

	"github.com/hikat/kyurgen/internal/models"
)

// Key addresses one entry of the price table.
type Key struct {
	Mode     models.Mode
	Currency string
}

// Quote is a payable price derived from the base price and a discount. Amounts
// are minor currency units. A quote is computed once when the discount session
// freezes and is never recomputed for the same attempt.
type Quote struct {
	Currency        string
	BaseMinor       int64
	PayableMinor    int64
	DiscountPercent int
}

// Engine owns the configured base prices and the discount cap.
type Engine struct {
	prices map[Key]int64
	cap    int
}

func NewEngine(prices map[Key]int64, maxDiscountPercent int) *Engine {
	table := make(map[Key]int64, len(prices))
	for k, v := range prices {
		k.Currency = strings.ToUpper(k.Currency)
		table[k] = v
	}
	return &Engine{prices: table, cap: maxDiscountPercent}
}

// MaxDiscountPercent returns the configured discount cap.
func (e *Engine) MaxDiscountPercent() int {
	return e.cap
}

// BasePrice looks up the configured base price in minor units.
func (e *Engine) BasePrice(mode models.Mode, currency string) (int64, error) {
	price, ok := e.prices[Key{Mode: mode, Currency: strings.ToUpper(currency)}]
	if !ok {
		return 0, fmt.Errorf("no price configured for mode=%s currency=%s", mode, currency)
	}
	return price, nil
}

// Quote applies a discount to the base price. The discount is clamped to
// [0, cap]; collecting beyond the cap never lowers the price further.
func (e *Engine) Quote(mode models.Mode, currency string, discountPercent int) (Quote, error) {
	base, err := e.BasePrice(mode, currency)
	if err != nil {
		return Quote{}, err
	}

	pct := discountPercent
	if pct < 0 {
		pct = 0
	}
	if pct > e.cap {
		pct = e.cap
	}

	currency = strings.ToUpper(currency)
	payable := applyDiscount(base, pct, currency)
	if payable > base {
		payable = base
	}

	return Quote{
		Currency:        currency,
		BaseMinor:       base,
		PayableMinor:    payable,
		DiscountPercent: pct,
	}, nil
}

// FormatMinor renders a minor-unit amount for display: "₹4", "$0.06",
// "42 EUR" for currencies without a known symbol.
func FormatMinor(minor int64, currency string) string {
	currency = strings.ToUpper(currency)
	per := minorPerMajor(currency)

	symbol := ""
	switch currency {
	case "INR":
		symbol = "₹"
	case "USD":
		symbol = "$"
	case "EUR":
		symbol = "€"
	case "JPY":
		symbol = "¥"
	}

	var amount string
	if integerDisplay(currency) || minor%per == 0 {
		amount = fmt.Sprintf("%d", (minor+per-1)/per)
	} else {
		amount = fmt.Sprintf("%d.%02d", minor/per, minor%per)
	}

	if symbol != "" {
		return symbol + amount
	}
	return amount + " " + currency
}

// minorPerMajor returns how many minor units make one displayed major unit.
func minorPerMajor(currency string) int64 {
	switch currency {
	case "JPY", "KRW":
		return 1
	default:
		return 100
	}
}

// integerDisplay reports currencies whose prices are shown in whole major
// units; those round the payable price up to the next major unit.
func integerDisplay(currency string) bool {
	switch currency {
	case "INR", "JPY", "KRW":
		return true
	default:
		return false
	}
}

func applyDiscount(baseMinor int64, pct int, currency string) int64 {
	// raw is the discounted amount scaled by 100 to stay integral.
	raw := baseMinor * int64(100-pct)

	if integerDisplay(currency) {
		unit := minorPerMajor(currency) * 100
		major := raw / unit
		if raw%unit != 0 {
			major++
		}
		return major * minorPerMajor(currency)
	}

	// Fractional currencies round half-up at minor-unit precision.
	return (raw + 50) / 100
}
