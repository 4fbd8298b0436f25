package pricing

import (
	"testing"

	"github.com/hikat/kyurgen/internal/models"
)

func testEngine() *Engine {
	return NewEngine(map[Key]int64{
		{Mode: models.ModeStandard, Currency: "INR"}: 900,
		{Mode: models.ModeAI, Currency: "INR"}:       1300,
		{Mode: models.ModeStandard, Currency: "USD"}: 10,
		{Mode: models.ModeAI, Currency: "USD"}:       15,
	}, 60)
}

func TestQuoteZeroDiscountIsBasePrice(t *testing.T) {
	e := testEngine()
	q, err := e.Quote(models.ModeStandard, "INR", 0)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.PayableMinor != q.BaseMinor {
		t.Fatalf("payable = %d, want base %d", q.PayableMinor, q.BaseMinor)
	}
	if q.BaseMinor != 900 {
		t.Fatalf("base = %d, want 900", q.BaseMinor)
	}
}

func TestQuoteClampsDiscountToCap(t *testing.T) {
	e := testEngine()

	capped, err := e.Quote(models.ModeStandard, "INR", 60)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	over, err := e.Quote(models.ModeStandard, "INR", 70)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if over.DiscountPercent != 60 {
		t.Fatalf("discount = %d, want clamped 60", over.DiscountPercent)
	}
	if over.PayableMinor != capped.PayableMinor {
		t.Fatalf("payable beyond cap = %d, want %d", over.PayableMinor, capped.PayableMinor)
	}

	negative, err := e.Quote(models.ModeStandard, "INR", -5)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if negative.DiscountPercent != 0 || negative.PayableMinor != negative.BaseMinor {
		t.Fatalf("negative discount must be treated as zero, got %+v", negative)
	}
}

func TestQuoteIntegerCurrencyRoundsUp(t *testing.T) {
	e := testEngine()

	// ₹9 at the full 60% discount: 3.60 rounds up to ₹4.
	q, err := e.Quote(models.ModeStandard, "INR", 60)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.PayableMinor != 400 {
		t.Fatalf("payable = %d minor, want 400", q.PayableMinor)
	}

	// ₹13 at 60%: 5.20 rounds up to ₹6.
	q, err = e.Quote(models.ModeAI, "INR", 60)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.PayableMinor != 600 {
		t.Fatalf("payable = %d minor, want 600", q.PayableMinor)
	}
}

func TestQuoteFractionalCurrencyRoundsHalfUp(t *testing.T) {
	e := testEngine()

	// $0.15 at 60% = $0.06 exactly.
	q, err := e.Quote(models.ModeAI, "USD", 60)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.PayableMinor != 6 {
		t.Fatalf("payable = %d minor, want 6", q.PayableMinor)
	}

	// $0.10 at 25% = 7.5 minor, half-up to 8.
	q, err = e.Quote(models.ModeStandard, "USD", 25)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.PayableMinor != 8 {
		t.Fatalf("payable = %d minor, want 8", q.PayableMinor)
	}
}

func TestQuotePayableNeverExceedsBaseAndNeverIncreases(t *testing.T) {
	e := testEngine()
	for _, currency := range []string{"INR", "USD"} {
		prev := int64(1 << 62)
		for pct := 0; pct <= 60; pct++ {
			q, err := e.Quote(models.ModeAI, currency, pct)
			if err != nil {
				t.Fatalf("quote %s %d%%: %v", currency, pct, err)
			}
			if q.PayableMinor > q.BaseMinor {
				t.Fatalf("%s %d%%: payable %d exceeds base %d", currency, pct, q.PayableMinor, q.BaseMinor)
			}
			if q.PayableMinor > prev {
				t.Fatalf("%s %d%%: payable %d increased from %d", currency, pct, q.PayableMinor, prev)
			}
			prev = q.PayableMinor
		}
	}
}

func TestQuoteUnknownPrice(t *testing.T) {
	e := testEngine()
	if _, err := e.Quote(models.ModeStandard, "EUR", 0); err == nil {
		t.Fatal("expected error for unconfigured currency")
	}
	if _, err := e.BasePrice("hologram", "INR"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestQuoteCurrencyCaseInsensitive(t *testing.T) {
	e := testEngine()
	q, err := e.Quote(models.ModeStandard, "inr", 0)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Currency != "INR" || q.BaseMinor != 900 {
		t.Fatalf("got %+v, want normalized INR quote", q)
	}
}

func TestFormatMinor(t *testing.T) {
	cases := []struct {
		minor    int64
		currency string
		want     string
	}{
		{900, "INR", "₹9"},
		{400, "INR", "₹4"},
		{6, "USD", "$0.06"},
		{1000, "USD", "$10"},
		{450, "USD", "$4.50"},
		{500, "JPY", "¥500"},
		{4200, "GBP", "42 GBP"},
	}
	for _, tc := range cases {
		if got := FormatMinor(tc.minor, tc.currency); got != tc.want {
			t.Errorf("FormatMinor(%d, %s) = %q, want %q", tc.minor, tc.currency, got, tc.want)
		}
	}
}
