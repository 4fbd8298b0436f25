package session

import (
	"testing"

	"github.com/hikat/kyurgen/internal/lifecycle"
	"github.com/hikat/kyurgen/internal/models"
	"github.com/hikat/kyurgen/internal/pricing"
)

func newTestManager() (*Manager, *int) {
	created := 0
	engine := pricing.NewEngine(map[pricing.Key]int64{
		{Mode: models.ModeStandard, Currency: "USD"}: 10,
		{Mode: models.ModeStandard, Currency: "INR"}: 900,
	}, 60)
	m := NewManager("USD", func(chatID int64, currency string) *lifecycle.Controller {
		created++
		return lifecycle.New(nil, nil, nil, engine, lifecycle.Options{Currency: currency})
	})
	return m, &created
}

func TestGetCreatesSessionOnce(t *testing.T) {
	m, created := newTestManager()

	first := m.Get(42, "en")
	if first.State != StateIdle || first.Currency != "USD" || first.Controller == nil {
		t.Fatalf("unexpected fresh session: %+v", first)
	}
	second := m.Get(42, "en")
	if first != second {
		t.Fatal("same chat must yield the same session")
	}
	if *created != 1 {
		t.Fatalf("controller created %d times, want 1", *created)
	}

	if other := m.Get(43, "en"); other == first {
		t.Fatal("distinct chats must not share a session")
	}
}

func TestGetPicksCurrencyFromLocale(t *testing.T) {
	m, _ := newTestManager()

	indian := m.Get(1, "hi")
	if indian.Currency != "INR" {
		t.Fatalf("currency = %q, want INR for hi locale", indian.Currency)
	}
	// The currency is fixed at creation; later updates carry other locales.
	if again := m.Get(1, "en"); again.Currency != "INR" {
		t.Fatalf("currency = %q, want INR kept across lookups", again.Currency)
	}

	if other := m.Get(2, "de"); other.Currency != "USD" {
		t.Fatalf("currency = %q, want USD fallback", other.Currency)
	}
}

func TestResetKeepsControllerAndCurrency(t *testing.T) {
	m, created := newTestManager()

	sess := m.Get(42, "hi")
	sess.State = StateAwaitingPrompt
	sess.Mode = models.ModeAI
	sess.TargetURL = "https://example.com"
	controller := sess.Controller
	m.Set(42, sess)

	m.Reset(42)

	fresh := m.Get(42, "")
	if fresh.State != StateIdle || fresh.Mode != models.ModeStandard || fresh.TargetURL != "" {
		t.Fatalf("reset left flow state behind: %+v", fresh)
	}
	if fresh.Controller != controller {
		t.Fatal("reset must keep the controller")
	}
	if fresh.Currency != "INR" {
		t.Fatalf("currency = %q, want preserved INR", fresh.Currency)
	}
	if *created != 1 {
		t.Fatalf("controller created %d times across reset, want 1", *created)
	}
	if got := controller.Snapshot().Artifact.State; got != models.StateIdle {
		t.Fatalf("controller state after reset = %s, want idle", got)
	}
}

func TestCurrencyForLocale(t *testing.T) {
	cases := []struct {
		locale string
		want   string
	}{
		{"hi", "INR"},
		{"hi-IN", "INR"},
		{"en-IN", "INR"},
		{"en_IN", "INR"},
		{"en-US", "USD"},
		{"de", "USD"},
		{"", "USD"},
	}
	for _, tc := range cases {
		if got := CurrencyForLocale(tc.locale, "USD"); got != tc.want {
			t.Errorf("CurrencyForLocale(%q) = %q, want %q", tc.locale, got, tc.want)
		}
	}
}
