package session

import (
	"strings"
	"sync"

	"github.com/hikat/kyurgen/internal/lifecycle"
	"github.com/hikat/kyurgen/internal/models"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingURL
	StateAwaitingPrompt
)

// Session is the tab-lifetime context for one chat: the selected generation
// mode, the locale-derived currency and the lifecycle controller handle.
type Session struct {
	State      State
	Mode       models.Mode
	Currency   string
	TargetURL  string
	Prompt     string
	Controller *lifecycle.Controller
}

// Manager keeps per-chat sessions. Controllers survive session resets so that
// an in-flight attempt can be force-abandoned rather than leaked.
type Manager struct {
	mu              sync.RWMutex
	sessions        map[int64]*Session
	defaultCurrency string
	newController   func(chatID int64, currency string) *lifecycle.Controller
}

func NewManager(defaultCurrency string, newController func(chatID int64, currency string) *lifecycle.Controller) *Manager {
	return &Manager{
		sessions:        make(map[int64]*Session),
		defaultCurrency: defaultCurrency,
		newController:   newController,
	}
}

// Get returns the chat's session, creating it on first use. The locale is the
// chat client's language tag; it matters only at creation time, when it picks
// the billing currency.
func (m *Manager) Get(chatID int64, locale string) *Session {
	m.mu.RLock()
	session, ok := m.sessions[chatID]
	m.mu.RUnlock()
	if ok {
		return session
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[chatID]; ok {
		return session
	}
	session = &Session{
		State:    StateIdle,
		Mode:     models.ModeStandard,
		Currency: CurrencyForLocale(locale, m.defaultCurrency),
	}
	session.Controller = m.newController(chatID, session.Currency)
	m.sessions[chatID] = session
	return session
}

func (m *Manager) Set(chatID int64, session *Session) {
	m.mu.Lock()
	m.sessions[chatID] = session
	m.mu.Unlock()
}

// Reset clears the chat's flow state and force-abandons any attempt owned by
// its controller. The controller itself is kept.
func (m *Manager) Reset(chatID int64) {
	session := m.Get(chatID, "")
	session.Controller.Reset()
	m.Set(chatID, &Session{
		State:      StateIdle,
		Mode:       models.ModeStandard,
		Currency:   session.Currency,
		Controller: session.Controller,
	})
}

// CurrencyForLocale maps a BCP 47 language tag to a billing currency. Indian
// locales pay in INR; everyone else gets the configured default.
func CurrencyForLocale(locale, fallback string) string {
	locale = strings.ToLower(strings.ReplaceAll(locale, "_", "-"))
	switch {
	case locale == "hi", strings.HasPrefix(locale, "hi-"), strings.HasSuffix(locale, "-in"):
		return "INR"
	default:
		return fallback
	}
}
