package pricing

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Token is a collectible discount unit spawned while generation is running.
// Positions are percentages of the play area.
type Token struct {
	ID        string
	X         int
	Y         int
	SpawnedAt time.Time
}

type sessionPhase int

const (
	phaseActive sessionPhase = iota
	phaseFrozen
	phaseDiscarded
)

// Session is the discount mini-game attached to one generation attempt.
// Tokens spawn on a fixed interval while the session is active and accumulate
// until collected. Freeze stops the spawn timer synchronously and makes the
// session immutable; Discard stops it without banking any discount.
type Session struct {
	cap      int
	interval time.Duration
	onSpawn  func(Token)

	mu     sync.Mutex
	phase  sessionPhase
	score  int
	tokens map[string]Token
	stop   chan struct{}
}

// NewSession starts the spawn timer immediately. onSpawn may be nil; when set
// it is invoked outside the session lock, once per spawned token.
func NewSession(interval time.Duration, maxDiscountPercent int, onSpawn func(Token)) *Session {
	s := &Session{
		cap:      maxDiscountPercent,
		interval: interval,
		onSpawn:  onSpawn,
		phase:    phaseActive,
		tokens:   make(map[string]Token),
		stop:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			token, ok := s.spawn()
			if ok && s.onSpawn != nil {
				s.onSpawn(token)
			}
		}
	}
}

func (s *Session) spawn() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseActive {
		return Token{}, false
	}
	token := Token{
		ID:        uuid.NewString(),
		X:         rand.Intn(100),
		Y:         rand.Intn(100),
		SpawnedAt: time.Now(),
	}
	s.tokens[token.ID] = token
	return token, true
}

// Collect removes a live token and increments the score. The score itself is
// uncapped; the cap applies when the discount is read. Returns false when the
// token is unknown or the session is no longer active.
func (s *Session) Collect(tokenID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseActive {
		return false
	}
	if _, ok := s.tokens[tokenID]; !ok {
		return false
	}
	delete(s.tokens, tokenID)
	s.score++
	return true
}

// Score returns the raw collected-token count.
func (s *Session) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

// DiscountPercent is min(score, cap). A discarded session earned nothing.
func (s *Session) DiscountPercent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == phaseDiscarded {
		return 0
	}
	if s.score > s.cap {
		return s.cap
	}
	return s.score
}

// ActiveTokens returns a copy of the live token set.
func (s *Session) ActiveTokens() []Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	return out
}

// Freeze stops the spawn timer and locks the score in place. Once Freeze
// returns no new token can appear and stray Collect calls are no-ops.
func (s *Session) Freeze() {
	s.halt(phaseFrozen)
}

// Discard stops the session without banking a discount.
func (s *Session) Discard() {
	s.halt(phaseDiscarded)
}

func (s *Session) halt(next sessionPhase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != phaseActive {
		return
	}
	s.phase = next
	close(s.stop)
}
