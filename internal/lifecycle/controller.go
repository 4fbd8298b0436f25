package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hikat/kyurgen/internal/backend"
	"github.com/hikat/kyurgen/internal/models"
	"github.com/hikat/kyurgen/internal/payment"
	"github.com/hikat/kyurgen/internal/pricing"
)

var (
	// ErrInvalidURL blocks generation locally; no request is sent.
	ErrInvalidURL = errors.New("target url is empty or malformed")
	// ErrBusy rejects re-entrant triggers while a generation or purchase is
	// outstanding. Rejected, not queued.
	ErrBusy = errors.New("another operation is in progress")
	// ErrInvalidState rejects an operation not enabled in the current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
)

const minURLLength = 10

// Backend is the slice of the generation backend the controller needs.
type Backend interface {
	Generate(ctx context.Context, mode models.Mode, targetURL, prompt string) (*backend.GenerationResult, error)
	Regenerate(ctx context.Context, artID string) error
}

// Purchaser starts the payment sub-protocol for a frozen price.
type Purchaser interface {
	Purchase(ctx context.Context, artID string, amountMinor int64, currency string) (*payment.Checkout, error)
}

// Snapshot is an immutable view of the controller handed to the render layer.
type Snapshot struct {
	Artifact  models.Artifact
	Quote     pricing.Quote
	LastError string
}

// Options tune one controller.
type Options struct {
	Currency           string
	TokenSpawnInterval time.Duration
	MaxDiscountPercent int
	// OnSnapshot receives a copy after every state change. Never called while
	// the controller lock is held.
	OnSnapshot func(Snapshot)
	// OnToken receives discount tokens spawned during generation.
	OnToken func(pricing.Token)
}

// Controller owns the generate → preview → purchase lifecycle for one artifact
// attempt at a time. All transitions happen under one lock; responses from
// overwritten attempts are identified by attempt id and dropped.
type Controller struct {
	log    *slog.Logger
	client Backend
	pay    Purchaser
	engine *pricing.Engine
	opts   Options

	mu       sync.Mutex
	art      models.Artifact
	quote    pricing.Quote
	session  *pricing.Session
	checkout *payment.Checkout
	lastErr  string
}

func New(log *slog.Logger, client Backend, pay Purchaser, engine *pricing.Engine, opts Options) *Controller {
	if opts.TokenSpawnInterval <= 0 {
		opts.TokenSpawnInterval = 500 * time.Millisecond
	}
	if opts.MaxDiscountPercent <= 0 {
		opts.MaxDiscountPercent = engine.MaxDiscountPercent()
	}
	return &Controller{
		log:    log,
		client: client,
		pay:    pay,
		engine: engine,
		opts:   opts,
		art:    models.Artifact{State: models.StateIdle},
	}
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{Artifact: c.art, Quote: c.quote, LastError: c.lastErr}
}

// Generate starts a fresh attempt. It validates the URL locally, transitions
// to generating, starts the discount session and issues exactly one backend
// request. A second call while one is outstanding is rejected.
func (c *Controller) Generate(ctx context.Context, mode models.Mode, targetURL, prompt string) error {
	targetURL = strings.TrimSpace(targetURL)
	if !validTargetURL(targetURL) {
		return ErrInvalidURL
	}

	c.mu.Lock()
	switch c.art.State {
	case models.StateGenerating, models.StatePurchasing:
		c.mu.Unlock()
		return ErrBusy
	}

	c.art = models.Artifact{
		AttemptID: uuid.NewString(),
		Mode:      mode,
		TargetURL: targetURL,
		Prompt:    prompt,
		State:     models.StateGenerating,
	}
	c.quote = pricing.Quote{}
	c.lastErr = ""
	c.checkout = nil
	c.session = pricing.NewSession(c.opts.TokenSpawnInterval, c.opts.MaxDiscountPercent, c.opts.OnToken)

	attemptID := c.art.AttemptID
	session := c.session
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	go c.runGeneration(ctx, attemptID, session, mode, targetURL, prompt)
	return nil
}

func (c *Controller) runGeneration(ctx context.Context, attemptID string, session *pricing.Session, mode models.Mode, targetURL, prompt string) {
	result, err := c.client.Generate(ctx, mode, targetURL, prompt)

	c.mu.Lock()
	if c.art.AttemptID != attemptID || c.art.State != models.StateGenerating {
		c.mu.Unlock()
		session.Discard()
		if c.log != nil {
			c.log.Info("dropping stale generation response", "attempt_id", attemptID)
		}
		return
	}

	if err != nil {
		session.Discard()
		c.session = nil
		c.art.State = models.StateFailed
		c.lastErr = err.Error()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		if c.log != nil {
			c.log.Error("generation failed", "attempt_id", attemptID, "err", err)
		}
		c.notify(snap)
		return
	}

	// Freeze the mini-game before the quote so the payable price can never
	// move again for this attempt.
	session.Freeze()
	quote, qerr := c.engine.Quote(mode, c.opts.Currency, session.DiscountPercent())
	if qerr != nil {
		c.session = nil
		c.art.State = models.StateFailed
		c.lastErr = qerr.Error()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}

	c.art.ArtID = result.ArtID
	c.art.PreviewURL = result.PreviewURL
	c.art.State = models.StatePreview
	c.quote = quote
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// Collect forwards a token collection to the active discount session and
// returns the resulting discount percent. Safe to call at any time; collecting
// outside the generating state is a no-op.
func (c *Controller) Collect(tokenID string) (int, bool) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return 0, false
	}
	ok := session.Collect(tokenID)
	return session.DiscountPercent(), ok
}

// Discard releases the previewed artifact. The backend invalidation is
// best-effort: its failure is logged, never surfaced, and the local reset
// proceeds regardless. Confirmation is the caller's responsibility.
func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	if c.art.State != models.StatePreview {
		c.mu.Unlock()
		return ErrInvalidState
	}
	artID := c.art.ArtID
	c.resetLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	go func() {
		if err := c.client.Regenerate(ctx, artID); err != nil && c.log != nil {
			c.log.Error("release art id", "art_id", artID, "err", err)
		}
	}()
	return nil
}

// Purchase starts the payment sub-protocol with the frozen payable price and
// returns the checkout URL for the user. The verified outcome arrives
// asynchronously: success lands in purchased, any failure returns to preview.
func (c *Controller) Purchase(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.art.State != models.StatePreview || c.art.ArtID == "" {
		c.mu.Unlock()
		return "", ErrInvalidState
	}
	c.art.State = models.StatePurchasing
	c.lastErr = ""
	attemptID := c.art.AttemptID
	artID := c.art.ArtID
	quote := c.quote
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	checkout, err := c.pay.Purchase(ctx, artID, quote.PayableMinor, quote.Currency)
	if err != nil {
		c.mu.Lock()
		if c.art.AttemptID == attemptID && c.art.State == models.StatePurchasing {
			c.art.State = models.StatePreview
			c.lastErr = err.Error()
			snap = c.snapshotLocked()
			c.mu.Unlock()
			c.notify(snap)
		} else {
			c.mu.Unlock()
		}
		return "", err
	}

	c.mu.Lock()
	if c.art.AttemptID != attemptID || c.art.State != models.StatePurchasing {
		// The attempt was reset while the order was being created; the order
		// is simply never paid.
		c.mu.Unlock()
		cancelCheckout(checkout)
		return "", ErrInvalidState
	}
	c.checkout = checkout
	c.mu.Unlock()

	go c.awaitPurchase(attemptID, checkout)
	return checkout.PayURL, nil
}

func (c *Controller) awaitPurchase(attemptID string, checkout *payment.Checkout) {
	outcome := <-checkout.Result

	c.mu.Lock()
	if c.art.AttemptID != attemptID || c.checkout != checkout || c.art.State != models.StatePurchasing {
		c.mu.Unlock()
		if c.log != nil {
			c.log.Info("dropping stale checkout outcome", "order_id", checkout.OrderID)
		}
		return
	}
	c.checkout = nil

	if outcome.Err != nil {
		c.art.State = models.StatePreview
		c.lastErr = outcome.Err.Error()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}

	c.art.FinalURL = outcome.FinalURL
	c.art.PreviewURL = ""
	c.art.State = models.StatePurchased
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

// AbandonPurchase returns to preview when the user walked away from the
// checkout. The gateway guarantees no callback in that case; a late one is
// dropped by the checkout identity guard.
func (c *Controller) AbandonPurchase() error {
	c.mu.Lock()
	if c.art.State != models.StatePurchasing {
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.art.State = models.StatePreview
	cancelCheckout(c.checkout)
	c.checkout = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// Reset force-abandons the current attempt locally, whatever its state.
// In-flight responses that belong to it are dropped later by the attempt
// identity guard. No backend call is made.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.resetLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
}

func (c *Controller) resetLocked() {
	if c.session != nil {
		c.session.Discard()
		c.session = nil
	}
	cancelCheckout(c.checkout)
	c.checkout = nil
	c.art = models.Artifact{State: models.StateIdle}
	c.quote = pricing.Quote{}
	c.lastErr = ""
}

// cancelCheckout drops the gateway callback registration of a checkout that
// will never settle, so a very late callback cannot trigger verification for
// a dead attempt.
func cancelCheckout(checkout *payment.Checkout) {
	if checkout != nil && checkout.Cancel != nil {
		checkout.Cancel()
	}
}

func (c *Controller) notify(snap Snapshot) {
	if c.opts.OnSnapshot != nil {
		c.opts.OnSnapshot(snap)
	}
}

func validTargetURL(raw string) bool {
	if len(raw) < minURLLength {
		return false
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
