package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// SignedResult is the gateway's success callback payload. Field names are
// fixed by the gateway convention.
type SignedResult struct {
	PaymentID string `json:"razorpay_payment_id"`
	OrderID   string `json:"razorpay_order_id"`
	Signature string `json:"razorpay_signature"`
}

// CheckoutOptions mirrors the SDK constructor: {key, amount, currency,
// order_id, handler, theme}. Amount is in minor currency units.
type CheckoutOptions struct {
	Key         string
	Amount      int64
	Currency    string
	OrderID     string
	Description string
	ThemeColor  string
}

// Checkout opens the interactive payment step. The handler fires at most once,
// asynchronously, when the gateway reports success; the user may abandon the
// checkout with no callback at all. Open returns the URL the user is sent to.
// Cancel drops the callback registration for an order whose checkout was
// abandoned; a no-op once the callback has fired.
type Checkout interface {
	Open(opts CheckoutOptions, handler func(SignedResult)) (string, error)
	Cancel(orderID string)
}

// Dispatcher routes gateway success callbacks to single-shot handlers keyed by
// order id. The admin server feeds it from the public callback endpoint.
type Dispatcher struct {
	mu       sync.Mutex
	handlers map[string]func(SignedResult)
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]func(SignedResult))}
}

func (d *Dispatcher) register(orderID string, handler func(SignedResult)) {
	d.mu.Lock()
	d.handlers[orderID] = handler
	d.mu.Unlock()
}

// Dispatch consumes the registration for the result's order id and invokes its
// handler on its own goroutine, so a slow settlement never blocks the delivery
// endpoint. Duplicate or unknown callbacks report false and do nothing.
func (d *Dispatcher) Dispatch(res SignedResult) bool {
	d.mu.Lock()
	handler, ok := d.handlers[res.OrderID]
	if ok {
		delete(d.handlers, res.OrderID)
	}
	d.mu.Unlock()
	if !ok {
		return false
	}
	go handler(res)
	return true
}

func (d *Dispatcher) cancel(orderID string) {
	d.mu.Lock()
	delete(d.handlers, orderID)
	d.mu.Unlock()
}

// Loader fetches the hosted checkout script once per process. Concurrent
// callers share a single in-flight load; a success is cached for the process
// lifetime while a failure is only returned to current waiters, so a later
// call retries once connectivity is restored.
type Loader struct {
	scriptURL  string
	pageURL    string
	client     *http.Client
	dispatcher *Dispatcher
	log        *slog.Logger

	mu       sync.Mutex
	cached   Checkout
	loadErr  error
	inflight chan struct{}
}

func NewLoader(scriptURL, pageURL string, dispatcher *Dispatcher, log *slog.Logger) *Loader {
	return &Loader{
		scriptURL:  scriptURL,
		pageURL:    pageURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		dispatcher: dispatcher,
		log:        log,
	}
}

func (l *Loader) Load(ctx context.Context) (Checkout, error) {
	l.mu.Lock()
	for {
		if l.cached != nil {
			cached := l.cached
			l.mu.Unlock()
			return cached, nil
		}
		if l.inflight == nil {
			break
		}
		done := l.inflight
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
		l.mu.Lock()
		if l.cached != nil {
			continue
		}
		err := l.loadErr
		l.mu.Unlock()
		return nil, err
	}

	done := make(chan struct{})
	l.inflight = done
	l.mu.Unlock()

	checkout, err := l.fetch(ctx)

	l.mu.Lock()
	l.loadErr = err
	if err == nil {
		l.cached = checkout
	}
	l.inflight = nil
	close(done)
	l.mu.Unlock()

	return checkout, err
}

func (l *Loader) fetch(ctx context.Context) (Checkout, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.scriptURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build script request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch checkout script: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("checkout script status: %d", resp.StatusCode)
	}

	if l.log != nil {
		l.log.Info("payment gateway loaded", "url", l.scriptURL)
	}
	return &hostedCheckout{pageURL: l.pageURL, dispatcher: l.dispatcher}, nil
}

// hostedCheckout hands the user a checkout page URL and resolves the handler
// through the dispatcher when the gateway posts its callback.
type hostedCheckout struct {
	pageURL    string
	dispatcher *Dispatcher
}

func (c *hostedCheckout) Open(opts CheckoutOptions, handler func(SignedResult)) (string, error) {
	if opts.Key == "" {
		return "", fmt.Errorf("gateway key is required")
	}
	if opts.OrderID == "" {
		return "", fmt.Errorf("order id is required")
	}
	if opts.Amount <= 0 {
		return "", fmt.Errorf("amount must be positive")
	}

	parsed, err := url.Parse(c.pageURL)
	if err != nil {
		return "", fmt.Errorf("parse checkout page url: %w", err)
	}
	q := parsed.Query()
	q.Set("key", opts.Key)
	q.Set("order_id", opts.OrderID)
	q.Set("amount", strconv.FormatInt(opts.Amount, 10))
	q.Set("currency", opts.Currency)
	if opts.Description != "" {
		q.Set("name", opts.Description)
	}
	if opts.ThemeColor != "" {
		q.Set("theme", opts.ThemeColor)
	}
	parsed.RawQuery = q.Encode()

	c.dispatcher.register(opts.OrderID, handler)
	return parsed.String(), nil
}

func (c *hostedCheckout) Cancel(orderID string) {
	c.dispatcher.cancel(orderID)
}
