package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hikat/kyurgen/internal/config"
	"github.com/hikat/kyurgen/internal/gateway"
	"github.com/hikat/kyurgen/internal/models"
)

var (
	// ErrGatewayUnavailable means the gateway SDK could not be loaded or the
	// checkout could not be opened. Retryable once connectivity is restored.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrOrderCreationFailed wraps a transport failure or error payload from
	// the order endpoint. Retryable by re-invoking the purchase.
	ErrOrderCreationFailed = errors.New("order creation failed")
	// ErrVerificationFailed means the gateway reported success but the backend
	// rejected the signature. Funds may have moved; the receipt ledger keeps
	// the payment id for manual support lookup.
	ErrVerificationFailed = errors.New("payment verification failed")
)

// Backend is the slice of the generation backend the orchestrator needs.
type Backend interface {
	CreateOrder(ctx context.Context, amountMinor int64) (*models.Order, error)
	VerifyPayment(ctx context.Context, paymentID, orderID, signature, artID string) (string, error)
}

// Loader yields the memoized gateway checkout capability.
type Loader interface {
	Load(ctx context.Context) (gateway.Checkout, error)
}

// Ledger records gateway payments locally. All writes are best-effort: a
// ledger failure never changes a payment outcome.
type Ledger interface {
	Create(ctx context.Context, receipt *models.Receipt) error
	UpdateStatusByOrderID(ctx context.Context, orderID, status, rawPayload string) error
}

// Outcome is the single result of one purchase attempt's checkout.
type Outcome struct {
	FinalURL string
	Result   gateway.SignedResult
	Err      error
}

// Checkout is a purchase attempt waiting on the user-paced gateway step.
// Result delivers exactly one Outcome; if the user abandons the checkout no
// outcome ever arrives and the caller decides when to give up. Cancel drops
// the gateway callback registration so an abandoned checkout cannot settle
// later; it is safe to call after the outcome was delivered.
type Checkout struct {
	OrderID string
	PayURL  string
	Result  <-chan Outcome
	Cancel  func()
}

// Orchestrator sequences gateway load, order creation, checkout and
// server-side verification. It never sees card data and never retries order
// creation or verification on its own.
type Orchestrator struct {
	cfg      config.Config
	log      *slog.Logger
	backend  Backend
	loader   Loader
	receipts Ledger // may be nil
}

func NewOrchestrator(cfg config.Config, log *slog.Logger, backend Backend, loader Loader, receipts Ledger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		log:      log,
		backend:  backend,
		loader:   loader,
		receipts: receipts,
	}
}

// Purchase runs steps 1-3 (load gateway, create order, open checkout) and
// returns a Checkout whose Result resolves after the gateway callback and
// verification. Immediate failures are returned synchronously.
func (o *Orchestrator) Purchase(ctx context.Context, artID string, amountMinor int64, currency string) (*Checkout, error) {
	checkout, err := o.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	order, err := o.backend.CreateOrder(ctx, amountMinor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}
	if order.Currency == "" {
		order.Currency = currency
	}

	result := make(chan Outcome, 1)
	handler := func(res gateway.SignedResult) {
		result <- o.settle(artID, order, res)
	}

	payURL, err := checkout.Open(gateway.CheckoutOptions{
		Key:         o.cfg.RazorpayKeyID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		OrderID:     order.ID,
		Description: o.cfg.BrandName,
		ThemeColor:  o.cfg.ThemeColor,
	}, handler)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if o.log != nil {
		o.log.Info("checkout opened", "order_id", order.ID, "amount", order.Amount, "currency", order.Currency)
	}

	return &Checkout{
		OrderID: order.ID,
		PayURL:  payURL,
		Result:  result,
		Cancel:  func() { checkout.Cancel(order.ID) },
	}, nil
}

// settle runs step 4. It uses a fresh context because the gateway callback
// arrives on the user's schedule, long after the purchase call returned.
func (o *Orchestrator) settle(artID string, order *models.Order, res gateway.SignedResult) Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), o.verifyTimeout())
	defer cancel()

	o.recordReceipt(ctx, artID, order, res)

	finalURL, err := o.backend.VerifyPayment(ctx, res.PaymentID, res.OrderID, res.Signature, artID)
	if err != nil {
		o.updateReceipt(ctx, order.ID, models.ReceiptVerifyFailed, res)
		if o.log != nil {
			o.log.Error("payment verification rejected",
				"art_id", artID, "order_id", order.ID, "payment_id", res.PaymentID, "err", err)
		}
		return Outcome{Result: res, Err: fmt.Errorf("%w: %v", ErrVerificationFailed, err)}
	}

	o.updateReceipt(ctx, order.ID, models.ReceiptPaid, res)
	return Outcome{FinalURL: finalURL, Result: res}
}

func (o *Orchestrator) verifyTimeout() time.Duration {
	if o.cfg.RequestTimeout > 0 {
		return o.cfg.RequestTimeout
	}
	return 90 * time.Second
}

func (o *Orchestrator) recordReceipt(ctx context.Context, artID string, order *models.Order, res gateway.SignedResult) {
	if o.receipts == nil {
		return
	}
	receipt := &models.Receipt{
		ArtID:      artID,
		OrderID:    order.ID,
		PaymentID:  res.PaymentID,
		Signature:  res.Signature,
		Currency:   order.Currency,
		Amount:     order.Amount,
		Status:     models.ReceiptPending,
		RawPayload: string(jsonMustMarshal(res)),
	}
	if err := o.receipts.Create(ctx, receipt); err != nil && o.log != nil {
		o.log.Error("record receipt", "order_id", order.ID, "err", err)
	}
}

func (o *Orchestrator) updateReceipt(ctx context.Context, orderID, status string, res gateway.SignedResult) {
	if o.receipts == nil {
		return
	}
	if err := o.receipts.UpdateStatusByOrderID(ctx, orderID, status, string(jsonMustMarshal(res))); err != nil && o.log != nil {
		o.log.Error("update receipt", "order_id", orderID, "status", status, "err", err)
	}
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
