package payment

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hikat/kyurgen/internal/config"
	"github.com/hikat/kyurgen/internal/gateway"
	"github.com/hikat/kyurgen/internal/models"
)

type fakeBackend struct {
	order     *models.Order
	orderErr  error
	finalURL  string
	verifyErr error

	verified []gateway.SignedResult
}

func (f *fakeBackend) CreateOrder(ctx context.Context, amountMinor int64) (*models.Order, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	order := *f.order
	if order.Amount == 0 {
		order.Amount = amountMinor
	}
	return &order, nil
}

func (f *fakeBackend) VerifyPayment(ctx context.Context, paymentID, orderID, signature, artID string) (string, error) {
	f.verified = append(f.verified, gateway.SignedResult{PaymentID: paymentID, OrderID: orderID, Signature: signature})
	if f.verifyErr != nil {
		return "", f.verifyErr
	}
	return f.finalURL, nil
}

type fakeCheckout struct {
	opts      gateway.CheckoutOptions
	handler   func(gateway.SignedResult)
	openErr   error
	cancelled []string
}

func (f *fakeCheckout) Open(opts gateway.CheckoutOptions, handler func(gateway.SignedResult)) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opts = opts
	f.handler = handler
	return "https://pay.example.com/checkout?order_id=" + opts.OrderID, nil
}

func (f *fakeCheckout) Cancel(orderID string) {
	f.cancelled = append(f.cancelled, orderID)
}

type fakeLoader struct {
	checkout gateway.Checkout
	err      error
}

func (f *fakeLoader) Load(ctx context.Context) (gateway.Checkout, error) {
	return f.checkout, f.err
}

type fakeLedger struct {
	created []models.Receipt
	updated []struct {
		OrderID string
		Status  string
	}
	createErr error
}

func (f *fakeLedger) Create(ctx context.Context, receipt *models.Receipt) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, *receipt)
	return nil
}

func (f *fakeLedger) UpdateStatusByOrderID(ctx context.Context, orderID, status, rawPayload string) error {
	f.updated = append(f.updated, struct {
		OrderID string
		Status  string
	}{orderID, status})
	return nil
}

func testConfig() config.Config {
	return config.Config{
		RazorpayKeyID:  "rzp_test_key",
		BrandName:      "KyurGen Lab",
		ThemeColor:     "#22c55e",
		RequestTimeout: 5 * time.Second,
	}
}

func awaitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for checkout outcome")
		return Outcome{}
	}
}

func TestPurchaseGatewayUnavailable(t *testing.T) {
	o := NewOrchestrator(testConfig(), nil, &fakeBackend{}, &fakeLoader{err: errors.New("dns failure")}, nil)

	_, err := o.Purchase(context.Background(), "art_1", 400, "INR")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestPurchaseOrderCreationFailed(t *testing.T) {
	be := &fakeBackend{orderErr: errors.New("backend error: keys not configured")}
	o := NewOrchestrator(testConfig(), nil, be, &fakeLoader{checkout: &fakeCheckout{}}, nil)

	_, err := o.Purchase(context.Background(), "art_1", 400, "INR")
	if !errors.Is(err, ErrOrderCreationFailed) {
		t.Fatalf("err = %v, want ErrOrderCreationFailed", err)
	}
	// The backend's own message rides along for display.
	if got := err.Error(); !strings.Contains(got, "keys not configured") {
		t.Fatalf("error %q must carry the backend message", got)
	}
}

func TestPurchaseOpenFailure(t *testing.T) {
	be := &fakeBackend{order: &models.Order{ID: "order_1", Amount: 400, Currency: "INR"}}
	loader := &fakeLoader{checkout: &fakeCheckout{openErr: errors.New("no page url")}}
	o := NewOrchestrator(testConfig(), nil, be, loader, nil)

	_, err := o.Purchase(context.Background(), "art_1", 400, "INR")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}
}

func TestPurchaseAndSettleSuccess(t *testing.T) {
	be := &fakeBackend{
		order:    &models.Order{ID: "order_1", Amount: 400, Currency: "INR"},
		finalURL: "https://cdn.example.com/final/art_1.png",
	}
	co := &fakeCheckout{}
	ledger := &fakeLedger{}
	o := NewOrchestrator(testConfig(), nil, be, &fakeLoader{checkout: co}, ledger)

	checkout, err := o.Purchase(context.Background(), "art_1", 400, "INR")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if checkout.OrderID != "order_1" || checkout.PayURL == "" {
		t.Fatalf("unexpected checkout: %+v", checkout)
	}
	if co.opts.Key != "rzp_test_key" || co.opts.Amount != 400 || co.opts.OrderID != "order_1" {
		t.Fatalf("unexpected checkout options: %+v", co.opts)
	}

	co.handler(gateway.SignedResult{PaymentID: "pay_1", OrderID: "order_1", Signature: "sig_1"})
	out := awaitOutcome(t, checkout.Result)
	if out.Err != nil {
		t.Fatalf("outcome err: %v", out.Err)
	}
	if out.FinalURL != "https://cdn.example.com/final/art_1.png" {
		t.Fatalf("final url = %q", out.FinalURL)
	}

	if len(be.verified) != 1 || be.verified[0].PaymentID != "pay_1" {
		t.Fatalf("verify calls: %+v", be.verified)
	}
	if len(ledger.created) != 1 || ledger.created[0].Status != models.ReceiptPending {
		t.Fatalf("receipts created: %+v", ledger.created)
	}
	if len(ledger.updated) != 1 || ledger.updated[0].Status != models.ReceiptPaid {
		t.Fatalf("receipt updates: %+v", ledger.updated)
	}
}

func TestPurchaseVerificationFailureKeepsPaymentID(t *testing.T) {
	be := &fakeBackend{
		order:     &models.Order{ID: "order_1", Amount: 400, Currency: "INR"},
		verifyErr: errors.New("signature mismatch"),
	}
	co := &fakeCheckout{}
	ledger := &fakeLedger{}
	o := NewOrchestrator(testConfig(), nil, be, &fakeLoader{checkout: co}, ledger)

	checkout, err := o.Purchase(context.Background(), "art_1", 400, "INR")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	co.handler(gateway.SignedResult{PaymentID: "pay_1", OrderID: "order_1", Signature: "bad"})
	out := awaitOutcome(t, checkout.Result)
	if !errors.Is(out.Err, ErrVerificationFailed) {
		t.Fatalf("outcome err = %v, want ErrVerificationFailed", out.Err)
	}
	if out.FinalURL != "" {
		t.Fatal("a failed verification must not yield a final url")
	}

	// The charge may have gone through: the ledger must hold the payment id
	// for support lookup, flagged verify_failed.
	if len(ledger.created) != 1 || ledger.created[0].PaymentID != "pay_1" {
		t.Fatalf("receipts created: %+v", ledger.created)
	}
	if len(ledger.updated) != 1 || ledger.updated[0].Status != models.ReceiptVerifyFailed {
		t.Fatalf("receipt updates: %+v", ledger.updated)
	}
}

func TestCheckoutCancelDropsGatewayRegistration(t *testing.T) {
	be := &fakeBackend{order: &models.Order{ID: "order_1", Amount: 400, Currency: "INR"}}
	co := &fakeCheckout{}
	o := NewOrchestrator(testConfig(), nil, be, &fakeLoader{checkout: co}, nil)

	checkout, err := o.Purchase(context.Background(), "art_1", 400, "INR")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	checkout.Cancel()
	if len(co.cancelled) != 1 || co.cancelled[0] != "order_1" {
		t.Fatalf("cancelled orders = %v, want [order_1]", co.cancelled)
	}
}

func TestPurchaseCurrencyFallback(t *testing.T) {
	// Some order endpoints omit the currency; the requested one fills in.
	be := &fakeBackend{order: &models.Order{ID: "order_1", Amount: 6}}
	co := &fakeCheckout{}
	o := NewOrchestrator(testConfig(), nil, be, &fakeLoader{checkout: co}, nil)

	if _, err := o.Purchase(context.Background(), "art_1", 6, "USD"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if co.opts.Currency != "USD" {
		t.Fatalf("currency = %q, want USD fallback", co.opts.Currency)
	}
}

func TestSettleWithoutLedger(t *testing.T) {
	be := &fakeBackend{
		order:    &models.Order{ID: "order_1", Amount: 400, Currency: "INR"},
		finalURL: "https://cdn/final",
	}
	co := &fakeCheckout{}
	o := NewOrchestrator(testConfig(), nil, be, &fakeLoader{checkout: co}, nil)

	checkout, err := o.Purchase(context.Background(), "art_1", 400, "INR")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	co.handler(gateway.SignedResult{PaymentID: "pay_1", OrderID: "order_1", Signature: "sig"})
	if out := awaitOutcome(t, checkout.Result); out.Err != nil {
		t.Fatalf("a nil ledger must not affect the outcome: %v", out.Err)
	}
}
