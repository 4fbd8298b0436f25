package models

import "time"

type Mode string

const (
	ModeStandard Mode = "standard"
	ModeAI       Mode = "ai"
)

type LifecycleState string

const (
	StateIdle       LifecycleState = "idle"
	StateGenerating LifecycleState = "generating"
	StatePreview    LifecycleState = "preview"
	StatePurchasing LifecycleState = "purchasing"
	StatePurchased  LifecycleState = "purchased"
	StateFailed     LifecycleState = "failed"
)

// Artifact is one generation attempt. ArtID is assigned by the backend and is
// set only while the attempt is in preview, purchasing or purchased state.
// PreviewURL and FinalURL are mutually exclusive: the preview belongs to the
// watermarked asset, the final URL appears only after a verified purchase.
type Artifact struct {
	AttemptID  string
	ArtID      string
	Mode       Mode
	TargetURL  string
	Prompt     string
	PreviewURL string
	FinalURL   string
	State      LifecycleState
}

// Order is a backend-issued payment intent. Amount is in minor currency units.
// Orders are created fresh per purchase attempt and never reused.
type Order struct {
	ID       string
	Amount   int64
	Currency string
}

// Receipt statuses.
const (
	ReceiptPending      = "pending"
	ReceiptPaid         = "paid"
	ReceiptVerifyFailed = "verify_failed"
)

// Receipt records a gateway payment locally so support can reconcile charges
// that the backend refused to verify.
type Receipt struct {
	ID         int64
	ArtID      string
	OrderID    string
	PaymentID  string
	Signature  string
	Currency   string
	Amount     int64
	Status     string
	RawPayload string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
