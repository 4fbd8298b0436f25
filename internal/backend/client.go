package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hikat/kyurgen/internal/config"
	"github.com/hikat/kyurgen/internal/models"
)

// ErrMalformedResponse marks a 2xx response the client could not use, for
// example a generation result without an art_id.
var ErrMalformedResponse = errors.New("malformed backend response")

// APIError is a well-formed error payload returned by the backend, carrying
// the server-provided message for display.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend error: %s", e.Message)
}

// Client talks to the generation backend over HTTP with JSON bodies.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// GenerationResult is the backend's answer to a generate request.
type GenerationResult struct {
	ArtID      string
	PreviewURL string
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BackendBaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

const defaultStylePrompt = "cyberpunk city, neon lights"

// Generate requests a preview artifact for the given target URL. The prompt is
// accepted by both modes; the standard generator ignores it server-side.
func (c *Client) Generate(ctx context.Context, mode models.Mode, targetURL, prompt string) (*GenerationResult, error) {
	var path string
	switch mode {
	case models.ModeStandard:
		path = "/generate/standard"
	case models.ModeAI:
		path = "/generate/ai"
	default:
		return nil, fmt.Errorf("unsupported mode: %s", mode)
	}

	if strings.TrimSpace(prompt) == "" {
		prompt = defaultStylePrompt
	}

	payload := map[string]any{
		"url":    targetURL,
		"prompt": prompt,
	}

	var parsed struct {
		ArtID      string `json:"art_id"`
		PreviewURL string `json:"preview_url"`
		Error      string `json:"error"`
	}
	if err := c.postJSON(ctx, path, payload, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != "" {
		return nil, &APIError{Message: parsed.Error}
	}
	if parsed.ArtID == "" {
		return nil, fmt.Errorf("%w: missing art_id", ErrMalformedResponse)
	}

	if c.log != nil {
		c.log.Info("generation complete", "mode", mode, "art_id", parsed.ArtID)
	}

	return &GenerationResult{ArtID: parsed.ArtID, PreviewURL: parsed.PreviewURL}, nil
}

// Regenerate asks the backend to release a held art id. The response is not
// load-bearing; callers treat this as best-effort.
func (c *Client) Regenerate(ctx context.Context, artID string) error {
	payload := map[string]any{"art_id": artID}
	var parsed struct {
		Success bool `json:"success"`
	}
	return c.postJSON(ctx, "/regenerate", payload, &parsed)
}

// CreateOrder asks the backend for a fresh payment order. Amount is in minor
// currency units. An {error} payload is surfaced as *APIError.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64) (*models.Order, error) {
	payload := map[string]any{"amount": amountMinor}

	var parsed struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Error    string `json:"error"`
	}
	if err := c.postJSON(ctx, "/create-order", payload, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != "" {
		return nil, &APIError{Message: parsed.Error}
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrMalformedResponse)
	}

	return &models.Order{ID: parsed.ID, Amount: parsed.Amount, Currency: parsed.Currency}, nil
}

// VerifyPayment forwards the gateway's signature fields plus the art id for
// server-side verification and returns the unlocked download URL.
// The field names are fixed by the gateway convention.
func (c *Client) VerifyPayment(ctx context.Context, paymentID, orderID, signature, artID string) (string, error) {
	payload := map[string]any{
		"razorpay_payment_id": paymentID,
		"razorpay_order_id":   orderID,
		"razorpay_signature":  signature,
		"art_id":              artID,
	}

	var parsed struct {
		Success     bool   `json:"success"`
		DownloadURL string `json:"download_url"`
		Error       string `json:"error"`
	}
	if err := c.postJSON(ctx, "/verify-payment", payload, &parsed); err != nil {
		return "", err
	}
	if !parsed.Success || parsed.DownloadURL == "" {
		msg := parsed.Error
		if msg == "" {
			msg = "verification rejected"
		}
		return "", &APIError{Message: msg}
	}
	return parsed.DownloadURL, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	fullURL := base.ResolveReference(endpoint).String()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		// Error bodies are JSON {error} when the backend is healthy enough to
		// produce them; otherwise surface the raw body.
		var apiErr struct {
			Error string `json:"error"`
		}
		if jsonErr := json.Unmarshal(rawBody, &apiErr); jsonErr == nil && apiErr.Error != "" {
			return &APIError{Message: apiErr.Error}
		}
		if c.log != nil {
			c.log.Error("backend request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		}
		return fmt.Errorf("backend status %d: %s", resp.StatusCode, truncateBody(rawBody))
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("%w: %v (body=%s)", ErrMalformedResponse, err, truncateBody(rawBody))
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
