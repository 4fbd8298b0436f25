package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hikat/kyurgen/internal/models"
)

type ReceiptRepository struct {
	db *sql.DB
}

func NewReceiptRepository(db *sql.DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) Create(ctx context.Context, receipt *models.Receipt) error {
	const query = `
INSERT INTO receipts (art_id, order_id, payment_id, signature, currency, amount, status, raw_payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, receipt.ArtID, receipt.OrderID, receipt.PaymentID, receipt.Signature, receipt.Currency, receipt.Amount, receipt.Status, receipt.RawPayload)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	receipt.ID = id
	return nil
}

func (r *ReceiptRepository) UpdateStatusByOrderID(ctx context.Context, orderID, status, rawPayload string) error {
	const query = `UPDATE receipts SET status = ?, raw_payload = ?, updated_at = NOW() WHERE order_id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, rawPayload, orderID); err != nil {
		return fmt.Errorf("update receipt status: %w", err)
	}
	return nil
}

func (r *ReceiptRepository) FindByOrderID(ctx context.Context, orderID string) (*models.Receipt, error) {
	const query = `
SELECT id, art_id, order_id, COALESCE(payment_id, ''), COALESCE(signature, ''), currency, amount, status, COALESCE(raw_payload, ''), created_at, COALESCE(updated_at, created_at) AS updated_at
FROM receipts WHERE order_id = ? ORDER BY id DESC LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, orderID)
	var rec models.Receipt
	if err := row.Scan(&rec.ID, &rec.ArtID, &rec.OrderID, &rec.PaymentID, &rec.Signature, &rec.Currency, &rec.Amount, &rec.Status, &rec.RawPayload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	return &rec, nil
}

func (r *ReceiptRepository) List(ctx context.Context, limit int) ([]models.Receipt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const query = `
SELECT id, art_id, order_id, COALESCE(payment_id, ''), COALESCE(signature, ''), currency, amount, status, COALESCE(raw_payload, ''), created_at, COALESCE(updated_at, created_at) AS updated_at
FROM receipts ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var rec models.Receipt
		if err := rows.Scan(&rec.ID, &rec.ArtID, &rec.OrderID, &rec.PaymentID, &rec.Signature, &rec.Currency, &rec.Amount, &rec.Status, &rec.RawPayload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		receipts = append(receipts, rec)
	}
	return receipts, rows.Err()
}
