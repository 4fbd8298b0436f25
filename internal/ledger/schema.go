package ledger

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    art_id VARCHAR(64) NOT NULL,
    order_id VARCHAR(128) NOT NULL,
    payment_id VARCHAR(128),
    signature VARCHAR(256),
    currency VARCHAR(8) NOT NULL,
    amount BIGINT NOT NULL,
    status VARCHAR(16) NOT NULL,
    raw_payload TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_receipts_order (order_id),
    KEY idx_receipts_art (art_id)
);
`
