package database

import "context"

// CreateReceiptToken stores a receipt callback token.
func (db *DB) CreateReceiptToken(ctx context.Context, token, label string) (*ReceiptToken, error) {
	now := db.timestamp()
	id, err := db.insert(ctx,
		"INSERT INTO receipt_tokens (token, label, created_at) VALUES (?, ?, ?)",
		token, label, now,
	)
	if err != nil {
		return nil, err
	}
	return &ReceiptToken{ID: id, Token: token, Label: label, CreatedAt: now}, nil
}

// ReceiptTokenExists reports whether token matches a stored token.
func (db *DB) ReceiptTokenExists(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var n int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM receipt_tokens WHERE token = ?", token).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListReceiptTokens returns all tokens, oldest first.
func (db *DB) ListReceiptTokens(ctx context.Context) ([]ReceiptToken, error) {
	rows, err := db.query(ctx, "SELECT id, token, label, created_at FROM receipt_tokens ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []ReceiptToken
	for rows.Next() {
		var t ReceiptToken
		if err := rows.Scan(&t.ID, &t.Token, &t.Label, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

// DeleteReceiptToken revokes a token. It reports whether a row was removed.
func (db *DB) DeleteReceiptToken(ctx context.Context, id int64) (bool, error) {
	res, err := db.exec(ctx, "DELETE FROM receipt_tokens WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
