package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const emailColumns = `e.id, e.address, e.template_id, e.context, e.status, e.attempts,
	e.notify_id, e.created_at, e.modified_at`

// CreateEmails bulk-inserts emails in one transaction and sets their IDs.
// Status defaults to "pending" when empty.
func (db *DB) CreateEmails(ctx context.Context, emails []Email) error {
	if len(emails) == 0 {
		return nil
	}
	return db.WithTx(ctx, func(tx *DB) error {
		now := tx.timestamp()
		for i := range emails {
			e := &emails[i]
			if e.Status == "" {
				e.Status = "pending"
			}
			ctxJSON, err := marshalContext(e.Context)
			if err != nil {
				return err
			}
			id, err := tx.insert(ctx,
				`INSERT INTO emails (address, template_id, context, status, attempts, notify_id,
				created_at, modified_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				e.Address, e.TemplateID, ctxJSON, e.Status, e.Attempts, e.NotifyID, now, now,
			)
			if err != nil {
				return fmt.Errorf("inserting email for %s: %w", e.Address, err)
			}
			e.ID = id
			e.CreatedAt = now
			e.ModifiedAt = now
		}
		return nil
	})
}

// LinkReviewEmails attaches emails to a review under a notification kind.
func (db *DB) LinkReviewEmails(ctx context.Context, reviewID int64, kind string, emailIDs []int64) error {
	return db.WithTx(ctx, func(tx *DB) error {
		for _, id := range emailIDs {
			if _, err := tx.exec(ctx,
				`INSERT INTO review_emails (review_id, email_id, kind) VALUES (?, ?, ?)
				ON CONFLICT (review_id, email_id) DO NOTHING`,
				reviewID, id, kind,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReviewEmailAddresses returns the addresses already notified for a review
// under a notification kind.
func (db *DB) ReviewEmailAddresses(ctx context.Context, reviewID int64, kind string) (map[string]bool, error) {
	rows, err := db.query(ctx,
		`SELECT e.address FROM emails e JOIN review_emails re ON re.email_id = e.id
		WHERE re.review_id = ? AND re.kind = ?`, reviewID, kind,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	addresses := make(map[string]bool)
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		addresses[addr] = true
	}
	return addresses, rows.Err()
}

// GetEmail returns an email by ID, or nil if it does not exist.
func (db *DB) GetEmail(ctx context.Context, id int64) (*Email, error) {
	emails, err := db.Emails().where("e.id = ?", id).List(ctx)
	if err != nil || len(emails) == 0 {
		return nil, err
	}
	return &emails[0], nil
}

// UpdateEmail saves status, attempts and provider id.
func (db *DB) UpdateEmail(ctx context.Context, e *Email) error {
	now := db.timestamp()
	_, err := db.exec(ctx,
		"UPDATE emails SET status = ?, attempts = ?, notify_id = ?, modified_at = ? WHERE id = ?",
		e.Status, e.Attempts, e.NotifyID, now, e.ID,
	)
	if err != nil {
		return err
	}
	e.ModifiedAt = now
	return nil
}

// SetEmailStatus updates only the status of an email.
func (db *DB) SetEmailStatus(ctx context.Context, id int64, status string) error {
	_, err := db.exec(ctx,
		"UPDATE emails SET status = ?, modified_at = ? WHERE id = ?",
		status, db.timestamp(), id,
	)
	return err
}

// EmailStatusCounts returns the number of emails in each status.
func (db *DB) EmailStatusCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.query(ctx, "SELECT status, COUNT(*) FROM emails GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanEmails(rows *sql.Rows) ([]Email, error) {
	var emails []Email
	for rows.Next() {
		var e Email
		var ctxJSON string
		if err := rows.Scan(&e.ID, &e.Address, &e.TemplateID, &ctxJSON, &e.Status, &e.Attempts,
			&e.NotifyID, &e.CreatedAt, &e.ModifiedAt); err != nil {
			return nil, err
		}
		if ctxJSON != "" {
			if err := json.Unmarshal([]byte(ctxJSON), &e.Context); err != nil {
				return nil, fmt.Errorf("decoding context of email %d: %w", e.ID, err)
			}
		}
		emails = append(emails, e)
	}
	return emails, rows.Err()
}

func marshalContext(c map[string]any) (string, error) {
	if c == nil {
		return "{}", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshaling email context: %w", err)
	}
	return string(data), nil
}
