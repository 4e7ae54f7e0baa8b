package database

import (
	"context"
	"database/sql"
	"strings"
)

// CreateSubscription inserts a subscription for email and links it to policies.
func (db *DB) CreateSubscription(ctx context.Context, email string, policyIDs []int64) (*Subscription, error) {
	sub := &Subscription{Email: strings.TrimSpace(email), PolicyIDs: policyIDs}
	err := db.WithTx(ctx, func(tx *DB) error {
		now := tx.timestamp()
		id, err := tx.insert(ctx,
			"INSERT INTO subscriptions (email, created_at, modified_at) VALUES (?, ?, ?)",
			sub.Email, now, now,
		)
		if err != nil {
			return err
		}
		sub.ID = id
		sub.CreatedAt = now
		sub.ModifiedAt = now
		return tx.linkSubscriptionPolicies(ctx, id, policyIDs)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// UpdateSubscriptionPolicies replaces the policies a subscription covers.
func (db *DB) UpdateSubscriptionPolicies(ctx context.Context, id int64, policyIDs []int64) error {
	return db.WithTx(ctx, func(tx *DB) error {
		if _, err := tx.exec(ctx, "DELETE FROM subscription_policies WHERE subscription_id = ?", id); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, "UPDATE subscriptions SET modified_at = ? WHERE id = ?", tx.timestamp(), id); err != nil {
			return err
		}
		return tx.linkSubscriptionPolicies(ctx, id, policyIDs)
	})
}

func (db *DB) linkSubscriptionPolicies(ctx context.Context, id int64, policyIDs []int64) error {
	for _, pid := range policyIDs {
		if _, err := db.exec(ctx,
			`INSERT INTO subscription_policies (subscription_id, policy_id) VALUES (?, ?)
			ON CONFLICT (subscription_id, policy_id) DO NOTHING`, id, pid,
		); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSubscription removes a subscription.
func (db *DB) DeleteSubscription(ctx context.Context, id int64) error {
	_, err := db.exec(ctx, "DELETE FROM subscriptions WHERE id = ?", id)
	return err
}

// GetSubscription returns a subscription with its policy ids, or nil.
func (db *DB) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	return db.getSubscriptionWhere(ctx, "id = ?", id)
}

// GetSubscriptionByEmail returns the subscription for an address, or nil.
func (db *DB) GetSubscriptionByEmail(ctx context.Context, email string) (*Subscription, error) {
	return db.getSubscriptionWhere(ctx, "LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (db *DB) getSubscriptionWhere(ctx context.Context, cond string, arg any) (*Subscription, error) {
	var sub Subscription
	err := db.queryRow(ctx,
		"SELECT id, email, created_at, modified_at FROM subscriptions WHERE "+cond, arg,
	).Scan(&sub.ID, &sub.Email, &sub.CreatedAt, &sub.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.query(ctx,
		"SELECT policy_id FROM subscription_policies WHERE subscription_id = ? ORDER BY policy_id", sub.ID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		sub.PolicyIDs = append(sub.PolicyIDs, pid)
	}
	return &sub, rows.Err()
}

// SubscriptionsForReview returns the distinct subscriptions covering any of
// the review's policies. PolicyIDs is not populated.
func (db *DB) SubscriptionsForReview(ctx context.Context, reviewID int64) ([]Subscription, error) {
	rows, err := db.query(ctx,
		`SELECT s.id, s.email, s.created_at, s.modified_at FROM subscriptions s
		WHERE s.id IN (
			SELECT sp.subscription_id FROM subscription_policies sp
			JOIN review_policies rp ON rp.policy_id = sp.policy_id
			WHERE rp.review_id = ?
		)
		ORDER BY s.id`, reviewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(&s.ID, &s.Email, &s.CreatedAt, &s.ModifiedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}
