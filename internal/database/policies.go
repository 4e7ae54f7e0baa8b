package database

import (
	"context"
	"database/sql"
)

const policyColumns = `p.id, p.name, p.slug, p.is_active, p.recommendation, p.last_review,
	p.next_review, p.ages, p.condition, p.condition_html, p.summary, p.summary_html,
	p.keywords, p.created_at, p.modified_at`

// CreatePolicy inserts a policy and sets its ID and timestamps.
func (db *DB) CreatePolicy(ctx context.Context, p *Policy) error {
	now := db.timestamp()
	id, err := db.insert(ctx,
		`INSERT INTO policies (name, slug, is_active, recommendation, last_review, next_review,
		ages, condition, condition_html, summary, summary_html, keywords, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.Slug, p.IsActive, p.Recommendation, p.LastReview, p.NextReview,
		marshalList(p.Ages), p.Condition, p.ConditionHTML, p.Summary, p.SummaryHTML, p.Keywords,
		now, now,
	)
	if err != nil {
		return err
	}
	p.ID = id
	p.CreatedAt = now
	p.ModifiedAt = now
	return nil
}

// UpdatePolicy saves every mutable column except the slug.
func (db *DB) UpdatePolicy(ctx context.Context, p *Policy) error {
	now := db.timestamp()
	_, err := db.exec(ctx,
		`UPDATE policies SET name = ?, is_active = ?, recommendation = ?, last_review = ?,
		next_review = ?, ages = ?, condition = ?, condition_html = ?, summary = ?,
		summary_html = ?, keywords = ?, modified_at = ?
		WHERE id = ?`,
		p.Name, p.IsActive, p.Recommendation, p.LastReview, p.NextReview, marshalList(p.Ages),
		p.Condition, p.ConditionHTML, p.Summary, p.SummaryHTML, p.Keywords, now, p.ID,
	)
	if err != nil {
		return err
	}
	p.ModifiedAt = now
	return nil
}

// ApplyPolicyDecision records a published review outcome on a policy.
func (db *DB) ApplyPolicyDecision(ctx context.Context, policyID int64, recommendation bool, summary, summaryHTML, lastReview string) error {
	_, err := db.exec(ctx,
		`UPDATE policies SET recommendation = ?, summary = ?, summary_html = ?, last_review = ?,
		modified_at = ? WHERE id = ?`,
		recommendation, summary, summaryHTML, lastReview, db.timestamp(), policyID,
	)
	return err
}

// GetPolicy returns a policy by ID, or nil if it does not exist.
func (db *DB) GetPolicy(ctx context.Context, id int64) (*Policy, error) {
	return db.getPolicyWhere(ctx, "p.id = ?", id)
}

// GetPolicyBySlug returns a policy by slug, or nil if it does not exist.
func (db *DB) GetPolicyBySlug(ctx context.Context, slug string) (*Policy, error) {
	return db.getPolicyWhere(ctx, "p.slug = ?", slug)
}

func (db *DB) getPolicyWhere(ctx context.Context, cond string, arg any) (*Policy, error) {
	policies, err := db.Policies().where(cond, arg).List(ctx)
	if err != nil || len(policies) == 0 {
		return nil, err
	}
	return &policies[0], nil
}

// PolicySlugExists reports whether a policy already uses slug.
func (db *DB) PolicySlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM policies WHERE slug = ?", slug).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanPolicies(rows *sql.Rows) ([]Policy, error) {
	var policies []Policy
	for rows.Next() {
		var p Policy
		var ages string
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.IsActive, &p.Recommendation, &p.LastReview,
			&p.NextReview, &ages, &p.Condition, &p.ConditionHTML, &p.Summary, &p.SummaryHTML,
			&p.Keywords, &p.CreatedAt, &p.ModifiedAt); err != nil {
			return nil, err
		}
		p.Ages = unmarshalList(ages)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
