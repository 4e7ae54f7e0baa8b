package database

import (
	"context"
	"database/sql"
	"encoding/json"
)

const reviewColumns = `r.id, r.name, r.slug, r.review_type, r.is_legacy, r.dates_confirmed,
	r.review_start, r.review_end, r.consultation_start, r.consultation_end, r.nsc_meeting_date,
	r.published, r.recommendation, r.summary, r.summary_html, r.background, r.background_html,
	r.stakeholders_confirmed, r.manager, r.created_at, r.modified_at`

// CreateReview inserts a review and sets its ID and timestamps.
func (db *DB) CreateReview(ctx context.Context, r *Review) error {
	now := db.timestamp()
	id, err := db.insert(ctx,
		`INSERT INTO reviews (name, slug, review_type, is_legacy, dates_confirmed,
		review_start, review_end, consultation_start, consultation_end, nsc_meeting_date,
		published, recommendation, summary, summary_html, background, background_html,
		stakeholders_confirmed, manager, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Name, r.Slug, marshalList(r.ReviewType), r.IsLegacy, r.DatesConfirmed,
		r.ReviewStart, r.ReviewEnd, r.ConsultationStart, r.ConsultationEnd, r.NSCMeetingDate,
		r.Published, r.Recommendation, r.Summary, r.SummaryHTML, r.Background, r.BackgroundHTML,
		r.StakeholdersConfirmed, r.Manager, now, now,
	)
	if err != nil {
		return err
	}
	r.ID = id
	r.CreatedAt = now
	r.ModifiedAt = now
	return nil
}

// UpdateReview saves every mutable column. The slug is never rewritten.
func (db *DB) UpdateReview(ctx context.Context, r *Review) error {
	now := db.timestamp()
	_, err := db.exec(ctx,
		`UPDATE reviews SET name = ?, review_type = ?, is_legacy = ?, dates_confirmed = ?,
		review_start = ?, review_end = ?, consultation_start = ?, consultation_end = ?,
		nsc_meeting_date = ?, published = ?, recommendation = ?, summary = ?, summary_html = ?,
		background = ?, background_html = ?, stakeholders_confirmed = ?, manager = ?,
		modified_at = ?
		WHERE id = ?`,
		r.Name, marshalList(r.ReviewType), r.IsLegacy, r.DatesConfirmed,
		r.ReviewStart, r.ReviewEnd, r.ConsultationStart, r.ConsultationEnd,
		r.NSCMeetingDate, r.Published, r.Recommendation, r.Summary, r.SummaryHTML,
		r.Background, r.BackgroundHTML, r.StakeholdersConfirmed, r.Manager,
		now, r.ID,
	)
	if err != nil {
		return err
	}
	r.ModifiedAt = now
	return nil
}

// GetReview returns a review by ID, or nil if it does not exist.
func (db *DB) GetReview(ctx context.Context, id int64) (*Review, error) {
	return db.Reviews().where("r.id = ?", id).First(ctx)
}

// GetReviewBySlug returns a review by slug, or nil if it does not exist.
func (db *DB) GetReviewBySlug(ctx context.Context, slug string) (*Review, error) {
	return db.Reviews().where("r.slug = ?", slug).First(ctx)
}

// ReviewSlugExists reports whether a review already uses slug.
func (db *DB) ReviewSlugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	if err := db.queryRow(ctx, "SELECT COUNT(*) FROM reviews WHERE slug = ?", slug).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteReview removes a review; links, documents and email links cascade.
func (db *DB) DeleteReview(ctx context.Context, id int64) error {
	_, err := db.exec(ctx, "DELETE FROM reviews WHERE id = ?", id)
	return err
}

// SetReviewPolicies replaces the review's policy links. Drafts on links
// that survive are kept.
func (db *DB) SetReviewPolicies(ctx context.Context, reviewID int64, policyIDs []int64) error {
	return db.WithTx(ctx, func(tx *DB) error {
		if len(policyIDs) == 0 {
			_, err := tx.exec(ctx, "DELETE FROM review_policies WHERE review_id = ?", reviewID)
			return err
		}

		args := []any{reviewID}
		for _, id := range policyIDs {
			args = append(args, id)
		}
		if _, err := tx.exec(ctx,
			"DELETE FROM review_policies WHERE review_id = ? AND policy_id NOT IN ("+placeholders(len(policyIDs))+")",
			args...,
		); err != nil {
			return err
		}

		for _, pid := range policyIDs {
			if _, err := tx.exec(ctx,
				`INSERT INTO review_policies (review_id, policy_id) VALUES (?, ?)
				ON CONFLICT (review_id, policy_id) DO NOTHING`,
				reviewID, pid,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetReviewPolicies returns the review's policy links ordered by policy name.
func (db *DB) GetReviewPolicies(ctx context.Context, reviewID int64) ([]ReviewPolicy, error) {
	rows, err := db.query(ctx,
		`SELECT rp.review_id, rp.policy_id, p.name, p.slug, rp.summary_draft,
		rp.summary_updated, rp.recommendation
		FROM review_policies rp JOIN policies p ON p.id = rp.policy_id
		WHERE rp.review_id = ? ORDER BY p.name`, reviewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []ReviewPolicy
	for rows.Next() {
		var rp ReviewPolicy
		var rec sql.NullBool
		if err := rows.Scan(&rp.ReviewID, &rp.PolicyID, &rp.PolicyName, &rp.PolicySlug,
			&rp.SummaryDraft, &rp.SummaryUpdated, &rec); err != nil {
			return nil, err
		}
		rp.Recommendation = boolPtr(rec)
		links = append(links, rp)
	}
	return links, rows.Err()
}

// UpdateReviewPolicyDraft stores the per-policy summary draft and
// recommendation for a review.
func (db *DB) UpdateReviewPolicyDraft(ctx context.Context, reviewID, policyID int64, summary string, updated bool, recommendation *bool) error {
	_, err := db.exec(ctx,
		`UPDATE review_policies SET summary_draft = ?, summary_updated = ?, recommendation = ?
		WHERE review_id = ? AND policy_id = ?`,
		summary, updated, recommendation, reviewID, policyID,
	)
	return err
}

// SetReviewStakeholders replaces the stakeholders consulted on a review.
func (db *DB) SetReviewStakeholders(ctx context.Context, reviewID int64, stakeholderIDs []int64) error {
	return db.WithTx(ctx, func(tx *DB) error {
		if _, err := tx.exec(ctx, "DELETE FROM review_stakeholders WHERE review_id = ?", reviewID); err != nil {
			return err
		}
		for _, sid := range stakeholderIDs {
			if _, err := tx.exec(ctx,
				`INSERT INTO review_stakeholders (review_id, stakeholder_id) VALUES (?, ?)
				ON CONFLICT (review_id, stakeholder_id) DO NOTHING`,
				reviewID, sid,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetReviewStakeholders returns the stakeholders consulted on a review.
func (db *DB) GetReviewStakeholders(ctx context.Context, reviewID int64) ([]Stakeholder, error) {
	rows, err := db.query(ctx,
		`SELECT `+stakeholderColumns+`
		FROM stakeholders s JOIN review_stakeholders rs ON rs.stakeholder_id = s.id
		WHERE rs.review_id = ? ORDER BY s.name`, reviewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStakeholders(rows)
}

// GetPolicyStakeholders returns the distinct stakeholders interested in any
// of the review's policies.
func (db *DB) GetPolicyStakeholders(ctx context.Context, reviewID int64) ([]Stakeholder, error) {
	rows, err := db.query(ctx,
		`SELECT `+stakeholderColumns+`
		FROM stakeholders s
		WHERE s.id IN (
			SELECT sp.stakeholder_id FROM stakeholder_policies sp
			JOIN review_policies rp ON rp.policy_id = sp.policy_id
			WHERE rp.review_id = ?
		)
		ORDER BY s.name`, reviewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStakeholders(rows)
}

// ReviewDocumentTypes returns the distinct document types uploaded for a review.
func (db *DB) ReviewDocumentTypes(ctx context.Context, reviewID int64) ([]string, error) {
	rows, err := db.query(ctx,
		"SELECT DISTINCT document_type FROM documents WHERE review_id = ? ORDER BY document_type", reviewID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func scanReviews(rows *sql.Rows) ([]Review, error) {
	var reviews []Review
	for rows.Next() {
		var r Review
		var reviewType string
		var published, recommendation sql.NullBool
		if err := rows.Scan(&r.ID, &r.Name, &r.Slug, &reviewType, &r.IsLegacy, &r.DatesConfirmed,
			&r.ReviewStart, &r.ReviewEnd, &r.ConsultationStart, &r.ConsultationEnd, &r.NSCMeetingDate,
			&published, &recommendation, &r.Summary, &r.SummaryHTML, &r.Background, &r.BackgroundHTML,
			&r.StakeholdersConfirmed, &r.Manager, &r.CreatedAt, &r.ModifiedAt); err != nil {
			return nil, err
		}
		r.ReviewType = unmarshalList(reviewType)
		r.Published = boolPtr(published)
		r.Recommendation = boolPtr(recommendation)
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func unmarshalList(raw string) []string {
	var items []string
	if raw == "" {
		return items
	}
	json.Unmarshal([]byte(raw), &items)
	return items
}

func boolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}

func placeholders(n int) string {
	return repeatString("?", ", ", n)
}

func repeatString(s, sep string, n int) string {
	if n <= 0 {
		return ""
	}
	result := s
	for i := 1; i < n; i++ {
		result += sep + s
	}
	return result
}
