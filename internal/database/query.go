package database

import (
	"context"
	"fmt"
	"strings"
)

// filters accumulates WHERE predicates for the query builders. with copies
// before appending, so a partially-built query can be reused as a base.
type filters struct {
	where []string
	args  []any
	order string
	limit int
}

func (f filters) with(cond string, args ...any) filters {
	out := filters{order: f.order, limit: f.limit}
	out.where = append(append([]string{}, f.where...), cond)
	out.args = append(append([]any{}, f.args...), args...)
	return out
}

func (f filters) clause() string {
	var b strings.Builder
	if len(f.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(f.where, " AND "))
	}
	return b.String()
}

func (f filters) tail() string {
	var b strings.Builder
	if f.order != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(f.order)
	}
	if f.limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.limit)
	}
	return b.String()
}

// ReviewQuery is a composable filter over reviews.
type ReviewQuery struct {
	db *DB
	f  filters
}

// Reviews starts a review query, newest review_start first.
func (db *DB) Reviews() *ReviewQuery {
	return &ReviewQuery{db: db, f: filters{order: "r.review_start DESC, r.id DESC"}}
}

func (q *ReviewQuery) where(cond string, args ...any) *ReviewQuery {
	return &ReviewQuery{db: q.db, f: q.f.with(cond, args...)}
}

// DatesConfirmed keeps reviews whose dates have been confirmed.
func (q *ReviewQuery) DatesConfirmed() *ReviewQuery {
	return q.where("r.dates_confirmed = TRUE")
}

// ConsultationOpen keeps confirmed reviews whose consultation has started.
func (q *ReviewQuery) ConsultationOpen(today string) *ReviewQuery {
	return q.DatesConfirmed().where("r.consultation_start IS NOT NULL AND r.consultation_start <= ?", today)
}

// Published keeps reviews with a published decision.
func (q *ReviewQuery) Published() *ReviewQuery {
	return q.where("r.published = TRUE")
}

// InProgress keeps reviews that have started and not yet ended.
func (q *ReviewQuery) InProgress(today string) *ReviewQuery {
	return q.where("r.review_start <= ? AND (r.review_end IS NULL OR r.review_end >= ?)", today, today)
}

// OpenForComments keeps reviews whose consultation window contains today.
func (q *ReviewQuery) OpenForComments(today string) *ReviewQuery {
	return q.where("r.consultation_start <= ? AND r.consultation_end >= ?", today, today)
}

// ClosedForComments is the complement of OpenForComments, including
// reviews with no consultation dates.
func (q *ReviewQuery) ClosedForComments(today string) *ReviewQuery {
	return q.where(`NOT (r.consultation_start IS NOT NULL AND r.consultation_end IS NOT NULL
		AND r.consultation_start <= ? AND r.consultation_end >= ?)`, today, today)
}

// ExcludeLegacy drops reviews imported from the legacy site.
func (q *ReviewQuery) ExcludeLegacy() *ReviewQuery {
	return q.where("r.is_legacy = FALSE")
}

// WithoutNotifications keeps reviews with no emails of the given kind.
func (q *ReviewQuery) WithoutNotifications(kind string) *ReviewQuery {
	return q.where("NOT EXISTS (SELECT 1 FROM review_emails re WHERE re.review_id = r.id AND re.kind = ?)", kind)
}

// ForPolicy keeps reviews linked to the policy.
func (q *ReviewQuery) ForPolicy(policyID int64) *ReviewQuery {
	return q.where("EXISTS (SELECT 1 FROM review_policies rp WHERE rp.review_id = r.id AND rp.policy_id = ?)", policyID)
}

// Search matches the review name, case-insensitively.
func (q *ReviewQuery) Search(term string) *ReviewQuery {
	return q.where("LOWER(r.name) LIKE ?", "%"+strings.ToLower(term)+"%")
}

// OrderBy replaces the ordering. expr must come from code, never input.
func (q *ReviewQuery) OrderBy(expr string) *ReviewQuery {
	c := &ReviewQuery{db: q.db, f: q.f}
	c.f.order = expr
	return c
}

// Limit caps the number of rows returned.
func (q *ReviewQuery) Limit(n int) *ReviewQuery {
	c := &ReviewQuery{db: q.db, f: q.f}
	c.f.limit = n
	return c
}

// List runs the query.
func (q *ReviewQuery) List(ctx context.Context) ([]Review, error) {
	rows, err := q.db.query(ctx, "SELECT "+reviewColumns+" FROM reviews r"+q.f.clause()+q.f.tail(), q.f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReviews(rows)
}

// First returns the first match, or nil.
func (q *ReviewQuery) First(ctx context.Context) (*Review, error) {
	reviews, err := q.Limit(1).List(ctx)
	if err != nil || len(reviews) == 0 {
		return nil, err
	}
	return &reviews[0], nil
}

// Count returns the number of matching reviews.
func (q *ReviewQuery) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.queryRow(ctx, "SELECT COUNT(*) FROM reviews r"+q.f.clause(), q.f.args...).Scan(&n)
	return n, err
}

// PolicyQuery is a composable filter over policies.
type PolicyQuery struct {
	db *DB
	f  filters
}

// Policies starts a policy query ordered by name.
func (db *DB) Policies() *PolicyQuery {
	return &PolicyQuery{db: db, f: filters{order: "p.name, p.id"}}
}

func (q *PolicyQuery) where(cond string, args ...any) *PolicyQuery {
	return &PolicyQuery{db: q.db, f: q.f.with(cond, args...)}
}

// Active keeps active policies.
func (q *PolicyQuery) Active() *PolicyQuery {
	return q.where("p.is_active = TRUE")
}

// Overdue keeps policies whose next review is in the past or unset.
func (q *PolicyQuery) Overdue(today string) *PolicyQuery {
	return q.where("(p.next_review < ? OR p.next_review IS NULL)", today)
}

// Upcoming keeps policies due for review in the next 12 months, soonest first.
func (q *PolicyQuery) Upcoming(today string) *PolicyQuery {
	nextYear, err := AddMonths(today, 12)
	if err != nil {
		nextYear = today
	}
	c := q.where("p.next_review >= ? AND p.next_review < ?", today, nextYear)
	c.f.order = "p.next_review, p.name"
	return c
}

// Search matches name or keywords, case-insensitively.
func (q *PolicyQuery) Search(term string) *PolicyQuery {
	like := "%" + strings.ToLower(term) + "%"
	return q.where("(LOWER(p.name) LIKE ? OR LOWER(p.keywords) LIKE ?)", like, like)
}

// IDs keeps the given policy ids.
func (q *PolicyQuery) IDs(ids []int64) *PolicyQuery {
	if len(ids) == 0 {
		return q.where("1 = 0")
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return q.where("p.id IN ("+placeholders(len(ids))+")", args...)
}

const openReviewForPolicy = `EXISTS (SELECT 1 FROM review_policies rp JOIN reviews r ON r.id = rp.review_id
	WHERE rp.policy_id = p.id AND r.consultation_start <= ? AND r.consultation_end >= ?)`

// OpenForComments keeps policies with a review in consultation today.
func (q *PolicyQuery) OpenForComments(today string) *PolicyQuery {
	return q.where(openReviewForPolicy, today, today)
}

// ClosedForComments keeps policies with no review in consultation today.
func (q *PolicyQuery) ClosedForComments(today string) *PolicyQuery {
	return q.where("NOT "+openReviewForPolicy, today, today)
}

// Affects keeps policies covering the age group.
func (q *PolicyQuery) Affects(age string) *PolicyQuery {
	return q.where("p.ages LIKE ?", `%"`+age+`"%`)
}

// Recommended keeps policies whose current recommendation matches.
func (q *PolicyQuery) Recommended(screen bool) *PolicyQuery {
	return q.where("p.recommendation = ?", screen)
}

// List runs the query.
func (q *PolicyQuery) List(ctx context.Context) ([]Policy, error) {
	rows, err := q.db.query(ctx, "SELECT "+policyColumns+" FROM policies p"+q.f.clause()+q.f.tail(), q.f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// Count returns the number of matching policies.
func (q *PolicyQuery) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.queryRow(ctx, "SELECT COUNT(*) FROM policies p"+q.f.clause(), q.f.args...).Scan(&n)
	return n, err
}

// EmailQuery is a composable filter over queued emails.
type EmailQuery struct {
	db *DB
	f  filters
}

// Emails starts an email query, oldest first.
func (db *DB) Emails() *EmailQuery {
	return &EmailQuery{db: db, f: filters{order: "e.id"}}
}

func (q *EmailQuery) where(cond string, args ...any) *EmailQuery {
	return &EmailQuery{db: q.db, f: q.f.with(cond, args...)}
}

// Statuses keeps emails in any of the given statuses.
func (q *EmailQuery) Statuses(statuses ...string) *EmailQuery {
	if len(statuses) == 0 {
		return q.where("1 = 0")
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return q.where("e.status IN ("+placeholders(len(statuses))+")", args...)
}

// WithNotifyID keeps emails that have been accepted by the provider.
func (q *EmailQuery) WithNotifyID() *EmailQuery {
	return q.where("e.notify_id <> ''")
}

// ModifiedAtOrBefore keeps emails last modified at or before ts.
func (q *EmailQuery) ModifiedAtOrBefore(ts string) *EmailQuery {
	return q.where("e.modified_at <= ?", ts)
}

// ForReview keeps emails linked to a review with the given kind.
func (q *EmailQuery) ForReview(reviewID int64, kind string) *EmailQuery {
	return q.where("EXISTS (SELECT 1 FROM review_emails re WHERE re.email_id = e.id AND re.review_id = ? AND re.kind = ?)", reviewID, kind)
}

// Newest orders by most recently modified.
func (q *EmailQuery) Newest() *EmailQuery {
	c := &EmailQuery{db: q.db, f: q.f}
	c.f.order = "e.modified_at DESC, e.id DESC"
	return c
}

// Limit caps the number of rows returned.
func (q *EmailQuery) Limit(n int) *EmailQuery {
	c := &EmailQuery{db: q.db, f: q.f}
	c.f.limit = n
	return c
}

// List runs the query.
func (q *EmailQuery) List(ctx context.Context) ([]Email, error) {
	rows, err := q.db.query(ctx, "SELECT "+emailColumns+" FROM emails e"+q.f.clause()+q.f.tail(), q.f.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEmails(rows)
}

// Count returns the number of matching emails.
func (q *EmailQuery) Count(ctx context.Context) (int, error) {
	var n int
	err := q.db.queryRow(ctx, "SELECT COUNT(*) FROM emails e"+q.f.clause(), q.f.args...).Scan(&n)
	return n, err
}
