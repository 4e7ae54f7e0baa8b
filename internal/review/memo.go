package review

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/TobiSchelling/nscreview/internal/database"
)

// LoadStatusInput reads the documents and policy links status derivation needs.
func LoadStatusInput(ctx context.Context, db *database.DB, r *database.Review) (StatusInput, error) {
	docs, err := db.ReviewDocumentTypes(ctx, r.ID)
	if err != nil {
		return StatusInput{}, err
	}
	policies, err := db.GetReviewPolicies(ctx, r.ID)
	if err != nil {
		return StatusInput{}, err
	}
	return StatusInput{Review: r, DocumentTypes: docs, Policies: policies}, nil
}

// StatusMemo derives each review's status at most once. Create one per
// request; concurrent callers asking about the same review share one load.
type StatusMemo struct {
	db    *database.DB
	today string

	mu       sync.Mutex
	statuses map[int64]Status
	group    singleflight.Group
}

// NewStatusMemo creates a memo evaluating statuses as of today.
func NewStatusMemo(db *database.DB, today string) *StatusMemo {
	return &StatusMemo{db: db, today: today, statuses: make(map[int64]Status)}
}

// Status returns the review's derived status.
func (m *StatusMemo) Status(ctx context.Context, r *database.Review) (Status, error) {
	m.mu.Lock()
	if s, ok := m.statuses[r.ID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do(strconv.FormatInt(r.ID, 10), func() (any, error) {
		in, err := LoadStatusInput(ctx, m.db, r)
		if err != nil {
			return Development, err
		}
		s := DeriveStatus(in, m.today)
		m.mu.Lock()
		m.statuses[r.ID] = s
		m.mu.Unlock()
		return s, nil
	})
	return v.(Status), err
}

// Forget drops a memoised status after the review changed.
func (m *StatusMemo) Forget(reviewID int64) {
	m.mu.Lock()
	delete(m.statuses, reviewID)
	m.mu.Unlock()
}
