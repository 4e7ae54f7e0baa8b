package database

import "context"

// GetStats returns aggregate counts for the status command.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	counts := []struct {
		dest  *int
		query string
	}{
		{&stats.Reviews, "SELECT COUNT(*) FROM reviews"},
		{&stats.LegacyReviews, "SELECT COUNT(*) FROM reviews WHERE is_legacy = TRUE"},
		{&stats.Policies, "SELECT COUNT(*) FROM policies"},
		{&stats.ActivePolicies, "SELECT COUNT(*) FROM policies WHERE is_active = TRUE"},
		{&stats.Stakeholders, "SELECT COUNT(*) FROM stakeholders"},
		{&stats.Contacts, "SELECT COUNT(*) FROM contacts"},
		{&stats.Subscriptions, "SELECT COUNT(*) FROM subscriptions"},
	}
	for _, c := range counts {
		if err := db.queryRow(ctx, c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	byStatus, err := db.EmailStatusCounts(ctx)
	if err != nil {
		return nil, err
	}
	stats.EmailsByStatus = byStatus
	return stats, nil
}
