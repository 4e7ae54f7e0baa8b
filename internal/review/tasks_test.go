package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/events"
)

func TestSendOpenReviewNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "Alpha")

	open := f.review(t, &database.Review{Name: "Open", DatesConfirmed: true,
		ConsultationStart: ptr("2026-06-14"), ConsultationEnd: ptr("2026-09-14")}, p)
	f.stakeholder(t, open, "Org", database.Contact{Name: "A", Email: "a@example.com"})
	f.review(t, &database.Review{Name: "Not confirmed",
		ConsultationStart: ptr("2026-06-14"), ConsultationEnd: ptr("2026-09-14")})
	f.review(t, &database.Review{Name: "Legacy 2019", IsLegacy: true, DatesConfirmed: true,
		ConsultationStart: ptr("2019-01-01"), ConsultationEnd: ptr("2019-04-01")})
	f.review(t, &database.Review{Name: "Future", DatesConfirmed: true,
		ConsultationStart: ptr("2026-07-01"), ConsultationEnd: ptr("2026-10-01")})

	f.pages.Set("/condition/alpha/", cache.Page{Status: 200})

	sent, err := f.tasks.SendOpenReviewNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	_, ok := f.pages.Get("/condition/alpha/")
	assert.False(t, ok, "affected policy pages are invalidated")
	assert.Contains(t, f.events.Subjects, events.ConsultationOpened)

	again, err := f.tasks.SendOpenReviewNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestSendPublishedNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "Alpha")

	published := f.review(t, &database.Review{Name: "Published", Published: boolPtr(true)}, p)
	f.review(t, &database.Review{Name: "Rejected", Published: boolPtr(false)})
	f.review(t, &database.Review{Name: "Old 2018", IsLegacy: true, Published: boolPtr(true)})
	_, err := f.db.CreateSubscription(ctx, "fan@example.com", []int64{p.ID})
	require.NoError(t, err)

	f.pages.Set("/condition/unrelated/", cache.Page{Status: 200})

	sent, err := f.tasks.SendPublishedNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent, "subscriber plus comms")

	emails := emailsFor(t, f.db, published.ID, database.KindDecisionPublished)
	assert.Len(t, emails, 2)

	_, ok := f.pages.Get("/condition/unrelated/")
	assert.True(t, ok, "invalidation is scoped")
}

func TestTasksWithNothingDueLeaveCacheAlone(t *testing.T) {
	f := newFixture(t)
	f.pages.Set("/condition/", cache.Page{Status: 200})

	sent, err := f.tasks.SendOpenReviewNotifications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, f.pages.Len())
}
