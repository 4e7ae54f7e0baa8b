package review

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/nscreview/internal/config"
	"github.com/TobiSchelling/nscreview/internal/database"
)

func emailsFor(t *testing.T, db *database.DB, reviewID int64, kind string) []database.Email {
	t.Helper()
	emails, err := db.Emails().ForReview(reviewID, kind).List(context.Background())
	require.NoError(t, err)
	return emails
}

func byAddress(emails []database.Email) map[string]database.Email {
	out := make(map[string]database.Email, len(emails))
	for _, e := range emails {
		out[e.Address] = e
	}
	return out
}

func TestOpenConsultationScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.policy(t, "Bowel cancer")
	r := f.review(t, &database.Review{
		Name:              "Bowel review",
		DatesConfirmed:    true,
		ConsultationStart: ptr("2026-06-14"),
		ConsultationEnd:   ptr("2026-09-01"),
		Manager:           "Jo Bloggs",
	}, p)
	f.stakeholder(t, r, "Royal College",
		database.Contact{Name: "With Email", Email: "contact@example.com"},
		database.Contact{Name: "No Email"},
	)

	n, err := f.dispatcher.SendOpenConsultationNotifications(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	emails := byAddress(emailsFor(t, f.db, r.ID, database.KindOpenConsultation))
	require.Len(t, emails, 2)

	contact := emails["contact@example.com"]
	assert.Equal(t, "tpl-open", contact.TemplateID)
	assert.Equal(t, "pending", contact.Status)
	assert.Equal(t, "Bowel review", contact.Context["review"])
	assert.Equal(t, "Bowel cancer", contact.Context["policies"])
	assert.Equal(t, "14th June 2026", contact.Context["consultation_start"])
	assert.Equal(t, "1st September 2026", contact.Context["consultation_end"])
	assert.Equal(t, "Jo Bloggs", contact.Context["manager"])
	assert.Equal(t, "With Email", contact.Context["recipient_name"])

	comms := emails["comms@example.com"]
	assert.Equal(t, "tpl-open-comms", comms.TemplateID)
}

func TestDispatchIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.review(t, &database.Review{Name: "Twice"}, f.policy(t, "Alpha"))
	f.stakeholder(t, r, "Org", database.Contact{Name: "A", Email: "a@example.com"})

	first, err := f.dispatcher.SendOpenConsultationNotifications(ctx, r)
	require.NoError(t, err)
	second, err := f.dispatcher.SendOpenConsultationNotifications(ctx, r)
	require.NoError(t, err)

	assert.Equal(t, 2, first)
	assert.Equal(t, 0, second)
	assert.Len(t, emailsFor(t, f.db, r.ID, database.KindOpenConsultation), 2)

	f.stakeholder(t, r, "Late joiner", database.Contact{Name: "B", Email: "b@example.com"})
	third, err := f.dispatcher.SendOpenConsultationNotifications(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 1, third, "only the new contact is emailed")
}

func TestDispatchDeduplicatesSharedAddresses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.review(t, &database.Review{Name: "Shared"})
	f.stakeholder(t, r, "One", database.Contact{Name: "A", Email: "shared@example.com"})
	f.stakeholder(t, r, "Two", database.Contact{Name: "B", Email: "shared@example.com"})

	n, err := f.dispatcher.SendOpenConsultationNotifications(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one shared contact address plus comms")
}

func TestDispatchWithoutTemplateIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.review(t, &database.Review{Name: "No template"})
	f.stakeholder(t, r, "Org", database.Contact{Name: "A", Email: "a@example.com"})

	d := NewDispatcher(f.db, f.signer, config.Notify{CommsEmail: "comms@example.com"}, "", nil, zerolog.Nop())
	n, err := d.SendOpenConsultationNotifications(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, emailsFor(t, f.db, r.ID, database.KindOpenConsultation))
}

func TestDispatchWithNoStakeholdersStillNotifiesComms(t *testing.T) {
	f := newFixture(t)
	r := f.review(t, &database.Review{Name: "Lonely"})

	n, err := f.dispatcher.SendOpenConsultationNotifications(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDecisionNotificationsIncludeSubscribers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alpha := f.policy(t, "Alpha")
	beta := f.policy(t, "Beta")
	other := f.policy(t, "Other")
	r := f.review(t, &database.Review{Name: "Decided"}, alpha, beta)
	f.stakeholder(t, r, "Org", database.Contact{Name: "A", Email: "a@example.com"})

	sub, err := f.db.CreateSubscription(ctx, "fan@example.com", []int64{alpha.ID, beta.ID})
	require.NoError(t, err)
	_, err = f.db.CreateSubscription(ctx, "elsewhere@example.com", []int64{other.ID})
	require.NoError(t, err)

	n, err := f.dispatcher.SendDecisionNotifications(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	emails := byAddress(emailsFor(t, f.db, r.ID, database.KindDecisionPublished))
	fan, ok := emails["fan@example.com"]
	require.True(t, ok)
	assert.Equal(t, "tpl-subscriber", fan.TemplateID)

	url, _ := fan.Context["manage_subscription_url"].(string)
	require.True(t, strings.HasPrefix(url, "https://nsc.example/subscription/manage/"), url)
	token := strings.TrimSuffix(strings.TrimPrefix(url, "https://nsc.example/subscription/manage/"), "/")
	id, err := f.signer.VerifySubscription(token)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, id)

	assert.NotContains(t, emails, "elsewhere@example.com")
	assert.Equal(t, "tpl-decision", emails["a@example.com"].TemplateID)
	assert.Equal(t, "tpl-decision-comms", emails["comms@example.com"].TemplateID)

	assert.Empty(t, emailsFor(t, f.db, r.ID, database.KindOpenConsultation), "kinds are tracked separately")
}
