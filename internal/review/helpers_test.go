package review

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/config"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/events"
	"github.com/TobiSchelling/nscreview/internal/signer"
	"github.com/TobiSchelling/nscreview/internal/storage"
)

var testToday = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	db.SetClock(func() time.Time { return testToday })
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeScanner struct{ clean bool }

func (f fakeScanner) IsClean(context.Context, io.Reader) bool { return f.clean }

type fixture struct {
	db         *database.DB
	store      *storage.Store
	pages      *cache.Cache
	events     *events.Recorder
	signer     *signer.Signer
	service    *Service
	dispatcher *Dispatcher
	tasks      *Tasks
}

func testNotifyConfig() config.Notify {
	return config.Notify{
		CommsEmail: "comms@example.com",
		Templates: config.Templates{
			ConsultationOpen:     "tpl-open",
			ConsultationOpenPHE:  "tpl-open-comms",
			DecisionPublished:    "tpl-decision",
			DecisionPublishedPHE: "tpl-decision-comms",
			SubscriberDecision:   "tpl-subscriber",
		},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:     openTestDB(t),
		store:  storage.New(t.TempDir()),
		pages:  cache.New(64, time.Hour),
		events: &events.Recorder{},
		signer: signer.New("test-secret"),
	}
	f.service = NewService(f.db, f.store, fakeScanner{clean: true}, f.events, f.pages, zerolog.Nop())
	f.dispatcher = NewDispatcher(f.db, f.signer, testNotifyConfig(), "https://nsc.example/", f.events, zerolog.Nop())
	f.tasks = NewTasks(f.db, f.dispatcher, f.pages, f.events, zerolog.Nop())
	return f
}

func (f *fixture) policy(t *testing.T, name string) *database.Policy {
	t.Helper()
	p := &database.Policy{Name: name, Slug: Slugify(name), IsActive: true, Summary: name + " summary"}
	require.NoError(t, f.db.CreatePolicy(context.Background(), p))
	return p
}

func (f *fixture) review(t *testing.T, r *database.Review, policies ...*database.Policy) *database.Review {
	t.Helper()
	ctx := context.Background()
	if r.Slug == "" {
		r.Slug = Slugify(r.Name)
	}
	require.NoError(t, f.db.CreateReview(ctx, r))
	ids := make([]int64, len(policies))
	for i, p := range policies {
		ids[i] = p.ID
	}
	require.NoError(t, f.db.SetReviewPolicies(ctx, r.ID, ids))
	return r
}

func (f *fixture) stakeholder(t *testing.T, r *database.Review, name string, contacts ...database.Contact) *database.Stakeholder {
	t.Helper()
	ctx := context.Background()
	s := &database.Stakeholder{Name: name, Type: database.StakeholderProfessional}
	require.NoError(t, f.db.CreateStakeholder(ctx, s, nil))
	for _, c := range contacts {
		c.StakeholderID = s.ID
		require.NoError(t, f.db.CreateContact(ctx, &c))
	}
	existing, err := f.db.GetReviewStakeholders(ctx, r.ID)
	require.NoError(t, err)
	ids := []int64{s.ID}
	for _, e := range existing {
		ids = append(ids, e.ID)
	}
	require.NoError(t, f.db.SetReviewStakeholders(ctx, r.ID, ids))
	return s
}

func boolPtr(b bool) *bool { return &b }
