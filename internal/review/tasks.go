package review

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/cache"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/events"
)

// Tasks finds reviews that are due a notification and dispatches it.
type Tasks struct {
	db         *database.DB
	dispatcher *Dispatcher
	pages      *cache.Cache
	events     events.Publisher
	log        zerolog.Logger
}

// NewTasks creates the due-review tasks. pages may be nil.
func NewTasks(db *database.DB, d *Dispatcher, pages *cache.Cache, pub events.Publisher, log zerolog.Logger) *Tasks {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Tasks{db: db, dispatcher: d, pages: pages, events: pub, log: log}
}

// SendOpenReviewNotifications notifies stakeholders of every non-legacy
// review whose consultation has opened and that has no consultation emails.
func (t *Tasks) SendOpenReviewNotifications(ctx context.Context) (int, error) {
	reviews, err := t.db.Reviews().
		ConsultationOpen(t.db.Today()).
		ExcludeLegacy().
		WithoutNotifications(database.KindOpenConsultation).
		List(ctx)
	if err != nil {
		return 0, err
	}
	return t.dispatch(ctx, reviews, t.dispatcher.SendOpenConsultationNotifications, events.ConsultationOpened)
}

// SendPublishedNotifications notifies stakeholders and subscribers of every
// non-legacy published review that has no decision emails.
func (t *Tasks) SendPublishedNotifications(ctx context.Context) (int, error) {
	reviews, err := t.db.Reviews().
		Published().
		ExcludeLegacy().
		WithoutNotifications(database.KindDecisionPublished).
		List(ctx)
	if err != nil {
		return 0, err
	}
	return t.dispatch(ctx, reviews, t.dispatcher.SendDecisionNotifications, "")
}

type sendFunc func(context.Context, *database.Review) (int, error)

func (t *Tasks) dispatch(ctx context.Context, reviews []database.Review, send sendFunc, subject string) (int, error) {
	total := 0
	var slugs []string
	for i := range reviews {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		r := &reviews[i]
		n, err := send(ctx, r)
		if err != nil {
			t.log.Error().Err(err).Str("review", r.Slug).Msg("failed to send review notifications")
			continue
		}
		if n == 0 {
			continue
		}
		total += n
		if subject != "" {
			t.events.Publish(subject, events.Event{Review: r.Slug, Count: n})
		}
		links, err := t.db.GetReviewPolicies(ctx, r.ID)
		if err != nil {
			t.log.Warn().Err(err).Str("review", r.Slug).Msg("failed to load policies for cache invalidation")
			continue
		}
		for _, l := range links {
			slugs = append(slugs, l.PolicySlug)
		}
	}

	if total > 0 && t.pages != nil {
		removed := t.pages.InvalidatePolicies(slugs...)
		t.log.Debug().Int("count", removed).Msg("invalidated cached pages")
	}
	return total, nil
}
