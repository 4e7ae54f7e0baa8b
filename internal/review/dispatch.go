package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/config"
	"github.com/TobiSchelling/nscreview/internal/database"
	"github.com/TobiSchelling/nscreview/internal/events"
	"github.com/TobiSchelling/nscreview/internal/signer"
)

// Dispatcher queues notification emails for a review.
type Dispatcher struct {
	db         *database.DB
	signer     *signer.Signer
	templates  config.Templates
	commsEmail string
	baseURL    string
	events     events.Publisher
	log        zerolog.Logger
}

// NewDispatcher creates a dispatcher. baseURL prefixes subscription links.
func NewDispatcher(db *database.DB, sig *signer.Signer, cfg config.Notify, baseURL string, pub events.Publisher, log zerolog.Logger) *Dispatcher {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Dispatcher{
		db:         db,
		signer:     sig,
		templates:  cfg.Templates,
		commsEmail: strings.TrimSpace(cfg.CommsEmail),
		baseURL:    strings.TrimRight(baseURL, "/"),
		events:     pub,
		log:        log,
	}
}

// Notification describes one notification event for a review.
type Notification struct {
	Kind                  string
	StakeholderTemplateID string
	CommsTemplateID       string
	SubscriberTemplateID  string
	Subscribers           bool
	Extra                 map[string]any
}

// SendOpenConsultationNotifications queues the consultation-open emails.
func (d *Dispatcher) SendOpenConsultationNotifications(ctx context.Context, r *database.Review) (int, error) {
	return d.SendNotifications(ctx, r, Notification{
		Kind:                  database.KindOpenConsultation,
		StakeholderTemplateID: d.templates.ConsultationOpen,
		CommsTemplateID:       d.templates.ConsultationOpenPHE,
	})
}

// SendDecisionNotifications queues the decision-published emails, including
// one per subscriber to the review's policies.
func (d *Dispatcher) SendDecisionNotifications(ctx context.Context, r *database.Review) (int, error) {
	return d.SendNotifications(ctx, r, Notification{
		Kind:                  database.KindDecisionPublished,
		StakeholderTemplateID: d.templates.DecisionPublished,
		CommsTemplateID:       d.templates.DecisionPublishedPHE,
		SubscriberTemplateID:  d.templates.SubscriberDecision,
		Subscribers:           true,
	})
}

// SendNotifications queues one email per stakeholder contact with an
// address, one for the communications mailbox and, when n.Subscribers is
// set, one per subscriber. Addresses already notified for n.Kind are
// skipped, so calling it again only reaches new recipients. It returns the
// number of emails queued. A missing stakeholder template is logged and
// nothing is queued.
func (d *Dispatcher) SendNotifications(ctx context.Context, r *database.Review, n Notification) (int, error) {
	if n.StakeholderTemplateID == "" {
		d.log.Error().Str("review", r.Slug).Str("kind", n.Kind).Msg("no stakeholder template configured, notifications not sent")
		return 0, nil
	}

	existing, err := d.db.ReviewEmailAddresses(ctx, r.ID, n.Kind)
	if err != nil {
		return 0, err
	}
	base, err := d.reviewContext(ctx, r, n.Extra)
	if err != nil {
		return 0, err
	}

	var emails []database.Email
	queue := func(address, templateID string, extra map[string]any) {
		address = strings.TrimSpace(address)
		if address == "" || existing[address] {
			return
		}
		existing[address] = true
		emails = append(emails, database.Email{
			Address:    address,
			TemplateID: templateID,
			Context:    merge(base, extra),
		})
	}

	contacts, err := d.db.ContactsWithEmailForReview(ctx, r.ID)
	if err != nil {
		return 0, err
	}
	for _, c := range contacts {
		queue(c.Email, n.StakeholderTemplateID, map[string]any{"recipient_name": c.Name})
	}
	recipients := len(contacts)

	if n.Subscribers {
		subs, err := d.db.SubscriptionsForReview(ctx, r.ID)
		if err != nil {
			return 0, err
		}
		templateID := firstNonEmpty(n.SubscriberTemplateID, n.StakeholderTemplateID)
		for _, sub := range subs {
			manageURL, err := d.manageURL(sub.ID)
			if err != nil {
				return 0, err
			}
			queue(sub.Email, templateID, map[string]any{"manage_subscription_url": manageURL})
		}
		recipients += len(subs)
	}

	if recipients == 0 {
		d.log.Warn().Str("review", r.Slug).Str("kind", n.Kind).Msg("no stakeholders or subscribers to notify")
	}

	if d.commsEmail != "" {
		queue(d.commsEmail, firstNonEmpty(n.CommsTemplateID, n.StakeholderTemplateID), map[string]any{"recipient_name": ""})
	}

	if len(emails) == 0 {
		return 0, nil
	}

	err = d.db.WithTx(ctx, func(tx *database.DB) error {
		if err := tx.CreateEmails(ctx, emails); err != nil {
			return err
		}
		ids := make([]int64, len(emails))
		for i, e := range emails {
			ids[i] = e.ID
		}
		return tx.LinkReviewEmails(ctx, r.ID, n.Kind, ids)
	})
	if err != nil {
		return 0, fmt.Errorf("queueing %s emails for %s: %w", n.Kind, r.Slug, err)
	}

	d.log.Info().Str("review", r.Slug).Str("kind", n.Kind).Int("count", len(emails)).Msg("notifications queued")
	d.events.Publish(events.EmailsDispatched, events.Event{Review: r.Slug, Kind: n.Kind, Count: len(emails)})
	return len(emails), nil
}

// reviewContext builds the template personalisation shared by every
// recipient of a review notification.
func (d *Dispatcher) reviewContext(ctx context.Context, r *database.Review, extra map[string]any) (map[string]any, error) {
	links, err := d.db.GetReviewPolicies(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(links))
	for i, l := range links {
		names[i] = l.PolicyName
	}

	c := map[string]any{
		"review":             r.Name,
		"policies":           strings.Join(names, ", "),
		"consultation_start": database.FormatDateDisplay(r.ConsultationStart),
		"consultation_end":   database.FormatDateDisplay(r.ConsultationEnd),
		"manager":            r.Manager,
	}
	return merge(c, extra), nil
}

func (d *Dispatcher) manageURL(subscriptionID int64) (string, error) {
	token, err := d.signer.SignSubscription(subscriptionID)
	if err != nil {
		return "", fmt.Errorf("signing subscription %d: %w", subscriptionID, err)
	}
	return d.baseURL + "/subscription/manage/" + token + "/", nil
}

func merge(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
