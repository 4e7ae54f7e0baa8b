package notify

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/TobiSchelling/nscreview/internal/config"
	"github.com/TobiSchelling/nscreview/internal/database"
)

// Sender drains the email queue and reconciles delivery statuses.
type Sender struct {
	db          *database.DB
	client      Client
	log         zerolog.Logger
	batchSize   int
	maxAttempts int
	staleAfter  time.Duration
}

// NewSender creates a sender using the notify section of the config.
func NewSender(db *database.DB, client Client, cfg config.Notify, log zerolog.Logger) *Sender {
	s := &Sender{
		db:          db,
		client:      client,
		log:         log,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		staleAfter:  cfg.StaleAfter,
	}
	if s.batchSize <= 0 {
		s.batchSize = 3000
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 101
	}
	if s.staleAfter <= 0 {
		s.staleAfter = 5 * time.Minute
	}
	return s
}

// SendResult summarises one SendPending run.
type SendResult struct {
	Sent            int
	Failed          int
	Rejected        int
	TooManyAttempts int
}

// SendPending sends up to one batch of queued emails. A failure on one
// email is logged and does not stop the batch.
func (s *Sender) SendPending(ctx context.Context) (*SendResult, error) {
	emails, err := s.db.Emails().Statuses(toSend...).Limit(s.batchSize).List(ctx)
	if err != nil {
		return nil, err
	}

	result := &SendResult{}
	for i := range emails {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		e := &emails[i]
		s.send(ctx, e, result)
		if err := s.db.UpdateEmail(ctx, e); err != nil {
			s.log.Error().Err(err).Int64("email_id", e.ID).Str("notify_id", e.NotifyID).Str("status", e.Status).
				Msg("failed to save email after send")
		}
	}
	return result, nil
}

func (s *Sender) send(ctx context.Context, e *database.Email, result *SendResult) {
	e.Attempts++
	if e.Attempts > s.maxAttempts {
		e.Status = string(TooManyAttempts)
		result.TooManyAttempts++
		s.log.Warn().Int64("email_id", e.ID).Int("attempts", e.Attempts).Msg("giving up on email")
		return
	}

	resp, err := s.client.SendEmail(ctx, SendRequest{
		EmailAddress:    e.Address,
		TemplateID:      e.TemplateID,
		Personalisation: e.Context,
		Reference:       strconv.FormatInt(e.ID, 10),
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsValidation() {
			e.Status = string(PermanentFailure)
			result.Rejected++
		} else {
			result.Failed++
		}
		s.log.Error().Err(err).Int64("email_id", e.ID).Str("template_id", e.TemplateID).Msg("failed to send email")
		return
	}

	e.Status = string(Sending)
	e.NotifyID = resp.ID
	result.Sent++
}

// UpdateResult summarises one UpdateStale run.
type UpdateResult struct {
	Checked int
	Updated int
	Failed  int
}

// UpdateStale polls the provider for emails whose receipt has not arrived
// within the staleness window and stores the status it reports.
func (s *Sender) UpdateStale(ctx context.Context) (*UpdateResult, error) {
	cutoff := database.FormatTimestamp(s.db.Now().Add(-s.staleAfter))
	emails, err := s.db.Emails().
		Statuses(inFlight...).
		WithNotifyID().
		ModifiedAtOrBefore(cutoff).
		Limit(s.batchSize).
		List(ctx)
	if err != nil {
		return nil, err
	}

	result := &UpdateResult{}
	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++

		n, err := s.client.GetNotification(ctx, e.NotifyID)
		if err != nil {
			result.Failed++
			s.log.Error().Err(err).Int64("email_id", e.ID).Str("notify_id", e.NotifyID).Msg("failed to fetch email status")
			continue
		}
		status := Status(n.Status)
		if !status.Valid() {
			result.Failed++
			s.log.Error().Int64("email_id", e.ID).Str("status", n.Status).Msg("provider returned unknown status")
			continue
		}
		if err := s.db.SetEmailStatus(ctx, e.ID, string(status)); err != nil {
			result.Failed++
			s.log.Error().Err(err).Int64("email_id", e.ID).Msg("failed to save email status")
			continue
		}
		result.Updated++
	}
	return result, nil
}
