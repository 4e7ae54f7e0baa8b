package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LogClient stands in for Notify when delivery is disabled. Sends are
// logged and acknowledged with a random id; lookups report delivered.
type LogClient struct {
	log zerolog.Logger
}

// NewLogClient creates a logging client.
func NewLogClient(log zerolog.Logger) *LogClient {
	return &LogClient{log: log}
}

func (c *LogClient) SendEmail(_ context.Context, req SendRequest) (*SendResponse, error) {
	c.log.Info().
		Str("address", req.EmailAddress).
		Str("template_id", req.TemplateID).
		Str("reference", req.Reference).
		Interface("personalisation", req.Personalisation).
		Msg("[Notify - Send]")
	return &SendResponse{ID: uuid.NewString(), Reference: req.Reference}, nil
}

func (c *LogClient) GetNotification(_ context.Context, id string) (*Notification, error) {
	c.log.Info().Str("notify_id", id).Msg("[Notify - Get Status]")
	return &Notification{ID: id, Status: string(Delivered)}, nil
}
