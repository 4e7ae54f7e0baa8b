package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotConfigured is returned when the Notify API key is missing.
var ErrNotConfigured = errors.New("notify: API key not configured")

// SendRequest is one templated email.
type SendRequest struct {
	EmailAddress    string         `json:"email_address"`
	TemplateID      string         `json:"template_id"`
	Personalisation map[string]any `json:"personalisation,omitempty"`
	Reference       string         `json:"reference,omitempty"`
}

// SendResponse is the provider's acknowledgement of a send.
type SendResponse struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
}

// Notification is the provider's view of a sent email.
type Notification struct {
	ID           string `json:"id"`
	Reference    string `json:"reference"`
	EmailAddress string `json:"email_address"`
	Status       string `json:"status"`
}

// Client delivers templated emails.
type Client interface {
	SendEmail(ctx context.Context, req SendRequest) (*SendResponse, error)
	GetNotification(ctx context.Context, id string) (*Notification, error)
}

// ErrorItem is one entry of a provider error response.
type ErrorItem struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIError is a non-success response from the provider.
type APIError struct {
	StatusCode int         `json:"status_code"`
	Errors     []ErrorItem `json:"errors"`
}

func (e *APIError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, item.Error+": "+item.Message)
	}
	return fmt.Sprintf("notify API returned %d: %s", e.StatusCode, strings.Join(msgs, "; "))
}

// IsValidation reports whether the request itself was rejected, so
// retrying can never succeed.
func (e *APIError) IsValidation() bool {
	if e.StatusCode != http.StatusBadRequest {
		return false
	}
	for _, item := range e.Errors {
		if item.Error == "ValidationError" || item.Error == "BadRequestError" {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether the daily or per-minute limit was hit.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited reports whether err is a provider 429.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsRateLimited()
}
