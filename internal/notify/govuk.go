package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NotifyClient talks to the GOV.UK Notify REST API.
type NotifyClient struct {
	BaseURL   string
	serviceID string
	secret    []byte
	client    *http.Client
	now       func() time.Time
}

// NewNotifyClient creates a client from an API key of the form
// "<key name>-<service id>-<secret>", where both ids are UUIDs.
func NewNotifyClient(baseURL, apiKey string, timeout time.Duration) (*NotifyClient, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	serviceID, secret, err := splitAPIKey(apiKey)
	if err != nil {
		return nil, err
	}
	return &NotifyClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		serviceID: serviceID,
		secret:    []byte(secret),
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}, nil
}

const uuidLen = 36

func splitAPIKey(key string) (serviceID, secret string, err error) {
	if len(key) < 2*uuidLen+1 {
		return "", "", fmt.Errorf("notify: malformed API key")
	}
	secret = key[len(key)-uuidLen:]
	serviceID = key[len(key)-2*uuidLen-1 : len(key)-uuidLen-1]
	return serviceID, secret, nil
}

func (c *NotifyClient) token() (string, error) {
	claims := jwt.MapClaims{
		"iss": c.serviceID,
		"iat": c.now().Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// SendEmail posts an email notification.
func (c *NotifyClient) SendEmail(ctx context.Context, req SendRequest) (*SendResponse, error) {
	var out SendResponse
	if err := c.do(ctx, http.MethodPost, "/v2/notifications/email", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNotification fetches the current state of a notification.
func (c *NotifyClient) GetNotification(ctx context.Context, id string) (*Notification, error) {
	var out Notification
	if err := c.do(ctx, http.MethodGet, "/v2/notifications/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *NotifyClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	token, err := c.token()
	if err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "nscreview")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || len(apiErr.Errors) == 0 {
			apiErr.Errors = []ErrorItem{{Error: http.StatusText(resp.StatusCode), Message: string(respBody)}}
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
