package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testServiceID = "26785a09-ab16-4eb0-8407-a37497a57506"
	testSecret    = "3d844edf-8d35-48ac-975b-e847b4f122b0"
	testAPIKey    = "test_key-" + testServiceID + "-" + testSecret
)

func checkToken(t *testing.T, r *http.Request) {
	t.Helper()
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	assert.Equal(t, testServiceID, claims["iss"])
	assert.NotNil(t, claims["iat"])
}

func TestNewNotifyClientRequiresKey(t *testing.T) {
	_, err := NewNotifyClient("http://example", "", time.Second)
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewNotifyClient("http://example", "too-short", time.Second)
	assert.Error(t, err)
}

func TestSendEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/notifications/email", r.URL.Path)
		checkToken(t, r)

		var body SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "someone@example.com", body.EmailAddress)
		assert.Equal(t, "tpl-1", body.TemplateID)
		assert.Equal(t, "42", body.Reference)
		assert.Equal(t, "Bowel cancer", body.Personalisation["review"])

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "abc-123", "reference": "42"}`))
	}))
	defer srv.Close()

	c, err := NewNotifyClient(srv.URL, testAPIKey, time.Second)
	require.NoError(t, err)

	resp, err := c.SendEmail(context.Background(), SendRequest{
		EmailAddress:    "someone@example.com",
		TemplateID:      "tpl-1",
		Personalisation: map[string]any{"review": "Bowel cancer"},
		Reference:       "42",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", resp.ID)
}

func TestSendEmailValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status_code": 400, "errors": [{"error": "ValidationError", "message": "email_address Not a valid email address"}]}`))
	}))
	defer srv.Close()

	c, _ := NewNotifyClient(srv.URL, testAPIKey, time.Second)
	_, err := c.SendEmail(context.Background(), SendRequest{EmailAddress: "bad"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsValidation())
	assert.False(t, apiErr.IsRateLimited())
	assert.Contains(t, apiErr.Error(), "Not a valid email address")
}

func TestSendEmailRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c, _ := NewNotifyClient(srv.URL, testAPIKey, time.Second)
	_, err := c.SendEmail(context.Background(), SendRequest{EmailAddress: "a@example.com"})

	assert.True(t, IsRateLimited(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.IsValidation())
}

func TestGetNotification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v2/notifications/abc-123", r.URL.Path)
		checkToken(t, r)
		w.Write([]byte(`{"id": "abc-123", "status": "delivered", "email_address": "a@example.com"}`))
	}))
	defer srv.Close()

	c, _ := NewNotifyClient(srv.URL+"/", testAPIKey, time.Second)
	n, err := c.GetNotification(context.Background(), "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "delivered", n.Status)
}
