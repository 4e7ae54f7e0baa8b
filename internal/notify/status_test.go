package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusValid(t *testing.T) {
	for _, s := range Statuses {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("delivered-extra").Valid())
	assert.False(t, Status("").Valid())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{Pending, Sending, true},
		{Sending, Delivered, true},
		{Created, TemporaryFailure, true},
		{TemporaryFailure, Sending, true},
		{TechnicalFailure, TooManyAttempts, true},
		{Sending, Pending, false},
		{Delivered, Sending, false},
		{PermanentFailure, Delivered, false},
		{TooManyAttempts, Pending, false},
		{Delivered, Delivered, true},
		{Pending, Status("bogus"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Pending.Retryable())
	assert.True(t, TemporaryFailure.Retryable())
	assert.True(t, TechnicalFailure.Retryable())
	assert.False(t, Sending.Retryable())
	assert.False(t, PermanentFailure.Retryable())
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	assert.NoError(t, err)
	b, _ := GenerateToken()
	assert.Len(t, a, TokenLength)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[a-zA-Z0-9]+$`, a)
}
