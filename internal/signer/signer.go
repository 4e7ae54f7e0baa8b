// Package signer issues and verifies the tokens embedded in subscription
// management links.
package signer

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that are malformed, tampered with
// or signed for another purpose.
var ErrInvalidToken = errors.New("signer: invalid token")

const subscriptionAudience = "subscription"

// Signer signs subscription ids with HS256.
type Signer struct {
	key []byte
	now func() time.Time
}

// New creates a signer from a secret key.
func New(secret string) *Signer {
	return &Signer{key: []byte(secret), now: time.Now}
}

// SignSubscription returns a token identifying a subscription.
func (s *Signer) SignSubscription(id int64) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(id, 10),
		Audience: jwt.ClaimStrings{subscriptionAudience},
		IssuedAt: jwt.NewNumericDate(s.now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// VerifySubscription returns the subscription id carried by token.
func (s *Signer) VerifySubscription(token string) (int64, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(subscriptionAudience),
	)
	if err != nil {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}
