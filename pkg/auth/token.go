// Package auth covers both sides of the broker's JWT story: signing outbound
// bearer tokens for agent and provider endpoints, and verifying inbound
// tokens on the HTTP surface.
package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cubicler/cubicler/pkg/config"
)

// DefaultTokenTTL is the lifetime of self-signed outbound tokens.
const DefaultTokenTTL = time.Hour

// TokenSource yields a bearer token for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken returns a fixed token verbatim.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// SignedToken signs short-lived HS256 tokens from a shared secret and
// re-signs them shortly before expiry.
type SignedToken struct {
	secret   []byte
	issuer   string
	audience string
	subject  string
	ttl      time.Duration

	mu      sync.Mutex
	current string
	expires time.Time
}

// NewSignedToken creates a signing token source.
func NewSignedToken(secret, issuer, audience, subject string, ttl time.Duration) *SignedToken {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &SignedToken{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		subject:  subject,
		ttl:      ttl,
	}
}

// Token returns the current token, signing a fresh one when the cached one
// is within a minute of expiry.
func (s *SignedToken) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" && time.Until(s.expires) > time.Minute {
		return s.current, nil
	}

	now := time.Now()
	expires := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": expires.Unix(),
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	if s.audience != "" {
		claims["aud"] = s.audience
	}
	if s.subject != "" {
		claims["sub"] = s.subject
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	s.current = signed
	s.expires = expires
	return signed, nil
}

// SourceFromConfig builds a token source from a config auth block. Returns
// nil when cfg is nil or names no credential.
func SourceFromConfig(cfg *config.JWTAuth) (TokenSource, error) {
	if cfg == nil {
		return nil, nil
	}
	if cfg.Token != "" {
		return StaticToken(cfg.Token), nil
	}
	if cfg.Secret == "" {
		return nil, nil
	}
	ttl := DefaultTokenTTL
	if cfg.ExpiresIn != "" {
		d, err := time.ParseDuration(cfg.ExpiresIn)
		if err != nil {
			return nil, fmt.Errorf("parsing expiresIn: %w", err)
		}
		ttl = d
	}
	return NewSignedToken(cfg.Secret, cfg.Issuer, cfg.Audience, cfg.Subject, ttl), nil
}
