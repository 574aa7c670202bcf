package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNoToken      = errors.New("no token available")
	ErrInvalidToken = errors.New("invalid token")
)

// Token is an access token together with the identity it carries.
type Token struct {
	// AccessToken is the raw bearer token sent in the Authorization header.
	AccessToken string

	// UserID is the authenticated user, placed on every relayed request.
	UserID string

	// ExpiresAt is when the token stops being valid.
	// Zero means the expiry is unknown or the token does not expire.
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at the given time.
// Tokens with a zero ExpiresAt never report expired.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// TokenProvider supplies a currently-valid access token.
//
// Implementations are expected to refresh expired tokens themselves;
// callers treat an error as "authentication is not possible right now".
type TokenProvider interface {
	GetValidToken(ctx context.Context) (*Token, error)
}

// ProviderFunc adapts a function to the TokenProvider interface.
type ProviderFunc func(ctx context.Context) (*Token, error)

// GetValidToken calls f.
func (f ProviderFunc) GetValidToken(ctx context.Context) (*Token, error) {
	return f(ctx)
}

// StaticProvider returns a fixed token. Intended for tests and demos.
type StaticProvider struct {
	mu    sync.Mutex
	token *Token
}

var _ TokenProvider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider that always returns the given token.
func NewStaticProvider(token Token) *StaticProvider {
	return &StaticProvider{token: &token}
}

// GetValidToken returns the stored token.
func (p *StaticProvider) GetValidToken(ctx context.Context) (*Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == nil || p.token.AccessToken == "" {
		return nil, ErrNoToken
	}
	tok := *p.token
	return &tok, nil
}

// SetToken replaces the stored token.
func (p *StaticProvider) SetToken(token Token) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = &token
}
