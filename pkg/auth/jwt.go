package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshLeeway is how long before expiry a cached token is considered stale.
const refreshLeeway = 30 * time.Second

// FromJWT builds a Token from a raw JWT by reading its claims.
//
// The signature is not verified. The client only needs the subject (user id)
// and expiry to label relayed requests and to know when to refresh; the relay
// server performs the actual verification.
func FromJWT(raw string) (*Token, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	tok := &Token{
		AccessToken: raw,
		UserID:      claims.Subject,
	}
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time
	}
	return tok, nil
}

// TokenSource produces a raw JWT, refreshing it with the issuer as needed.
type TokenSource func(ctx context.Context) (string, error)

// JWTProvider derives tokens from raw JWTs supplied by a TokenSource.
//
// Tokens are cached until shortly before their expiry, so repeated handshakes
// during a reconnect burst do not hammer the issuer.
type JWTProvider struct {
	mu     sync.Mutex
	source TokenSource
	cached *Token
	now    func() time.Time
}

var _ TokenProvider = (*JWTProvider)(nil)

// NewJWTProvider creates a provider backed by the given source.
func NewJWTProvider(source TokenSource) *JWTProvider {
	return &JWTProvider{
		source: source,
		now:    time.Now,
	}
}

// GetValidToken returns the cached token, fetching a fresh one from the
// source when the cache is empty or within the refresh leeway of expiry.
func (p *JWTProvider) GetValidToken(ctx context.Context) (*Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cached != nil && (p.cached.ExpiresAt.IsZero() || now.Add(refreshLeeway).Before(p.cached.ExpiresAt)) {
		tok := *p.cached
		return &tok, nil
	}

	raw, err := p.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("token source: %w", err)
	}

	tok, err := FromJWT(raw)
	if err != nil {
		return nil, err
	}
	if tok.Expired(now) {
		return nil, fmt.Errorf("%w: token already expired", ErrInvalidToken)
	}

	p.cached = tok
	copied := *tok
	return &copied, nil
}

// Invalidate drops the cached token so the next call hits the source.
func (p *JWTProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}
