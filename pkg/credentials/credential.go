package credentials

import (
	"errors"
	"time"
)

// Store errors.
var (
	ErrNotFound   = errors.New("credential not found")
	ErrInvalidKey = errors.New("invalid store key")
)

// ResumeCredential reattaches a new transport to a prior relay session.
type ResumeCredential struct {
	SessionID   string     `json:"sessionId"`
	ResumeToken string     `json:"resumeToken"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the credential has a known expiry in the past.
// Credentials without an expiry never report expired.
func (c *ResumeCredential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// Store persists resume credentials keyed by peer id.
// Implementations must be safe for concurrent access.
type Store interface {
	// Store saves or replaces the credential for a peer.
	Store(peerID string, cred ResumeCredential) error

	// Retrieve returns the credential for a peer.
	// Returns ErrNotFound if none is stored.
	Retrieve(peerID string) (*ResumeCredential, error)

	// Delete removes the credential for a peer. Deleting a missing
	// credential is not an error.
	Delete(peerID string) error

	// DeleteAll removes every stored credential.
	DeleteAll() error
}
