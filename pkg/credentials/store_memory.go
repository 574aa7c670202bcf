package credentials

import "sync"

// MemoryStore is an in-memory implementation of the Store interface.
// Credentials do not survive process restart.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]ResumeCredential
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		creds: make(map[string]ResumeCredential),
	}
}

// Store saves or replaces the credential for a peer.
func (s *MemoryStore) Store(peerID string, cred ResumeCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[peerID] = cred
	return nil
}

// Retrieve returns the credential for a peer.
func (s *MemoryStore) Retrieve(peerID string) (*ResumeCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[peerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cred, nil
}

// Delete removes the credential for a peer.
func (s *MemoryStore) Delete(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, peerID)
	return nil
}

// DeleteAll removes every stored credential.
func (s *MemoryStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = make(map[string]ResumeCredential)
	return nil
}

var _ Store = (*MemoryStore)(nil)
