package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the peer set file format.
const StateVersion = 1

// PeerSet contains the set of known peers for a relay client.
type PeerSet struct {
	// Version is the peer set file format version.
	Version int `json:"version"`

	// SavedAt is when the peer set was last saved.
	SavedAt time.Time `json:"saved_at"`

	// ServerURL is the relay server URL the peers were registered against.
	// Connections must not be restored against a different server.
	ServerURL string `json:"server_url,omitempty"`

	// PeerIDs lists the device IDs of all known peers.
	PeerIDs []string `json:"peer_ids,omitempty"`

	// ActivePeerID is the peer whose liveness is actively monitored.
	ActivePeerID string `json:"active_peer_id,omitempty"`
}

// Contains reports whether the peer set includes the given peer ID.
func (p *PeerSet) Contains(peerID string) bool {
	for _, id := range p.PeerIDs {
		if id == peerID {
			return true
		}
	}
	return false
}

// PeerSetStore manages persistence of the known-peer set to a JSON file.
type PeerSetStore struct {
	mu   sync.Mutex
	path string
}

// NewPeerSetStore creates a new peer set store.
func NewPeerSetStore(path string) *PeerSetStore {
	return &PeerSetStore{path: path}
}

// Save persists the peer set to disk.
func (s *PeerSetStore) Save(set *PeerSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	set.Version = StateVersion
	if set.SavedAt.IsZero() {
		set.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}

// Load reads the peer set from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *PeerSetStore) Load() (*PeerSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	set := &PeerSet{}
	if err := json.Unmarshal(data, set); err != nil {
		return nil, err
	}

	return set, nil
}

// Clear removes the peer set file.
func (s *PeerSetStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
