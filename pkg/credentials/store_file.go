package credentials

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// hkdf domain separation for the file store key.
const fileStoreKeyInfo = "relink-credential-store-v1"

// FileStore keeps the credential set in a single file, sealed with
// XChaCha20-Poly1305. The file layout is nonce || ciphertext; the plaintext
// is a JSON map of peer id to credential. Every mutation rewrites the file.
type FileStore struct {
	mu    sync.Mutex
	path  string
	key   []byte
	creds map[string]ResumeCredential
}

// NewFileStore opens (or creates) a sealed credential file. The secret may
// be any length; the cipher key is derived from it with HKDF-SHA256. A
// store opened with the wrong secret fails on first load.
func NewFileStore(path string, secret []byte) (*FileStore, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKey
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(fileStoreKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive store key: %w", err)
	}

	s := &FileStore{
		path:  path,
		key:   key,
		creds: make(map[string]ResumeCredential),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Store saves or replaces the credential for a peer.
func (s *FileStore) Store(peerID string, cred ResumeCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[peerID] = cred
	return s.save()
}

// Retrieve returns the credential for a peer.
func (s *FileStore) Retrieve(peerID string) (*ResumeCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.creds[peerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &cred, nil
}

// Delete removes the credential for a peer.
func (s *FileStore) Delete(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[peerID]; !ok {
		return nil
	}
	delete(s.creds, peerID)
	return s.save()
}

// DeleteAll removes every stored credential and the backing file.
func (s *FileStore) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = make(map[string]ResumeCredential)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return fmt.Errorf("credential file truncated")
	}

	nonce, box := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, box, nil)
	if err != nil {
		return fmt.Errorf("unseal credential file: %w", err)
	}

	if err := json.Unmarshal(plain, &s.creds); err != nil {
		return fmt.Errorf("parse credential file: %w", err)
	}
	return nil
}

func (s *FileStore) save() error {
	plain, err := json.Marshal(s.creds)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	if err := os.WriteFile(s.path, sealed, 0600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
