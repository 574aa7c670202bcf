package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
create table if not exists relay_credentials (
	peer_id           text primary key,
	session_id        text not null,
	resume_token      text not null,
	expires_at_unixms integer,
	updated_at_unixms integer not null
)`

// SQLiteStore persists credentials in a SQLite database. Suitable for hosts
// that already carry a database file; the table is created on open.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the credential table at path. Use
// ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create credential table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Store saves or replaces the credential for a peer.
func (s *SQLiteStore) Store(peerID string, cred ResumeCredential) error {
	var expires sql.NullInt64
	if cred.ExpiresAt != nil {
		expires.Int64 = cred.ExpiresAt.UnixMilli()
		expires.Valid = true
	}

	_, err := s.db.ExecContext(context.Background(), `
		insert into relay_credentials (
			peer_id, session_id, resume_token, expires_at_unixms, updated_at_unixms
		) values (?, ?, ?, ?, ?)
		on conflict (peer_id) do update set
			session_id = excluded.session_id,
			resume_token = excluded.resume_token,
			expires_at_unixms = excluded.expires_at_unixms,
			updated_at_unixms = excluded.updated_at_unixms`,
		peerID, cred.SessionID, cred.ResumeToken, expires, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}

// Retrieve returns the credential for a peer.
func (s *SQLiteStore) Retrieve(peerID string) (*ResumeCredential, error) {
	var cred ResumeCredential
	var expires sql.NullInt64

	err := s.db.QueryRowContext(context.Background(),
		"select session_id, resume_token, expires_at_unixms from relay_credentials where peer_id = ?",
		peerID).Scan(&cred.SessionID, &cred.ResumeToken, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("retrieve credential: %w", err)
	}

	if expires.Valid {
		t := time.UnixMilli(expires.Int64)
		cred.ExpiresAt = &t
	}
	return &cred, nil
}

// Delete removes the credential for a peer.
func (s *SQLiteStore) Delete(peerID string) error {
	_, err := s.db.ExecContext(context.Background(),
		"delete from relay_credentials where peer_id = ?", peerID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

// DeleteAll removes every stored credential.
func (s *SQLiteStore) DeleteAll() error {
	_, err := s.db.ExecContext(context.Background(), "delete from relay_credentials")
	if err != nil {
		return fmt.Errorf("delete credentials: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
