// Package credentials persists relay resume credentials per peer.
//
// A ResumeCredential lets a fresh transport reattach to a prior relay
// session without a full re-registration. Credentials are created on
// registration, refreshed on resume, and deleted on user-initiated
// disconnect or when the relay rejects a resume attempt.
//
// Store is the capability interface the protocol client and the connection
// supervisor consume; any platform secret store can satisfy it. Three
// implementations ship with the package: MemoryStore for tests and
// ephemeral sessions, FileStore sealing the credential set with
// XChaCha20-Poly1305, and SQLiteStore for hosts that already carry a
// database.
package credentials
