// Package supervisor manages the set of relay connections for one client
// device: one connection per peer, with automatic reconnection, health
// grading and persistence of the known-peer set.
//
// # Connection Management
//
// AddConnection establishes a connection to a peer. Concurrent callers for
// the same peer join a single in-flight attempt and observe its result;
// handshakes across all peers are serialized so the relay never sees two
// registrations from the same client at once. Successfully connected peers
// are persisted and restored across restarts with RestoreConnections.
//
// # Reconnection
//
// When a known peer drops, the supervisor retries on an aggressive backoff
// schedule. If the schedule is exhausted it degrades to slow background
// retries, gated on the application being foregrounded and the network path
// being usable. When even background retries fail the supervisor performs a
// hard reset: all clients are torn down, persisted credentials and the peer
// set are wiped, and the reset callback fires so the application can fall
// back to fresh pairing.
//
// # Health
//
// The active peer's connection is graded healthy, stable, unstable or dead.
// Transitions through unstable carry a grace period so short blips never
// read as dead.
package supervisor
