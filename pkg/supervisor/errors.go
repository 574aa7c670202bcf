package supervisor

import "errors"

var (
	// ErrSupervisorClosed is returned by operations on a closed supervisor.
	ErrSupervisorClosed = errors.New("supervisor is closed")

	// ErrUnknownPeer is returned when an operation addresses a peer the
	// supervisor has no client for.
	ErrUnknownPeer = errors.New("unknown peer")
)
