package supervisor

import (
	"context"
	"time"

	"github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/relay"
	"github.com/relink-protocol/relink-go/pkg/wire"
)

// PeerClient is the per-peer connection handle the supervisor drives. It is
// the subset of *relay.Client the supervisor needs; tests substitute fakes
// through Config.NewClient.
type PeerClient interface {
	// Connect performs a single connection attempt.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. User-initiated disconnects also
	// discard the stored resume credential.
	Disconnect(userInitiated bool) error

	// Close disconnects and permanently invalidates the client.
	Close() error

	// MarkReconnecting flags the client as waiting for a retry.
	MarkReconnecting(cause error)

	// State returns the current connection state.
	State() relay.State

	// LastError returns the most recent connection error.
	LastError() error

	// Handshake returns the established session parameters, nil when not
	// connected.
	Handshake() *relay.Handshake

	// Invoke starts a call on the peer and returns its response stream.
	Invoke(ctx context.Context, req wire.RPCRequest, timeout time.Duration) (*relay.CallStream, error)

	// Call performs a single-response call on the peer.
	Call(ctx context.Context, method string, params any, timeout time.Duration) (*wire.RPCResponse, error)

	// OnStateChange registers the state transition callback.
	OnStateChange(fn func(oldState, newState relay.State))

	// OnEvent registers the peer event callback.
	OnEvent(fn func(wire.RelayEventPayload))

	// OnBinary registers the binary frame callback.
	OnBinary(fn func(sessionID string, payload []byte))

	// SetProtocolLogger attaches a protocol event logger.
	SetProtocolLogger(l log.Logger)
}

var _ PeerClient = (*relay.Client)(nil)
