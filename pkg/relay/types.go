package relay

import (
	"log/slog"
	"time"

	"github.com/relink-protocol/relink-go/pkg/auth"
	"github.com/relink-protocol/relink-go/pkg/credentials"
	"github.com/relink-protocol/relink-go/pkg/transport"
)

// State represents the connection state of a relay client.
type State uint8

const (
	// StateDisconnected is the initial state, and the state after a clean
	// disconnect or a retryable failure.
	StateDisconnected State = iota
	// StateConnecting means the transport dial is in progress.
	StateConnecting
	// StateHandshaking means the transport is open and the register
	// message has been sent.
	StateHandshaking
	// StateAuthenticating means a resume attempt was rejected and a fresh
	// registration is in flight on the same transport.
	StateAuthenticating
	// StateConnected means the relay acknowledged the registration.
	StateConnected
	// StateReconnecting means the supervisor is between retry attempts.
	StateReconnecting
	// StateClosing means a deliberate teardown is in progress.
	StateClosing
	// StateFailed means the relay rejected the connection with a
	// non-retryable error. Only explicit intervention leaves this state.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Usable reports whether calls can be sent in this state.
func (s State) Usable() bool {
	return s == StateConnected
}

// TransportLabelRelay identifies the relay transport in handshake data.
const TransportLabelRelay = "relay"

// Handshake describes the established session. It is available once the
// client reaches StateConnected.
type Handshake struct {
	// SessionID is the relay-assigned session identifier.
	SessionID string

	// ClientID is the device id this client registered with.
	ClientID string

	// TransportLabel names the transport carrying the session.
	TransportLabel string
}

// Default configuration values.
const (
	DefaultRegistrationTimeout = 10 * time.Second
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultWatchdogInterval    = 15 * time.Second
	DefaultSilenceThreshold    = 45 * time.Second
	DefaultCallTimeout         = 30 * time.Second
	DefaultUsableWait          = 15 * time.Second
	DefaultHandshakeWait       = 5 * time.Second
	DefaultQueueCapacity       = 200
	DefaultClientType          = "mobile"
)

// Config holds the relay client configuration.
type Config struct {
	// URL is the relay server endpoint. http and https URLs are mapped to
	// ws and wss.
	URL string

	// PeerID is the target peer device this client talks to.
	PeerID string

	// ClientID is this device's identifier, sent during registration and
	// in the X-Device-ID header.
	ClientID string

	// ClientName is the human-readable device name sent during
	// registration.
	ClientName string

	// ClientType is sent in the X-Client-Type header. Defaults to
	// DefaultClientType.
	ClientType string

	// Tokens supplies the bearer token for the websocket upgrade.
	// Required.
	Tokens auth.TokenProvider

	// Credentials persists resume credentials across connections.
	// Defaults to an in-memory store.
	Credentials credentials.Store

	// RegistrationTimeout bounds the wait for a registration
	// acknowledgment after the transport opens.
	RegistrationTimeout time.Duration

	// HeartbeatInterval is how often the client sends a heartbeat while
	// connected.
	HeartbeatInterval time.Duration

	// WatchdogInterval is how often inbound silence is checked.
	WatchdogInterval time.Duration

	// SilenceThreshold is the inbound silence span treated as a dead
	// transport.
	SilenceThreshold time.Duration

	// CallTimeout is the default per-call timeout for Invoke and Call
	// when the caller passes none.
	CallTimeout time.Duration

	// UsableWait bounds how long Invoke waits for the connection to
	// become usable.
	UsableWait time.Duration

	// HandshakeWait replaces UsableWait while a handshake is already in
	// flight, where the outcome is imminent.
	HandshakeWait time.Duration

	// QueueCapacity bounds the offline send queue.
	QueueCapacity int

	// Transport configures the underlying websocket connection.
	Transport transport.Config

	// Logger receives operational log records. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with all tunables set to their defaults.
// URL, PeerID, ClientID and Tokens must still be provided.
func DefaultConfig() Config {
	return Config{
		ClientType:          DefaultClientType,
		RegistrationTimeout: DefaultRegistrationTimeout,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		WatchdogInterval:    DefaultWatchdogInterval,
		SilenceThreshold:    DefaultSilenceThreshold,
		CallTimeout:         DefaultCallTimeout,
		UsableWait:          DefaultUsableWait,
		HandshakeWait:       DefaultHandshakeWait,
		QueueCapacity:       DefaultQueueCapacity,
		Transport:           transport.DefaultConfig(),
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.ClientType == "" {
		c.ClientType = def.ClientType
	}
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = def.RegistrationTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = def.WatchdogInterval
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = def.SilenceThreshold
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.UsableWait <= 0 {
		c.UsableWait = def.UsableWait
	}
	if c.HandshakeWait <= 0 {
		c.HandshakeWait = def.HandshakeWait
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = def.QueueCapacity
	}
	if c.Credentials == nil {
		c.Credentials = credentials.NewMemoryStore()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
