package supervisor

import (
	"log/slog"
	"time"

	"github.com/relink-protocol/relink-go/pkg/backoff"
	"github.com/relink-protocol/relink-go/pkg/credentials"
	"github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/netmon"
	"github.com/relink-protocol/relink-go/pkg/persistence"
	"github.com/relink-protocol/relink-go/pkg/relay"
)

// Default tuning values for the supervisor.
const (
	// DefaultAttemptCooldown is the minimum spacing between connection
	// attempts for a peer that is already connecting or reconnecting.
	DefaultAttemptCooldown = 1 * time.Second

	// DefaultVerifyTimeout bounds the ping used to verify an existing
	// connection before reusing it.
	DefaultVerifyTimeout = 3 * time.Second

	// DefaultStabilityWindow is how long a reconnected peer must stay
	// connected before its reconnect counters are cleared.
	DefaultStabilityWindow = 5 * time.Second

	// DefaultHealthGrace is how long the active peer may stay non-connected
	// before its health degrades from unstable to dead.
	DefaultHealthGrace = 12 * time.Second

	// DefaultBackgroundRetryInterval is the spacing of reconnection attempts
	// after the aggressive schedule is exhausted.
	DefaultBackgroundRetryInterval = 2 * time.Minute

	// DefaultBackgroundRetryCycles is the number of failed background
	// attempts tolerated before a hard reset.
	DefaultBackgroundRetryCycles = 2

	// DefaultSwitchDebounce collapses bursts of interface-change
	// notifications; the first notification in the window wins.
	DefaultSwitchDebounce = 1500 * time.Millisecond

	// DefaultSwitchSettleDelay is the pause between dropping connections on
	// an interface switch and starting to reconnect, giving the new path
	// time to come up.
	DefaultSwitchSettleDelay = 100 * time.Millisecond
)

// Health grades the connection to the active peer.
type Health uint8

const (
	// HealthUnknown means there is no active peer to grade.
	HealthUnknown Health = iota

	// HealthHealthy means the active peer is connected.
	HealthHealthy

	// HealthStable means the active peer reconnected and the post-reconnect
	// stability check is still pending.
	HealthStable

	// HealthUnstable means the active peer is not connected but still
	// within the grace window.
	HealthUnstable

	// HealthDead means the active peer stayed non-connected past the grace
	// window.
	HealthDead
)

// String returns the health grade name.
func (h Health) String() string {
	switch h {
	case HealthUnknown:
		return "unknown"
	case HealthHealthy:
		return "healthy"
	case HealthStable:
		return "stable"
	case HealthUnstable:
		return "unstable"
	case HealthDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ClientFactory builds the client for one peer. The default factory derives
// a relay client from Config.Relay; tests substitute their own.
type ClientFactory func(peerID string) (PeerClient, error)

// Config configures a Supervisor.
type Config struct {
	// Relay is the template configuration for per-peer clients. PeerID is
	// filled in per peer; everything else is shared.
	Relay relay.Config

	// Peers persists the known-peer set across restarts. Optional; when nil
	// the supervisor keeps the set in memory only.
	Peers *persistence.PeerSetStore

	// Network reports path status and interface changes. Optional; when nil
	// the path is assumed usable and interface switches are not handled.
	Network netmon.Monitor

	// NewClient overrides the per-peer client construction.
	NewClient ClientFactory

	// Backoff configures the aggressive reconnection phase.
	Backoff backoff.Config

	// AttemptCooldown spaces connection attempts for a busy peer.
	AttemptCooldown time.Duration

	// VerifyTimeout bounds the reuse-verification ping.
	VerifyTimeout time.Duration

	// StabilityWindow is the post-reconnect stability check duration.
	StabilityWindow time.Duration

	// HealthGrace is the unstable-to-dead grace window.
	HealthGrace time.Duration

	// BackgroundRetryInterval spaces background reconnection attempts.
	BackgroundRetryInterval time.Duration

	// BackgroundRetryCycles is the number of failed background attempts
	// before a hard reset.
	BackgroundRetryCycles int

	// SwitchDebounce collapses bursts of interface-change notifications.
	SwitchDebounce time.Duration

	// SwitchSettleDelay is the pause before reconnecting after an
	// interface switch.
	SwitchSettleDelay time.Duration

	// Logger receives operational log output. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLog receives protocol events from the supervisor and every
	// client it creates. Optional.
	ProtocolLog log.Logger
}

// DefaultConfig returns a configuration with all tuning values at their
// defaults. Relay, Peers and Network must still be filled in.
func DefaultConfig() Config {
	return Config{
		Backoff:                 backoff.DefaultConfig(),
		AttemptCooldown:         DefaultAttemptCooldown,
		VerifyTimeout:           DefaultVerifyTimeout,
		StabilityWindow:         DefaultStabilityWindow,
		HealthGrace:             DefaultHealthGrace,
		BackgroundRetryInterval: DefaultBackgroundRetryInterval,
		BackgroundRetryCycles:   DefaultBackgroundRetryCycles,
		SwitchDebounce:          DefaultSwitchDebounce,
		SwitchSettleDelay:       DefaultSwitchSettleDelay,
	}
}

func (c *Config) applyDefaults() {
	if len(c.Backoff.Schedule) == 0 {
		c.Backoff = backoff.DefaultConfig()
	}
	if c.AttemptCooldown <= 0 {
		c.AttemptCooldown = DefaultAttemptCooldown
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = DefaultVerifyTimeout
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = DefaultStabilityWindow
	}
	if c.HealthGrace <= 0 {
		c.HealthGrace = DefaultHealthGrace
	}
	if c.BackgroundRetryInterval <= 0 {
		c.BackgroundRetryInterval = DefaultBackgroundRetryInterval
	}
	if c.BackgroundRetryCycles <= 0 {
		c.BackgroundRetryCycles = DefaultBackgroundRetryCycles
	}
	if c.SwitchDebounce <= 0 {
		c.SwitchDebounce = DefaultSwitchDebounce
	}
	if c.SwitchSettleDelay <= 0 {
		c.SwitchSettleDelay = DefaultSwitchSettleDelay
	}
	if c.Relay.Credentials == nil {
		// All per-peer clients must share one store so a hard reset can
		// wipe every credential in one place.
		c.Relay.Credentials = credentials.NewMemoryStore()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
