package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relink-protocol/relink-go/pkg/relay"
)

type healthRecorder struct {
	mu      sync.Mutex
	history []Health
}

func (r *healthRecorder) record(_, newHealth Health) {
	r.mu.Lock()
	r.history = append(r.history, newHealth)
	r.mu.Unlock()
}

func (r *healthRecorder) seen() []Health {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Health, len(r.history))
	copy(out, r.history)
	return out
}

func (r *healthRecorder) contains(h Health) bool {
	for _, got := range r.seen() {
		if got == h {
			return true
		}
	}
	return false
}

func TestHealthUnknownWithoutPeers(t *testing.T) {
	cf := newClientFactory()
	s := newTestSupervisor(t, cf, nil)
	assert.Equal(t, HealthUnknown, s.Health())
}

func TestHealthBlipRecoversWithoutDead(t *testing.T) {
	cf := newClientFactory()
	s := newTestSupervisor(t, cf, func(cfg *Config) {
		cfg.StabilityWindow = 100 * time.Millisecond
	})
	rec := &healthRecorder{}
	s.OnHealthChange(rec.record)

	connectPeer(t, s, "desk-a")
	require.Equal(t, HealthHealthy, s.Health())

	fc := cf.client("desk-a")
	fc.drop()

	require.Eventually(t, func() bool {
		return fc.State() == relay.StateConnected
	}, time.Second, 2*time.Millisecond)

	// Reconnected but not yet proven stable.
	assert.Equal(t, HealthStable, s.Health())

	require.Eventually(t, func() bool {
		return s.Health() == HealthHealthy
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []Health{HealthHealthy, HealthUnstable, HealthStable, HealthHealthy}, rec.seen())
	assert.False(t, rec.contains(HealthDead))
}

func TestHealthDeadAfterGraceThenRecovers(t *testing.T) {
	var allow atomic.Bool
	allow.Store(true)
	cf := newClientFactory()
	cf.prep = func(fc *fakeClient) {
		fc.setConnectFn(func(ctx context.Context) error {
			if allow.Load() {
				return nil
			}
			return errors.New("offline")
		})
	}
	s := newTestSupervisor(t, cf, func(cfg *Config) {
		cfg.HealthGrace = 60 * time.Millisecond
		cfg.BackgroundRetryCycles = 1000
	})
	rec := &healthRecorder{}
	s.OnHealthChange(rec.record)

	connectPeer(t, s, "desk-a")
	fc := cf.client("desk-a")

	allow.Store(false)
	fc.drop()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, HealthUnstable, s.Health())

	require.Eventually(t, func() bool {
		return s.Health() == HealthDead
	}, time.Second, 5*time.Millisecond)

	// Dead sticks through further failed attempts and clears only on a
	// real reconnect.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, HealthDead, s.Health())

	allow.Store(true)
	require.Eventually(t, func() bool {
		return s.Health() == HealthHealthy
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, rec.contains(HealthDead))
	assert.True(t, rec.contains(HealthStable))
}

func TestHealthTracksActivePeerOnly(t *testing.T) {
	var failB atomic.Bool
	var failA atomic.Bool
	cf := newClientFactory()
	cf.prep = func(fc *fakeClient) {
		id := fc.id
		fc.setConnectFn(func(ctx context.Context) error {
			if id == "desk-b" && failB.Load() {
				return errors.New("offline")
			}
			if id == "desk-a" && failA.Load() {
				return errors.New("offline")
			}
			return nil
		})
	}
	s := newTestSupervisor(t, cf, func(cfg *Config) {
		cfg.BackgroundRetryCycles = 1000
	})

	connectPeer(t, s, "desk-a")
	connectPeer(t, s, "desk-b")
	require.Equal(t, "desk-a", s.ActivePeer())

	failB.Store(true)
	cf.client("desk-b").drop()

	// A non-active peer flapping does not degrade overall health.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, HealthHealthy, s.Health())

	failA.Store(true)
	cf.client("desk-a").drop()

	require.Eventually(t, func() bool {
		return s.Health() == HealthUnstable || s.Health() == HealthDead
	}, time.Second, 5*time.Millisecond)
}
