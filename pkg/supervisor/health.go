package supervisor

import (
	"time"

	"github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/relay"
)

// Health returns the current health grade of the active peer's connection.
func (s *Supervisor) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

// updateHealth re-grades the active peer. A drop from connected always
// passes through unstable with a grace window, so brief blips never read as
// dead; dead is only left by an actual reconnect.
func (s *Supervisor) updateHealth() {
	s.mu.Lock()
	old := s.health
	target := s.desiredHealthLocked()

	if target == HealthUnstable {
		if old == HealthUnstable || old == HealthDead {
			s.mu.Unlock()
			return
		}
		s.health = HealthUnstable
		s.startGraceLocked()
	} else {
		s.stopGraceLocked()
		if target == old {
			s.mu.Unlock()
			return
		}
		s.health = target
	}
	updated := s.health
	s.mu.Unlock()

	s.notifyHealth(old, updated)
}

// desiredHealthLocked computes the grade from the active peer's state,
// ignoring grace bookkeeping.
func (s *Supervisor) desiredHealthLocked() Health {
	ps := s.peers[s.activePeer]
	if s.activePeer == "" || ps == nil || ps.client == nil {
		return HealthUnknown
	}
	if ps.client.State() == relay.StateConnected {
		// An uncleared reconnect episode means the stability check has not
		// passed yet, even if its timer is still being armed.
		if ps.stabilityPending || ps.reconnect != nil {
			return HealthStable
		}
		return HealthHealthy
	}
	return HealthUnstable
}

func (s *Supervisor) startGraceLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.graceTimer = time.AfterFunc(s.config.HealthGrace, s.onGraceExpired)
}

func (s *Supervisor) stopGraceLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

// onGraceExpired degrades unstable to dead when the active peer is still
// not connected at the end of the grace window.
func (s *Supervisor) onGraceExpired() {
	s.mu.Lock()
	s.graceTimer = nil
	if s.closed || s.health != HealthUnstable || s.desiredHealthLocked() != HealthUnstable {
		s.mu.Unlock()
		return
	}
	old := s.health
	s.health = HealthDead
	s.mu.Unlock()

	s.notifyHealth(old, HealthDead)
}

func (s *Supervisor) notifyHealth(old, updated Health) {
	if old == updated {
		return
	}
	s.logger.Info("connection health changed", "from", old, "to", updated)
	s.plogState(s.ActivePeer(), log.StateEntityHealth, old.String(), updated.String(), "")

	s.mu.Lock()
	cb := s.onHealthChange
	s.mu.Unlock()
	if cb != nil {
		cb(old, updated)
	}
}
