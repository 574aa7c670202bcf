package supervisor

import (
	"context"
	"time"

	"github.com/relink-protocol/relink-go/pkg/backoff"
	"github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/relay"
)

// reconnectState tracks one peer's reconnection episode. The backoff
// carries the attempt count across loop restarts until a stability check
// clears it. gen invalidates stale loop goroutines after a cancel; aborted
// marks episodes ended by a non-retryable error.
type reconnectState struct {
	backoff *backoff.Backoff
	cancel  context.CancelFunc
	running bool
	gen     int
	aborted bool
}

// scheduleReconnect starts the reconnection loop for a known peer unless
// one is already running.
func (s *Supervisor) scheduleReconnect(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleReconnectLocked(peerID)
}

func (s *Supervisor) scheduleReconnectLocked(peerID string) {
	if s.closed || s.resetInProgress || s.cycling {
		return
	}
	ps := s.peers[peerID]
	if ps == nil || !ps.known || ps.client == nil {
		return
	}
	if ps.attempt != nil {
		return
	}
	rs := ps.reconnect
	if rs != nil && rs.running {
		return
	}
	if ps.stabilityPending {
		// The connection dropped before proving stable; resume the backoff
		// from its current attempt count.
		s.cancelStabilityLocked(ps)
	}
	if rs == nil {
		rs = &reconnectState{backoff: backoff.NewWithConfig(s.config.Backoff)}
		ps.reconnect = rs
	}
	if rs.aborted {
		return
	}
	rs.gen++
	gen := rs.gen
	ctx, cancel := context.WithCancel(context.Background())
	rs.cancel = cancel
	rs.running = true
	go s.reconnectLoop(ctx, ps, rs, gen)
}

// cancelReconnectLocked stops the peer's reconnection loop. The backoff
// state is kept so a later episode resumes where this one stopped.
func (s *Supervisor) cancelReconnectLocked(ps *peerState) {
	rs := ps.reconnect
	if rs == nil || rs.cancel == nil {
		return
	}
	rs.cancel()
	rs.cancel = nil
	rs.running = false
}

// cancelStabilityLocked aborts a pending post-reconnect stability check.
func (s *Supervisor) cancelStabilityLocked(ps *peerState) {
	if ps.stabilityTimer != nil {
		ps.stabilityTimer.Stop()
		ps.stabilityTimer = nil
	}
	ps.stabilityPending = false
}

// reconnectLoop drives the aggressive phase for one peer: delay per the
// backoff schedule, attempt, repeat. On exhaustion it hands over to
// background retry. The loop exits on success, cancellation, a
// non-retryable error or supervisor shutdown.
func (s *Supervisor) reconnectLoop(ctx context.Context, ps *peerState, rs *reconnectState, gen int) {
	defer func() {
		s.mu.Lock()
		if rs.gen == gen {
			rs.running = false
			rs.cancel = nil
			// A drop that arrived while this loop was winding down was
			// ignored by the running check; pick it up now.
			if !rs.aborted && ps.client != nil {
				switch ps.client.State() {
				case relay.StateDisconnected, relay.StateReconnecting:
					s.scheduleReconnectLocked(ps.id)
				}
			}
		}
		s.mu.Unlock()
	}()

	for {
		s.mu.Lock()
		if s.closed || rs.gen != gen {
			s.mu.Unlock()
			return
		}
		client := ps.client
		s.mu.Unlock()

		if client == nil || client.State() == relay.StateConnected {
			return
		}

		delay, ok := rs.backoff.Next()
		if !ok {
			s.backgroundRetry(ctx, ps, rs, client)
			return
		}
		attempt := rs.backoff.Attempts()

		client.MarkReconnecting(client.LastError())
		s.logger.Debug("reconnect attempt scheduled",
			"peer", ps.id, "attempt", attempt, "delay", delay)

		if !sleepCtx(ctx, delay) {
			return
		}

		err := s.connectOnce(ctx, client)
		if err == nil {
			s.logger.Info("peer reconnected", "peer", ps.id, "attempt", attempt)
			s.startStability(ps)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if relay.IsNonRetryable(err) {
			s.mu.Lock()
			rs.aborted = true
			s.mu.Unlock()
			s.logger.Error("reconnect aborted by non-retryable error",
				"peer", ps.id, "error", err)
			return
		}
		s.logger.Debug("reconnect attempt failed",
			"peer", ps.id, "attempt", attempt, "error", err)
	}
}

// backgroundRetry is the slow phase after the aggressive schedule is
// exhausted: one attempt per interval, only while the application is
// foregrounded and the network path is usable. Gated intervals do not count
// against the cycle budget. Exhausting the budget triggers a hard reset.
func (s *Supervisor) backgroundRetry(ctx context.Context, ps *peerState, rs *reconnectState, client PeerClient) {
	s.logger.Warn("aggressive reconnect exhausted, retrying in background",
		"peer", ps.id, "interval", s.config.BackgroundRetryInterval)
	s.plogState(ps.id, log.StateEntityReconnect, "aggressive", "background", "schedule exhausted")

	cycles := 0
	for cycles < s.config.BackgroundRetryCycles {
		if !sleepCtx(ctx, s.config.BackgroundRetryInterval) {
			return
		}
		if client.State() == relay.StateConnected {
			return
		}

		s.mu.Lock()
		foregrounded := s.foregrounded
		s.mu.Unlock()
		usable := true
		if s.config.Network != nil {
			usable = s.config.Network.Status().Usable
		}
		if !foregrounded || !usable {
			s.logger.Debug("background retry gated",
				"peer", ps.id, "foregrounded", foregrounded, "network_usable", usable)
			continue
		}

		client.MarkReconnecting(client.LastError())
		err := s.connectOnce(ctx, client)
		if err == nil {
			s.logger.Info("peer reconnected in background", "peer", ps.id)
			s.startStability(ps)
			return
		}
		if ctx.Err() != nil {
			return
		}
		cycles++
		s.logger.Debug("background retry failed",
			"peer", ps.id, "cycle", cycles, "error", err)
	}

	s.logger.Error("background retry exhausted", "peer", ps.id)
	s.plogState(ps.id, log.StateEntityReconnect, "background", "reset", "background retry exhausted")
	s.HardReset("background retry exhausted")
}

// connectOnce performs one reconnection attempt under the global handshake
// permit.
func (s *Supervisor) connectOnce(ctx context.Context, client PeerClient) error {
	if err := s.handshakeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.handshakeSem.Release(1)
	return client.Connect(ctx)
}

// startStability arms the post-reconnect stability check. Only if the peer
// is still connected when the window elapses are its reconnect counters
// cleared.
func (s *Supervisor) startStability(ps *peerState) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if ps.stabilityTimer != nil {
		ps.stabilityTimer.Stop()
	}
	ps.stabilityPending = true
	ps.stabilityTimer = time.AfterFunc(s.config.StabilityWindow, func() {
		s.finishStability(ps)
	})
	s.mu.Unlock()

	s.updateHealth()
}

func (s *Supervisor) finishStability(ps *peerState) {
	s.mu.Lock()
	if !ps.stabilityPending {
		s.mu.Unlock()
		return
	}
	ps.stabilityPending = false
	ps.stabilityTimer = nil
	connected := ps.client != nil && ps.client.State() == relay.StateConnected
	if connected {
		ps.reconnect = nil
	}
	s.mu.Unlock()

	if connected {
		s.logger.Debug("connection stable", "peer", ps.id)
	}
	s.updateHealth()
}

// sleepCtx waits for the duration or the context, reporting false when the
// context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
