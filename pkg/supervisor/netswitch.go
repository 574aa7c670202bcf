package supervisor

import (
	"time"

	"github.com/relink-protocol/relink-go/pkg/netmon"
	"github.com/relink-protocol/relink-go/pkg/relay"
)

// watchNetwork consumes path change notifications until the supervisor
// closes. The subscription is established in New, before this goroutine
// starts, so changes arriving right after construction are not missed.
// Pure usability flaps are ignored here; they only gate background
// retry.
func (s *Supervisor) watchNetwork(events <-chan netmon.Event) {
	defer close(s.netDone)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.InterfaceChanged {
				continue
			}
			s.handleInterfaceSwitch(ev)
		case <-s.closeCh:
			return
		}
	}
}

// handleInterfaceSwitch cycles all connections onto the new network path:
// drop preserving credentials, wait for the path to settle, reconnect. A
// burst of notifications within the debounce window collapses into the
// first one.
func (s *Supervisor) handleInterfaceSwitch(ev netmon.Event) {
	s.mu.Lock()
	now := time.Now()
	if s.closed || s.resetInProgress {
		s.mu.Unlock()
		return
	}
	if now.Before(s.switchHoldUntil) {
		s.mu.Unlock()
		s.logger.Debug("interface switch debounced", "interface", ev.Status.Interface)
		return
	}
	s.switchHoldUntil = now.Add(s.config.SwitchDebounce)
	s.cycling = true
	var targets []*peerState
	for _, ps := range s.peers {
		if ps.known && ps.client != nil {
			targets = append(targets, ps)
		}
	}
	s.mu.Unlock()

	s.logger.Info("network interface changed, cycling connections",
		"interface", ev.Status.Interface, "peers", len(targets))

	for _, ps := range targets {
		s.mu.Lock()
		s.cancelReconnectLocked(ps)
		s.cancelStabilityLocked(ps)
		if ps.reconnect != nil {
			ps.reconnect.backoff.Reset()
			ps.reconnect.aborted = false
		}
		client := ps.client
		s.mu.Unlock()

		switch client.State() {
		case relay.StateConnected, relay.StateConnecting, relay.StateHandshaking,
			relay.StateAuthenticating, relay.StateReconnecting:
			if err := client.Disconnect(false); err != nil {
				s.logger.Debug("disconnect for interface switch",
					"peer", ps.id, "error", err)
			}
		}
	}

	if !s.settle() {
		return
	}

	s.mu.Lock()
	s.cycling = false
	var ids []string
	for id, ps := range s.peers {
		if ps.known {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.scheduleReconnect(id)
	}
}

// settle pauses for the configured delay so the new path can come up,
// reporting false when the supervisor closed instead.
func (s *Supervisor) settle() bool {
	t := time.NewTimer(s.config.SwitchSettleDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.closeCh:
		s.mu.Lock()
		s.cycling = false
		s.mu.Unlock()
		return false
	}
}
