package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/persistence"
	"github.com/relink-protocol/relink-go/pkg/relay"
	"github.com/relink-protocol/relink-go/pkg/wire"
)

// Supervisor manages one relay client per peer, reconnects dropped peers,
// grades the active peer's health and persists the known-peer set.
//
// One mutex serializes all supervisor state. Timer callbacks and client
// state callbacks re-enter through it; client operations that can block are
// always performed with the mutex released.
type Supervisor struct {
	config Config
	logger *slog.Logger
	id     string

	// handshakeSem serializes registration handshakes across all peers.
	handshakeSem *semaphore.Weighted

	closeCh chan struct{}
	netDone chan struct{}

	mu              sync.Mutex
	closed          bool
	peers           map[string]*peerState
	activePeer      string
	foregrounded    bool
	resetInProgress bool
	cycling         bool
	switchHoldUntil time.Time
	health          Health
	graceTimer      *time.Timer
	plog            log.Logger

	onEvent        func(peerID string, ev wire.RelayEventPayload)
	onBinary       func(peerID, sessionID string, payload []byte)
	onStateChange  func(peerID string, oldState, newState relay.State)
	onHealthChange func(oldHealth, newHealth Health)
	onReset        func(reason string)
}

// peerState is the supervisor's bookkeeping for one peer. All fields are
// guarded by the supervisor mutex.
type peerState struct {
	id      string
	client  PeerClient
	limiter *rate.Limiter

	// known marks peers that connected successfully at least once or were
	// restored from the persisted set. Only known peers are reconnected
	// automatically and persisted.
	known bool

	attempt          *peerAttempt
	reconnect        *reconnectState
	stabilityTimer   *time.Timer
	stabilityPending bool
}

// peerAttempt is one in-flight AddConnection attempt. err is written before
// done is closed, so joiners may read it after the channel closes.
type peerAttempt struct {
	done chan struct{}
	err  error
}

// New creates a supervisor. When no client factory is configured the Relay
// template must carry a URL, client id and token provider.
func New(config Config) (*Supervisor, error) {
	if config.NewClient == nil {
		if config.Relay.URL == "" {
			return nil, errors.New("relay url is required")
		}
		if config.Relay.ClientID == "" {
			return nil, errors.New("client id is required")
		}
		if config.Relay.Tokens == nil {
			return nil, errors.New("token provider is required")
		}
	}
	config.applyDefaults()

	s := &Supervisor{
		config:       config,
		logger:       config.Logger,
		id:           uuid.NewString(),
		handshakeSem: semaphore.NewWeighted(1),
		closeCh:      make(chan struct{}),
		peers:        make(map[string]*peerState),
		foregrounded: true,
		plog:         config.ProtocolLog,
	}
	if config.Network != nil {
		s.netDone = make(chan struct{})
		go s.watchNetwork(config.Network.Events())
	}
	return s, nil
}

// AddConnection connects to a peer. Concurrent calls for the same peer join
// the in-flight attempt and observe its result; only one handshake runs. A
// connected client is verified with a ping and reused; a failing one is
// discarded and rebuilt. On success the peer is persisted and becomes the
// active peer if none is set.
func (s *Supervisor) AddConnection(ctx context.Context, peerID string) error {
	if peerID == "" {
		return errors.New("peer id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSupervisorClosed
	}
	ps := s.ensurePeerLocked(peerID)
	if ps.attempt != nil {
		attempt := ps.attempt
		s.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	attempt := &peerAttempt{done: make(chan struct{})}
	ps.attempt = attempt
	s.mu.Unlock()

	err := s.runAttempt(ctx, ps)

	s.mu.Lock()
	attempt.err = err
	if ps.attempt == attempt {
		ps.attempt = nil
	}
	s.mu.Unlock()
	close(attempt.done)

	if err != nil {
		s.logger.Warn("connection attempt failed", "peer", peerID, "error", err)
		// Known peers fall back to the reconnection policy unless the
		// failure cannot be retried or the caller gave up.
		if ctx.Err() == nil && !relay.IsNonRetryable(err) {
			s.scheduleReconnect(peerID)
		}
	}
	return err
}

// runAttempt performs one AddConnection attempt end to end: token check,
// cooldown, handshake permit, reuse-or-rebuild, connect.
func (s *Supervisor) runAttempt(ctx context.Context, ps *peerState) error {
	if s.config.Relay.Tokens != nil {
		if _, err := s.config.Relay.Tokens.GetValidToken(ctx); err != nil {
			return fmt.Errorf("get token: %w", err)
		}
	}

	if err := s.waitCooldown(ctx, ps); err != nil {
		return err
	}

	if err := s.handshakeSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.handshakeSem.Release(1)

	s.mu.Lock()
	s.cancelReconnectLocked(ps)
	client := ps.client
	s.mu.Unlock()

	if client != nil && client.State() == relay.StateConnected {
		vctx, cancel := context.WithTimeout(ctx, s.config.VerifyTimeout)
		_, err := client.Call(vctx, "system.ping", nil, s.config.VerifyTimeout)
		cancel()
		if err == nil {
			s.logger.Debug("reusing verified connection", "peer", ps.id)
			s.finishConnect(ps)
			return nil
		}
		s.logger.Info("existing connection failed verification, rebuilding",
			"peer", ps.id, "error", err)
		_ = client.Close()
		s.mu.Lock()
		if ps.client == client {
			ps.client = nil
		}
		s.mu.Unlock()
	}

	client, err := s.ensureClient(ps)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	s.finishConnect(ps)
	return nil
}

// waitCooldown spaces attempts for a peer that is already mid-connect or
// retrying. Idle peers connect immediately.
func (s *Supervisor) waitCooldown(ctx context.Context, ps *peerState) error {
	s.mu.Lock()
	client := ps.client
	limiter := ps.limiter
	s.mu.Unlock()

	if client == nil {
		return nil
	}
	switch client.State() {
	case relay.StateConnecting, relay.StateHandshaking, relay.StateAuthenticating, relay.StateReconnecting:
		return limiter.Wait(ctx)
	}
	return nil
}

// ensureClient returns the peer's client, building and wiring a new one
// when none exists.
func (s *Supervisor) ensureClient(ps *peerState) (PeerClient, error) {
	s.mu.Lock()
	if ps.client != nil {
		client := ps.client
		s.mu.Unlock()
		return client, nil
	}
	plog := s.plog
	s.mu.Unlock()

	client, err := s.buildClient(ps.id)
	if err != nil {
		return nil, err
	}
	peerID := ps.id
	client.OnStateChange(func(oldState, newState relay.State) {
		s.handlePeerStateChange(peerID, oldState, newState)
	})
	client.OnEvent(func(ev wire.RelayEventPayload) {
		s.dispatchEvent(peerID, ev)
	})
	client.OnBinary(func(sessionID string, payload []byte) {
		s.dispatchBinary(peerID, sessionID, payload)
	})
	if plog != nil {
		client.SetProtocolLogger(plog)
	}

	s.mu.Lock()
	if ps.client == nil {
		ps.client = client
		s.mu.Unlock()
		return client, nil
	}
	existing := ps.client
	s.mu.Unlock()
	_ = client.Close()
	return existing, nil
}

func (s *Supervisor) buildClient(peerID string) (PeerClient, error) {
	if s.config.NewClient != nil {
		return s.config.NewClient(peerID)
	}
	cfg := s.config.Relay
	cfg.PeerID = peerID
	return relay.New(cfg)
}

func (s *Supervisor) ensurePeerLocked(peerID string) *peerState {
	ps := s.peers[peerID]
	if ps == nil {
		ps = &peerState{
			id:      peerID,
			limiter: rate.NewLimiter(rate.Every(s.config.AttemptCooldown), 1),
		}
		s.peers[peerID] = ps
	}
	return ps
}

// finishConnect records a successful connection: the peer becomes known and
// active-if-none, its reconnect counters are cleared and the set is
// persisted.
func (s *Supervisor) finishConnect(ps *peerState) {
	s.mu.Lock()
	first := !ps.known
	ps.known = true
	if s.activePeer == "" {
		s.activePeer = ps.id
	}
	if ps.reconnect != nil && !ps.reconnect.running {
		ps.reconnect = nil
	}
	s.mu.Unlock()

	if first {
		s.logger.Info("peer connected", "peer", ps.id)
	}
	s.persistPeers()
	s.updateHealth()
}

// persistPeers writes the current known-peer set to the store.
func (s *Supervisor) persistPeers() {
	if s.config.Peers == nil {
		return
	}
	s.mu.Lock()
	set := &persistence.PeerSet{
		ServerURL:    s.config.Relay.URL,
		ActivePeerID: s.activePeer,
	}
	for id, ps := range s.peers {
		if ps.known {
			set.PeerIDs = append(set.PeerIDs, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(set.PeerIDs)
	if err := s.config.Peers.Save(set); err != nil {
		s.logger.Warn("persist peer set", "error", err)
	}
}

// RemoveConnection disconnects a peer on user request, discards its resume
// credential and removes it from the persisted set. Removing an unknown
// peer is a no-op.
func (s *Supervisor) RemoveConnection(peerID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSupervisorClosed
	}
	ps := s.peers[peerID]
	if ps == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancelReconnectLocked(ps)
	s.cancelStabilityLocked(ps)
	delete(s.peers, peerID)
	if s.activePeer == peerID {
		s.promoteActiveLocked()
	}
	s.mu.Unlock()

	if ps.client != nil {
		if err := ps.client.Disconnect(true); err != nil {
			s.logger.Debug("disconnect removed peer", "peer", peerID, "error", err)
		}
		_ = ps.client.Close()
	} else if s.config.Relay.Credentials != nil {
		_ = s.config.Relay.Credentials.Delete(peerID)
	}

	s.logger.Info("peer removed", "peer", peerID)
	s.persistPeers()
	s.updateHealth()
	return nil
}

// promoteActiveLocked moves the active slot to the first remaining known
// peer, or clears it when none remain.
func (s *Supervisor) promoteActiveLocked() {
	s.activePeer = ""
	var ids []string
	for id, ps := range s.peers {
		if ps.known {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)
	s.activePeer = ids[0]
}

// SwitchActiveDevice connects the target peer if needed, makes it the
// active peer and removes every other peer. The removed peers keep their
// resume credentials so switching back is cheap.
func (s *Supervisor) SwitchActiveDevice(ctx context.Context, peerID string) error {
	if err := s.AddConnection(ctx, peerID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSupervisorClosed
	}
	s.activePeer = peerID
	var removed []*peerState
	for id, ps := range s.peers {
		if id == peerID {
			continue
		}
		s.cancelReconnectLocked(ps)
		s.cancelStabilityLocked(ps)
		delete(s.peers, id)
		removed = append(removed, ps)
	}
	s.mu.Unlock()

	for _, ps := range removed {
		if ps.client == nil {
			continue
		}
		if err := ps.client.Disconnect(false); err != nil {
			s.logger.Debug("disconnect replaced peer", "peer", ps.id, "error", err)
		}
		_ = ps.client.Close()
	}

	s.logger.Info("active device switched", "peer", peerID, "removed", len(removed))
	s.persistPeers()
	s.updateHealth()
	return nil
}

// RestoreConnections loads the persisted peer set and reconnects each peer,
// the previously active one first. A stored set that belongs to a different
// relay triggers a hard reset instead. Restored peers that fail to connect
// stay known and are retried by the reconnection policy.
func (s *Supervisor) RestoreConnections(ctx context.Context) error {
	if s.config.Peers == nil {
		return nil
	}
	set, err := s.config.Peers.Load()
	if err != nil {
		return fmt.Errorf("load peer set: %w", err)
	}
	if set == nil || len(set.PeerIDs) == 0 {
		s.logger.Debug("no persisted peers to restore")
		return nil
	}
	if set.ServerURL != "" && set.ServerURL != s.config.Relay.URL {
		s.logger.Warn("persisted peers belong to a different relay, resetting",
			"stored", set.ServerURL, "configured", s.config.Relay.URL)
		s.HardReset("relay url changed")
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSupervisorClosed
	}
	for _, id := range set.PeerIDs {
		s.ensurePeerLocked(id).known = true
	}
	if set.ActivePeerID != "" && set.Contains(set.ActivePeerID) {
		s.activePeer = set.ActivePeerID
	}
	s.mu.Unlock()

	order := make([]string, 0, len(set.PeerIDs))
	if set.ActivePeerID != "" && set.Contains(set.ActivePeerID) {
		order = append(order, set.ActivePeerID)
	}
	for _, id := range set.PeerIDs {
		if id != set.ActivePeerID {
			order = append(order, id)
		}
	}

	var firstErr error
	for _, peerID := range order {
		if err := s.AddConnection(ctx, peerID); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("restore %s: %w", peerID, err)
			}
		}
	}
	return firstErr
}

// SetForegrounded records whether the embedding application is in the
// foreground. Background retry only runs while foregrounded; the
// background-to-foreground edge nudges disconnected peers immediately.
func (s *Supervisor) SetForegrounded(foregrounded bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	was := s.foregrounded
	s.foregrounded = foregrounded
	var nudge []string
	if foregrounded && !was {
		for id, ps := range s.peers {
			if !ps.known || ps.client == nil {
				continue
			}
			if ps.reconnect != nil && ps.reconnect.running {
				continue
			}
			switch ps.client.State() {
			case relay.StateDisconnected, relay.StateReconnecting:
				nudge = append(nudge, id)
			}
		}
	}
	s.mu.Unlock()

	s.logger.Debug("foreground state changed", "foregrounded", foregrounded)
	for _, id := range nudge {
		s.scheduleReconnect(id)
	}
}

// HandleAuthInvalidated reacts to the application's auth session becoming
// invalid: every relay session derived from it is untrusted, so reset.
func (s *Supervisor) HandleAuthInvalidated() {
	s.HardReset("auth invalidated")
}

// HardReset tears down every client, wipes persisted credentials and the
// peer set, clears the active peer and notifies the reset callback. Calls
// made while a reset is in progress are ignored.
func (s *Supervisor) HardReset(reason string) {
	s.mu.Lock()
	if s.closed || s.resetInProgress {
		s.mu.Unlock()
		return
	}
	s.resetInProgress = true
	peers := make([]*peerState, 0, len(s.peers))
	for _, ps := range s.peers {
		s.cancelReconnectLocked(ps)
		s.cancelStabilityLocked(ps)
		peers = append(peers, ps)
	}
	s.peers = make(map[string]*peerState)
	s.activePeer = ""
	s.stopGraceLocked()
	s.mu.Unlock()

	s.logger.Warn("hard reset", "reason", reason, "peers", len(peers))
	s.plogState("", log.StateEntityReconnect, "", "reset", reason)

	for _, ps := range peers {
		if ps.client == nil {
			continue
		}
		if err := ps.client.Disconnect(false); err != nil {
			s.logger.Debug("disconnect during reset", "peer", ps.id, "error", err)
		}
		_ = ps.client.Close()
	}

	if s.config.Relay.Credentials != nil {
		if err := s.config.Relay.Credentials.DeleteAll(); err != nil {
			s.logger.Warn("wipe credentials", "error", err)
		}
	}
	if s.config.Peers != nil {
		if err := s.config.Peers.Clear(); err != nil {
			s.logger.Warn("clear peer set", "error", err)
		}
	}

	s.mu.Lock()
	s.resetInProgress = false
	cb := s.onReset
	s.mu.Unlock()

	s.updateHealth()
	if cb != nil {
		cb(reason)
	}
}

// Close shuts the supervisor down and closes every client. Safe to call
// more than once.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	var clients []PeerClient
	for _, ps := range s.peers {
		s.cancelReconnectLocked(ps)
		s.cancelStabilityLocked(ps)
		if ps.client != nil {
			clients = append(clients, ps.client)
		}
	}
	s.stopGraceLocked()
	s.mu.Unlock()

	for _, client := range clients {
		_ = client.Close()
	}
	if s.netDone != nil {
		<-s.netDone
	}
	return nil
}

// handlePeerStateChange is re-entered by client callbacks on every state
// transition.
func (s *Supervisor) handlePeerStateChange(peerID string, oldState, newState relay.State) {
	s.mu.Lock()
	cb := s.onStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(peerID, oldState, newState)
	}

	switch newState {
	case relay.StateDisconnected:
		s.mu.Lock()
		s.scheduleReconnectLocked(peerID)
		s.mu.Unlock()
	case relay.StateFailed:
		s.logger.Warn("peer connection failed", "peer", peerID)
	}
	s.updateHealth()
}

func (s *Supervisor) dispatchEvent(peerID string, ev wire.RelayEventPayload) {
	s.mu.Lock()
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(peerID, ev)
	}
}

func (s *Supervisor) dispatchBinary(peerID, sessionID string, payload []byte) {
	s.mu.Lock()
	cb := s.onBinary
	s.mu.Unlock()
	if cb != nil {
		cb(peerID, sessionID, payload)
	}
}

// Invoke starts a call on the given peer and returns its response stream.
func (s *Supervisor) Invoke(ctx context.Context, peerID string, req wire.RPCRequest, timeout time.Duration) (*relay.CallStream, error) {
	client, err := s.clientFor(peerID)
	if err != nil {
		return nil, err
	}
	return client.Invoke(ctx, req, timeout)
}

// Call performs a single-response call on the given peer.
func (s *Supervisor) Call(ctx context.Context, peerID, method string, params any, timeout time.Duration) (*wire.RPCResponse, error) {
	client, err := s.clientFor(peerID)
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, method, params, timeout)
}

func (s *Supervisor) clientFor(peerID string) (PeerClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSupervisorClosed
	}
	ps := s.peers[peerID]
	if ps == nil || ps.client == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, peerID)
	}
	return ps.client, nil
}

// ActivePeer returns the id of the active peer, empty when none.
func (s *Supervisor) ActivePeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePeer
}

// State returns the connection state of a peer. Unknown peers read as
// disconnected.
func (s *Supervisor) State(peerID string) relay.State {
	client, err := s.clientFor(peerID)
	if err != nil {
		return relay.StateDisconnected
	}
	return client.State()
}

// Handshake returns the established session parameters for a peer, nil when
// the peer is not connected.
func (s *Supervisor) Handshake(peerID string) *relay.Handshake {
	client, err := s.clientFor(peerID)
	if err != nil {
		return nil
	}
	return client.Handshake()
}

// Peers returns the known peers in sorted order.
func (s *Supervisor) Peers() []string {
	s.mu.Lock()
	var ids []string
	for id, ps := range s.peers {
		if ps.known {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// OnEvent registers a callback for peer events from any connection.
func (s *Supervisor) OnEvent(fn func(peerID string, ev wire.RelayEventPayload)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = fn
}

// OnBinary registers a callback for binary frames from any connection.
func (s *Supervisor) OnBinary(fn func(peerID, sessionID string, payload []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onBinary = fn
}

// OnStateChange registers a callback for per-peer connection state
// transitions.
func (s *Supervisor) OnStateChange(fn func(peerID string, oldState, newState relay.State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnHealthChange registers a callback for health grade transitions.
func (s *Supervisor) OnHealthChange(fn func(oldHealth, newHealth Health)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHealthChange = fn
}

// OnReset registers the hard-reset notification callback. The application
// uses it to fall back to fresh pairing.
func (s *Supervisor) OnReset(fn func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReset = fn
}

// SetProtocolLogger attaches a protocol event logger to the supervisor and
// to every existing client. Clients created later inherit it.
func (s *Supervisor) SetProtocolLogger(l log.Logger) {
	s.mu.Lock()
	s.plog = l
	var clients []PeerClient
	for _, ps := range s.peers {
		if ps.client != nil {
			clients = append(clients, ps.client)
		}
	}
	s.mu.Unlock()

	for _, client := range clients {
		client.SetProtocolLogger(l)
	}
}

// plogState emits a supervisor-level state change to the protocol log.
func (s *Supervisor) plogState(peerID string, entity log.StateEntity, oldState, newState, reason string) {
	s.mu.Lock()
	plog := s.plog
	s.mu.Unlock()
	if plog == nil {
		return
	}
	plog.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: s.id,
		Layer:        log.LayerSession,
		Category:     log.CategoryState,
		PeerID:       peerID,
		ServerURL:    s.config.Relay.URL,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}
