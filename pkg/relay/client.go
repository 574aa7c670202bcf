package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/relink-protocol/relink-go/pkg/auth"
	"github.com/relink-protocol/relink-go/pkg/credentials"
	"github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/transport"
	"github.com/relink-protocol/relink-go/pkg/wire"
)

// Client maintains one relay connection to one peer. A Client performs a
// single connection attempt per Connect call; retry policy lives with the
// caller (typically the supervisor).
//
// All methods are safe for concurrent use. Callbacks are invoked from the
// client's internal goroutines and must not block.
type Client struct {
	config Config
	logger *slog.Logger
	dialer *transport.Dialer

	// connectionID identifies this client instance in protocol logs.
	connectionID string

	mu          sync.Mutex
	state       State
	stateNotify chan struct{} // closed and replaced on every state change
	lastErr     error
	handshake   *Handshake
	conn        *transport.Conn
	userID      string
	lastEventID string
	regTimer    *time.Timer
	attempt     *connectAttempt
	closed      bool

	livenessStop chan struct{}
	lastInbound  atomic.Int64

	queue *sendQueue

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	cbMu          sync.Mutex
	onStateChange func(old, new State)
	onEvent       func(wire.RelayEventPayload)
	onBinary      func(sessionID string, payload []byte)
	listeners     map[string][]func(wire.RelayEventPayload)

	plogMu       sync.Mutex
	plog         log.Logger
	logSessionID string
}

// connectAttempt resolves exactly one Connect call. The channel is buffered
// so late resolution never blocks.
type connectAttempt struct {
	done chan error
}

// New creates a relay client for one peer. The configuration must carry the
// relay URL, the peer and client ids and a token provider; everything else
// has defaults.
func New(config Config) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidURL)
	}
	if _, err := resolveURL(config.URL); err != nil {
		return nil, err
	}
	if config.PeerID == "" {
		return nil, errors.New("peer id is required")
	}
	if config.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if config.Tokens == nil {
		return nil, errors.New("token provider is required")
	}
	config.applyDefaults()

	return &Client{
		config:       config,
		logger:       config.Logger,
		dialer:       transport.NewDialer(config.Transport),
		connectionID: uuid.NewString(),
		state:        StateDisconnected,
		stateNotify:  make(chan struct{}),
		queue:        newSendQueue(config.QueueCapacity),
		pending:      make(map[string]*pendingCall),
		listeners:    make(map[string][]func(wire.RelayEventPayload)),
	}, nil
}

// resolveURL validates the relay URL and maps http schemes to their
// websocket equivalents.
func resolveURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u.String(), nil
}

// Connect performs a single connection attempt: obtain a token, dial,
// register, wait for the relay's acknowledgment. Any existing transport is
// forcibly closed first. Connect returns once the session is established,
// the attempt fails, or ctx is done; it never retries.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.attempt != nil {
		c.mu.Unlock()
		return &StateError{Reason: "connect already in progress"}
	}
	stale := c.teardownLocked()
	attempt := &connectAttempt{done: make(chan error, 1)}
	c.attempt = attempt
	c.mu.Unlock()

	if stale != nil {
		_ = stale.ForceClose()
	}
	c.setState(StateConnecting, nil)

	if err := c.dialAndRegister(ctx); err != nil {
		c.abortAttempt(err)
		return err
	}

	select {
	case err := <-attempt.done:
		return err
	case <-ctx.Done():
		c.abortAttempt(ctx.Err())
		return ctx.Err()
	}
}

// dialAndRegister opens the transport and sends the register message. The
// registration acknowledgment is handled asynchronously by the read pump.
func (c *Client) dialAndRegister(ctx context.Context) error {
	token, err := c.config.Tokens.GetValidToken(ctx)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}

	wsURL, err := resolveURL(c.config.URL)
	if err != nil {
		return err
	}

	conn, err := c.dialer.Dial(ctx, wsURL, c.buildHeader(token))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.ForceClose()
		return ErrClientClosed
	}
	c.conn = conn
	c.userID = token.UserID
	c.mu.Unlock()

	conn.SetOnText(c.handleFrame)
	conn.SetOnBinary(c.handleBinaryFrame)
	conn.SetOnClose(func(err error) {
		c.handleTransportClosed(conn, err)
	})
	conn.Start()

	return c.sendRegister(false)
}

func (c *Client) buildHeader(token *auth.Token) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token.AccessToken)
	h.Set("X-Device-ID", c.config.ClientID)
	h.Set("X-Token-Binding", c.config.ClientID)
	h.Set("X-Client-Type", c.config.ClientType)
	return h
}

// sendRegister sends the register envelope. With fresh set, stored resume
// credentials are ignored and the client passes through
// StateAuthenticating; otherwise a stored credential is attached and the
// client enters StateHandshaking.
func (c *Client) sendRegister(fresh bool) error {
	p := wire.RegisterPayload{
		DeviceID:   c.config.ClientID,
		DeviceName: c.config.ClientName,
	}
	if !fresh {
		if cred, err := c.config.Credentials.Retrieve(c.config.PeerID); err == nil && !cred.Expired(time.Now()) {
			p.SessionID = cred.SessionID
			p.ResumeToken = cred.ResumeToken
			c.mu.Lock()
			p.LastEventID = c.lastEventID
			c.mu.Unlock()
		}
	}

	env, err := wire.NewRegister(p)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	data, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	if fresh {
		c.setState(StateAuthenticating, nil)
	} else {
		c.setState(StateHandshaking, nil)
	}
	c.logEnvelope(log.DirectionOut, env, len(data))
	if err := c.sendDirect(data); err != nil {
		return err
	}
	c.armRegistrationTimer()
	return nil
}

func (c *Client) armRegistrationTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.regTimer != nil {
		c.regTimer.Stop()
	}
	c.regTimer = time.AfterFunc(c.config.RegistrationTimeout, c.onRegistrationTimeout)
}

func (c *Client) onRegistrationTimeout() {
	c.mu.Lock()
	if c.attempt == nil {
		c.mu.Unlock()
		return
	}
	conn := c.teardownLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.ForceClose()
	}
	err := fmt.Errorf("%w: no registration ack within %s", ErrTimeout, c.config.RegistrationTimeout)
	c.failPendingCalls(ErrDisconnected)
	c.setState(StateDisconnected, err)
	c.resolveAttempt(err)
}

// Disconnect deliberately tears the connection down. A user-initiated
// disconnect also clears resume credentials and the event replay cursor; a
// programmatic one keeps them so the next attempt can resume the session.
func (c *Client) Disconnect(userInitiated bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	conn := c.teardownLocked()
	c.mu.Unlock()

	c.setState(StateClosing, nil)
	if conn != nil {
		_ = conn.Close()
	}
	c.failPendingCalls(ErrDisconnected)

	if userInitiated {
		if err := c.config.Credentials.Delete(c.config.PeerID); err != nil {
			c.logger.Warn("clear resume credential",
				"peer", c.config.PeerID,
				"error", err)
		}
		c.mu.Lock()
		c.lastEventID = ""
		c.mu.Unlock()
	}

	c.setState(StateDisconnected, nil)
	c.resolveAttempt(ErrDisconnected)
	return nil
}

// Close disconnects and permanently shuts the client down. Further
// operations return ErrClientClosed. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := c.Disconnect(false)
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}

// MarkReconnecting records that the caller's retry loop owns the connection
// until the next Connect. It is a no-op outside StateDisconnected and
// StateReconnecting; the client itself never retries.
func (c *Client) MarkReconnecting(cause error) {
	c.mu.Lock()
	st := c.state
	c.mu.Unlock()
	if st != StateDisconnected && st != StateReconnecting {
		return
	}
	c.setState(StateReconnecting, cause)
}

// SendMessage sends an envelope of the given type. While the connection is
// not usable the message is queued and flushed after the next successful
// registration.
func (c *Client) SendMessage(msgType wire.MessageType, payload any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	sanitized, err := wire.Sanitize(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	env, err := wire.NewEnvelope(msgType, sanitized)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	data, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	c.logEnvelope(log.DirectionOut, env, len(data))
	return c.deliver(env, data)
}

// deliver writes an encoded envelope to the transport, or queues it while
// the connection is not usable. A hard write failure tears the transport
// down.
func (c *Client) deliver(env *wire.Envelope, data []byte) error {
	c.mu.Lock()
	conn := c.conn
	usable := c.state == StateConnected
	c.mu.Unlock()

	if !usable || conn == nil {
		if evicted := c.queue.Append(env); evicted {
			c.logger.Debug("send queue full, evicted oldest message",
				"peer", c.config.PeerID)
		}
		return nil
	}
	if err := conn.Send(data); err != nil {
		if errors.Is(err, transport.ErrConnectionClosed) {
			c.queue.Append(env)
			return nil
		}
		werr := fmt.Errorf("%w: %v", ErrNetwork, err)
		c.handleTransportFailure(werr)
		return werr
	}
	return nil
}

// sendDirect writes to the transport without queueing. Used for messages
// that are only meaningful on a live transport (register, pong).
func (c *Client) sendDirect(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return nil
}

// flushQueue sends messages queued while disconnected, oldest first.
func (c *Client) flushQueue() {
	items := c.queue.Drain()
	if len(items) == 0 {
		return
	}
	c.logger.Debug("flushing queued messages",
		"peer", c.config.PeerID,
		"count", len(items))
	for i, env := range items {
		data, err := wire.Encode(env)
		if err != nil {
			continue
		}
		c.logEnvelope(log.DirectionOut, env, len(data))
		if err := c.deliver(env, data); err != nil {
			for _, rest := range items[i+1:] {
				c.queue.Append(rest)
			}
			return
		}
	}
}

// waitUsable blocks until the connection is usable, bounded by the
// configured wait. Mid-handshake the bound is shorter: the handshake
// outcome is imminent either way.
func (c *Client) waitUsable(ctx context.Context) error {
	c.mu.Lock()
	st := c.state
	ch := c.stateNotify
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClientClosed
	}
	switch st {
	case StateConnected:
		return nil
	case StateFailed, StateClosing:
		return ErrNotConnected
	}

	wait := c.config.UsableWait
	if st == StateHandshaking || st == StateAuthenticating {
		wait = c.config.HandshakeWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return ErrNotConnected
		case <-ch:
		}

		c.mu.Lock()
		st = c.state
		ch = c.stateNotify
		closed = c.closed
		c.mu.Unlock()

		if closed {
			return ErrClientClosed
		}
		switch st {
		case StateConnected:
			return nil
		case StateFailed, StateClosing:
			return ErrNotConnected
		}
	}
}

// handleFrame routes one inbound text frame.
func (c *Client) handleFrame(data []byte) {
	c.touchInbound()

	env, err := wire.Decode(data)
	if err != nil {
		c.logger.Debug("undecodable frame",
			"peer", c.config.PeerID,
			"error", err)
		c.logError(log.LayerWire, err.Error(), "", "decode frame")
		return
	}
	c.logEnvelope(log.DirectionIn, env, len(data))

	switch env.Type {
	case wire.TypeRegistered:
		c.handleSessionAck(env, false)
	case wire.TypeResumed:
		c.handleSessionAck(env, true)
	case wire.TypeSession:
		c.handleSessionRefresh(env)
	case wire.TypeRelayResponse:
		var p wire.RelayResponsePayload
		if err := env.DecodePayload(&p); err != nil {
			c.logError(log.LayerWire, err.Error(), "", "decode relay_response")
			return
		}
		c.handleRelayResponse(&p.Response, len(data))
	case wire.TypeRelayEvent:
		var p wire.RelayEventPayload
		if err := env.DecodePayload(&p); err != nil {
			c.logError(log.LayerWire, err.Error(), "", "decode relay_event")
			return
		}
		c.handleRelayEvent(p)
	case wire.TypePing:
		c.handlePing()
	case wire.TypePong, wire.TypeHeartbeat:
		// Liveness already accounted for by touchInbound.
	case wire.TypeError:
		var p wire.ErrorPayload
		if err := env.DecodePayload(&p); err != nil {
			c.logError(log.LayerWire, err.Error(), "", "decode error payload")
			return
		}
		c.handleServerError(p)
	default:
		c.logger.Debug("unhandled message type",
			"peer", c.config.PeerID,
			"type", string(env.Type))
	}
}

// handleBinaryFrame publishes a binary frame on the byte stream. Binary
// frames are never parsed as JSON; the PTC1 session id extraction is best
// effort.
func (c *Client) handleBinaryFrame(data []byte) {
	c.touchInbound()
	sessionID, payload := wire.DecodeBinary(data)

	c.plogEvent(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Frame:     log.NewFrameEvent(data),
	})

	c.cbMu.Lock()
	cb := c.onBinary
	c.cbMu.Unlock()
	if cb != nil {
		cb(sessionID, payload)
	}
}

// handleSessionAck completes the handshake on registered or resumed. Acks
// arriving outside a handshake (after a registration timeout already tore
// the attempt down) are ignored.
func (c *Client) handleSessionAck(env *wire.Envelope, resumed bool) {
	var p wire.SessionPayload
	if err := env.DecodePayload(&p); err != nil {
		c.logError(log.LayerWire, err.Error(), "", "decode session payload")
		return
	}

	c.mu.Lock()
	valid := c.conn != nil && (c.state == StateHandshaking || c.state == StateAuthenticating)
	c.mu.Unlock()
	if !valid {
		c.logger.Debug("session ack outside handshake ignored",
			"peer", c.config.PeerID)
		return
	}

	cred := credentials.ResumeCredential{
		SessionID:   p.SessionID,
		ResumeToken: p.ResumeToken,
		ExpiresAt:   p.ExpiresAt,
	}
	if resumed {
		// A resume only extends the credential lifetime; session id and
		// token are unchanged.
		if prev, err := c.config.Credentials.Retrieve(c.config.PeerID); err == nil {
			cred.SessionID = prev.SessionID
			cred.ResumeToken = prev.ResumeToken
			if p.ExpiresAt != nil {
				cred.ExpiresAt = p.ExpiresAt
			} else {
				cred.ExpiresAt = prev.ExpiresAt
			}
		}
	}
	if err := c.config.Credentials.Store(c.config.PeerID, cred); err != nil {
		c.logger.Warn("store resume credential",
			"peer", c.config.PeerID,
			"error", err)
	}

	c.mu.Lock()
	if c.regTimer != nil {
		c.regTimer.Stop()
		c.regTimer = nil
	}
	c.handshake = &Handshake{
		SessionID:      cred.SessionID,
		ClientID:       c.config.ClientID,
		TransportLabel: TransportLabelRelay,
	}
	c.startLivenessLocked()
	c.mu.Unlock()

	c.setLogSession(cred.SessionID)
	c.logger.Info("session established",
		"peer", c.config.PeerID,
		"session_id", cred.SessionID,
		"resumed", resumed)
	c.setState(StateConnected, nil)
	c.resolveAttempt(nil)
	c.flushQueue()
}

// handleSessionRefresh replaces the stored credential without a state
// change.
func (c *Client) handleSessionRefresh(env *wire.Envelope) {
	var p wire.SessionPayload
	if err := env.DecodePayload(&p); err != nil {
		c.logError(log.LayerWire, err.Error(), "", "decode session payload")
		return
	}
	cred := credentials.ResumeCredential{
		SessionID:   p.SessionID,
		ResumeToken: p.ResumeToken,
		ExpiresAt:   p.ExpiresAt,
	}
	if err := c.config.Credentials.Store(c.config.PeerID, cred); err != nil {
		c.logger.Warn("store resume credential",
			"peer", c.config.PeerID,
			"error", err)
		return
	}
	c.setLogSession(p.SessionID)
	c.logger.Debug("session credential refreshed",
		"peer", c.config.PeerID,
		"session_id", p.SessionID)
}

// handleRelayEvent publishes an event to the general stream and to any
// dedicated listeners for its name or job class.
func (c *Client) handleRelayEvent(p wire.RelayEventPayload) {
	if p.EventID != "" {
		c.mu.Lock()
		c.lastEventID = p.EventID
		c.mu.Unlock()
	}

	c.cbMu.Lock()
	general := c.onEvent
	var dedicated []func(wire.RelayEventPayload)
	dedicated = append(dedicated, c.listeners[p.EventType]...)
	if strings.HasPrefix(p.EventType, wire.JobEventPrefix) {
		dedicated = append(dedicated, c.listeners[wire.JobEventPrefix]...)
	}
	c.cbMu.Unlock()

	if general != nil {
		general(p)
	}
	for _, fn := range dedicated {
		fn(p)
	}
}

func (c *Client) handlePing() {
	env := wire.Pong()
	data, err := wire.Encode(env)
	if err != nil {
		return
	}
	c.logEnvelope(log.DirectionOut, env, len(data))
	if err := c.sendDirect(data); err != nil {
		c.logger.Debug("pong send failed",
			"peer", c.config.PeerID,
			"error", err)
	}
}

// handleServerError classifies an error envelope. Non-retryable codes fail
// the connection outright; invalid_resume triggers a fresh registration on
// the same transport; everything else only records the error.
func (c *Client) handleServerError(p wire.ErrorPayload) {
	se := &ServerError{Code: p.Code, Message: p.Message}
	c.logError(log.LayerSession, p.Message, p.Code, "server error")

	if p.Code == wire.CodeInvalidResume {
		c.logger.Info("resume rejected, registering fresh",
			"peer", c.config.PeerID)
		if err := c.config.Credentials.Delete(c.config.PeerID); err != nil {
			c.logger.Warn("clear resume credential",
				"peer", c.config.PeerID,
				"error", err)
		}
		c.mu.Lock()
		st := c.state
		c.mu.Unlock()
		if st != StateHandshaking {
			return
		}
		if err := c.sendRegister(true); err != nil {
			c.handleTransportFailure(err)
		}
		return
	}

	if se.NonRetryable() {
		c.logger.Error("non-retryable server error",
			"peer", c.config.PeerID,
			"code", p.Code,
			"message", p.Message)
		c.failConnection(se)
		return
	}

	c.logger.Warn("server error",
		"peer", c.config.PeerID,
		"code", p.Code,
		"message", p.Message)
	c.mu.Lock()
	c.lastErr = se
	c.mu.Unlock()
}

// failConnection moves the client to StateFailed. Only explicit
// intervention (a fresh Connect, new credentials) leaves that state.
func (c *Client) failConnection(cause error) {
	c.mu.Lock()
	conn := c.teardownLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.ForceClose()
	}
	c.failPendingCalls(ErrDisconnected)
	c.setState(StateFailed, cause)
	c.resolveAttempt(cause)
}

// handleTransportFailure tears down after a local transport error (write
// failure, watchdog silence). The failure is retryable: the client returns
// to StateDisconnected.
func (c *Client) handleTransportFailure(cause error) {
	c.mu.Lock()
	conn := c.teardownLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.ForceClose()
	}
	c.failPendingCalls(ErrDisconnected)
	c.setState(StateDisconnected, cause)
	c.resolveAttempt(cause)
}

// handleTransportClosed runs when the read pump exits. Teardown initiated
// by this client clears c.conn first, so a mismatch means the close was
// already handled.
func (c *Client) handleTransportClosed(conn *transport.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.mu.Unlock()

	cause := error(ErrDisconnected)
	if err != nil {
		cause = fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	c.logger.Info("transport closed",
		"peer", c.config.PeerID,
		"error", err)
	c.failPendingCalls(ErrDisconnected)
	c.setState(StateDisconnected, cause)
	c.resolveAttempt(cause)
}

// teardownLocked detaches the current transport and stops the registration
// timer and liveness loop. Callers must hold c.mu and close the returned
// conn after releasing it.
func (c *Client) teardownLocked() *transport.Conn {
	conn := c.conn
	c.conn = nil
	c.handshake = nil
	c.stopLivenessLocked()
	if c.regTimer != nil {
		c.regTimer.Stop()
		c.regTimer = nil
	}
	return conn
}

// abortAttempt fails the in-flight Connect locally.
func (c *Client) abortAttempt(err error) {
	c.mu.Lock()
	conn := c.teardownLocked()
	c.attempt = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.ForceClose()
	}
	c.setState(StateDisconnected, err)
}

// resolveAttempt completes the in-flight Connect, if any.
func (c *Client) resolveAttempt(err error) {
	c.mu.Lock()
	attempt := c.attempt
	c.attempt = nil
	c.mu.Unlock()
	if attempt != nil {
		attempt.done <- err
	}
}

// setState transitions the connection state and notifies observers. cause,
// when set, becomes the last error even if the state does not change.
func (c *Client) setState(newState State, cause error) {
	c.mu.Lock()
	old := c.state
	if cause != nil {
		c.lastErr = cause
	}
	if old == newState {
		c.mu.Unlock()
		return
	}
	c.state = newState
	close(c.stateNotify)
	c.stateNotify = make(chan struct{})
	c.mu.Unlock()

	c.logger.Debug("connection state changed",
		"peer", c.config.PeerID,
		"from", old.String(),
		"to", newState.String())
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	c.plogEvent(log.Event{
		Direction: log.DirectionIn,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: old.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})

	c.cbMu.Lock()
	cb := c.onStateChange
	c.cbMu.Unlock()
	if cb != nil {
		cb(old, newState)
	}
}

func (c *Client) currentUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection error, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Handshake returns the established session descriptor, or nil while not
// connected.
func (c *Client) Handshake() *Handshake {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handshake == nil {
		return nil
	}
	h := *c.handshake
	return &h
}

// QueueLen returns the number of messages waiting for the connection to
// become usable.
func (c *Client) QueueLen() int {
	return c.queue.Len()
}

// PeerID returns the target peer of this client.
func (c *Client) PeerID() string {
	return c.config.PeerID
}

// ConnectionID returns the identifier used to correlate this client's
// protocol log events.
func (c *Client) ConnectionID() string {
	return c.connectionID
}

// OnStateChange sets the state transition callback.
func (c *Client) OnStateChange(fn func(old, new State)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onStateChange = fn
}

// OnEvent sets the callback receiving every relayed event.
func (c *Client) OnEvent(fn func(wire.RelayEventPayload)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onEvent = fn
}

// AddEventListener registers a dedicated listener for one event name, or
// for the whole job class when name is wire.JobEventPrefix.
func (c *Client) AddEventListener(name string, fn func(wire.RelayEventPayload)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.listeners[name] = append(c.listeners[name], fn)
}

// OnBinary sets the callback receiving binary frames with their best-effort
// session id.
func (c *Client) OnBinary(fn func(sessionID string, payload []byte)) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.onBinary = fn
}

// SetProtocolLogger attaches a protocol event logger. Pass nil to disable.
func (c *Client) SetProtocolLogger(l log.Logger) {
	c.plogMu.Lock()
	defer c.plogMu.Unlock()
	c.plog = l
}

func (c *Client) setLogSession(sessionID string) {
	c.plogMu.Lock()
	defer c.plogMu.Unlock()
	c.logSessionID = sessionID
}

// plogEvent stamps an event with the client's identity and hands it to the
// protocol logger.
func (c *Client) plogEvent(ev log.Event) {
	c.plogMu.Lock()
	plog := c.plog
	sessionID := c.logSessionID
	c.plogMu.Unlock()
	if plog == nil {
		return
	}

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.ConnectionID = c.connectionID
	if ev.PeerID == "" {
		ev.PeerID = c.config.PeerID
	}
	if ev.SessionID == "" {
		ev.SessionID = sessionID
	}
	if ev.ServerURL == "" {
		ev.ServerURL = c.config.URL
	}
	plog.Log(ev)
}

// logEnvelope records a wire-layer protocol event for one envelope.
func (c *Client) logEnvelope(dir log.Direction, env *wire.Envelope, size int) {
	switch env.Type {
	case wire.TypeHeartbeat:
		c.plogEvent(log.Event{
			Direction: dir,
			Layer:     log.LayerWire,
			Category:  log.CategoryControl,
			Control:   &log.ControlEvent{Type: log.ControlMsgHeartbeat},
		})
		return
	case wire.TypePing:
		c.plogEvent(log.Event{
			Direction: dir,
			Layer:     log.LayerWire,
			Category:  log.CategoryControl,
			Control:   &log.ControlEvent{Type: log.ControlMsgPing},
		})
		return
	case wire.TypePong:
		c.plogEvent(log.Event{
			Direction: dir,
			Layer:     log.LayerWire,
			Category:  log.CategoryControl,
			Control:   &log.ControlEvent{Type: log.ControlMsgPong},
		})
		return
	}

	ev := &log.EnvelopeEvent{Type: string(env.Type), Size: size}
	switch env.Type {
	case wire.TypeRelay:
		var p wire.RelayPayload
		if env.DecodePayload(&p) == nil {
			ev.CorrelationID = p.Request.CorrelationID
			ev.Method = p.Request.Method
		}
	case wire.TypeRelayResponse:
		var p wire.RelayResponsePayload
		if env.DecodePayload(&p) == nil {
			ev.CorrelationID = p.Response.CorrelationID
			ev.IsFinal = p.Response.IsFinal
		}
	case wire.TypeRelayEvent:
		var p wire.RelayEventPayload
		if env.DecodePayload(&p) == nil {
			ev.EventType = p.EventType
		}
	case wire.TypeError:
		var p wire.ErrorPayload
		if env.DecodePayload(&p) == nil {
			ev.Code = p.Code
		}
	}
	c.plogEvent(log.Event{
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Envelope:  ev,
	})
}

// logError records an error protocol event.
func (c *Client) logError(layer log.Layer, msg, code, context string) {
	c.plogEvent(log.Event{
		Direction: log.DirectionIn,
		Layer:     layer,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: msg,
			Code:    code,
			Context: context,
		},
	})
}
