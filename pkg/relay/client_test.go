package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relink-protocol/relink-go/pkg/auth"
	"github.com/relink-protocol/relink-go/pkg/credentials"
	"github.com/relink-protocol/relink-go/pkg/wire"
)

// fakeRelay is an in-process relay server speaking the wire protocol.
type fakeRelay struct {
	srv *httptest.Server

	mu        sync.Mutex
	conns     []*relayConn
	headers   http.Header
	registers []wire.RegisterPayload
	requests  []wire.RPCRequest
	userIDs   []string
	types     []wire.MessageType
	sessionN  int

	silent       bool
	rejectResume bool
	registerErr  *wire.ErrorPayload
	onRelay      func(rc *relayConn, p wire.RelayPayload)

	heartbeats int
	pongCh     chan struct{}
}

type relayConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (rc *relayConn) sendEnvelope(typ wire.MessageType, payload any) {
	env, err := wire.NewEnvelope(typ, payload)
	if err != nil {
		return
	}
	data, err := wire.Encode(env)
	if err != nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_ = rc.ws.WriteMessage(websocket.TextMessage, data)
}

func (rc *relayConn) sendBinary(data []byte) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_ = rc.ws.WriteMessage(websocket.BinaryMessage, data)
}

func (rc *relayConn) close() {
	_ = rc.ws.Close()
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{pongCh: make(chan struct{}, 8)}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.headers = r.Header.Clone()
		f.mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rc := &relayConn{ws: ws}
		f.mu.Lock()
		f.conns = append(f.conns, rc)
		f.mu.Unlock()
		f.serve(rc)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeRelay) serve(rc *relayConn) {
	for {
		mt, data, err := rc.ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		env, err := wire.Decode(data)
		if err != nil {
			continue
		}
		f.mu.Lock()
		f.types = append(f.types, env.Type)
		f.mu.Unlock()
		f.handle(rc, env)
	}
}

func (f *fakeRelay) handle(rc *relayConn, env *wire.Envelope) {
	switch env.Type {
	case wire.TypeRegister:
		var p wire.RegisterPayload
		_ = env.DecodePayload(&p)
		f.mu.Lock()
		f.registers = append(f.registers, p)
		f.sessionN++
		n := f.sessionN
		silent, rejectResume, regErr := f.silent, f.rejectResume, f.registerErr
		f.mu.Unlock()

		if silent {
			return
		}
		if regErr != nil {
			rc.sendEnvelope(wire.TypeError, regErr)
			return
		}
		if p.SessionID != "" {
			if rejectResume {
				rc.sendEnvelope(wire.TypeError, &wire.ErrorPayload{
					Code:    wire.CodeInvalidResume,
					Message: "resume rejected",
				})
				return
			}
			exp := time.Now().Add(time.Hour)
			rc.sendEnvelope(wire.TypeResumed, &wire.SessionPayload{
				SessionID: p.SessionID,
				ExpiresAt: &exp,
			})
			return
		}
		rc.sendEnvelope(wire.TypeRegistered, &wire.SessionPayload{
			SessionID:   fmt.Sprintf("sess-%d", n),
			ResumeToken: fmt.Sprintf("rtok-%d", n),
		})

	case wire.TypeRelay:
		var p wire.RelayPayload
		_ = env.DecodePayload(&p)
		f.mu.Lock()
		f.requests = append(f.requests, p.Request)
		f.userIDs = append(f.userIDs, p.UserID)
		onRelay := f.onRelay
		f.mu.Unlock()

		if onRelay != nil {
			onRelay(rc, p)
			return
		}
		result, _ := json.Marshal(map[string]string{"echo": p.Request.Method})
		rc.sendEnvelope(wire.TypeRelayResponse, &wire.RelayResponsePayload{
			Response: wire.RPCResponse{
				CorrelationID: p.Request.CorrelationID,
				Result:        result,
				IsFinal:       true,
			},
		})

	case wire.TypeHeartbeat:
		f.mu.Lock()
		f.heartbeats++
		f.mu.Unlock()

	case wire.TypePong:
		select {
		case f.pongCh <- struct{}{}:
		default:
		}
	}
}

func (f *fakeRelay) setOnRelay(fn func(rc *relayConn, p wire.RelayPayload)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRelay = fn
}

func (f *fakeRelay) lastConn() *relayConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

func (f *fakeRelay) registerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registers)
}

func (f *fakeRelay) register(i int) wire.RegisterPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registers[i]
}

func (f *fakeRelay) request(i int) wire.RPCRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func (f *fakeRelay) heartbeatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats
}

func (f *fakeRelay) typeCount(typ wire.MessageType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ty := range f.types {
		if ty == typ {
			n++
		}
	}
	return n
}

func (f *fakeRelay) header(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headers == nil {
		return ""
	}
	return f.headers.Get(key)
}

func newTestClient(t *testing.T, f *fakeRelay, mutate func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = f.url()
	cfg.PeerID = "desktop-1"
	cfg.ClientID = "mobile-1"
	cfg.ClientName = "Test Mobile"
	cfg.Tokens = auth.NewStaticProvider(auth.Token{AccessToken: "test-token", UserID: "user-1"})
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connectTest(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.Equal(t, StateConnected, c.State())
}

func TestNew(t *testing.T) {
	f := newFakeRelay(t)

	t.Run("InvalidScheme", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.URL = "ftp://relay.example.com"
		cfg.PeerID = "desktop-1"
		cfg.ClientID = "mobile-1"
		cfg.Tokens = auth.NewStaticProvider(auth.Token{AccessToken: "tok"})
		_, err := New(cfg)
		require.ErrorIs(t, err, ErrInvalidURL)
	})

	t.Run("MissingPeer", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.URL = f.url()
		cfg.ClientID = "mobile-1"
		cfg.Tokens = auth.NewStaticProvider(auth.Token{AccessToken: "tok"})
		_, err := New(cfg)
		require.Error(t, err)
	})

	t.Run("Defaults", func(t *testing.T) {
		c := newTestClient(t, f, nil)
		assert.Equal(t, StateDisconnected, c.State())
		assert.Nil(t, c.Handshake())
		assert.Equal(t, "desktop-1", c.PeerID())
		assert.NotEmpty(t, c.ConnectionID())
	})
}

func TestConnect(t *testing.T) {
	t.Run("EstablishesSession", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		connectTest(t, c)

		hs := c.Handshake()
		require.NotNil(t, hs)
		assert.Equal(t, "sess-1", hs.SessionID)
		assert.Equal(t, "mobile-1", hs.ClientID)
		assert.Equal(t, TransportLabelRelay, hs.TransportLabel)

		reg := f.register(0)
		assert.Equal(t, "mobile-1", reg.DeviceID)
		assert.Equal(t, "Test Mobile", reg.DeviceName)
		assert.Empty(t, reg.SessionID)
	})

	t.Run("SendsAuthHeaders", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		connectTest(t, c)

		assert.Equal(t, "Bearer test-token", f.header("Authorization"))
		assert.Equal(t, "mobile-1", f.header("X-Device-ID"))
		assert.Equal(t, "mobile-1", f.header("X-Token-Binding"))
		assert.Equal(t, "mobile", f.header("X-Client-Type"))
	})

	t.Run("MapsHTTPSchemes", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.URL = f.srv.URL // http://..., must map to ws://
		})
		connectTest(t, c)
	})

	t.Run("ResumesWithStoredCredential", func(t *testing.T) {
		f := newFakeRelay(t)
		store := credentials.NewMemoryStore()
		require.NoError(t, store.Store("desktop-1", credentials.ResumeCredential{
			SessionID:   "sess-old",
			ResumeToken: "rtok-old",
		}))
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.Credentials = store
		})
		connectTest(t, c)

		reg := f.register(0)
		assert.Equal(t, "sess-old", reg.SessionID)
		assert.Equal(t, "rtok-old", reg.ResumeToken)

		hs := c.Handshake()
		require.NotNil(t, hs)
		assert.Equal(t, "sess-old", hs.SessionID)

		// Only the expiry moves on resume; id and token stay.
		cred, err := store.Retrieve("desktop-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-old", cred.SessionID)
		assert.Equal(t, "rtok-old", cred.ResumeToken)
		require.NotNil(t, cred.ExpiresAt)
	})

	t.Run("RejectedResumeRegistersFresh", func(t *testing.T) {
		f := newFakeRelay(t)
		f.rejectResume = true
		store := credentials.NewMemoryStore()
		require.NoError(t, store.Store("desktop-1", credentials.ResumeCredential{
			SessionID:   "sess-stale",
			ResumeToken: "rtok-stale",
		}))

		c := newTestClient(t, f, func(cfg *Config) {
			cfg.Credentials = store
		})
		var mu sync.Mutex
		var states []State
		c.OnStateChange(func(_, newState State) {
			mu.Lock()
			states = append(states, newState)
			mu.Unlock()
		})
		connectTest(t, c)

		require.Equal(t, 2, f.registerCount())
		assert.Equal(t, "sess-stale", f.register(0).SessionID)
		assert.Empty(t, f.register(1).SessionID)

		mu.Lock()
		assert.Contains(t, states, StateAuthenticating)
		mu.Unlock()

		cred, err := store.Retrieve("desktop-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-2", cred.SessionID)
	})

	t.Run("RegistrationTimeout", func(t *testing.T) {
		f := newFakeRelay(t)
		f.silent = true
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.RegistrationTimeout = 150 * time.Millisecond
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := c.Connect(ctx)
		require.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, StateDisconnected, c.State())
	})

	t.Run("NonRetryableServerError", func(t *testing.T) {
		f := newFakeRelay(t)
		f.registerErr = &wire.ErrorPayload{Code: wire.CodeAuthRequired, Message: "token expired"}
		c := newTestClient(t, f, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := c.Connect(ctx)
		require.Error(t, err)

		var se *ServerError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, wire.CodeAuthRequired, se.Code)
		assert.True(t, IsNonRetryable(err))
		assert.Equal(t, StateFailed, c.State())
	})

	t.Run("DialFailure", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.URL = "ws://127.0.0.1:1"
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := c.Connect(ctx)
		require.ErrorIs(t, err, ErrNetwork)
		assert.Equal(t, StateDisconnected, c.State())
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		f := newFakeRelay(t)
		f.silent = true
		c := newTestClient(t, f, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		err := c.Connect(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("SecondConnectWhileInFlight", func(t *testing.T) {
		f := newFakeRelay(t)
		f.silent = true
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.RegistrationTimeout = 2 * time.Second
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = c.Connect(ctx) }()

		require.Eventually(t, func() bool {
			return c.State() == StateHandshaking
		}, 2*time.Second, 10*time.Millisecond)

		err := c.Connect(context.Background())
		var se *StateError
		require.ErrorAs(t, err, &se)
	})

	t.Run("AfterClose", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		require.NoError(t, c.Close())
		require.ErrorIs(t, c.Connect(context.Background()), ErrClientClosed)
	})
}

func TestDisconnect(t *testing.T) {
	t.Run("UserInitiatedClearsCredential", func(t *testing.T) {
		f := newFakeRelay(t)
		store := credentials.NewMemoryStore()
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.Credentials = store
		})
		connectTest(t, c)

		_, err := store.Retrieve("desktop-1")
		require.NoError(t, err)

		require.NoError(t, c.Disconnect(true))
		assert.Equal(t, StateDisconnected, c.State())
		_, err = store.Retrieve("desktop-1")
		require.ErrorIs(t, err, credentials.ErrNotFound)
	})

	t.Run("ProgrammaticKeepsCredential", func(t *testing.T) {
		f := newFakeRelay(t)
		store := credentials.NewMemoryStore()
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.Credentials = store
		})
		connectTest(t, c)

		require.NoError(t, c.Disconnect(false))
		assert.Equal(t, StateDisconnected, c.State())

		cred, err := store.Retrieve("desktop-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", cred.SessionID)
	})

	t.Run("ReconnectResumesSession", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		connectTest(t, c)
		require.NoError(t, c.Disconnect(false))

		connectTest(t, c)
		require.Equal(t, 2, f.registerCount())
		assert.Equal(t, "sess-1", f.register(1).SessionID)
		assert.Equal(t, "rtok-1", f.register(1).ResumeToken)

		hs := c.Handshake()
		require.NotNil(t, hs)
		assert.Equal(t, "sess-1", hs.SessionID)
	})
}

func TestClose(t *testing.T) {
	f := newFakeRelay(t)
	c := newTestClient(t, f, nil)
	connectTest(t, c)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Connect(context.Background()), ErrClientClosed)
	require.ErrorIs(t, c.SendMessage(wire.TypeHeartbeat, nil), ErrClientClosed)
}

func TestMarkReconnecting(t *testing.T) {
	f := newFakeRelay(t)
	c := newTestClient(t, f, nil)

	cause := errors.New("network down")
	c.MarkReconnecting(cause)
	assert.Equal(t, StateReconnecting, c.State())
	assert.Equal(t, cause, c.LastError())

	// A connect attempt leaves reconnecting; once connected the marker is
	// a no-op.
	connectTest(t, c)
	c.MarkReconnecting(cause)
	assert.Equal(t, StateConnected, c.State())
}

func TestSendMessage(t *testing.T) {
	t.Run("QueuedWhileDisconnected", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)

		require.NoError(t, c.SendMessage(wire.MessageType("note"), map[string]any{"n": 1}))
		require.NoError(t, c.SendMessage(wire.MessageType("note"), map[string]any{"n": 2}))
		assert.Equal(t, 2, c.QueueLen())

		connectTest(t, c)
		require.Eventually(t, func() bool {
			return f.typeCount(wire.MessageType("note")) == 2
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 0, c.QueueLen())
	})

	t.Run("SentImmediatelyWhileConnected", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		connectTest(t, c)

		require.NoError(t, c.SendMessage(wire.MessageType("note"), nil))
		require.Eventually(t, func() bool {
			return f.typeCount(wire.MessageType("note")) == 1
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, 0, c.QueueLen())
	})

	t.Run("RejectsUnsafePayload", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		err := c.SendMessage(wire.MessageType("note"), map[string]any{"fn": func() {}})
		require.ErrorIs(t, err, ErrEncoding)
	})
}

func TestLiveness(t *testing.T) {
	t.Run("HeartbeatsWhileConnected", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.HeartbeatInterval = 40 * time.Millisecond
		})
		connectTest(t, c)

		require.Eventually(t, func() bool {
			return f.heartbeatCount() >= 2
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("WatchdogTearsDownSilentConnection", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, func(cfg *Config) {
			cfg.WatchdogInterval = 30 * time.Millisecond
			cfg.SilenceThreshold = 120 * time.Millisecond
		})
		connectTest(t, c)

		require.Eventually(t, func() bool {
			return c.State() == StateDisconnected
		}, 3*time.Second, 10*time.Millisecond)
		require.ErrorIs(t, c.LastError(), ErrNetwork)
	})

	t.Run("AnswersPingWithPong", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		connectTest(t, c)

		f.lastConn().sendEnvelope(wire.TypePing, nil)
		select {
		case <-f.pongCh:
		case <-time.After(2 * time.Second):
			t.Fatal("no pong received")
		}
	})
}

func TestRemoteClose(t *testing.T) {
	f := newFakeRelay(t)
	c := newTestClient(t, f, nil)
	connectTest(t, c)

	f.lastConn().close()
	require.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
	require.Error(t, c.LastError())
}

func TestServerErrors(t *testing.T) {
	t.Run("RetryableCodeOnlyRecordsError", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		connectTest(t, c)

		f.lastConn().sendEnvelope(wire.TypeError, &wire.ErrorPayload{
			Code:    "rate_limited",
			Message: "slow down",
		})
		require.Eventually(t, func() bool {
			var se *ServerError
			return errors.As(c.LastError(), &se) && se.Code == "rate_limited"
		}, 2*time.Second, 10*time.Millisecond)
		assert.Equal(t, StateConnected, c.State())
	})

	t.Run("NonRetryableCodeFailsConnection", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)
		connectTest(t, c)

		f.lastConn().sendEnvelope(wire.TypeError, &wire.ErrorPayload{
			Code:    wire.CodeMissingScope,
			Message: "scope revoked",
		})
		require.Eventually(t, func() bool {
			return c.State() == StateFailed
		}, 2*time.Second, 10*time.Millisecond)

		var se *ServerError
		require.ErrorAs(t, c.LastError(), &se)
		assert.Equal(t, wire.CodeMissingScope, se.Code)
	})
}

func TestSessionRefresh(t *testing.T) {
	f := newFakeRelay(t)
	store := credentials.NewMemoryStore()
	c := newTestClient(t, f, func(cfg *Config) {
		cfg.Credentials = store
	})
	connectTest(t, c)

	f.lastConn().sendEnvelope(wire.TypeSession, &wire.SessionPayload{
		SessionID:   "sess-1",
		ResumeToken: "rtok-refreshed",
	})
	require.Eventually(t, func() bool {
		cred, err := store.Retrieve("desktop-1")
		return err == nil && cred.ResumeToken == "rtok-refreshed"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateConnected, c.State())
}

func TestEvents(t *testing.T) {
	t.Run("GeneralAndDedicatedListeners", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)

		var mu sync.Mutex
		var general, jobs, status []string
		c.OnEvent(func(p wire.RelayEventPayload) {
			mu.Lock()
			general = append(general, p.EventType)
			mu.Unlock()
		})
		c.AddEventListener(wire.JobEventPrefix, func(p wire.RelayEventPayload) {
			mu.Lock()
			jobs = append(jobs, p.EventType)
			mu.Unlock()
		})
		c.AddEventListener("device-status", func(p wire.RelayEventPayload) {
			mu.Lock()
			status = append(status, p.EventType)
			mu.Unlock()
		})
		connectTest(t, c)

		rc := f.lastConn()
		rc.sendEnvelope(wire.TypeRelayEvent, &wire.RelayEventPayload{EventType: "telemetry"})
		rc.sendEnvelope(wire.TypeRelayEvent, &wire.RelayEventPayload{EventType: "job:42:progress"})
		rc.sendEnvelope(wire.TypeRelayEvent, &wire.RelayEventPayload{EventType: "device-status"})

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(general) == 3
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"telemetry", "job:42:progress", "device-status"}, general)
		assert.Equal(t, []string{"job:42:progress"}, jobs)
		assert.Equal(t, []string{"device-status"}, status)
	})

	t.Run("EventCursorSentOnResume", func(t *testing.T) {
		f := newFakeRelay(t)
		c := newTestClient(t, f, nil)

		seen := make(chan struct{}, 1)
		c.OnEvent(func(p wire.RelayEventPayload) {
			select {
			case seen <- struct{}{}:
			default:
			}
		})
		connectTest(t, c)

		f.lastConn().sendEnvelope(wire.TypeRelayEvent, &wire.RelayEventPayload{
			EventType: "telemetry",
			EventID:   "ev-9",
		})
		select {
		case <-seen:
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}

		require.NoError(t, c.Disconnect(false))
		connectTest(t, c)

		require.Equal(t, 2, f.registerCount())
		assert.Equal(t, "ev-9", f.register(1).LastEventID)
	})
}

func TestBinaryFrames(t *testing.T) {
	f := newFakeRelay(t)
	c := newTestClient(t, f, nil)

	type frame struct {
		sessionID string
		payload   []byte
	}
	frames := make(chan frame, 4)
	c.OnBinary(func(sessionID string, payload []byte) {
		frames <- frame{sessionID, append([]byte(nil), payload...)}
	})
	connectTest(t, c)

	rc := f.lastConn()
	rc.sendBinary(wire.EncodeBinary("sess-1", []byte{1, 2, 3}))
	rc.sendBinary([]byte{9, 9})

	select {
	case fr := <-frames:
		assert.Equal(t, "sess-1", fr.sessionID)
		assert.Equal(t, []byte{1, 2, 3}, fr.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("framed binary not delivered")
	}
	select {
	case fr := <-frames:
		assert.Empty(t, fr.sessionID)
		assert.Equal(t, []byte{9, 9}, fr.payload)
	case <-time.After(2 * time.Second):
		t.Fatal("raw binary not delivered")
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "WS", in: "ws://relay.example.com/ws", want: "ws://relay.example.com/ws"},
		{name: "WSS", in: "wss://relay.example.com/ws", want: "wss://relay.example.com/ws"},
		{name: "HTTP", in: "http://relay.example.com/ws", want: "ws://relay.example.com/ws"},
		{name: "HTTPS", in: "https://relay.example.com/ws", want: "wss://relay.example.com/ws"},
		{name: "BadScheme", in: "ftp://relay.example.com", wantErr: true},
		{name: "NoHost", in: "wss://", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveURL(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
