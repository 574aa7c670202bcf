package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidScheme    = errors.New("invalid url scheme")
)

// Default configuration values.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultReadLimit        = 1 << 20 // 1 MiB
)

// Config configures the websocket dialer.
type Config struct {
	// HandshakeTimeout bounds the websocket upgrade (default: 10s).
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write (default: 10s).
	WriteTimeout time.Duration

	// ReadLimit is the maximum inbound frame size (default: 1MiB).
	ReadLimit int64

	// TLSConfig overrides TLS settings for wss connections.
	TLSConfig *tls.Config
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		ReadLimit:        DefaultReadLimit,
	}
}

// Dialer establishes websocket connections to the relay server.
type Dialer struct {
	config Config
}

// NewDialer creates a Dialer. Zero config fields use defaults.
func NewDialer(config Config) *Dialer {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.ReadLimit == 0 {
		config.ReadLimit = DefaultReadLimit
	}
	return &Dialer{config: config}
}

// Dial connects to the given ws:// or wss:// URL. The returned connection
// does not read until Start is called, so handlers can be attached first.
func (d *Dialer) Dial(ctx context.Context, rawURL string, header http.Header) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScheme, u.Scheme)
	}

	wsDialer := &websocket.Dialer{
		HandshakeTimeout: d.config.HandshakeTimeout,
		TLSClientConfig:  d.config.TLSConfig,
		Proxy:            http.ProxyFromEnvironment,
	}

	ws, resp, err := wsDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed: %w (http status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	ws.SetReadLimit(d.config.ReadLimit)

	return &Conn{
		ws:           ws,
		writeTimeout: d.config.WriteTimeout,
		closeCh:      make(chan struct{}),
		readDone:     make(chan struct{}),
	}, nil
}

// Conn is a websocket connection to the relay server.
//
// All writes are serialized. A single read pump dispatches inbound frames to
// the registered handlers in order.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu       sync.Mutex
	onText   func(data []byte)
	onBinary func(data []byte)
	onClose  func(err error)

	writeMu   sync.Mutex
	startOnce sync.Once
	closeOnce sync.Once
	closeCh   chan struct{}
	readDone  chan struct{}
}

// SetOnText registers the handler for inbound text frames.
// Must be called before Start.
func (c *Conn) SetOnText(fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onText = fn
}

// SetOnBinary registers the handler for inbound binary frames.
// Must be called before Start.
func (c *Conn) SetOnBinary(fn func(data []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBinary = fn
}

// SetOnClose registers the handler invoked once when the read pump exits.
// The error is nil for a locally initiated close. Must be called before Start.
func (c *Conn) SetOnClose(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// Start launches the read pump. Safe to call once; subsequent calls are no-ops.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		go c.readLoop()
	})
}

// RemoteAddr returns the server's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Send writes a text frame.
func (c *Conn) Send(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// SendBinary writes a binary frame.
func (c *Conn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Close performs a graceful websocket close: it sends a close frame and then
// tears down the underlying connection. Safe to call multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

// ForceClose tears down the connection without a close handshake.
func (c *Conn) ForceClose() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.ws.Close()
	})
	return err
}

// Done is closed when the read pump has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.readDone
}

func (c *Conn) readLoop() {
	defer close(c.readDone)

	var pumpErr error
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closeCh:
				// Locally initiated close; not an error.
			default:
				pumpErr = err
			}
			break
		}

		c.mu.Lock()
		onText, onBinary := c.onText, c.onBinary
		c.mu.Unlock()

		switch messageType {
		case websocket.TextMessage:
			if onText != nil {
				onText(data)
			}
		case websocket.BinaryMessage:
			if onBinary != nil {
				onBinary(data)
			}
		}
	}

	// The pump owns teardown on remote close and read errors.
	_ = c.ForceClose()

	c.mu.Lock()
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose(pumpErr)
	}
}
