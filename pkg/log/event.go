package log

import "time"

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the client instance (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// PeerID is the peer device this connection talks to.
	PeerID string `cbor:"6,keyasint,omitempty"`

	// SessionID is the relay session identifier (populated after registration).
	SessionID string `cbor:"7,keyasint,omitempty"`

	// ServerURL is the relay server the connection is registered against.
	ServerURL string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Envelope    *EnvelopeEvent    `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	Call        *CallEvent        `cbor:"12,keyasint,omitempty"` // Terminal call outcomes
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"` // Connection/health/reconnect state
	Control     *ControlEvent     `cbor:"14,keyasint,omitempty"` // Heartbeat/ping/pong
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the websocket layer (raw frames).
	LayerTransport Layer = 0
	// LayerWire is the envelope encoding layer (decoded JSON).
	LayerWire Layer = 1
	// LayerSession is the connection/supervision layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol envelope (register/relay/event).
	CategoryMessage Category = 0
	// CategoryControl indicates a liveness message (heartbeat/ping/pong).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategoryCall indicates a terminal call outcome.
	CategoryCall Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryCall:
		return "CALL"
	default:
		return "UNKNOWN"
	}
}

// MaxFrameCapture bounds how many raw frame bytes are stored per event.
const MaxFrameCapture = 256

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the full frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (truncated to MaxFrameCapture).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent, truncating the capture if needed.
func NewFrameEvent(data []byte) *FrameEvent {
	ev := &FrameEvent{Size: len(data)}
	if len(data) > MaxFrameCapture {
		ev.Data = append([]byte(nil), data[:MaxFrameCapture]...)
		ev.Truncated = true
	} else {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}

// EnvelopeEvent captures a decoded protocol envelope at the wire layer.
type EnvelopeEvent struct {
	// Type is the envelope type ("register", "relay_response", ...).
	Type string `cbor:"1,keyasint"`

	// Size is the encoded envelope size in bytes.
	Size int `cbor:"2,keyasint"`

	// CorrelationID links relayed requests and responses.
	CorrelationID string `cbor:"3,keyasint,omitempty"`

	// Method is the RPC method (relay requests only).
	Method string `cbor:"4,keyasint,omitempty"`

	// EventType is the event name (relay_event only).
	EventType string `cbor:"5,keyasint,omitempty"`

	// Code is the server error code (error envelopes only).
	Code string `cbor:"6,keyasint,omitempty"`

	// IsFinal marks the last response of a call (relay_response only).
	IsFinal bool `cbor:"7,keyasint,omitempty"`
}

// CallEvent captures the terminal outcome of a relayed call.
type CallEvent struct {
	// CorrelationID identifies the call.
	CorrelationID string `cbor:"1,keyasint"`

	// Method is the RPC method that was invoked.
	Method string `cbor:"2,keyasint"`

	// Outcome is how the call ended.
	Outcome CallOutcome `cbor:"3,keyasint"`

	// Duration from send to terminal outcome (nanoseconds).
	Duration time.Duration `cbor:"4,keyasint"`

	// RequestBytes is the encoded request size.
	RequestBytes int `cbor:"5,keyasint,omitempty"`

	// ResponseBytes is the cumulative encoded response size.
	ResponseBytes int `cbor:"6,keyasint,omitempty"`

	// Responses is how many responses the call produced.
	Responses int `cbor:"7,keyasint,omitempty"`
}

// CallOutcome is how a relayed call terminated.
type CallOutcome uint8

const (
	// CallOutcomeResult indicates a final result was received.
	CallOutcomeResult CallOutcome = 0
	// CallOutcomeError indicates the peer returned an error.
	CallOutcomeError CallOutcome = 1
	// CallOutcomeTimeout indicates the call timed out.
	CallOutcomeTimeout CallOutcome = 2
	// CallOutcomeCancelled indicates the caller cancelled.
	CallOutcomeCancelled CallOutcome = 3
	// CallOutcomeDisconnected indicates the connection dropped mid-call.
	CallOutcomeDisconnected CallOutcome = 4
)

// String returns the outcome name.
func (o CallOutcome) String() string {
	switch o {
	case CallOutcomeResult:
		return "RESULT"
	case CallOutcomeError:
		return "ERROR"
	case CallOutcomeTimeout:
		return "TIMEOUT"
	case CallOutcomeCancelled:
		return "CANCELLED"
	case CallOutcomeDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures connection, health and reconnect lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityHealth indicates a health grade change.
	StateEntityHealth StateEntity = 1
	// StateEntityReconnect indicates a reconnect phase change.
	StateEntityReconnect StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityHealth:
		return "HEALTH"
	case StateEntityReconnect:
		return "RECONNECT"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures liveness messages.
type ControlEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgHeartbeat indicates an application heartbeat.
	ControlMsgHeartbeat ControlMsgType = 0
	// ControlMsgPing indicates a ping message.
	ControlMsgPing ControlMsgType = 1
	// ControlMsgPong indicates a pong message.
	ControlMsgPong ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgHeartbeat:
		return "HEARTBEAT"
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the server error code (if applicable).
	Code string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
