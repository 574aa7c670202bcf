package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType is the envelope "type" discriminator.
type MessageType string

const (
	// TypeRegister is the client's handshake message, sent immediately
	// after the transport opens. Carries resume credentials when present.
	TypeRegister MessageType = "register"

	// TypeRegistered acknowledges a fresh registration.
	TypeRegistered MessageType = "registered"

	// TypeResumed acknowledges reattachment to a prior session.
	TypeResumed MessageType = "resumed"

	// TypeSession refreshes session credentials without a state change.
	TypeSession MessageType = "session"

	// TypeRelay carries an RPC request to a target peer.
	TypeRelay MessageType = "relay"

	// TypeRelayResponse carries one (possibly partial) RPC response.
	TypeRelayResponse MessageType = "relay_response"

	// TypeRelayEvent carries an event published by a peer.
	TypeRelayEvent MessageType = "relay_event"

	// TypeError reports a server-side error condition.
	TypeError MessageType = "error"

	// TypeHeartbeat is the client's periodic liveness message.
	TypeHeartbeat MessageType = "heartbeat"

	// TypePing and TypePong are the relay's application-level liveness
	// probe and its answer.
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Envelope is the outer JSON object of every text frame.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RegisterPayload is the payload of a register message. SessionID and
// ResumeToken are set only when resuming a prior session; LastEventID is the
// replay cursor for events missed while disconnected.
type RegisterPayload struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	SessionID   string `json:"sessionId,omitempty"`
	ResumeToken string `json:"resumeToken,omitempty"`
	LastEventID string `json:"lastEventId,omitempty"`
}

// SessionPayload is the payload of registered, resumed and session
// messages.
type SessionPayload struct {
	SessionID   string     `json:"sessionId"`
	ResumeToken string     `json:"resumeToken,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// RelayPayload is the payload of a relay message.
type RelayPayload struct {
	TargetDeviceID string     `json:"targetDeviceId"`
	Request        RPCRequest `json:"request"`
	UserID         string     `json:"userId"`
}

// RPCRequest is the request object inside a relay payload.
type RPCRequest struct {
	Method         string `json:"method"`
	Params         any    `json:"params"`
	CorrelationID  string `json:"correlationId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// RelayResponsePayload is the payload of a relay_response message.
type RelayResponsePayload struct {
	Response RPCResponse `json:"response"`
}

// RPCResponse is one element of a call's response stream. A stream is
// terminated by the first response with IsFinal set.
type RPCResponse struct {
	CorrelationID string          `json:"correlationId"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *RPCError       `json:"error,omitempty"`
	IsFinal       bool            `json:"isFinal"`
}

// RPCError is a JSON-RPC shaped error returned by the target peer or by the
// relay on the peer's behalf.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// RPCCodeTargetOffline is reported by the relay when the target peer has no
// live connection.
const RPCCodeTargetOffline = -32010

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RelayEventPayload is the payload of a relay_event message.
type RelayEventPayload struct {
	EventType      string          `json:"eventType"`
	Data           json.RawMessage `json:"data,omitempty"`
	SourceDeviceID string          `json:"sourceDeviceId,omitempty"`
	EventID        string          `json:"eventId,omitempty"`
}

// ErrorPayload is the payload of an error message. Code is a snake_case
// identifier from the set below.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server error codes.
const (
	CodeAuthRequired          = "auth_required"
	CodeInvalidDeviceID       = "invalid_device_id"
	CodeMissingScope          = "missing_scope"
	CodeDeviceOwnershipFailed = "device_ownership_failed"
	CodeInvalidResume         = "invalid_resume"
	CodeInvalidJSON           = "invalid_json"
	CodeInvalidPayload        = "invalid_payload"
	CodeUnknownMessageType    = "unknown_message_type"
	CodeSerializationError    = "serialization_error"
	CodeMissingMethod         = "missing_method"
	CodeMissingDeviceID       = "missing_device_id"
)

// JobEventPrefix marks events that belong to a long-running job and are
// additionally routed to dedicated listeners.
const JobEventPrefix = "job:"

// Reserved event names with dedicated listener routing, alongside the job:
// prefix class.
var ReservedEventNames = []string{
	"device-status",
	"active-session-changed",
	"history-state-changed",
}

// IsReservedEvent reports whether an event type gets dedicated listener
// routing in addition to the general event stream.
func IsReservedEvent(eventType string) bool {
	if strings.HasPrefix(eventType, JobEventPrefix) {
		return true
	}
	for _, name := range ReservedEventNames {
		if eventType == name {
			return true
		}
	}
	return false
}
