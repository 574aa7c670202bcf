package relay

import (
	"errors"
	"fmt"

	"github.com/relink-protocol/relink-go/pkg/wire"
)

// Client errors.
var (
	// ErrNotConnected is returned when an operation requires an
	// established session and the connection did not become usable in
	// time.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidURL is returned when the relay URL cannot be parsed or
	// uses an unsupported scheme.
	ErrInvalidURL = errors.New("invalid relay url")

	// ErrTimeout is returned when a registration or call deadline
	// expires.
	ErrTimeout = errors.New("request timed out")

	// ErrDisconnected is returned for calls that were in flight when the
	// connection was lost.
	ErrDisconnected = errors.New("connection lost")

	// ErrClientClosed is returned for operations on a closed client.
	ErrClientClosed = errors.New("client is closed")

	// ErrNetwork wraps transport-level failures: dial errors, write
	// errors and watchdog-detected silence.
	ErrNetwork = errors.New("network error")

	// ErrEncoding wraps failures to encode an outbound payload.
	ErrEncoding = errors.New("encoding error")
)

// StateError is returned when an operation is not valid in the client's
// current state.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return "invalid state: " + e.Reason
}

// ServerError is an error message received from the relay server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server error: " + e.Code
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// NonRetryable reports whether the error indicates a condition that a
// reconnect cannot fix.
func (e *ServerError) NonRetryable() bool {
	return nonRetryableCodes[e.Code]
}

// nonRetryableCodes are server errors that no amount of reconnecting will
// resolve: the credentials, the device identity or the client itself is at
// fault. The malformed-payload family is included because resending the
// same registration would fail the same way.
var nonRetryableCodes = map[string]bool{
	wire.CodeAuthRequired:          true,
	wire.CodeInvalidDeviceID:       true,
	wire.CodeMissingScope:          true,
	wire.CodeDeviceOwnershipFailed: true,
	wire.CodeInvalidJSON:           true,
	wire.CodeInvalidPayload:        true,
	wire.CodeUnknownMessageType:    true,
	wire.CodeSerializationError:    true,
	wire.CodeMissingMethod:         true,
	wire.CodeMissingDeviceID:       true,
}

// IsNonRetryable reports whether err carries a server error code that makes
// further connection attempts pointless.
func IsNonRetryable(err error) bool {
	var se *ServerError
	if errors.As(err, &se) {
		return se.NonRetryable()
	}
	return false
}
