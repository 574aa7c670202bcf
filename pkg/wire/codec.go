package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Codec errors.
var (
	ErrMissingType = errors.New("envelope missing type")
	ErrUnsafeValue = errors.New("value cannot be represented as JSON")
)

// Encode serializes an envelope to a single text frame.
func Encode(env *Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, ErrMissingType
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type, err)
	}
	return data, nil
}

// Decode parses a text frame into an envelope. The payload is kept raw;
// unknown message types are not an error, routing decides what to do with
// them.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// NewEnvelope builds an envelope with a marshaled payload. A nil payload
// yields an envelope with no payload object.
func NewEnvelope(t MessageType, payload any) (*Envelope, error) {
	env := &Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v. An envelope without
// a payload leaves v untouched.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// NewRegister builds a register envelope.
func NewRegister(p RegisterPayload) (*Envelope, error) {
	return NewEnvelope(TypeRegister, p)
}

// NewRelay builds a relay envelope, sanitizing the request params first.
func NewRelay(p RelayPayload) (*Envelope, error) {
	params, err := Sanitize(p.Request.Params)
	if err != nil {
		return nil, err
	}
	p.Request.Params = params
	return NewEnvelope(TypeRelay, p)
}

// Heartbeat returns the canonical heartbeat envelope.
func Heartbeat() *Envelope {
	return &Envelope{Type: TypeHeartbeat}
}

// Pong returns the answer to an application-level ping.
func Pong() *Envelope {
	return &Envelope{Type: TypePong}
}

// Sanitize converts an application-supplied value into a JSON-safe one:
// time.Time becomes an RFC 3339 string, []byte becomes base64, maps and
// slices are converted recursively. Values JSON cannot represent
// (non-finite floats, non-string map keys, channels, functions) return
// ErrUnsafeValue. Typed structs pass through for encoding/json to handle.
func Sanitize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return t, nil
	case time.Time:
		return t.Format(time.RFC3339Nano), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(t), nil
	case string:
		return t, nil
	case bool:
		return t, nil
	case float64:
		return sanitizeFloat(t)
	case float32:
		return sanitizeFloat(float64(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			s, err := Sanitize(val)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			s, err := Sanitize(val)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v, nil
	case reflect.Float32, reflect.Float64:
		return sanitizeFloat(rv.Float())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map with %s keys", ErrUnsafeValue, rv.Type().Key().Kind())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			s, err := Sanitize(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = s
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s, err := Sanitize(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = s
		}
		return out, nil
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return nil, fmt.Errorf("%w: %s", ErrUnsafeValue, rv.Kind())
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return Sanitize(rv.Elem().Interface())
	default:
		// Structs and remaining kinds are left to encoding/json.
		return v, nil
	}
}

func sanitizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite float", ErrUnsafeValue)
	}
	return f, nil
}
