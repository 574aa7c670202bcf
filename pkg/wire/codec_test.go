package wire

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestRegisterEnvelopeFieldNames(t *testing.T) {
	env, err := NewRegister(RegisterPayload{
		DeviceID:    "device-1",
		DeviceName:  "Phone",
		SessionID:   "sess-1",
		ResumeToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("NewRegister() error = %v", err)
	}

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("frame is not a JSON object: %v", err)
	}
	if raw["type"] != "register" {
		t.Errorf("type = %v, want register", raw["type"])
	}

	payload, ok := raw["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing or not an object: %v", raw["payload"])
	}
	for _, key := range []string{"deviceId", "deviceName", "sessionId", "resumeToken"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("payload missing key %q", key)
		}
	}
	if _, ok := payload["lastEventId"]; ok {
		t.Error("empty lastEventId should be omitted")
	}
}

func TestRelayEnvelopeFieldNames(t *testing.T) {
	env, err := NewRelay(RelayPayload{
		TargetDeviceID: "desktop-1",
		UserID:         "user-1",
		Request: RPCRequest{
			Method:         "createSession",
			Params:         map[string]any{"cwd": "/tmp"},
			CorrelationID:  "corr-1",
			IdempotencyKey: "idem-1",
		},
	})
	if err != nil {
		t.Fatalf("NewRelay() error = %v", err)
	}

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var raw struct {
		Type    string `json:"type"`
		Payload struct {
			TargetDeviceID string `json:"targetDeviceId"`
			UserID         string `json:"userId"`
			Request        struct {
				Method         string          `json:"method"`
				Params         json.RawMessage `json:"params"`
				CorrelationID  string          `json:"correlationId"`
				IdempotencyKey string          `json:"idempotencyKey"`
			} `json:"request"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if raw.Type != "relay" {
		t.Errorf("type = %q, want relay", raw.Type)
	}
	if raw.Payload.TargetDeviceID != "desktop-1" {
		t.Errorf("targetDeviceId = %q", raw.Payload.TargetDeviceID)
	}
	if raw.Payload.UserID != "user-1" {
		t.Errorf("userId = %q", raw.Payload.UserID)
	}
	if raw.Payload.Request.CorrelationID != "corr-1" {
		t.Errorf("correlationId = %q", raw.Payload.Request.CorrelationID)
	}
	if raw.Payload.Request.IdempotencyKey != "idem-1" {
		t.Errorf("idempotencyKey = %q", raw.Payload.Request.IdempotencyKey)
	}
}

func TestDecodeInboundFrames(t *testing.T) {
	t.Run("Registered", func(t *testing.T) {
		frame := `{"type":"registered","payload":{"sessionId":"s1","resumeToken":"r1","expiresAt":"2026-01-02T15:04:05Z"}}`
		env, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if env.Type != TypeRegistered {
			t.Fatalf("type = %q, want registered", env.Type)
		}
		var p SessionPayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if p.SessionID != "s1" || p.ResumeToken != "r1" {
			t.Errorf("payload = %+v", p)
		}
		if p.ExpiresAt == nil || p.ExpiresAt.Year() != 2026 {
			t.Errorf("expiresAt = %v", p.ExpiresAt)
		}
	})

	t.Run("RelayResponse", func(t *testing.T) {
		frame := `{"type":"relay_response","payload":{"response":{"correlationId":"c1","result":{"ok":true},"isFinal":true}}}`
		env, err := Decode([]byte(frame))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		var p RelayResponsePayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if p.Response.CorrelationID != "c1" || !p.Response.IsFinal {
			t.Errorf("response = %+v", p.Response)
		}
	})

	t.Run("RelayResponseError", func(t *testing.T) {
		frame := `{"type":"relay_response","payload":{"response":{"correlationId":"c2","error":{"code":-32010,"message":"Desktop is offline"},"isFinal":true}}}`
		env, _ := Decode([]byte(frame))
		var p RelayResponsePayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if p.Response.Error == nil || p.Response.Error.Code != RPCCodeTargetOffline {
			t.Errorf("error = %+v", p.Response.Error)
		}
		if !strings.Contains(p.Response.Error.Error(), "offline") {
			t.Errorf("Error() = %q", p.Response.Error.Error())
		}
	})

	t.Run("Event", func(t *testing.T) {
		frame := `{"type":"relay_event","payload":{"eventType":"job:progress","data":{"pct":40},"sourceDeviceId":"desktop-1"}}`
		env, _ := Decode([]byte(frame))
		var p RelayEventPayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if p.EventType != "job:progress" || p.SourceDeviceID != "desktop-1" {
			t.Errorf("payload = %+v", p)
		}
	})

	t.Run("Error", func(t *testing.T) {
		frame := `{"type":"error","payload":{"code":"auth_required","message":"token expired"}}`
		env, _ := Decode([]byte(frame))
		var p ErrorPayload
		if err := env.DecodePayload(&p); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if p.Code != CodeAuthRequired {
			t.Errorf("code = %q, want %q", p.Code, CodeAuthRequired)
		}
	})

	t.Run("UnknownTypeAccepted", func(t *testing.T) {
		env, err := Decode([]byte(`{"type":"future_thing","payload":{}}`))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if env.Type != "future_thing" {
			t.Errorf("type = %q", env.Type)
		}
	})

	t.Run("MissingType", func(t *testing.T) {
		if _, err := Decode([]byte(`{"payload":{}}`)); !errors.Is(err, ErrMissingType) {
			t.Errorf("Decode() error = %v, want ErrMissingType", err)
		}
	})

	t.Run("NotJSON", func(t *testing.T) {
		if _, err := Decode([]byte("nonsense")); err == nil {
			t.Error("Decode() accepted garbage")
		}
	})
}

func TestHeartbeatHasNoPayload(t *testing.T) {
	data, err := Encode(Heartbeat())
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != `{"type":"heartbeat"}` {
		t.Errorf("frame = %s", data)
	}
}

func TestSanitize(t *testing.T) {
	t.Run("Time", func(t *testing.T) {
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		got, err := Sanitize(ts)
		if err != nil {
			t.Fatalf("Sanitize() error = %v", err)
		}
		if got != "2026-03-01T12:00:00Z" {
			t.Errorf("got %v", got)
		}
	})

	t.Run("Bytes", func(t *testing.T) {
		got, err := Sanitize([]byte{1, 2, 3})
		if err != nil {
			t.Fatalf("Sanitize() error = %v", err)
		}
		if got != "AQID" {
			t.Errorf("got %v, want base64 AQID", got)
		}
	})

	t.Run("NestedMap", func(t *testing.T) {
		in := map[string]any{
			"when": time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			"blob": []byte{0xff},
			"list": []any{1, "two", []byte{3}},
		}
		got, err := Sanitize(in)
		if err != nil {
			t.Fatalf("Sanitize() error = %v", err)
		}
		m := got.(map[string]any)
		if _, ok := m["when"].(string); !ok {
			t.Errorf("when = %T, want string", m["when"])
		}
		list := m["list"].([]any)
		if _, ok := list[2].(string); !ok {
			t.Errorf("list[2] = %T, want base64 string", list[2])
		}
	})

	t.Run("TypedMap", func(t *testing.T) {
		got, err := Sanitize(map[string]time.Time{"t": time.Unix(0, 0)})
		if err != nil {
			t.Fatalf("Sanitize() error = %v", err)
		}
		if _, ok := got.(map[string]any)["t"].(string); !ok {
			t.Errorf("typed map value not converted: %v", got)
		}
	})

	t.Run("NaN", func(t *testing.T) {
		if _, err := Sanitize(math.NaN()); !errors.Is(err, ErrUnsafeValue) {
			t.Errorf("Sanitize(NaN) error = %v, want ErrUnsafeValue", err)
		}
		if _, err := Sanitize(map[string]any{"v": math.Inf(1)}); !errors.Is(err, ErrUnsafeValue) {
			t.Errorf("Sanitize(map with Inf) error = %v, want ErrUnsafeValue", err)
		}
	})

	t.Run("IntKeyedMap", func(t *testing.T) {
		if _, err := Sanitize(map[int]any{1: "x"}); !errors.Is(err, ErrUnsafeValue) {
			t.Errorf("Sanitize(int-keyed map) error = %v, want ErrUnsafeValue", err)
		}
	})

	t.Run("Channel", func(t *testing.T) {
		if _, err := Sanitize(make(chan int)); !errors.Is(err, ErrUnsafeValue) {
			t.Errorf("Sanitize(chan) error = %v, want ErrUnsafeValue", err)
		}
	})

	t.Run("NilAndPointer", func(t *testing.T) {
		if got, err := Sanitize(nil); err != nil || got != nil {
			t.Errorf("Sanitize(nil) = %v, %v", got, err)
		}
		ts := time.Unix(0, 0).UTC()
		got, err := Sanitize(&ts)
		if err != nil {
			t.Fatalf("Sanitize(*time.Time) error = %v", err)
		}
		if _, ok := got.(string); !ok {
			t.Errorf("pointer not dereferenced: %T", got)
		}
	})
}

func TestIsReservedEvent(t *testing.T) {
	cases := []struct {
		eventType string
		want      bool
	}{
		{"job:progress", true},
		{"job:", true},
		{"device-status", true},
		{"active-session-changed", true},
		{"history-state-changed", true},
		{"terminal-output", false},
		{"jobless", false},
	}
	for _, c := range cases {
		if got := IsReservedEvent(c.eventType); got != c.want {
			t.Errorf("IsReservedEvent(%q) = %v, want %v", c.eventType, got, c.want)
		}
	}
}
