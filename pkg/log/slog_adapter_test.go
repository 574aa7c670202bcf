package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestSlog(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestSlogAdapter(t *testing.T) {
	t.Run("EnvelopeAttrs", func(t *testing.T) {
		var buf bytes.Buffer
		a := NewSlogAdapter(newTestSlog(&buf))

		a.Log(Event{
			Timestamp:    time.Now(),
			ConnectionID: "conn-1",
			Direction:    DirectionOut,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			PeerID:       "desktop-1",
			Envelope: &EnvelopeEvent{
				Type:          "relay",
				Size:          100,
				CorrelationID: "corr-1",
				Method:        "sync.pull",
			},
		})

		out := buf.String()
		for _, want := range []string{
			"conn_id=conn-1",
			"direction=OUT",
			"layer=WIRE",
			"category=MESSAGE",
			"peer_id=desktop-1",
			"envelope_type=relay",
			"correlation_id=corr-1",
			"method=sync.pull",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("CallAttrs", func(t *testing.T) {
		var buf bytes.Buffer
		a := NewSlogAdapter(newTestSlog(&buf))

		a.Log(Event{
			ConnectionID: "conn-1",
			Category:     CategoryCall,
			Call: &CallEvent{
				CorrelationID: "corr-2",
				Method:        "delete.item",
				Outcome:       CallOutcomeResult,
				Duration:      42 * time.Millisecond,
				RequestBytes:  64,
				ResponseBytes: 128,
			},
		})

		out := buf.String()
		for _, want := range []string{"outcome=RESULT", "method=delete.item", "request_bytes=64"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("StateChangeAttrs", func(t *testing.T) {
		var buf bytes.Buffer
		a := NewSlogAdapter(newTestSlog(&buf))

		a.Log(Event{
			ConnectionID: "conn-1",
			Category:     CategoryState,
			StateChange: &StateChangeEvent{
				Entity:   StateEntityConnection,
				OldState: "connecting",
				NewState: "handshaking",
			},
		})

		out := buf.String()
		for _, want := range []string{"entity=CONNECTION", "old_state=connecting", "new_state=handshaking"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("ErrorAttrs", func(t *testing.T) {
		var buf bytes.Buffer
		a := NewSlogAdapter(newTestSlog(&buf))

		a.Log(Event{
			ConnectionID: "conn-1",
			Category:     CategoryError,
			Error: &ErrorEventData{
				Layer:   LayerSession,
				Message: "registration rejected",
				Code:    "invalid_device_id",
				Context: "connect",
			},
		})

		out := buf.String()
		for _, want := range []string{"error_msg=\"registration rejected\"", "error_code=invalid_device_id"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})
}
