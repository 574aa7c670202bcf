package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

// writeTestLog writes a fixed sequence of events and returns the file path.
func writeTestLog(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.rlog")
	fl, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer fl.Close()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{
			Timestamp:    base,
			ConnectionID: "conn-1",
			Direction:    DirectionOut,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			PeerID:       "desktop-1",
			Envelope:     &EnvelopeEvent{Type: "register"},
		},
		{
			Timestamp:    base.Add(time.Second),
			ConnectionID: "conn-1",
			Direction:    DirectionIn,
			Layer:        LayerWire,
			Category:     CategoryMessage,
			PeerID:       "desktop-1",
			SessionID:    "sess-1",
			Envelope:     &EnvelopeEvent{Type: "registered"},
		},
		{
			Timestamp:    base.Add(2 * time.Second),
			ConnectionID: "conn-2",
			Direction:    DirectionOut,
			Layer:        LayerWire,
			Category:     CategoryControl,
			PeerID:       "desktop-2",
			Control:      &ControlEvent{Type: ControlMsgHeartbeat},
		},
		{
			Timestamp:    base.Add(3 * time.Second),
			ConnectionID: "conn-1",
			Direction:    DirectionIn,
			Layer:        LayerSession,
			Category:     CategoryError,
			PeerID:       "desktop-1",
			SessionID:    "sess-1",
			Error:        &ErrorEventData{Layer: LayerSession, Message: "watchdog silence"},
		},
	}
	for _, ev := range events {
		fl.Log(ev)
	}
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()

	var out []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, ev)
	}
}

func TestReader(t *testing.T) {
	t.Run("NoFilter", func(t *testing.T) {
		path := writeTestLog(t)

		r, err := NewReader(path)
		if err != nil {
			t.Fatalf("NewReader() error = %v", err)
		}
		defer r.Close()

		events := readAll(t, r)
		if len(events) != 4 {
			t.Errorf("got %d events, want 4", len(events))
		}
	})

	t.Run("FilterByConnection", func(t *testing.T) {
		path := writeTestLog(t)

		r, err := NewFilteredReader(path, Filter{ConnectionID: "conn-2"})
		if err != nil {
			t.Fatalf("NewFilteredReader() error = %v", err)
		}
		defer r.Close()

		events := readAll(t, r)
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if events[0].PeerID != "desktop-2" {
			t.Errorf("PeerID = %q, want %q", events[0].PeerID, "desktop-2")
		}
	})

	t.Run("FilterByDirection", func(t *testing.T) {
		path := writeTestLog(t)

		in := DirectionIn
		r, err := NewFilteredReader(path, Filter{Direction: &in})
		if err != nil {
			t.Fatalf("NewFilteredReader() error = %v", err)
		}
		defer r.Close()

		events := readAll(t, r)
		if len(events) != 2 {
			t.Errorf("got %d events, want 2", len(events))
		}
	})

	t.Run("FilterByCategory", func(t *testing.T) {
		path := writeTestLog(t)

		cat := CategoryError
		r, err := NewFilteredReader(path, Filter{Category: &cat})
		if err != nil {
			t.Fatalf("NewFilteredReader() error = %v", err)
		}
		defer r.Close()

		events := readAll(t, r)
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if events[0].Error == nil || events[0].Error.Message != "watchdog silence" {
			t.Errorf("Error = %+v, want watchdog silence", events[0].Error)
		}
	})

	t.Run("FilterBySession", func(t *testing.T) {
		path := writeTestLog(t)

		r, err := NewFilteredReader(path, Filter{SessionID: "sess-1"})
		if err != nil {
			t.Fatalf("NewFilteredReader() error = %v", err)
		}
		defer r.Close()

		events := readAll(t, r)
		if len(events) != 2 {
			t.Errorf("got %d events, want 2", len(events))
		}
	})

	t.Run("FilterByTimeWindow", func(t *testing.T) {
		path := writeTestLog(t)

		start := time.Date(2026, 2, 1, 12, 0, 1, 0, time.UTC)
		end := time.Date(2026, 2, 1, 12, 0, 3, 0, time.UTC)
		r, err := NewFilteredReader(path, Filter{TimeStart: &start, TimeEnd: &end})
		if err != nil {
			t.Fatalf("NewFilteredReader() error = %v", err)
		}
		defer r.Close()

		// Window is [start, end): events at +1s and +2s match, +3s does not
		events := readAll(t, r)
		if len(events) != 2 {
			t.Errorf("got %d events, want 2", len(events))
		}
	})

	t.Run("CombinedFilters", func(t *testing.T) {
		path := writeTestLog(t)

		out := DirectionOut
		r, err := NewFilteredReader(path, Filter{ConnectionID: "conn-1", Direction: &out})
		if err != nil {
			t.Fatalf("NewFilteredReader() error = %v", err)
		}
		defer r.Close()

		events := readAll(t, r)
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if events[0].Envelope == nil || events[0].Envelope.Type != "register" {
			t.Errorf("Envelope = %+v, want register", events[0].Envelope)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := NewReader(filepath.Join(t.TempDir(), "missing.rlog")); err == nil {
			t.Error("NewReader() error = nil, want error")
		}
	})
}
