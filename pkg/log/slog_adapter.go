package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	// Add optional identifiers
	if event.PeerID != "" {
		attrs = append(attrs, slog.String("peer_id", event.PeerID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}

	// Add type-specific attributes
	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Envelope != nil:
		attrs = append(attrs,
			slog.String("envelope_type", event.Envelope.Type),
			slog.Int("envelope_size", event.Envelope.Size),
		)
		if event.Envelope.CorrelationID != "" {
			attrs = append(attrs, slog.String("correlation_id", event.Envelope.CorrelationID))
		}
		if event.Envelope.Method != "" {
			attrs = append(attrs, slog.String("method", event.Envelope.Method))
		}
		if event.Envelope.EventType != "" {
			attrs = append(attrs, slog.String("event_type", event.Envelope.EventType))
		}
		if event.Envelope.Code != "" {
			attrs = append(attrs, slog.String("code", event.Envelope.Code))
		}
		if event.Envelope.IsFinal {
			attrs = append(attrs, slog.Bool("is_final", true))
		}
	case event.Call != nil:
		attrs = append(attrs,
			slog.String("correlation_id", event.Call.CorrelationID),
			slog.String("method", event.Call.Method),
			slog.String("outcome", event.Call.Outcome.String()),
			slog.Duration("duration", event.Call.Duration),
			slog.Int("request_bytes", event.Call.RequestBytes),
			slog.Int("response_bytes", event.Call.ResponseBytes),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Control != nil:
		attrs = append(attrs, slog.String("ctrl_type", event.Control.Type.String()))
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != "" {
			attrs = append(attrs, slog.String("error_code", event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
