// Package log provides structured protocol logging for relay connections.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, session).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	client.SetProtocolLogger(log.NewSlogAdapter(slog.Default()))
//
//	// For production: write to binary file
//	fl, _ := log.NewFileLogger("/var/log/relink/client.rlog")
//	client.SetProtocolLogger(fl)
//
//	// Both: use MultiLogger
//	client.SetProtocolLogger(log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fl,
//	))
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw websocket frames (FrameEvent)
//   - Wire: Decoded envelopes (EnvelopeEvent)
//   - Session: State, health and reconnect changes (StateChangeEvent),
//     terminal call outcomes (CallEvent)
//
// Liveness messages (heartbeat/ping/pong) and errors have dedicated event
// types.
//
// # File Format
//
// Log files use CBOR encoding with .rlog extension. The relink-log CLI tool
// provides viewing, filtering, and export capabilities.
package log
