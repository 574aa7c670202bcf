// Package wire defines the JSON envelope format for the relay protocol.
//
// Every text frame on the relay transport is a single JSON object with a
// "type" discriminator and an optional "payload" object. Field names are
// camelCase on the wire and fixed by the protocol; the typed payload
// structs in this package are the authoritative mapping.
//
// # Message Types
//
// Outbound (client to relay): register, relay, heartbeat, pong.
// Inbound (relay to client): registered, resumed, session, relay_response,
// relay_event, error, ping.
//
// # Binary Frames
//
// Binary frames never carry an envelope. They are raw passthrough payload
// (terminal output and similar), optionally prefixed with a PTC1 session
// header so the receiver can associate the bytes with a relay session. See
// EncodeBinary and DecodeBinary.
//
// # Sanitization
//
// RPC params are application-supplied values. Sanitize converts them to
// JSON-safe types (times to RFC 3339 strings, byte slices to base64) and
// rejects values JSON cannot represent, so encoding failures surface before
// a frame is built rather than as a broken write.
package wire
