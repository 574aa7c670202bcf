// Package transport provides the websocket transport for relay connections.
//
// The transport layer handles:
//   - Websocket dialing with per-connection auth headers
//   - A single read pump dispatching text and binary frames
//   - Serialized writes with deadlines
//   - Graceful and forced teardown
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│       JSON Envelopes           │
//	├────────────────────────────────┤
//	│   Websocket (text + binary)    │
//	├────────────────────────────────┤
//	│         TLS (wss)              │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Connection liveness is an application concern (heartbeat envelopes); the
// transport only reacts to websocket-level close and read errors. Websocket
// pings from the server are answered by the library's default pong handler.
package transport
