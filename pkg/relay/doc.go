// Package relay implements the client side of the relay protocol: one
// Client per peer, owning one websocket transport and one registered
// session.
//
// # Connection Lifecycle
//
// A Client performs exactly one connection attempt per Connect call; retry
// policy belongs to the caller (see pkg/supervisor). Connect obtains a
// bearer token, dials the relay, registers this device and waits for the
// acknowledgment:
//
//	disconnected -> connecting -> handshaking -> connected
//
// When a stored resume credential exists it is attached to the register
// message; a rejected resume (invalid_resume) clears the credential and
// re-registers fresh on the same transport, passing through authenticating.
// Non-retryable server errors (auth_required, invalid_device_id, ...) move
// the client to failed, where it stays until explicit intervention.
//
// # Calls and Events
//
// Invoke relays an RPC request to the peer and returns a finite stream of
// responses, terminated by the peer's final response, the call timeout or a
// connection loss. Call is the unary shorthand. Events published by the
// peer arrive on the OnEvent callback; job events and reserved names
// additionally fire listeners registered with AddEventListener. Binary
// frames bypass JSON and surface on OnBinary.
//
// # Liveness
//
// While connected the client sends a heartbeat every HeartbeatInterval and
// a watchdog checks for inbound silence; a transport that stays silent past
// SilenceThreshold is torn down through the same path as a transport error.
//
// Example usage:
//
//	cfg := relay.DefaultConfig()
//	cfg.URL = "wss://relay.example.com/ws"
//	cfg.PeerID = "desktop-1"
//	cfg.ClientID = "mobile-1"
//	cfg.Tokens = auth.NewStaticProvider(token)
//
//	client, err := relay.New(cfg)
//	if err != nil {
//		return err
//	}
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//	defer client.Close()
//
//	resp, err := client.Call(ctx, "system.ping", nil, 3*time.Second)
package relay
