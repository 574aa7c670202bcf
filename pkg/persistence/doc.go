// Package persistence provides runtime state persistence for relay clients.
//
// This package handles the JSON serialization of the known-peer set (peer IDs,
// active peer, relay server URL) that must survive client restarts so that
// connections can be restored. Resume credentials are handled separately by
// the credentials package's stores.
package persistence
