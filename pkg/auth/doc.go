// Package auth defines the token model relay clients authenticate with.
//
// The relay server expects a bearer access token on the registration
// handshake and a user id on every relayed request. This package defines the
// TokenProvider interface the client consumes, plus two implementations: a
// static provider for tests and demos, and a JWT-backed provider that derives
// the user id and expiry from the token's claims without verifying the
// signature (verification is the server's job).
package auth
