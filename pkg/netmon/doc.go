// Package netmon reports network path status to the connection supervisor.
//
// The supervisor consults the current path before background retries and
// reacts to interface changes (for example Wi-Fi to cellular) by proactively
// reconnecting. Platform integrations implement Monitor; this package ships a
// StaticMonitor driven by the embedding app or by tests, and a PollingMonitor
// that derives a coarse status from the host's interface table.
package netmon
