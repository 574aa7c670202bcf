// Package interactive provides the interactive command-line interface
// for the relink client.
package interactive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/relink-protocol/relink-go/pkg/relay"
	"github.com/relink-protocol/relink-go/pkg/supervisor"
	"github.com/relink-protocol/relink-go/pkg/wire"
)

// callTimeout bounds interactive RPC invocations.
const callTimeout = 30 * time.Second

// ClientConfig provides configuration information to the interactive client.
// This interface allows the interactive layer to access client settings
// without depending on the main package's config structure.
type ClientConfig interface {
	// ServerURL returns the relay server URL.
	ServerURL() string

	// ClientID returns this client's identifier.
	ClientID() string
}

// Client handles interactive mode for relink-client.
type Client struct {
	sup    *supervisor.Supervisor
	config ClientConfig
	rl     *readline.Instance
}

// New creates a new interactive client handler.
func New(sup *supervisor.Supervisor, cfg ClientConfig) (*Client, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "relink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := &Client{
		sup:    sup,
		config: cfg,
		rl:     rl,
	}

	// Take over event display so async output coordinates with the prompt.
	sup.OnStateChange(c.displayStateChange)
	sup.OnHealthChange(c.displayHealthChange)
	sup.OnEvent(c.displayEvent)
	sup.OnBinary(c.displayBinary)
	sup.OnReset(c.displayReset)

	return c, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Client) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Client) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Client) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "connect", "c":
			c.cmdConnect(args)

		case "disconnect", "d":
			c.cmdDisconnect(args)

		case "switch", "sw":
			c.cmdSwitch(args)

		case "peers", "list", "ls":
			c.cmdPeers()

		case "call":
			c.cmdCall(args)

		case "status":
			c.cmdStatus()

		case "foreground", "fg":
			c.cmdForeground()

		case "background", "bg":
			c.cmdBackground()

		case "reset":
			c.cmdReset(args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Client) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Relink Client Commands:
  Connections:
    connect <peer-id>     - Connect to a peer through the relay
    disconnect <peer-id>  - Disconnect from a peer
    switch <peer-id>      - Make a peer the active device
    peers                 - List managed peers

  Calls:
    call <peer-id> <method> [params] - Invoke an RPC method on a peer
                            (params must be a JSON value)

  Lifecycle:
    foreground            - Mark the app foregrounded
    background            - Mark the app backgrounded
    reset [reason]        - Drop all connections and wipe credentials
    status                - Show client status

  General:
    help                  - Show this help
    quit                  - Exit client

  Peer IDs can be abbreviated to any unique substring.`)
}

// cmdConnect handles the connect command.
func (c *Client) cmdConnect(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: connect <peer-id>")
		return
	}

	peerID := args[0]
	fmt.Fprintf(c.rl.Stdout(), "Connecting to %s...\n", peerID)

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if err := c.sup.AddConnection(ctx, peerID); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Failed to connect: %v\n", err)
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Connected to %s\n", peerID)
	if hs := c.sup.Handshake(peerID); hs != nil {
		fmt.Fprintf(c.rl.Stdout(), "  Session: %s\n", hs.SessionID)
	}
}

// cmdDisconnect handles the disconnect command.
func (c *Client) cmdDisconnect(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: disconnect <peer-id>")
		fmt.Fprintln(c.rl.Stdout(), "  Use 'peers' to list peer IDs")
		return
	}

	peerID, ok := c.resolvePeerID(args[0])
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "Peer not found: %s\n", args[0])
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Disconnecting %s...\n", peerID)
	if err := c.sup.RemoveConnection(peerID); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Failed to disconnect: %v\n", err)
		return
	}

	fmt.Fprintln(c.rl.Stdout(), "Disconnected")
}

// cmdSwitch handles the switch command.
func (c *Client) cmdSwitch(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: switch <peer-id>")
		return
	}

	// The target may be a new peer, so fall back to the raw argument.
	peerID, ok := c.resolvePeerID(args[0])
	if !ok {
		peerID = args[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	if err := c.sup.SwitchActiveDevice(ctx, peerID); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Failed to switch: %v\n", err)
		return
	}

	fmt.Fprintf(c.rl.Stdout(), "Active peer: %s\n", c.sup.ActivePeer())
}

// cmdPeers handles the peers command.
func (c *Client) cmdPeers() {
	peers := c.sup.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No managed peers")
		return
	}

	active := c.sup.ActivePeer()

	fmt.Fprintf(c.rl.Stdout(), "\nManaged Peers (%d):\n", len(peers))
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	for _, p := range peers {
		marker := " "
		if p == active {
			marker = "*"
		}
		fmt.Fprintf(c.rl.Stdout(), "%s ID: %s\n", marker, p)
		fmt.Fprintf(c.rl.Stdout(), "      State: %s\n", c.sup.State(p))
		if hs := c.sup.Handshake(p); hs != nil {
			fmt.Fprintf(c.rl.Stdout(), "      Session: %s\n", hs.SessionID)
		}
	}
	fmt.Fprintln(c.rl.Stdout())
}

// cmdCall handles the call command.
func (c *Client) cmdCall(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: call <peer-id> <method> [params]")
		fmt.Fprintln(c.rl.Stdout(), "  Example: call desktop-7f3a sessions.list")
		fmt.Fprintln(c.rl.Stdout(), "  Example: call desktop-7f3a prompt.send {\"text\":\"hello\"}")
		return
	}

	peerID, ok := c.resolvePeerID(args[0])
	if !ok {
		fmt.Fprintf(c.rl.Stdout(), "Peer not found: %s\n", args[0])
		return
	}
	method := args[1]

	var params any
	if len(args) >= 3 {
		raw := strings.Join(args[2:], " ")
		if !json.Valid([]byte(raw)) {
			fmt.Fprintf(c.rl.Stdout(), "Invalid params (must be JSON): %s\n", raw)
			return
		}
		params = json.RawMessage(raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.sup.Call(ctx, peerID, method, params, callTimeout)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Call failed: %v\n", err)
		return
	}

	if resp.Error != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error %d: %s (%s)\n", resp.Error.Code, resp.Error.Message, elapsed)
		return
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, resp.Result, "", "  "); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "%s\n", string(resp.Result))
	} else {
		fmt.Fprintf(c.rl.Stdout(), "%s\n", pretty.String())
	}
	fmt.Fprintf(c.rl.Stdout(), "(%s)\n", elapsed)
}

// cmdStatus shows the client status.
func (c *Client) cmdStatus() {
	fmt.Fprintln(c.rl.Stdout(), "\nClient Status")
	fmt.Fprintln(c.rl.Stdout(), "-------------------------------------------")
	fmt.Fprintf(c.rl.Stdout(), "  Server:       %s\n", c.config.ServerURL())
	fmt.Fprintf(c.rl.Stdout(), "  Client ID:    %s\n", c.config.ClientID())
	fmt.Fprintf(c.rl.Stdout(), "  Health:       %s\n", c.sup.Health())

	active := c.sup.ActivePeer()
	if active == "" {
		active = "none"
	}
	fmt.Fprintf(c.rl.Stdout(), "  Active Peer:  %s\n", active)

	peers := c.sup.Peers()
	connected := make([]string, 0, len(peers))
	for _, p := range peers {
		if c.sup.State(p) == relay.StateConnected {
			connected = append(connected, shortID(p))
		}
	}

	fmt.Fprintf(c.rl.Stdout(), "  Peers:        %d\n", len(peers))
	if len(connected) > 0 {
		fmt.Fprintf(c.rl.Stdout(), "  Connected:    %d (%s)\n", len(connected), strings.Join(connected, ", "))
	} else {
		fmt.Fprintf(c.rl.Stdout(), "  Connected:    0\n")
	}

	fmt.Fprintln(c.rl.Stdout())
}

// cmdForeground marks the app foregrounded.
func (c *Client) cmdForeground() {
	c.sup.SetForegrounded(true)
	fmt.Fprintln(c.rl.Stdout(), "App marked foregrounded")
}

// cmdBackground marks the app backgrounded.
func (c *Client) cmdBackground() {
	c.sup.SetForegrounded(false)
	fmt.Fprintln(c.rl.Stdout(), "App marked backgrounded")
}

// cmdReset drops all connections and wipes stored credentials.
func (c *Client) cmdReset(args []string) {
	reason := "user requested"
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}

	c.sup.HardReset(reason)
	fmt.Fprintln(c.rl.Stdout(), "Connections reset")
}

// resolvePeerID matches a full or partial peer ID against the managed set.
func (c *Client) resolvePeerID(arg string) (string, bool) {
	return matchPeer(c.sup.Peers(), arg)
}

// matchPeer finds arg in peers, trying an exact match before substring
// matching.
func matchPeer(peers []string, arg string) (string, bool) {
	for _, p := range peers {
		if p == arg {
			return p, true
		}
	}

	for _, p := range peers {
		if strings.Contains(p, arg) {
			return p, true
		}
	}

	return "", false
}

// displayStateChange shows a connection state transition.
func (c *Client) displayStateChange(peerID string, oldState, newState relay.State) {
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Peer %s: %s -> %s\n",
		time.Now().Format("15:04:05"),
		shortID(peerID),
		oldState,
		newState)
	c.rl.Refresh()
}

// displayHealthChange shows an overall health transition.
func (c *Client) displayHealthChange(oldHealth, newHealth supervisor.Health) {
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Health: %s -> %s\n",
		time.Now().Format("15:04:05"),
		oldHealth,
		newHealth)
	c.rl.Refresh()
}

// displayEvent shows an asynchronous relay event from a peer.
func (c *Client) displayEvent(peerID string, ev wire.RelayEventPayload) {
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Event from %s: %s (%d bytes)\n",
		time.Now().Format("15:04:05"),
		shortID(peerID),
		ev.EventType,
		len(ev.Data))
	c.rl.Refresh()
}

// displayBinary shows an incoming binary frame.
func (c *Client) displayBinary(peerID, sessionID string, payload []byte) {
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Binary from %s: %d bytes (session %s)\n",
		time.Now().Format("15:04:05"),
		shortID(peerID),
		len(payload),
		shortID(sessionID))
	c.rl.Refresh()
}

// displayReset announces a hard reset.
func (c *Client) displayReset(reason string) {
	fmt.Fprintf(c.rl.Stdout(), "\n[%s] Connections reset: %s\n",
		time.Now().Format("15:04:05"),
		reason)
	c.rl.Refresh()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
