// Command relink-client is a reference Relink protocol client implementation.
//
// This command demonstrates a complete relay-connected client with:
//   - CLI argument parsing
//   - Configuration file support
//   - Connection supervision with automatic reconnection
//   - Interactive command interface
//   - Session resume credential storage
//   - Protocol event logging
//
// Usage:
//
//	relink-client [flags]
//
// Flags:
//
//	-config string        Configuration file path (YAML)
//	-server string        Relay server websocket URL
//	-client-id string     Stable client identifier (generated if empty)
//	-client-name string   Human-readable device name (default "Relink Client")
//	-client-type string   Client type reported to the relay (default "mobile")
//	-token string         Access token for relay authentication
//	-user-id string       User id associated with the token
//	-peer string          Peer to connect to at startup
//	-state-dir string     Directory for persistent state
//	-cred-store string    Credential store backend: memory, file, sqlite (default "memory")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-net-poll duration    Network path polling interval (default 5s)
//	-interactive          Enable interactive command mode
//	-reset                Clear all persisted state before starting
//
// Examples:
//
//	# Connect to a peer with interactive mode
//	relink-client -server wss://relay.example.com/connect -token $TOKEN -user-id u-1 \
//	    -peer desktop-7f3a -interactive
//
//	# Start with persistence (remembers peers and resume credentials across restarts)
//	relink-client -server wss://relay.example.com/connect -token $TOKEN -user-id u-1 \
//	    -state-dir ~/.relink -cred-store file
//
//	# Record protocol traffic for later analysis with relink-log
//	relink-client -server wss://relay.example.com/connect -token $TOKEN -user-id u-1 \
//	    -peer desktop-7f3a -protocol-log session.rlog
//
//	# Reset persistent state
//	relink-client -state-dir ~/.relink -reset
//
// Interactive Commands:
//
//	connect <peer-id>    - Connect to a peer through the relay
//	disconnect <peer-id> - Disconnect from a peer
//	switch <peer-id>     - Make a peer the active device
//	peers                - List managed peers
//	call <peer-id> <method> [params] - Invoke an RPC method on a peer
//	status               - Show client status
//	foreground           - Mark the app foregrounded
//	background           - Mark the app backgrounded
//	reset [reason]       - Drop all connections and wipe credentials
//	quit                 - Exit the client
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relink-protocol/relink-go/cmd/relink-client/interactive"
	"github.com/relink-protocol/relink-go/pkg/auth"
	"github.com/relink-protocol/relink-go/pkg/credentials"
	relinklog "github.com/relink-protocol/relink-go/pkg/log"
	"github.com/relink-protocol/relink-go/pkg/netmon"
	"github.com/relink-protocol/relink-go/pkg/persistence"
	"github.com/relink-protocol/relink-go/pkg/relay"
	"github.com/relink-protocol/relink-go/pkg/supervisor"
	"github.com/relink-protocol/relink-go/pkg/wire"
)

// Config holds the client configuration.
// It implements interactive.ClientConfig.
type Config struct {
	ConfigFile string `yaml:"-"`

	Server          string        `yaml:"server"`
	ClientIDValue   string        `yaml:"client-id"`
	ClientName      string        `yaml:"client-name"`
	ClientType      string        `yaml:"client-type"`
	Token           string        `yaml:"token"`
	UserID          string        `yaml:"user-id"`
	Peer            string        `yaml:"peer"`
	LogLevel        string        `yaml:"log-level"`
	ProtocolLogPath string        `yaml:"protocol-log"`
	NetPoll         time.Duration `yaml:"net-poll"`
	Interactive     bool          `yaml:"interactive"`

	// Persistence settings
	StateDir  string `yaml:"state-dir"`
	CredStore string `yaml:"cred-store"`
	Reset     bool   `yaml:"-"`
}

// ServerURL implements interactive.ClientConfig.
func (c *Config) ServerURL() string {
	return c.Server
}

// ClientID implements interactive.ClientConfig.
func (c *Config) ClientID() string {
	return c.ClientIDValue
}

var (
	config Config
	sup    *supervisor.Supervisor
)

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&config.Server, "server", "", "Relay server websocket URL")
	flag.StringVar(&config.ClientIDValue, "client-id", "", "Stable client identifier (generated if empty)")
	flag.StringVar(&config.ClientName, "client-name", "Relink Client", "Human-readable device name")
	flag.StringVar(&config.ClientType, "client-type", "", "Client type reported to the relay")
	flag.StringVar(&config.Token, "token", "", "Access token for relay authentication")
	flag.StringVar(&config.UserID, "user-id", "", "User id associated with the token")
	flag.StringVar(&config.Peer, "peer", "", "Peer to connect to at startup")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&config.ProtocolLogPath, "protocol-log", "", "File path for protocol event logging (CBOR format)")
	flag.DurationVar(&config.NetPoll, "net-poll", netmon.DefaultPollInterval, "Network path polling interval")
	flag.BoolVar(&config.Interactive, "interactive", false, "Enable interactive command mode")

	flag.StringVar(&config.StateDir, "state-dir", "", "Directory for persistent state")
	flag.StringVar(&config.CredStore, "cred-store", "memory", "Credential store backend: memory, file, sqlite")
	flag.BoolVar(&config.Reset, "reset", false, "Clear all persisted state before starting")
}

func main() {
	flag.Parse()

	// Merge configuration file before logging setup so log-level applies.
	if config.ConfigFile != "" {
		if err := loadConfigFile(config.ConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load config file: %v\n", err)
			os.Exit(1)
		}
	}

	// Setup logging
	output := &logOutput{w: os.Stderr}
	logger := setupLogging(config.LogLevel, output)

	log.Println("Relink Reference Client")
	log.Println("=======================")

	if config.ClientIDValue == "" {
		config.ClientIDValue = fmt.Sprintf("relink-%d", time.Now().Unix()%100000)
		log.Printf("Generated client id: %s", config.ClientIDValue)
	}

	if kind := strings.ToLower(config.CredStore); kind != "" && kind != "memory" && config.StateDir == "" {
		log.Fatalf("-cred-store %s requires -state-dir", config.CredStore)
	}

	// Set up persistence if state-dir is provided
	var (
		peerStore *persistence.PeerSetStore
		credStore credentials.Store = credentials.NewMemoryStore()
		sqlStore  *credentials.SQLiteStore
	)
	if config.StateDir != "" {
		if err := os.MkdirAll(config.StateDir, 0o700); err != nil {
			log.Fatalf("Failed to create state directory: %v", err)
		}
		log.Printf("Using state directory: %s", config.StateDir)

		peerStore = persistence.NewPeerSetStore(filepath.Join(config.StateDir, "peers.json"))

		switch strings.ToLower(config.CredStore) {
		case "", "memory":
			// Resume credentials live in memory only.
		case "file":
			secret, err := loadOrCreateSecret(filepath.Join(config.StateDir, "cred.key"))
			if err != nil {
				log.Fatalf("Failed to load credential key: %v", err)
			}
			fs, err := credentials.NewFileStore(filepath.Join(config.StateDir, "credentials.enc"), secret)
			if err != nil {
				log.Fatalf("Failed to open credential file: %v", err)
			}
			credStore = fs
		case "sqlite":
			var err error
			sqlStore, err = credentials.OpenSQLiteStore(filepath.Join(config.StateDir, "credentials.db"))
			if err != nil {
				log.Fatalf("Failed to open credential database: %v", err)
			}
			credStore = sqlStore
		default:
			log.Fatalf("Unknown credential store: %s (use: memory, file, sqlite)", config.CredStore)
		}

		// Handle --reset flag
		if config.Reset {
			log.Println("Resetting persisted state...")
			if err := peerStore.Clear(); err != nil {
				log.Printf("Warning: failed to clear peer set: %v", err)
			}
			if err := credStore.DeleteAll(); err != nil {
				log.Printf("Warning: failed to clear credentials: %v", err)
			}
			if config.Server == "" {
				log.Println("State cleared.")
				return
			}
		}
	}

	if config.Server == "" {
		log.Fatalf("Relay server URL is required (-server)")
	}
	if config.Token == "" {
		log.Fatalf("Access token is required (-token)")
	}

	log.Printf("Server: %s", config.Server)
	log.Printf("Client id: %s", config.ClientIDValue)

	tokens := auth.NewStaticProvider(auth.Token{
		AccessToken: config.Token,
		UserID:      config.UserID,
	})

	mon := netmon.NewPollingMonitor(config.NetPoll)

	// Set up protocol logging if requested
	var protocolLogger *relinklog.FileLogger
	if config.ProtocolLogPath != "" {
		var err error
		protocolLogger, err = relinklog.NewFileLogger(config.ProtocolLogPath)
		if err != nil {
			log.Fatalf("Failed to create protocol logger: %v", err)
		}
		log.Printf("Protocol logging to: %s", config.ProtocolLogPath)
	}

	// Create supervisor
	supCfg := supervisor.DefaultConfig()
	supCfg.Relay = relay.DefaultConfig()
	supCfg.Relay.URL = config.Server
	supCfg.Relay.ClientID = config.ClientIDValue
	supCfg.Relay.ClientName = config.ClientName
	supCfg.Relay.ClientType = config.ClientType
	supCfg.Relay.Tokens = tokens
	supCfg.Relay.Credentials = credStore
	supCfg.Peers = peerStore
	supCfg.Network = mon
	supCfg.Logger = logger
	// Only set logger when non-nil to avoid typed-nil interface issue.
	if protocolLogger != nil {
		supCfg.ProtocolLog = protocolLogger
	}

	var err error
	sup, err = supervisor.New(supCfg)
	if err != nil {
		log.Fatalf("Failed to create supervisor: %v", err)
	}

	// Register event handlers
	registerEventHandlers(sup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reconnect to known peers from a previous run
	if peerStore != nil {
		if err := sup.RestoreConnections(ctx); err != nil {
			log.Printf("Warning: failed to restore connections: %v", err)
		}
		if n := len(sup.Peers()); n > 0 {
			log.Printf("Restoring %d known peer(s)", n)
		}
	}

	if config.Peer != "" {
		log.Printf("Connecting to peer %s...", config.Peer)
		if err := sup.AddConnection(ctx, config.Peer); err != nil {
			log.Printf("Warning: failed to connect to %s: %v", config.Peer, err)
		} else {
			log.Printf("Connected to %s", config.Peer)
		}
	}

	// Run interactive mode or wait for signal
	if config.Interactive {
		ic, err := interactive.New(sup, &config)
		if err != nil {
			log.Fatalf("Failed to create interactive client: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(ic.Stdout())
		output.Swap(ic.Stdout())
		go ic.Run(ctx, cancel)
	}

	// Wait for shutdown signal or context cancellation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Context was cancelled (e.g., by interactive quit command)
	}

	log.Println("Shutting down...")

	cancel()

	if err := sup.Close(); err != nil {
		log.Printf("Error closing supervisor: %v", err)
	}
	mon.Close()
	if protocolLogger != nil {
		protocolLogger.Close()
	}
	if sqlStore != nil {
		sqlStore.Close()
	}

	log.Println("Goodbye!")
}

// logOutput is a swappable destination for the structured logger. Once the
// readline prompt owns the terminal, output is routed through it.
type logOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *logOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *logOutput) Swap(w io.Writer) {
	o.mu.Lock()
	o.w = w
	o.mu.Unlock()
}

func setupLogging(level string, w io.Writer) *slog.Logger {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	case "", "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
		log.SetFlags(log.Ltime)
	case "error":
		lvl = slog.LevelError
		log.SetFlags(log.Ltime)
	default:
		log.Fatalf("Unknown log level: %s (use: debug, info, warn, error)", level)
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// loadConfigFile merges settings from a YAML file into the configuration.
// Flags given explicitly on the command line keep precedence.
func loadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	merge := func(name string, dst *string, src string) {
		if !explicit[name] && src != "" {
			*dst = src
		}
	}
	merge("server", &config.Server, fileCfg.Server)
	merge("client-id", &config.ClientIDValue, fileCfg.ClientIDValue)
	merge("client-name", &config.ClientName, fileCfg.ClientName)
	merge("client-type", &config.ClientType, fileCfg.ClientType)
	merge("token", &config.Token, fileCfg.Token)
	merge("user-id", &config.UserID, fileCfg.UserID)
	merge("peer", &config.Peer, fileCfg.Peer)
	merge("state-dir", &config.StateDir, fileCfg.StateDir)
	merge("cred-store", &config.CredStore, fileCfg.CredStore)
	merge("protocol-log", &config.ProtocolLogPath, fileCfg.ProtocolLogPath)
	merge("log-level", &config.LogLevel, fileCfg.LogLevel)

	if !explicit["net-poll"] && fileCfg.NetPoll > 0 {
		config.NetPoll = fileCfg.NetPoll
	}
	if !explicit["interactive"] && fileCfg.Interactive {
		config.Interactive = true
	}

	return nil
}

// loadOrCreateSecret reads the credential encryption key, generating and
// persisting one on first run.
func loadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil && len(secret) > 0 {
		return secret, nil
	}

	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, err
	}
	return secret, nil
}

// registerEventHandlers logs supervisor events. Interactive mode replaces
// these with handlers that coordinate with the readline prompt.
func registerEventHandlers(s *supervisor.Supervisor) {
	s.OnStateChange(func(peerID string, oldState, newState relay.State) {
		log.Printf("[STATE] %s: %s -> %s", shortPeerID(peerID), oldState, newState)
	})
	s.OnHealthChange(func(oldHealth, newHealth supervisor.Health) {
		log.Printf("[HEALTH] %s -> %s", oldHealth, newHealth)
	})
	s.OnEvent(func(peerID string, ev wire.RelayEventPayload) {
		log.Printf("[EVENT] %s: %s (%d bytes)", shortPeerID(peerID), ev.EventType, len(ev.Data))
	})
	s.OnBinary(func(peerID, sessionID string, payload []byte) {
		log.Printf("[BINARY] %s: %d bytes (session %s)", shortPeerID(peerID), len(payload), shortPeerID(sessionID))
	})
	s.OnReset(func(reason string) {
		log.Printf("[RESET] %s", reason)
	})
}

func shortPeerID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
