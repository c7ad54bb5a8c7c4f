// Package main is the CLI entry point for the intercepting proxy: a
// programmable HTTP/HTTPS/WebSocket/SOCKS proxy and mock server that sits
// wherever a client is pointed at it, sniffing and routing every connection,
// serving mocked responses or relaying to the real upstream per whatever
// rules are registered through the in-process Go rule-builder API.
//
// CLI commands (cobra):
//
//	mockctl              - Interactive first-run setup
//	mockctl start [-d]   - Start the proxy (foreground or daemon)
//	mockctl stop         - Stop the proxy
//	mockctl status       - Show proxy status
//	mockctl rules list   - List mocked endpoints currently registered
//	mockctl config show  - Print the current config.yaml
//	mockctl config edit  - Open config.yaml in $EDITOR
//	mockctl config generate - Write a default config.yaml
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/httpmock/interceptor/internal/ca"
	"github.com/httpmock/interceptor/internal/config"
	"github.com/httpmock/interceptor/internal/control"
	"github.com/httpmock/interceptor/internal/dispatcher"
	"github.com/httpmock/interceptor/internal/mockserver"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.mockctl/ where all runtime state
// lives: config.yaml, the root CA cert/key, and the PID/log files.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mockctl"
	}
	return filepath.Join(home, ".mockctl")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

var configDir string

var rootCmd = &cobra.Command{
	Use:   "mockctl",
	Short: "mockctl — programmable intercepting proxy and mock server",
	Long: `mockctl runs a single-port proxy that sniffs every accepted connection
and routes it to the right protocol handler: SOCKS4/4a/5/5h, CONNECT
tunnels, TLS (minting on-demand leaf certificates via its own CA), HTTP/1.1,
HTTP/2, and WebSocket upgrades, with raw passthrough for anything else.

Mocked responses and passthrough behaviour are registered in-process
through the Go rule-builder API; the control surface lists and resets the
registered endpoints but has no endpoint for adding rules. There are no
rule files to edit by hand.

Run 'mockctl start' to start the proxy, or run 'mockctl' with no arguments
for interactive first-run setup.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFirstTimeSetup(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to mockctl config and state directory",
	)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(configCmd)
}

// ============================================================================
// mockctl start — Start the proxy server
// ============================================================================

var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	Long: `Start the proxy. It binds the dispatcher listener to the first free
port in the configured range, and (if enabled) the administrative control
surface on its own port.

By default runs in the foreground. Use -d for daemon/background mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run in daemon/background mode")
}

// runStart wires every subsystem together and blocks until shutdown:
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Load config from ~/.mockctl/config.yaml
//  3. Load or mint the root CA
//  4. Build the mockserver (dispatcher + rule engines + passthrough pipeline)
//  5. Bind the dispatcher listener across the configured port range
//  6. Build and bind the control surface, if enabled
//  7. Write the PID file
//  8. Start a config file watcher
//  9. Block until SIGINT/SIGTERM or an HTTP /shutdown request
func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("MOCKCTL_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	certPath := cfg.CA.RootCertPath
	if certPath == "" {
		certPath = filepath.Join(configDir, "ca-cert.pem")
	}
	keyPath := cfg.CA.RootKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(configDir, "ca-key.pem")
	}
	rootCertPEM, rootKeyPEM, err := loadOrMintRootCA(certPath, keyPath)
	if err != nil {
		return fmt.Errorf("failed to load CA: %w", err)
	}

	authority, err := ca.New(ca.Options{
		RootCertPEM:   rootCertPEM,
		RootKeyPEM:    rootKeyPEM,
		DefaultDomain: cfg.CA.DefaultDomain,
		Organisation:  cfg.CA.Organisation,
		Locality:      cfg.CA.Locality,
		LeafValidity:  time.Duration(cfg.CA.LeafValidityH) * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise CA: %w", err)
	}

	policy := dispatcher.Policy{
		SocksEnabled:               cfg.Socks.Enabled,
		UnknownProtocolPassthrough: cfg.Socks.UnknownProtocolPassthrough,
		TLSPassthrough:             cfg.TLS.Passthrough,
		TLSInterceptOnly:           cfg.TLS.InterceptOnly,
		MinTLSVersion:              tlsVersionCode(cfg.TLS.MinVersion),
		MaxTLSVersion:              tlsVersionCode(cfg.TLS.MaxVersion),
	}

	srv := mockserver.New(mockserver.Options{CA: authority, Policy: policy})

	port, err := srv.ListenRange(cfg.Listen.Host, cfg.Listen.RangeStart, cfg.Listen.RangeEnd)
	if err != nil {
		return fmt.Errorf("failed to bind listener in range %d-%d: %w",
			cfg.Listen.RangeStart, cfg.Listen.RangeEnd, err)
	}
	fmt.Printf("[mockctl] Proxy listening on %s\n", srv.Addr())

	var controlServer *http.Server
	if cfg.Control.Enabled {
		ctl := control.New(control.Options{
			HTTPRules: srv.HTTPRules,
			WSRules:   srv.WSRules,
			Bus:       srv.Bus,
		})

		mux := http.NewServeMux()
		mux.Handle("/", ctl)
		mux.Handle("/api/endpoints", ctl.APIHandler())
		mux.Handle("/api/reset", ctl.APIHandler())
		mux.Handle("/events", ctl.EventStreamHandler())

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"status":"ok","version":%q,"proxyAddr":%q}`, version, srv.Addr())
		})

		shutdownCh := make(chan struct{}, 1)
		mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "POST only", http.StatusMethodNotAllowed)
				return
			}
			if !isLoopback(r.RemoteAddr) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"status":"shutting_down"}`)
			select {
			case shutdownCh <- struct{}{}:
			default:
			}
		})

		controlAddr := net.JoinHostPort(cfg.Control.Host, strconv.Itoa(cfg.Control.Port))
		controlServer = &http.Server{
			Addr:              controlAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			fmt.Printf("[mockctl] Control surface listening on http://%s\n", controlAddr)
			if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "[mockctl] control surface error: %v\n", err)
			}
		}()

		return runUntilShutdown(srv, controlServer, shutdownCh)
	}

	return runUntilShutdown(srv, nil, nil)
}

// runUntilShutdown writes the PID file, starts the config watcher, and
// blocks until a shutdown signal arrives from any of the sources the proxy
// supports, then tears everything down in order.
func runUntilShutdown(srv *mockserver.Server, controlServer *http.Server, shutdownCh chan struct{}) error {
	pidFile := filepath.Join(configDir, "mockctl.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	watcher, err := config.NewWatcher(configDir, config.WatchTargets{
		OnConfigChange: func() {
			// Listener, CA, and policy are fixed at construction; only a
			// restart picks up changes to them. Surface that rather than
			// silently ignoring the edit.
			fmt.Println("[mockctl] config.yaml changed — restart to apply")
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if !daemonMode {
			fmt.Println("[mockctl] Press Ctrl+C to stop")
		}
		errCh <- srv.Serve()
	}()

	var sigCh chan struct{}
	if shutdownCh == nil {
		sigCh = make(chan struct{})
	} else {
		sigCh = shutdownCh
	}

	select {
	case <-ctx.Done():
		fmt.Println("\n[mockctl] Shutting down (signal received)...")
	case <-sigCh:
		fmt.Println("[mockctl] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dispatcher listener error: %w", err)
		}
	}

	if controlServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := controlServer.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "[mockctl] control surface shutdown error: %v\n", err)
		}
	}
	if err := srv.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "[mockctl] listener close error: %v\n", err)
	}

	fmt.Println("[mockctl] Stopped")
	return nil
}

// tlsVersionCode maps a "1.0".."1.3" config string to its crypto/tls
// numeric constant, defaulting to 0 (no bound) for an empty string or a
// value validate() should already have rejected.
func tlsVersionCode(v string) uint16 {
	switch v {
	case "1.0":
		return 0x0301
	case "1.1":
		return 0x0302
	case "1.2":
		return 0x0303
	case "1.3":
		return 0x0304
	default:
		return 0
	}
}

// loadOrMintRootCA reads the root CA cert/key from disk, minting and
// persisting a fresh self-signed root the first time the proxy runs against
// a given config directory.
func loadOrMintRootCA(certPath, keyPath string) (certPEM, keyPEM []byte, err error) {
	certPEM, certErr := os.ReadFile(certPath)
	keyPEM, keyErr := os.ReadFile(keyPath)
	if certErr == nil && keyErr == nil {
		return certPEM, keyPEM, nil
	}
	if certErr != nil && !os.IsNotExist(certErr) {
		return nil, nil, certErr
	}
	if keyErr != nil && !os.IsNotExist(keyErr) {
		return nil, nil, keyErr
	}

	fmt.Printf("[mockctl] Minting root CA at %s\n", certPath)
	certPEM, keyPEM, err = mintRootCA()
	if err != nil {
		return nil, nil, fmt.Errorf("minting root CA: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return nil, nil, fmt.Errorf("writing root cert: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return nil, nil, fmt.Errorf("writing root key: %w", err)
	}
	return certPEM, keyPEM, nil
}

// mintRootCA generates a fresh ECDSA P-256 self-signed root certificate,
// valid for ten years, suitable for installing into a browser or system
// trust store so minted leaf certificates are trusted.
func mintRootCA() (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "mockctl root CA",
			Organization: []string{"mockctl"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes})
	return certPEM, keyPEM, nil
}

// spawnDaemon re-executes the mockctl binary as a detached background
// process. The parent prints the child PID and exits immediately — Go
// can't fork() safely since its runtime is multi-threaded, so re-exec with
// an env sentinel is the standard way to background a Go process.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "mockctl.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "MOCKCTL_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[mockctl] Proxy started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[mockctl] Log file: %s\n", logPath)
	fmt.Println("[mockctl] Use 'mockctl stop' to stop the proxy")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[mockctl] Warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback restricts the /shutdown endpoint to local-only access.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// mockctl stop — Stop the proxy server
// ============================================================================

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running proxy",
	Long: `Stop a running proxy. Tries HTTP shutdown first (cross-platform), then
falls back to PID file + SIGTERM on Unix systems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Control.Enabled {
		addr := fmt.Sprintf("http://%s:%d", cfg.Control.Host, cfg.Control.Port)
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Post(addr+"/shutdown", "application/json", nil)
		if err == nil {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				fmt.Println("[mockctl] Stop signal sent")
				os.Remove(filepath.Join(configDir, "mockctl.pid"))
				return nil
			}
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxy is not responding — cannot stop")
	}

	pidFile := filepath.Join(configDir, "mockctl.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxy is not running (no PID file and control surface unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop proxy (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[mockctl] Sent stop signal to proxy (PID %d)\n", pid)
	return nil
}

// ============================================================================
// mockctl status — Show proxy status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

type statusHealthJSON struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	ProxyAddr string `json:"proxyAddr"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !cfg.Control.Enabled {
		fmt.Println("[mockctl] Control surface disabled in config — status unavailable")
		return nil
	}

	addr := fmt.Sprintf("http://%s:%d", cfg.Control.Host, cfg.Control.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[mockctl] Status: NOT RUNNING")
		fmt.Printf("[mockctl] Expected control surface at: %s\n", addr)
		return nil
	}
	defer resp.Body.Close()

	var health statusHealthJSON
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Println("[mockctl] Status: RUNNING (could not parse health response)")
		return nil
	}

	fmt.Println("[mockctl] Status: RUNNING")
	fmt.Printf("[mockctl] Proxy listening on: %s\n", health.ProxyAddr)
	fmt.Printf("[mockctl] Control surface at: %s\n", addr)
	fmt.Printf("[mockctl] Version: %s\n", health.Version)
	return nil
}

// ============================================================================
// mockctl rules — Inspect mocked endpoints on a running proxy
// ============================================================================

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect mocked endpoints registered on a running proxy",
	Long: `Rules aren't stored in a file — they're registered against the running
process through the Go rule-builder API; the control surface's REST API
can list and reset them but not add them.
'mockctl rules list' queries a running proxy's control surface for the
endpoints currently registered.`,
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
}

type rulesEndpointJSON struct {
	ID          string `json:"id"`
	Explanation string `json:"explanation"`
	SeenCount   int    `json:"seenCount"`
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List mocked endpoints on the running proxy",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(filepath.Join(configDir, "config.yaml"))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if !cfg.Control.Enabled {
			return fmt.Errorf("control surface disabled in config — cannot list endpoints")
		}

		addr := fmt.Sprintf("http://%s:%d", cfg.Control.Host, cfg.Control.Port)
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(addr + "/api/endpoints")
		if err != nil {
			return fmt.Errorf("proxy not reachable at %s: %w", addr, err)
		}
		defer resp.Body.Close()

		var endpoints []rulesEndpointJSON
		if err := json.NewDecoder(resp.Body).Decode(&endpoints); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}

		if len(endpoints) == 0 {
			fmt.Println("No mocked endpoints registered.")
			return nil
		}

		fmt.Printf("%-36s %-8s %s\n", "ID", "SEEN", "EXPLANATION")
		fmt.Printf("%-36s %-8s %s\n", "--", "----", "-----------")
		for _, e := range endpoints {
			fmt.Printf("%-36s %-8d %s\n", e.ID, e.SeenCount, e.Explanation)
		}
		return nil
	},
}

// ============================================================================
// mockctl config — View and edit configuration
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and edit proxy configuration",
	Long: `Manage the proxy configuration. The config file lives at
~/.mockctl/config.yaml and defines the listen port range, CA subject
defaults, TLS version bounds and passthrough lists, SOCKS toggles, default
passthrough proxy chaining, and the control surface bind address.`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configGenerateCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s\n", configPath)
				fmt.Println("Run 'mockctl' for interactive setup or 'mockctl config generate' for a template.")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	Long:  `Open the config file in your default editor ($EDITOR or $VISUAL).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(configDir, "config.yaml")

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			if runtime.GOOS == "windows" {
				editor = "notepad"
			} else {
				editor = "vi"
			}
		}

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := config.WriteDefault(configPath); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
		}

		fmt.Printf("[mockctl] Opening %s in %s...\n", configPath, editor)
		editorCmd := exec.Command(editor, configPath)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		return editorCmd.Run()
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a default config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath := filepath.Join(configDir, "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists at %s", configPath)
		}
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		fmt.Printf("[mockctl] Wrote default config to %s\n", configPath)
		return nil
	},
}

// ============================================================================
// First-run interactive setup
// ============================================================================

// runFirstTimeSetup runs when 'mockctl' is invoked with no subcommand. It
// creates the config directory, writes a default config.yaml if one
// doesn't exist yet, mints the root CA, and prints next steps.
func runFirstTimeSetup(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		fmt.Printf("[mockctl] Wrote default config to %s\n", configPath)
	} else {
		fmt.Printf("[mockctl] Using existing config at %s\n", configPath)
	}

	certPath := filepath.Join(configDir, "ca-cert.pem")
	keyPath := filepath.Join(configDir, "ca-key.pem")
	if _, _, err := loadOrMintRootCA(certPath, keyPath); err != nil {
		return fmt.Errorf("failed to set up root CA: %w", err)
	}

	fmt.Println()
	fmt.Println("[mockctl] Setup complete. To trust intercepted HTTPS traffic, install")
	fmt.Printf("[mockctl]   %s\n", certPath)
	fmt.Println("[mockctl] into your system or browser trust store.")
	fmt.Println()
	fmt.Println("[mockctl] Run 'mockctl start' to start the proxy.")
	return nil
}
