// Package config handles loading, validating, and writing the proxy's
// configuration from ~/.mockctl/config.yaml.
//
// The config defines:
//   - Listen port range and bind host
//   - CA root cert/key paths and leaf certificate defaults
//   - TLS min/max version and passthrough/intercept-only hostname lists
//   - SOCKS and unknown-protocol-passthrough toggles
//   - Default proxy-chaining behavior for passthrough/forward-to steps
//   - The administrative control surface's bind address
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level proxy configuration.
// Loaded from ~/.mockctl/config.yaml, with sensible defaults for fields
// that are not explicitly set.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	CA          CAConfig          `yaml:"ca"`
	TLS         TLSConfig         `yaml:"tls"`
	Socks       SocksConfig       `yaml:"socks"`
	Passthrough PassthroughConfig `yaml:"passthrough"`
	Control     ControlConfig     `yaml:"control"`
}

// ListenConfig defines the bind host and the port range the dispatcher
// searches when binding (§5): it tries each port in [RangeStart, RangeEnd]
// in turn, skipping EADDRINUSE, and fails only if the whole range is busy.
type ListenConfig struct {
	Host       string `yaml:"host"`
	RangeStart int    `yaml:"rangeStart"`
	RangeEnd   int    `yaml:"rangeEnd"`
}

// CAConfig points at the root certificate/key used to mint per-SNI leaf
// certificates, plus the subject fields stamped onto minted leaves.
type CAConfig struct {
	RootCertPath  string `yaml:"rootCertPath"`
	RootKeyPath   string `yaml:"rootKeyPath"`
	DefaultDomain string `yaml:"defaultDomain"`
	Organisation  string `yaml:"organisation"`
	Locality      string `yaml:"locality"`
	LeafValidityH int    `yaml:"leafValidityHours"`
}

// TLSConfig bounds the negotiated TLS version and lists the hostname
// patterns that bypass interception entirely or are the only ones allowed
// to be intercepted.
type TLSConfig struct {
	MinVersion       string   `yaml:"minVersion"`
	MaxVersion       string   `yaml:"maxVersion"`
	Passthrough      []string `yaml:"passthrough"`
	InterceptOnly    []string `yaml:"interceptOnly"`
}

// SocksConfig toggles the SOCKSv4/4a/5/5h adapter and unknown-protocol
// raw passthrough at the dispatcher's sniff step.
type SocksConfig struct {
	Enabled                    bool `yaml:"enabled"`
	UnknownProtocolPassthrough bool `yaml:"unknownProtocolPassthrough"`
}

// PassthroughConfig holds a default upstream proxy URL and no-proxy list.
// They are loaded and validated with the rest of the file, but cmd/mockctl
// does not hand them to the proxy: passthrough/forward-to steps chain only
// through their own ProxyConfig.
type PassthroughConfig struct {
	DefaultProxyURL string   `yaml:"defaultProxyUrl"`
	NoProxy         []string `yaml:"noProxy"`
}

// ControlConfig controls the administrative HTTP+WebSocket surface served
// at /, /api/endpoints, /api/reset, and the event-stream websocket.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. This is normal on first run
			// before `mockctl config generate` creates the file.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header. Used by first-run setup and `mockctl config
// generate` when no config file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# Intercepting proxy configuration.
#
# listen:
#   host: Bind address (default: 127.0.0.1, loopback only)
#   rangeStart/rangeEnd: Port range tried in order, skipping EADDRINUSE
#
# ca:
#   rootCertPath/rootKeyPath: PEM files for the root signing certificate
#   defaultDomain/organisation/locality: subject fields for minted leaves
#   leafValidityHours: how long minted leaf certificates are valid for
#
# tls:
#   minVersion/maxVersion: e.g. "1.2", "1.3"
#   passthrough/interceptOnly: wildcard hostname patterns (*.example.com)
#
# socks:
#   enabled: accept SOCKSv4/4a/5/5h connections on the same port
#   unknownProtocolPassthrough: raw-copy anything else unrecognised
#
# passthrough:
#   defaultProxyUrl/noProxy: default upstream proxy chaining
#
# control:
#   enabled/host/port: the administrative HTTP+WebSocket surface

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	return &Config{
		Listen: ListenConfig{
			Host:       "127.0.0.1",
			RangeStart: 8000,
			RangeEnd:   9000,
		},
		CA: CAConfig{
			DefaultDomain: "mockctl.local",
			Organisation:  "mockctl",
			Locality:      "",
			LeafValidityH: 24,
		},
		TLS: TLSConfig{
			MinVersion: "1.2",
			MaxVersion: "1.3",
		},
		Socks: SocksConfig{
			Enabled:                    true,
			UnknownProtocolPassthrough: true,
		},
		Passthrough: PassthroughConfig{},
		Control: ControlConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    9901,
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Listen.Host == "" {
		return fmt.Errorf("listen.host must not be empty")
	}
	if cfg.Listen.RangeStart < 1 || cfg.Listen.RangeStart > 65535 {
		return fmt.Errorf("listen.rangeStart %d out of range (1-65535)", cfg.Listen.RangeStart)
	}
	if cfg.Listen.RangeEnd < cfg.Listen.RangeStart || cfg.Listen.RangeEnd > 65535 {
		return fmt.Errorf("listen.rangeEnd %d must be >= rangeStart and <= 65535", cfg.Listen.RangeEnd)
	}

	if err := validateTLSVersion("tls.minVersion", cfg.TLS.MinVersion); err != nil {
		return err
	}
	if err := validateTLSVersion("tls.maxVersion", cfg.TLS.MaxVersion); err != nil {
		return err
	}

	if cfg.CA.LeafValidityH < 1 {
		return fmt.Errorf("ca.leafValidityHours must be at least 1")
	}

	if cfg.Control.Enabled {
		if cfg.Control.Host == "" {
			return fmt.Errorf("control.host must not be empty when control.enabled is true")
		}
		if cfg.Control.Port < 1 || cfg.Control.Port > 65535 {
			return fmt.Errorf("control.port %d out of range (1-65535)", cfg.Control.Port)
		}
	}

	return nil
}

func validateTLSVersion(field, v string) error {
	switch v {
	case "", "1.0", "1.1", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("%s %q must be one of 1.0, 1.1, 1.2, 1.3", field, v)
	}
}
