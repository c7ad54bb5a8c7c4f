package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NonexistentFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load with nonexistent file should not error: %v", err)
	}

	if cfg.Listen.Host != "127.0.0.1" {
		t.Errorf("default host: expected 127.0.0.1, got %q", cfg.Listen.Host)
	}
	if cfg.Listen.RangeStart != 8000 || cfg.Listen.RangeEnd != 9000 {
		t.Errorf("default port range: expected 8000-9000, got %d-%d", cfg.Listen.RangeStart, cfg.Listen.RangeEnd)
	}
	if !cfg.Socks.Enabled {
		t.Error("default socks.enabled: expected true")
	}
	if !cfg.Socks.UnknownProtocolPassthrough {
		t.Error("default socks.unknownProtocolPassthrough: expected true")
	}
	if cfg.TLS.MinVersion != "1.2" || cfg.TLS.MaxVersion != "1.3" {
		t.Errorf("default tls versions: expected 1.2/1.3, got %s/%s", cfg.TLS.MinVersion, cfg.TLS.MaxVersion)
	}
	if !cfg.Control.Enabled {
		t.Error("default control.enabled: expected true")
	}
	if cfg.Control.Port != 9901 {
		t.Errorf("default control.port: expected 9901, got %d", cfg.Control.Port)
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
listen:
  host: "0.0.0.0"
  rangeStart: 9090
  rangeEnd: 9090
tls:
  minVersion: "1.3"
  maxVersion: "1.3"
  passthrough:
    - "*.internal.example.com"
socks:
  enabled: false
control:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Host != "0.0.0.0" {
		t.Errorf("host: expected 0.0.0.0, got %q", cfg.Listen.Host)
	}
	if cfg.Listen.RangeStart != 9090 || cfg.Listen.RangeEnd != 9090 {
		t.Errorf("range: expected 9090-9090, got %d-%d", cfg.Listen.RangeStart, cfg.Listen.RangeEnd)
	}
	if len(cfg.TLS.Passthrough) != 1 || cfg.TLS.Passthrough[0] != "*.internal.example.com" {
		t.Errorf("tls.passthrough: got %v", cfg.TLS.Passthrough)
	}
	if cfg.Socks.Enabled {
		t.Error("socks.enabled: expected false")
	}
	if cfg.Control.Enabled {
		t.Error("control.enabled: expected false")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`{{{invalid yaml`), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
listen:
  rangeStart: 9500
  rangeEnd: 9600
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen.RangeStart != 9500 || cfg.Listen.RangeEnd != 9600 {
		t.Errorf("range: expected 9500-9600, got %d-%d", cfg.Listen.RangeStart, cfg.Listen.RangeEnd)
	}
	// Host should retain default.
	if cfg.Listen.Host != "127.0.0.1" {
		t.Errorf("host should be default 127.0.0.1, got %q", cfg.Listen.Host)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "valid defaults",
			cfg:     *applyDefaults(),
			wantErr: false,
		},
		{
			name: "empty listen host",
			cfg: Config{
				Listen: ListenConfig{Host: "", RangeStart: 8000, RangeEnd: 9000},
				CA:     CAConfig{LeafValidityH: 24},
			},
			wantErr: true,
		},
		{
			name: "range end before start",
			cfg: Config{
				Listen: ListenConfig{Host: "127.0.0.1", RangeStart: 9000, RangeEnd: 8000},
				CA:     CAConfig{LeafValidityH: 24},
			},
			wantErr: true,
		},
		{
			name: "bad tls version",
			cfg: Config{
				Listen: ListenConfig{Host: "127.0.0.1", RangeStart: 8000, RangeEnd: 9000},
				TLS:    TLSConfig{MinVersion: "2.0"},
				CA:     CAConfig{LeafValidityH: 24},
			},
			wantErr: true,
		},
		{
			name: "zero leaf validity",
			cfg: Config{
				Listen: ListenConfig{Host: "127.0.0.1", RangeStart: 8000, RangeEnd: 9000},
				CA:     CAConfig{LeafValidityH: 0},
			},
			wantErr: true,
		},
		{
			name: "control enabled with bad port",
			cfg: Config{
				Listen:  ListenConfig{Host: "127.0.0.1", RangeStart: 8000, RangeEnd: 9000},
				CA:      CAConfig{LeafValidityH: 24},
				Control: ControlConfig{Enabled: true, Host: "127.0.0.1", Port: 70000},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(&tt.cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestWriteDefault_Roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load after WriteDefault: %v", err)
	}

	if cfg.Listen.RangeStart != 8000 {
		t.Errorf("roundtrip rangeStart: expected 8000, got %d", cfg.Listen.RangeStart)
	}
	if !cfg.Socks.Enabled {
		t.Error("roundtrip socks.enabled: expected true")
	}
}
