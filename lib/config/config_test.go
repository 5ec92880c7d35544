package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.MaxClients != DefaultMaxClients {
		t.Errorf("MaxClients = %d, want %d", cfg.MaxClients, DefaultMaxClients)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", cfg.HandshakeTimeout)
	}
	if cfg.AuthTimeout != 30*time.Second {
		t.Errorf("AuthTimeout = %v, want 30s", cfg.AuthTimeout)
	}
	if cfg.StopGrace != 2*time.Second {
		t.Errorf("StopGrace = %v, want 2s", cfg.StopGrace)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error: %v", err)
	}
}

func TestLoad(t *testing.T) {
	t.Run("no file uses defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load(\"\") error: %v", err)
		}
		if cfg.DatagramAddr != DefaultDatagramAddr {
			t.Errorf("DatagramAddr = %q, want %q", cfg.DatagramAddr, DefaultDatagramAddr)
		}
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "server.yaml")
		body := "listen_addr: 127.0.0.1:4000\nmax_clients: 32\nwelcome: hi there\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.ListenAddr != "127.0.0.1:4000" {
			t.Errorf("ListenAddr = %q, want file value", cfg.ListenAddr)
		}
		if cfg.MaxClients != 32 {
			t.Errorf("MaxClients = %d, want 32", cfg.MaxClients)
		}
		if cfg.Welcome != "hi there" {
			t.Errorf("Welcome = %q, want file value", cfg.Welcome)
		}
		// Untouched keys keep defaults.
		if cfg.SharedSecret != DefaultSharedSecret {
			t.Errorf("SharedSecret = %q, want default", cfg.SharedSecret)
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "server.yaml")
		if err := os.WriteFile(path, []byte("listen_addr: 127.0.0.1:4000\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		t.Setenv("GAME_LISTEN_ADDR", "127.0.0.1:5000")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error: %v", err)
		}
		if cfg.ListenAddr != "127.0.0.1:5000" {
			t.Errorf("ListenAddr = %q, want env value", cfg.ListenAddr)
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("Load(absent) = nil error, want error")
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen addr", func(c *Config) { c.ListenAddr = "" }},
		{"empty datagram addr", func(c *Config) { c.DatagramAddr = "" }},
		{"negative max clients", func(c *Config) { c.MaxClients = -1 }},
		{"empty secret", func(c *Config) { c.SharedSecret = "" }},
		{"zero handshake timeout", func(c *Config) { c.HandshakeTimeout = 0 }},
		{"zero auth timeout", func(c *Config) { c.AuthTimeout = 0 }},
		{"zero stop grace", func(c *Config) { c.StopGrace = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil error, want error")
			}
		})
	}
}
