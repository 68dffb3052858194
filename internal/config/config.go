package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// InstrumentConfig describes one reachable instrument and the reliability
// settings used when talking to it.
type InstrumentConfig struct {
	Name             string       `toml:"name"`
	Addr             string       `toml:"addr"`
	InitVersion      uint8        `toml:"init_version"`
	ConnectTimeoutMS int          `toml:"connect_timeout_ms"`
	RequestTimeoutMS int          `toml:"request_timeout_ms"`
	WriteTimeoutMS   int          `toml:"write_timeout_ms"`
	Tunnel           TunnelConfig `toml:"tunnel"`
}

// TunnelConfig configures the optional ssh gateway between the control
// computer and the instrument network.
type TunnelConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	User       string `toml:"user"`
	KeyFile    string `toml:"key_file"`
	KnownHosts string `toml:"known_hosts"`
}

func (c InstrumentConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c InstrumentConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c InstrumentConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

func LoadInstrumentConfig(path string) (InstrumentConfig, error) {
	var cfg InstrumentConfig
	if err := loadToml(path, &cfg); err != nil {
		return InstrumentConfig{}, err
	}
	if cfg.Name == "" {
		cfg.Name = "instrument"
	}
	if cfg.InitVersion == 0 {
		cfg.InitVersion = 1
	}
	if err := ValidateInstrumentConfig(cfg); err != nil {
		return InstrumentConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateInstrumentConfig(cfg InstrumentConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("instrument config missing name")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("instrument config missing addr")
	}
	if cfg.ConnectTimeoutMS < 0 || cfg.RequestTimeoutMS < 0 || cfg.WriteTimeoutMS < 0 {
		return fmt.Errorf("instrument config timeouts must not be negative")
	}
	if cfg.Tunnel.Enabled {
		if strings.TrimSpace(cfg.Tunnel.Addr) == "" {
			return fmt.Errorf("tunnel enabled but missing addr")
		}
		if strings.TrimSpace(cfg.Tunnel.User) == "" {
			return fmt.Errorf("tunnel enabled but missing user")
		}
		if strings.TrimSpace(cfg.Tunnel.KeyFile) == "" {
			return fmt.Errorf("tunnel enabled but missing key_file")
		}
	}
	return nil
}
