package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/openlab/harplink/internal/config"
	"github.com/openlab/harplink/internal/protocol/session"
)

// targetsFile persists the instruments this client knows how to reach.
type targetsFile struct {
	Targets []targetConfig `toml:"targets"`
}

// targetConfig binds a display name to one instrument endpoint.
type targetConfig struct {
	Name             string `toml:"name"`
	Addr             string `toml:"addr"`
	InitVersion      uint8  `toml:"init_version"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
	RequestTimeoutMS int    `toml:"request_timeout_ms"`
	WriteTimeoutMS   int    `toml:"write_timeout_ms"`

	TunnelAddr       string `toml:"tunnel_addr"`
	TunnelUser       string `toml:"tunnel_user"`
	TunnelKeyFile    string `toml:"tunnel_key_file"`
	TunnelKnownHosts string `toml:"tunnel_known_hosts"`
}

func loadTargets(path string) ([]targetConfig, error) {
	var raw targetsFile
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	out := make([]targetConfig, 0, len(raw.Targets))
	for _, t := range raw.Targets {
		t.Name = strings.TrimSpace(t.Name)
		t.Addr = strings.TrimSpace(t.Addr)
		if t.Name == "" || t.Addr == "" {
			continue
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("targets file %s declares no usable targets", path)
	}
	return out, nil
}

func findTarget(targets []targetConfig, name string) (targetConfig, error) {
	if name == "" && len(targets) == 1 {
		return targets[0], nil
	}
	for _, t := range targets {
		if t.Name == name {
			return t, nil
		}
	}
	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}
	return targetConfig{}, fmt.Errorf("unknown target %q (known: %s)", name, strings.Join(names, ", "))
}

// instrumentFromTarget maps one targets-file entry onto the instrument
// config shape the session layer consumes.
func instrumentFromTarget(t targetConfig) config.InstrumentConfig {
	return config.InstrumentConfig{
		Name:             t.Name,
		Addr:             t.Addr,
		InitVersion:      t.InitVersion,
		ConnectTimeoutMS: t.ConnectTimeoutMS,
		RequestTimeoutMS: t.RequestTimeoutMS,
		WriteTimeoutMS:   t.WriteTimeoutMS,
		Tunnel: config.TunnelConfig{
			Enabled:    t.TunnelAddr != "",
			Addr:       t.TunnelAddr,
			User:       t.TunnelUser,
			KeyFile:    t.TunnelKeyFile,
			KnownHosts: t.TunnelKnownHosts,
		},
	}
}

func sessionConfig(cfg config.InstrumentConfig) session.Config {
	return session.Config{
		ConnectTimeout: cfg.ConnectTimeout(),
		RequestTimeout: cfg.RequestTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		InitVersion:    cfg.InitVersion,
	}.WithDefaults()
}

func tunnelConfig(cfg config.InstrumentConfig) *session.TunnelConfig {
	if !cfg.Tunnel.Enabled {
		return nil
	}
	return &session.TunnelConfig{
		Enabled:        true,
		Addr:           cfg.Tunnel.Addr,
		User:           cfg.Tunnel.User,
		KeyFile:        cfg.Tunnel.KeyFile,
		KnownHostsFile: cfg.Tunnel.KnownHosts,
	}
}
