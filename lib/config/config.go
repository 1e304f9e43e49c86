// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the mcpanel configuration file.
//
// The file is named by the --config flag or the MCPANEL_CONFIG
// environment variable. Values missing from the file keep the defaults
// from Default(). The only expansion performed is ${VAR} and
// ${VAR:-default} in path fields.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "MCPANEL_CONFIG"

// Config is the full configuration.
type Config struct {
	Paths   PathsConfig             `yaml:"paths"`
	Bridge  BridgeConfig            `yaml:"bridge"`
	Feed    FeedConfig              `yaml:"feed"`
	Servers map[string]ServerConfig `yaml:"servers"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// Root is the base directory for everything below.
	Root string `yaml:"root"`

	// Cache holds per-server completion caches.
	Cache string `yaml:"cache"`

	// Archive is the SQLite file for telemetry history. Empty disables
	// the archive.
	Archive string `yaml:"archive"`
}

// BridgeConfig tunes the session and telemetry pipeline.
type BridgeConfig struct {
	// MaxFrameBytes caps how much the demultiplexer buffers while
	// waiting for an end marker.
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	// ReconnectAttempts is the retry budget after a transport error.
	ReconnectAttempts int `yaml:"reconnect_attempts"`

	// ReconnectDelay is the pause before each reconnect attempt.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// ConnectTimeout bounds how long acquire waits for the first byte.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// CadenceDebounce is the minimum spacing between cadence changes.
	CadenceDebounce time.Duration `yaml:"cadence_debounce"`

	// HistoryRetention is how far back metric history is kept.
	HistoryRetention time.Duration `yaml:"history_retention"`

	// GapThreshold is the age past which a query projects the last
	// sample forward to the present.
	GapThreshold time.Duration `yaml:"gap_threshold"`

	// ScrollbackBytes sizes the per-server console scrollback.
	ScrollbackBytes int `yaml:"scrollback_bytes"`
}

// FeedConfig configures the websocket feed server.
type FeedConfig struct {
	Listen string `yaml:"listen"`

	// Throttle is the minimum spacing between snapshot pushes.
	Throttle time.Duration `yaml:"throttle"`

	// Token, when set, must accompany every request as a bearer token
	// or a "token" query parameter.
	Token string `yaml:"token"`
}

// ServerConfig describes how to reach one game server.
type ServerConfig struct {
	// Address is host:port of the SSH endpoint.
	Address string `yaml:"address"`

	User string `yaml:"user"`

	// IdentityFile is the private key used for authentication.
	IdentityFile string `yaml:"identity_file"`

	// KnownHosts is the known_hosts file used to verify the host key.
	KnownHosts string `yaml:"known_hosts"`

	// Directory is the server's working directory on the remote host.
	Directory string `yaml:"directory"`

	// AttachCommand runs in the PTY to reach the server console.
	// "{dir}" is replaced with Directory.
	AttachCommand string `yaml:"attach_command"`

	// Term is the TERM value requested for the PTY.
	Term string `yaml:"term"`
}

// DefaultAttachCommand attaches to the PTY wrapper that owns the server
// process.
const DefaultAttachCommand = "mcwrap attach {dir} --raw"

// Default returns the configuration every file is layered on.
func Default() *Config {
	homeDirectory, _ := os.UserHomeDir()
	root := filepath.Join(homeDirectory, ".cache", "mcpanel")
	return &Config{
		Paths: PathsConfig{
			Root:    root,
			Cache:   filepath.Join(root, "completion"),
			Archive: filepath.Join(root, "history.db"),
		},
		Bridge: BridgeConfig{
			MaxFrameBytes:     4 << 20,
			ReconnectAttempts: 3,
			ReconnectDelay:    2 * time.Second,
			ConnectTimeout:    20 * time.Second,
			CadenceDebounce:   750 * time.Millisecond,
			HistoryRetention:  30 * time.Minute,
			GapThreshold:      30 * time.Second,
			ScrollbackBytes:   1 << 20,
		},
		Feed: FeedConfig{
			Listen:   "127.0.0.1:8765",
			Throttle: 250 * time.Millisecond,
		},
		Servers: map[string]ServerConfig{},
	}
}

// Load reads the file named by MCPANEL_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; set it to the path of your mcpanel.yaml or pass --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads path on top of Default, expands variables, fills
// per-server defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.expandVariables()
	cfg.fillServerDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ServerNames returns configured server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.Servers))
	for name := range c.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Server looks up a server by name.
func (c *Config) Server(name string) (ServerConfig, error) {
	server, ok := c.Servers[name]
	if !ok {
		return ServerConfig{}, fmt.Errorf("unknown server %q (configured: %v)", name, c.ServerNames())
	}
	return server, nil
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	directories := []string{c.Paths.Root, c.Paths.Cache}
	if c.Paths.Archive != "" {
		directories = append(directories, filepath.Dir(c.Paths.Archive))
	}
	for _, directory := range directories {
		if directory == "" {
			continue
		}
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Bridge.MaxFrameBytes <= 0 {
		errs = append(errs, errors.New("bridge.max_frame_bytes must be positive"))
	}
	if c.Bridge.ReconnectAttempts < 0 {
		errs = append(errs, errors.New("bridge.reconnect_attempts must not be negative"))
	}
	if c.Bridge.HistoryRetention <= 0 {
		errs = append(errs, errors.New("bridge.history_retention must be positive"))
	}
	if c.Bridge.CadenceDebounce < 0 {
		errs = append(errs, errors.New("bridge.cadence_debounce must not be negative"))
	}
	for _, name := range c.ServerNames() {
		server := c.Servers[name]
		if server.Address == "" {
			errs = append(errs, fmt.Errorf("servers.%s.address is required", name))
		}
		if server.User == "" {
			errs = append(errs, fmt.Errorf("servers.%s.user is required", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) fillServerDefaults() {
	homeDirectory, _ := os.UserHomeDir()
	for name, server := range c.Servers {
		if server.AttachCommand == "" {
			server.AttachCommand = DefaultAttachCommand
		}
		if server.Term == "" {
			server.Term = "xterm-256color"
		}
		if server.KnownHosts == "" {
			server.KnownHosts = filepath.Join(homeDirectory, ".ssh", "known_hosts")
		}
		c.Servers[name] = server
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":         os.Getenv("HOME"),
		"MCPANEL_ROOT": c.Paths.Root,
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["MCPANEL_ROOT"] = c.Paths.Root
	c.Paths.Cache = expandVars(c.Paths.Cache, vars)
	c.Paths.Archive = expandVars(c.Paths.Archive, vars)
	for name, server := range c.Servers {
		server.IdentityFile = expandVars(server.IdentityFile, vars)
		server.KnownHosts = expandVars(server.KnownHosts, vars)
		c.Servers[name] = server
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := vars[parts[1]]; value != "" {
			return value
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}
