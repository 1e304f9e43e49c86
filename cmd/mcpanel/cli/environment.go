// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"log/slog"

	"github.com/mcpanel/mcpanel/bridge"
	"github.com/mcpanel/mcpanel/lib/config"
	"github.com/mcpanel/mcpanel/telemetry"
	"github.com/mcpanel/mcpanel/transport"
)

// Environment is the state shared by one invocation: the global flags
// and whatever they load. Commands call its methods from Run so that
// --help never touches the config file.
type Environment struct {
	// ConfigPath is the --config flag. Empty falls back to
	// MCPANEL_CONFIG.
	ConfigPath string

	// LogLevel is the --log-level flag.
	LogLevel string

	config *config.Config
	logger *slog.Logger
}

// Config loads the configuration once.
func (e *Environment) Config() (*config.Config, error) {
	if e.config != nil {
		return e.config, nil
	}
	var (
		cfg *config.Config
		err error
	)
	if e.ConfigPath != "" {
		cfg, err = config.LoadFile(e.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	e.config = cfg
	return cfg, nil
}

// Logger returns the command logger, built on first use.
func (e *Environment) Logger() (*slog.Logger, error) {
	if e.logger != nil {
		return e.logger, nil
	}
	level := e.LogLevel
	if level == "" {
		level = "info"
	}
	logger, err := NewLogger(level)
	if err != nil {
		return nil, err
	}
	e.logger = logger
	return logger, nil
}

// Runtime is an assembled bridge: the hub over SSH and the history
// archive it persists to.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Hub    *bridge.Hub

	archive *telemetry.Archive
}

// Close tears down every session and closes the archive.
func (r *Runtime) Close() {
	r.Hub.Close()
	if r.archive != nil {
		if err := r.archive.Close(); err != nil {
			r.Logger.Warn("closing history archive", "error", err)
		}
	}
}

// OpenRuntime builds a hub for the configured servers. No connection is
// made until a command acquires a server.
func (e *Environment) OpenRuntime() (*Runtime, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	logger, err := e.Logger()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}

	archive, err := e.OpenArchive()
	if err != nil {
		return nil, err
	}

	hub, err := bridge.New(bridge.Config{
		Transport:      transport.NewSSH(SSHHosts(cfg), logger),
		Servers:        cfg.Servers,
		Bridge:         cfg.Bridge,
		CacheDirectory: cfg.Paths.Cache,
		Archive:        archive,
		Logger:         logger,
	})
	if err != nil {
		if archive != nil {
			archive.Close()
		}
		return nil, err
	}
	return &Runtime{Config: cfg, Logger: logger, Hub: hub, archive: archive}, nil
}

// OpenArchive opens the history archive, or returns nil if none is
// configured.
func (e *Environment) OpenArchive() (*telemetry.Archive, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	if cfg.Paths.Archive == "" {
		return nil, nil
	}
	logger, err := e.Logger()
	if err != nil {
		return nil, err
	}
	archive, err := telemetry.OpenArchive(telemetry.ArchiveConfig{Path: cfg.Paths.Archive, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("opening history archive: %w", err)
	}
	return archive, nil
}

// RequireServer fails unless name is configured.
func (e *Environment) RequireServer(name string) error {
	cfg, err := e.Config()
	if err != nil {
		return err
	}
	_, err = cfg.Server(name)
	return err
}

// SSHHosts maps configured servers to transport hosts.
func SSHHosts(cfg *config.Config) map[string]transport.SSHHost {
	hosts := make(map[string]transport.SSHHost, len(cfg.Servers))
	for name, server := range cfg.Servers {
		hosts[name] = transport.SSHHost{
			Address:      server.Address,
			User:         server.User,
			IdentityFile: server.IdentityFile,
			KnownHosts:   server.KnownHosts,
			Command:      server.AttachCommand,
			Directory:    server.Directory,
			Term:         server.Term,
		}
	}
	return hosts
}
