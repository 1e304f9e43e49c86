// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

// Package feed serves bridge state to web dashboards: REST endpoints
// for one-off reads and a websocket per server that streams
// snapshots, console text and state changes. Every websocket client is
// a session consumer voting for high cadence while it is active.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpanel/mcpanel/bridge"
	"github.com/mcpanel/mcpanel/lib/clock"
	"github.com/mcpanel/mcpanel/session"
	"github.com/mcpanel/mcpanel/telemetry"
)

const (
	// DefaultThrottle is the minimum spacing between pushes to one
	// websocket client.
	DefaultThrottle = 250 * time.Millisecond

	defaultHistoryWindow  = 10 * time.Minute
	defaultHistorySamples = 240
)

// Config holds the parameters for NewServer.
type Config struct {
	Hub *bridge.Hub

	// Servers are the names clients may open. Others get 404.
	Servers []string

	// Throttle defaults to DefaultThrottle.
	Throttle time.Duration

	// Token, when non-empty, is required on every request.
	Token string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server is the HTTP side of the feed.
type Server struct {
	hub      *bridge.Hub
	servers  map[string]bool
	names    []string
	throttle time.Duration
	token    string
	clock    clock.Clock
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer returns a server for the configured servers.
func NewServer(config Config) (*Server, error) {
	if config.Hub == nil {
		return nil, errors.New("feed: Hub is required")
	}
	s := &Server{
		hub:      config.Hub,
		servers:  make(map[string]bool, len(config.Servers)),
		names:    config.Servers,
		throttle: config.Throttle,
		token:    config.Token,
		clock:    config.Clock,
		logger:   config.Logger,
	}
	for _, name := range config.Servers {
		s.servers[name] = true
	}
	if s.throttle <= 0 {
		s.throttle = DefaultThrottle
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: checkOrigin}
	return s, nil
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/servers", s.handleServers)
	mux.HandleFunc("GET /api/servers/{server}/snapshot", s.withServer(s.handleSnapshot))
	mux.HandleFunc("GET /api/servers/{server}/history", s.withServer(s.handleHistory))
	mux.HandleFunc("GET /api/servers/{server}/complete", s.withServer(s.handleComplete))
	mux.HandleFunc("GET /api/servers/{server}/console", s.withServer(s.handleConsole))
	mux.HandleFunc("POST /api/servers/{server}/command", s.withServer(s.handleCommand))
	mux.HandleFunc("GET /ws/{server}", s.withServer(s.handleWebsocket))
	return s.authorize(mux)
}

// Serve accepts connections on listener until ctx is done, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errs := make(chan error, 1)
	go func() { errs <- httpServer.Serve(listener) }()
	s.logger.Info("feed listening", "address", listener.Addr().String())

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("feed shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	summaries := make([]ServerSummary, 0, len(s.names))
	for _, name := range s.names {
		info, _ := s.hub.Sessions().Info(name)
		summary := ServerSummary{
			Name:       name,
			State:      info.State.String(),
			Detected:   info.Detected,
			References: info.References,
			Cadence:    info.Cadence,
			LastSeen:   info.LastSeen,
		}
		for _, consumer := range info.Consumers {
			summary.Consumers = append(summary.Consumers, string(consumer))
		}
		summaries = append(summaries, summary)
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, panel *bridge.Panel) {
	writeJSON(w, http.StatusOK, panel.Store.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, panel *bridge.Panel) {
	query := r.URL.Query()
	window := defaultHistoryWindow
	if raw := query.Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = parsed
	}
	maxSamples := defaultHistorySamples
	if raw := query.Get("max"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid max", http.StatusBadRequest)
			return
		}
		maxSamples = parsed
	}
	var metrics []telemetry.Metric
	for _, name := range query["metric"] {
		metric, ok := telemetry.ParseMetric(name)
		if !ok {
			http.Error(w, fmt.Sprintf("unknown metric %q", name), http.StatusBadRequest)
			return
		}
		metrics = append(metrics, metric)
	}
	writeJSON(w, http.StatusOK, HistoryResponse{
		Server:  panel.Server,
		History: panel.Store.History(window, maxSamples, metrics...),
	})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, panel *bridge.Panel) {
	prefix := r.URL.Query().Get("prefix")
	candidates := panel.Complete(prefix)
	if candidates == nil {
		candidates = []string{}
	}
	writeJSON(w, http.StatusOK, CompletionsPayload{Prefix: prefix, Candidates: candidates})
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request, panel *bridge.Panel) {
	var offset uint64
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		offset = parsed
	}
	text, next, lost := panel.Console.ReadFrom(offset)
	writeJSON(w, http.StatusOK, ConsolePayload{Text: string(text), Offset: offset, Next: next, Lost: lost})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, panel *bridge.Panel) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Command) == "" {
		http.Error(w, "body must be {\"command\": \"...\"}", http.StatusBadRequest)
		return
	}
	err := s.hub.SendCommand(r.Context(), panel.Server, body.Command)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, session.ErrNotConnected):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

// withServer resolves the {server} path value to its panel.
func (s *Server) withServer(handler func(http.ResponseWriter, *http.Request, *bridge.Panel)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("server")
		if !s.servers[name] {
			http.Error(w, "unknown server", http.StatusNotFound)
			return
		}
		handler(w, r, s.hub.Panel(name))
	}
}

func (s *Server) authorize(next http.Handler) http.Handler {
	if s.token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if bearer != s.token && r.URL.Query().Get("token") != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin admits same-host and loopback origins, and clients that
// send no Origin at all.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}
