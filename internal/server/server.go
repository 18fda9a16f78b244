// Package server provides the HTTP remote control front end for watchpost.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ayusman/watchpost/internal/metrics"
	"github.com/ayusman/watchpost/internal/ratelimit"
	"github.com/ayusman/watchpost/internal/server/api"
	"github.com/ayusman/watchpost/internal/settings"
	"github.com/ayusman/watchpost/internal/state"
	"github.com/ayusman/watchpost/internal/stats"
	"github.com/ayusman/watchpost/internal/timeutil"
)

// OperatorHeader carries the caller identity on every command.
const OperatorHeader = "X-Operator-ID"

// Command names, used as rate limit actions and metric labels.
const (
	CmdSnapshot  = "snapshot"
	CmdStream    = "stream"
	CmdLive      = "live"
	CmdStatus    = "status"
	CmdSummary   = "summary"
	CmdReset     = "reset"
	CmdSettings  = "settings"
	CmdSet       = "set"
	CmdClasses   = "classes"
	CmdHistory   = "history"
	CmdSightings = "sightings"
)

const shutdownTimeout = 5 * time.Second

// Config holds the server configuration. State and Runtime are required.
type Config struct {
	Listen     string
	OperatorID string

	State    *state.Shared
	Runtime  *settings.Runtime
	Pipeline api.Pipeline
	Notifier api.Notifier
	Archive  api.Archive
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Pipeline
	Clock    timeutil.Clock
	Logger   *slog.Logger

	// LiveInterval is how often /api/live checks for new detections.
	LiveInterval time.Duration
	// StreamFPS is the frame rate of /api/stream.
	StreamFPS int
}

// Server is the HTTP front end.
type Server struct {
	config  Config
	mux     *http.ServeMux
	handler http.Handler
	api     *api.Handler
	live    *LiveHandler
	stream  *StreamHandler
	logger  *slog.Logger
	start   time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) (*Server, error) {
	if config.State == nil || config.Runtime == nil {
		return nil, errors.New("server: state and runtime settings are required")
	}
	if config.Clock == nil {
		config.Clock = timeutil.RealClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.New()
	}
	logger := config.Logger.With("component", "server")

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		api: api.NewHandler(api.Deps{
			State:    config.State,
			Runtime:  config.Runtime,
			Pipeline: config.Pipeline,
			Notifier: config.Notifier,
			Archive:  config.Archive,
			Clock:    config.Clock,
		}),
		live:   NewLiveHandler(config.State, config.Clock, config.LiveInterval, logger),
		stream: NewStreamHandler(config.State, config.Clock, config.StreamFPS),
		logger: logger,
		start:  config.Clock.Now(),
	}
	if config.OperatorID == "" {
		logger.Warn("no operator id configured, every command will be refused")
	}
	s.setupRoutes()
	s.handler = s.recoverer(s.mux)
	return s, nil
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /metrics", s.config.Metrics.Handler())

	h := s.api
	s.mux.Handle("GET /api/snapshot", s.command(CmdSnapshot, h.Snapshot))
	s.mux.Handle("GET /api/stream", s.command(CmdStream, s.stream.ServeHTTP))
	s.mux.Handle("GET /api/live", s.command(CmdLive, s.live.ServeHTTP))
	s.mux.Handle("GET /api/status", s.command(CmdStatus, h.Status))
	s.mux.Handle("GET /api/summary", s.command(CmdSummary, h.Summary))
	s.mux.Handle("POST /api/reset", s.command(CmdReset, h.Reset))
	s.mux.Handle("GET /api/settings", s.command(CmdSettings, h.Settings))
	s.mux.Handle("PUT /api/settings/{param}", s.command(CmdSet, h.SetParam))
	s.mux.Handle("POST /api/classes/{name}/enable", s.command(CmdClasses, h.EnableClass))
	s.mux.Handle("POST /api/classes/{name}/disable", s.command(CmdClasses, h.DisableClass))
	s.mux.Handle("GET /api/history", s.command(CmdHistory, h.History))
	s.mux.Handle("GET /api/sightings", s.command(CmdSightings, h.Sightings))
	s.mux.Handle("GET /api/sightings/{id}", s.command(CmdSightings, h.Sighting))
	s.mux.Handle("GET /api/sightings/{id}/thumbnail", s.command(CmdSightings, h.Thumbnail))
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status": "ok",
		"uptime": stats.FormatUptime(s.config.Clock.Since(s.start)),
	}
	if s.config.Pipeline != nil {
		response["capture_available"] = s.config.Pipeline.Health().CaptureAvailable
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
// Request contexts derive from ctx so streaming handlers end with it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.live.Run(gctx) })
	g.Go(func() error {
		s.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown", "error", err)
		}
		s.logger.Info("http server stopped")
		return nil
	})
	return g.Wait()
}
