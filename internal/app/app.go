// Package app runs the watchpost capture pipeline and its background
// housekeeping.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ayusman/watchpost/internal/backoff"
	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/metrics"
	"github.com/ayusman/watchpost/internal/settings"
	"github.com/ayusman/watchpost/internal/stabilizer"
	"github.com/ayusman/watchpost/internal/state"
	"github.com/ayusman/watchpost/internal/stats"
	"github.com/ayusman/watchpost/internal/store"
	"github.com/ayusman/watchpost/internal/timeutil"
)

// Pipeline timing defaults.
const (
	// IdleFPS is the sampling rate while nothing is moving.
	IdleFPS = 5
	// ActiveFPS is the sampling rate after motion was seen.
	ActiveFPS = 15
	// IdleTimeout is how long without motion before dropping back to IdleFPS.
	IdleTimeout = 2 * time.Second
	// DefaultRecoveryInterval is the wait before probing a camera that
	// exhausted its reconnect attempts.
	DefaultRecoveryInterval = time.Minute
	// pruneInterval bounds how often the archive retention sweep runs.
	pruneInterval = time.Hour
)

// Notifier receives confirmed detections. notify.Dispatcher implements it.
type Notifier interface {
	Notify(dets []detector.Detection) bool
}

// Archive persists confirmed detections. store.SightingRepository
// implements it.
type Archive interface {
	CreateBatch(dets []detector.Detection) ([]store.Sighting, error)
	DeleteBefore(t time.Time) (int64, error)
}

// Config holds the collaborators and tuning of an App. Camera, Detector,
// Runtime and State are required.
type Config struct {
	Camera   capture.Camera
	Detector detector.Detector
	Runtime  *settings.Runtime
	State    *state.Shared

	// Optional collaborators.
	Notifier Notifier
	Archive  Archive
	Metrics  *metrics.Pipeline
	Clock    timeutil.Clock
	Logger   *slog.Logger

	// Retry bounds consecutive camera reconnect attempts.
	Retry backoff.Policy
	// RecoveryInterval is the wait between probes once Retry is exhausted.
	RecoveryInterval time.Duration

	IdleFPS     int
	ActiveFPS   int
	IdleTimeout time.Duration

	// StatusInterval is the period of the status log line. Zero disables it.
	StatusInterval time.Duration
	// Retention is how long archived sightings are kept. Zero keeps them.
	Retention time.Duration
	// Thumbnails attaches a JPEG crop to each confirmed detection.
	Thumbnails bool
}

func (c *Config) applyDefaults() {
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New()
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = backoff.DefaultPolicy()
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = DefaultRecoveryInterval
	}
	if c.IdleFPS <= 0 {
		c.IdleFPS = IdleFPS
	}
	if c.ActiveFPS <= 0 {
		c.ActiveFPS = ActiveFPS
	}
	if c.ActiveFPS < c.IdleFPS {
		c.ActiveFPS = c.IdleFPS
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = IdleTimeout
	}
}

// Health describes the pipeline for status reporting.
type Health struct {
	Enabled          bool      `json:"enabled"`
	Running          bool      `json:"running"`
	CaptureAvailable bool      `json:"capture_available"`
	CaptureError     string    `json:"capture_error,omitempty"`
	NextProbe        time.Time `json:"next_probe,omitempty"`
	Tracks           int       `json:"tracks"`
	MotionChange     float64   `json:"motion_change_pct"`
}

// App orchestrates capture, motion gating, detection, stabilization and
// hand-off of confirmed sightings.
type App struct {
	config     Config
	gate       *capture.MotionGate
	stabilizer *stabilizer.Stabilizer
	stats      *stats.Generator
	logger     *slog.Logger

	mu         sync.RWMutex
	enabled    bool
	running    bool
	captureOK  bool
	captureErr error
	nextProbe  time.Time
	lastPrune  time.Time
}

// New creates an App. Monitoring starts enabled.
func New(config Config) (*App, error) {
	if config.Camera == nil {
		return nil, errors.New("app: camera is required")
	}
	if config.Detector == nil {
		return nil, errors.New("app: detector is required")
	}
	if config.Runtime == nil {
		return nil, errors.New("app: runtime settings are required")
	}
	if config.State == nil {
		return nil, errors.New("app: shared state is required")
	}
	config.applyDefaults()

	return &App{
		config:     config,
		gate:       capture.NewMotionGate(config.Runtime, config.Clock, config.Logger),
		stabilizer: stabilizer.New(config.Runtime, config.Logger),
		stats:      stats.NewGenerator(config.State, config.Clock),
		logger:     config.Logger.With("component", "pipeline"),
		enabled:    true,
	}, nil
}

// SetEnabled pauses or resumes monitoring. While paused the camera stays
// open but no frames are read.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	changed := a.enabled != enabled
	a.enabled = enabled
	a.mu.Unlock()

	if changed {
		a.logger.Info("monitoring toggled", "enabled", enabled)
	}
}

// IsEnabled returns whether monitoring is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// CaptureAvailable reports whether the camera is delivering frames.
func (a *App) CaptureAvailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.captureOK
}

// Health returns a point-in-time view of the pipeline.
func (a *App) Health() Health {
	a.mu.RLock()
	h := Health{
		Enabled:          a.enabled,
		Running:          a.running,
		CaptureAvailable: a.captureOK,
		NextProbe:        a.nextProbe,
	}
	if a.captureErr != nil {
		h.CaptureError = a.captureErr.Error()
	}
	a.mu.RUnlock()

	h.Tracks = a.stabilizer.Tracks()
	h.MotionChange = a.gate.LastChange()
	return h
}

// Stats returns the status text generator over the shared state.
func (a *App) Stats() *stats.Generator {
	return a.stats
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	return a.config.Camera
}

// Detector returns the object detector.
func (a *App) Detector() detector.Detector {
	return a.config.Detector
}

// Run starts the pipeline and the status reporter and blocks until ctx is
// cancelled or one of them fails. Extra workers, such as the HTTP server,
// share the same lifetime. The camera and detector are closed before Run
// returns.
func (a *App) Run(ctx context.Context, workers ...func(ctx context.Context) error) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("app: already running")
	}
	a.running = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runPipeline(ctx) })
	g.Go(func() error { return a.runReporter(ctx) })
	for _, w := range workers {
		g.Go(func() error { return w(ctx) })
	}

	err := g.Wait()
	a.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) shutdown() {
	if err := a.config.Camera.Close(); err != nil {
		a.logger.Warn("error closing camera", "error", err)
	}
	a.gate.Close()
	if err := a.config.Detector.Close(); err != nil {
		a.logger.Warn("error closing detector", "error", err)
	}
	a.logger.Info("detection pipeline stopped")
}

// runReporter logs the short status on every tick and prunes the archive.
func (a *App) runReporter(ctx context.Context) error {
	if a.config.StatusInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := a.config.Clock.NewTicker(a.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			a.report()
		}
	}
}

func (a *App) report() {
	h := a.Health()
	a.config.Logger.Info(a.stats.ShortStatus(),
		"component", "status",
		"enabled", h.Enabled,
		"capture_available", h.CaptureAvailable,
		"tracks", h.Tracks)
	a.prune()
}

// prune removes archived sightings older than the retention window at most
// once per pruneInterval.
func (a *App) prune() {
	if a.config.Archive == nil || a.config.Retention <= 0 {
		return
	}
	now := a.config.Clock.Now()

	a.mu.Lock()
	due := a.lastPrune.IsZero() || now.Sub(a.lastPrune) >= pruneInterval
	if due {
		a.lastPrune = now
	}
	a.mu.Unlock()
	if !due {
		return
	}

	n, err := a.config.Archive.DeleteBefore(now.Add(-a.config.Retention))
	if err != nil {
		a.logger.Warn("failed to prune sightings", "error", err)
		return
	}
	if n > 0 {
		a.logger.Info("pruned old sightings", "removed", n, "retention", a.config.Retention)
	}
}
