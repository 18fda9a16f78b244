package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/watchpost/internal/app"
	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/config"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/hook"
	"github.com/ayusman/watchpost/internal/metrics"
	"github.com/ayusman/watchpost/internal/notify"
	"github.com/ayusman/watchpost/internal/ratelimit"
	"github.com/ayusman/watchpost/internal/server"
	"github.com/ayusman/watchpost/internal/settings"
	"github.com/ayusman/watchpost/internal/state"
	"github.com/ayusman/watchpost/internal/store"
	"github.com/ayusman/watchpost/internal/timeutil"
	"github.com/ayusman/watchpost/internal/tray"
)

const closeTimeout = 10 * time.Second

func runCommand(opts *options) *cobra.Command {
	var mockDetector bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the capture pipeline and the remote control server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), s, mockDetector)
		},
	}

	cmd.Flags().String("listen", "", "HTTP listen address")
	cmd.Flags().String("operator", "", "Operator identity allowed to send commands")
	cmd.Flags().Int("device", 0, "Camera device index")
	cmd.Flags().String("db", "", "Path of the sightings database")
	cmd.Flags().Bool("tray", false, "Show the desktop tray menu")
	cmd.Flags().BoolVar(&mockDetector, "mock-detector", false, "Use a detector that finds nothing (for testing capture and remote control)")

	if err := bindFlags(opts.v, cmd, map[string]string{
		"server.listen":    "listen",
		"operator.id":      "operator",
		"camera.device":    "device",
		"history.database": "db",
		"tray.enabled":     "tray",
	}); err != nil {
		panic(err)
	}
	return cmd
}

func run(parent context.Context, s *config.Settings, mockDetector bool) error {
	if parent == nil {
		parent = context.Background()
	}
	logger, err := s.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	m := metrics.New()

	if err := os.MkdirAll(filepath.Dir(s.History.Database), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.New(s.History.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	runtime := loadRuntime(s, st, logger)

	dispatcher := notify.NewDispatcher(
		s.DispatcherConfig(),
		buildSinks(s, logger),
		ratelimit.New(s.Notify.Cooldown, clock),
		clock, m, logger,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := dispatcher.Close(closeCtx); err != nil {
			logger.Warn("notification queue not drained", "error", err)
		}
	}()

	shared := state.New(s.History.Capacity, clock)
	defer shared.Close()

	a, err := app.New(app.Config{
		Camera:           capture.NewCameraWithConfig(s.CameraConfig(), logger),
		Detector:         newDetector(s, mockDetector, logger),
		Runtime:          runtime,
		State:            shared,
		Notifier:         dispatcher,
		Archive:          st.Sightings(),
		Metrics:          m,
		Clock:            clock,
		Logger:           logger,
		Retry:            s.Camera.Retry.Policy(),
		RecoveryInterval: s.Camera.Retry.RecoveryInterval,
		StatusInterval:   s.Status.Interval,
		Retention:        s.History.Retention,
		Thumbnails:       true,
	})
	if err != nil {
		return err
	}

	limiter := ratelimit.New(s.Operator.CommandCooldown, clock)
	limiter.SetCooldown(server.CmdSnapshot, s.Operator.SnapshotCooldown)
	limiter.SetCooldown(server.CmdStream, s.Operator.SnapshotCooldown)

	srv, err := server.New(server.Config{
		Listen:     s.Server.Listen,
		OperatorID: s.Operator.ID,
		State:      shared,
		Runtime:    runtime,
		Pipeline:   a,
		Notifier:   dispatcher,
		Archive:    st.Sightings(),
		Limiter:    limiter,
		Metrics:    m,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("watchpost starting",
		"version", version,
		"listen", s.Server.Listen,
		"device", s.Camera.Device)

	if !s.Tray.Enabled {
		return a.Run(ctx, srv.Run)
	}

	// The tray owns the main goroutine; the pipeline runs beside it.
	tr := tray.New(a, a.Stats(), clock)
	tr.OnQuit(stop)
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx, srv.Run)
		tr.Quit()
	}()
	tr.Run()
	stop()
	return <-errCh
}

// loadRuntime builds the runtime settings from the config, restores the last
// persisted values and saves every later change.
func loadRuntime(s *config.Settings, st *store.Store, logger *slog.Logger) *settings.Runtime {
	runtime := settings.New(s.RuntimeDefaults())
	repo := st.Settings()

	snap, err := repo.LoadRuntime()
	switch {
	case err == nil:
		runtime.Restore(snap)
		logger.Info("restored runtime settings", "settings", runtime.Snapshot().Summary())
	case !errors.Is(err, store.ErrNotFound):
		logger.Warn("ignoring persisted runtime settings", "error", err)
	}

	runtime.OnChange(func(snap settings.Snapshot) {
		if err := repo.SaveRuntime(snap); err != nil {
			logger.Error("failed to persist runtime settings", "error", err)
		}
	})
	return runtime
}

func buildSinks(s *config.Settings, logger *slog.Logger) []notify.Sink {
	var sinks []notify.Sink

	if len(s.Notify.Push.URLs) > 0 {
		push, err := notify.NewShoutrrrSink(s.Notify.Push.URLs, s.Notify.Push.Timeout)
		if err != nil {
			logger.Error("push notifications disabled", "error", err)
		} else {
			sinks = append(sinks, push)
		}
	}

	if s.Notify.MQTT.Enabled {
		mq := notify.NewMQTTSink(s.MQTTConfig(), logger)
		if err := mq.Connect(); err != nil {
			// The client keeps retrying in the background.
			logger.Warn("mqtt broker not reachable yet", "broker", s.Notify.MQTT.Broker, "error", err)
		}
		sinks = append(sinks, mq)
	}

	manager := hook.NewManager(s.Notify.Hooks.Dir, logger)
	if err := manager.Discover(); err != nil {
		logger.Warn("failed to discover hooks", "dir", s.Notify.Hooks.Dir, "error", err)
	}
	if hooks := manager.List(); len(hooks) > 0 {
		logger.Info("hooks loaded", "count", len(hooks))
		sinks = append(sinks, notify.NewHookSink(manager, hook.NewExecutor(s.Notify.Hooks.Timeout)))
	}

	if len(sinks) == 0 {
		logger.Info("no notification sinks configured")
	}
	return sinks
}

func newDetector(s *config.Settings, mock bool, logger *slog.Logger) detector.Detector {
	if mock {
		logger.Warn("using mock detector, nothing will be detected")
		return detector.NewMockDetector()
	}
	det, err := detector.NewSubprocessDetector(s.DetectorConfig())
	if err != nil {
		logger.Warn("detection service unavailable, using mock detector", "error", err)
		return detector.NewMockDetector()
	}
	return det
}
