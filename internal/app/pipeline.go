package app

import (
	"context"
	"errors"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/backoff"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/timeutil"
)

// runPipeline is the capture loop. It owns the camera, the motion gate and
// the stabilizer.
//
// Pipeline logic:
//  1. Open the camera, retrying with backoff; on exhaustion report capture
//     unavailable and probe again after RecoveryInterval
//  2. Sample at IdleFPS until the motion gate admits a frame, then at ActiveFPS
//  3. Run the detector on admitted frames and drop disabled classes
//  4. Debounce through the stabilizer and publish the frame with its display set
//  5. Record and announce confirmed detections
//  6. After IdleTimeout without motion, drop back to IdleFPS
//
// A failed read closes the camera and reopens it after the next backoff
// delay. Consecutive read failures share one attempt budget with the same
// exhaustion handling as failed opens.
func (a *App) runPipeline(ctx context.Context) error {
	a.logger.Info("detection pipeline started")
	a.connect(ctx)

	clock := a.config.Clock
	readFailures := backoff.NewState(a.config.Retry)
	active := false
	lastMotion := clock.Now()

	a.config.Camera.SetFPS(a.config.IdleFPS)
	ticker := clock.NewTicker(frameInterval(a.config.IdleFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}

		if !a.IsEnabled() {
			continue
		}

		if !a.CaptureAvailable() {
			if clock.Now().Before(a.probeAt()) {
				continue
			}
			if !a.connect(ctx) {
				continue
			}
		}

		frame, err := a.config.Camera.ReadFrame()
		if err != nil {
			a.readFailed(readFailures, err)
			continue
		}
		readFailures.Reset()

		motion := a.processFrame(frame)
		frame.Close()

		if motion {
			lastMotion = clock.Now()
			if !active {
				active = true
				a.setRate(ticker, a.config.ActiveFPS)
				a.logger.Debug("switched to active mode", "fps", a.config.ActiveFPS)
			}
		} else if active && clock.Since(lastMotion) > a.config.IdleTimeout {
			active = false
			a.setRate(ticker, a.config.IdleFPS)
			a.logger.Debug("switched to idle mode", "fps", a.config.IdleFPS)
		}
	}
}

// readFailed closes the camera after a failed read and schedules the reopen.
// The camera is reported unavailable until it delivers a frame again.
func (a *App) readFailed(failures *backoff.State, err error) {
	a.config.Metrics.CaptureReconnects.Inc()
	if cerr := a.config.Camera.Close(); cerr != nil {
		a.logger.Debug("error closing camera", "error", cerr)
	}

	now := a.config.Clock.Now()
	delay, ok := failures.Next()
	if ok {
		a.logger.Warn("frame read failed, reconnecting",
			"attempt", failures.Attempts(),
			"delay", delay,
			"error", err)
		a.setCapture(false, err, now.Add(delay))
		return
	}

	attempts := failures.Attempts()
	failures.Reset()
	next := now.Add(a.config.RecoveryInterval)
	a.setCapture(false, errors.Join(backoff.ErrExhausted, err), next)
	a.logger.Error("camera unavailable",
		"attempts", attempts,
		"next_probe", next,
		"error", err)
}

func (a *App) setRate(ticker timeutil.Ticker, fps int) {
	a.config.Camera.SetFPS(fps)
	ticker.Reset(frameInterval(fps))
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = IdleFPS
	}
	return time.Second / time.Duration(fps)
}

// connect opens the camera under the retry policy. It returns false when the
// attempts ran out or ctx ended.
func (a *App) connect(ctx context.Context) bool {
	attempt := 0
	err := backoff.Retry(ctx, a.config.Clock, a.config.Retry, func(context.Context) error {
		attempt++
		if err := a.config.Camera.Open(); err != nil {
			a.logger.Warn("camera open failed", "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err == nil {
		// Fresh motion baseline for the reopened device.
		a.gate.Reset()
		a.setCapture(true, nil, time.Time{})
		a.logger.Info("camera opened", "attempts", attempt)
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	next := a.config.Clock.Now().Add(a.config.RecoveryInterval)
	a.setCapture(false, err, next)
	a.logger.Error("camera unavailable",
		"attempts", attempt,
		"next_probe", next,
		"error", err)
	return false
}

func (a *App) setCapture(ok bool, err error, nextProbe time.Time) {
	a.mu.Lock()
	a.captureOK = ok
	a.captureErr = err
	a.nextProbe = nextProbe
	a.mu.Unlock()
	a.config.Metrics.SetCaptureAvailable(ok)
}

func (a *App) probeAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nextProbe
}

// processFrame runs one frame through the gate, the detector and the
// stabilizer and publishes the result. It reports whether the gate admitted
// the frame. The caller keeps ownership of frame.
func (a *App) processFrame(frame *gocv.Mat) bool {
	m := a.config.Metrics
	m.FramesCaptured.Inc()

	admitted := a.gate.Admit(frame)
	m.MotionChange.Set(a.gate.LastChange())
	if !admitted {
		a.config.State.UpdateFrame(frame)
		return false
	}
	m.FramesAdmitted.Inc()

	confidence := a.config.Runtime.DetectorConfidence()
	start := a.config.Clock.Now()
	raw, err := a.config.Detector.Infer(frame, confidence)
	m.DetectorRuns.Inc()
	m.DetectorLatency.Observe(a.config.Clock.Since(start).Seconds())
	if err != nil {
		m.DetectorErrors.Inc()
		a.logger.Warn("detection failed", "error", err)
		a.config.State.UpdateFrame(frame)
		return true
	}

	dets := detector.ToDetections(raw, a.config.Clock.Now())
	allowed := dets[:0]
	for _, d := range dets {
		if a.config.Runtime.IsClassEnabled(d.Class) {
			allowed = append(allowed, d)
		}
	}

	result := a.stabilizer.Filter(allowed)
	a.config.State.UpdateFrameWithDetections(frame, result.Display)

	if len(result.Confirmed) > 0 {
		a.confirm(frame, result.Confirmed)
	}
	return true
}

// confirm hands newly confirmed detections to the history, the archive and
// the notifier.
func (a *App) confirm(frame *gocv.Mat, confirmed []detector.Detection) {
	if a.config.Thumbnails {
		confirmed = detector.AttachThumbnails(frame, confirmed)
	}

	a.config.State.Record(confirmed)

	classes := make([]string, 0, len(confirmed))
	for _, d := range confirmed {
		a.config.Metrics.Confirmed.WithLabelValues(d.Class).Inc()
		classes = append(classes, d.Class)
	}
	a.logger.Info("sighting confirmed", "classes", classes)

	if a.config.Archive != nil {
		if _, err := a.config.Archive.CreateBatch(confirmed); err != nil {
			a.logger.Error("failed to archive sightings", "error", err)
		}
	}
	if a.config.Notifier != nil {
		a.config.Notifier.Notify(confirmed)
	}
}
