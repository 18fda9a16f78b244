package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
)

// Validate checks every section and returns all problems joined.
func (s *Settings) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(s.Log.Format); f != "text" && f != "json" {
		add("log.format must be text or json, got %q", s.Log.Format)
	}

	if s.Camera.Width <= 0 || s.Camera.Height <= 0 {
		add("camera resolution must be positive, got %dx%d", s.Camera.Width, s.Camera.Height)
	}
	if s.Camera.FPS <= 0 {
		add("camera.fps must be positive, got %d", s.Camera.FPS)
	}
	if s.Camera.Device < 0 {
		add("camera.device must not be negative, got %d", s.Camera.Device)
	}
	if s.Camera.Retry.MaxAttempts < 1 {
		add("camera.retry.max_attempts must be at least 1, got %d", s.Camera.Retry.MaxAttempts)
	}

	if s.Detector.Confidence < 0 || s.Detector.Confidence > 1 {
		add("detector.confidence must be between 0 and 1, got %v", s.Detector.Confidence)
	}
	if s.Detector.Timeout <= 0 {
		add("detector.timeout must be positive, got %v", s.Detector.Timeout)
	}

	if s.History.Capacity <= 0 {
		add("history.capacity must be positive, got %d", s.History.Capacity)
	}
	if s.History.Retention < 0 {
		add("history.retention must not be negative, got %v", s.History.Retention)
	}

	if _, _, err := net.SplitHostPort(s.Server.Listen); err != nil {
		add("server.listen %q is not host:port: %v", s.Server.Listen, err)
	}

	if s.Notify.QueueSize <= 0 {
		add("notify.queue_size must be positive, got %d", s.Notify.QueueSize)
	}
	if s.Notify.MQTT.Enabled {
		if s.Notify.MQTT.Broker == "" {
			add("notify.mqtt.broker is required when mqtt is enabled")
		}
		if s.Notify.MQTT.Topic == "" {
			add("notify.mqtt.topic is required when mqtt is enabled")
		}
		if s.Notify.MQTT.QoS < 0 || s.Notify.MQTT.QoS > 2 {
			add("notify.mqtt.qos must be 0, 1 or 2, got %d", s.Notify.MQTT.QoS)
		}
	}

	if s.Status.Interval < 0 {
		add("status.interval must not be negative, got %v", s.Status.Interval)
	}

	return errors.Join(errs...)
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("log.level %q is not one of debug, info, warn, error", name)
	}
	return level, nil
}
