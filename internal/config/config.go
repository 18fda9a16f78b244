// Package config loads startup configuration from defaults, an optional YAML
// file and WATCHPOST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/watchpost/internal/backoff"
	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/notify"
	"github.com/ayusman/watchpost/internal/settings"
)

// EnvPrefix prefixes environment overrides, e.g. WATCHPOST_SERVER_LISTEN.
const EnvPrefix = "WATCHPOST"

// Settings is the complete startup configuration.
type Settings struct {
	Log       LogSettings       `mapstructure:"log" yaml:"log"`
	Camera    CameraSettings    `mapstructure:"camera" yaml:"camera"`
	Detector  DetectorSettings  `mapstructure:"detector" yaml:"detector"`
	Motion    MotionSettings    `mapstructure:"motion" yaml:"motion"`
	Stability StabilitySettings `mapstructure:"stability" yaml:"stability"`
	Classes   []string          `mapstructure:"classes" yaml:"classes"`
	History   HistorySettings   `mapstructure:"history" yaml:"history"`
	Operator  OperatorSettings  `mapstructure:"operator" yaml:"operator"`
	Server    ServerSettings    `mapstructure:"server" yaml:"server"`
	Notify    NotifySettings    `mapstructure:"notify" yaml:"notify"`
	Status    StatusSettings    `mapstructure:"status" yaml:"status"`
	Tray      TraySettings      `mapstructure:"tray" yaml:"tray"`
}

// LogSettings configures the slog handler.
type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// CameraSettings configures the capture device and its reconnect policy.
type CameraSettings struct {
	Device         int           `mapstructure:"device" yaml:"device"`
	Width          int           `mapstructure:"width" yaml:"width"`
	Height         int           `mapstructure:"height" yaml:"height"`
	FPS            int           `mapstructure:"fps" yaml:"fps"`
	WarmupFrames   int           `mapstructure:"warmup_frames" yaml:"warmup_frames"`
	PreferExternal bool          `mapstructure:"prefer_external" yaml:"prefer_external"`
	ProbeLimit     int           `mapstructure:"probe_limit" yaml:"probe_limit"`
	Retry          RetrySettings `mapstructure:"retry" yaml:"retry"`
}

// RetrySettings is a bounded exponential backoff.
type RetrySettings struct {
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay     time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	RecoveryInterval time.Duration `mapstructure:"recovery_interval" yaml:"recovery_interval"`
}

// DetectorSettings configures the detection service.
type DetectorSettings struct {
	Python       string        `mapstructure:"python" yaml:"python"`
	Script       string        `mapstructure:"script" yaml:"script"`
	Model        string        `mapstructure:"model" yaml:"model"`
	Tracking     bool          `mapstructure:"tracking" yaml:"tracking"`
	Confidence   float64       `mapstructure:"confidence" yaml:"confidence"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	IdleShutdown time.Duration `mapstructure:"idle_shutdown" yaml:"idle_shutdown"`
}

// MotionSettings are the initial motion gate knobs.
type MotionSettings struct {
	CannyLow       int           `mapstructure:"canny_low" yaml:"canny_low"`
	CannyHigh      int           `mapstructure:"canny_high" yaml:"canny_high"`
	PixelThreshold float64       `mapstructure:"pixel_threshold" yaml:"pixel_threshold"`
	Cooldown       time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// StabilitySettings are the initial stabilizer knobs.
type StabilitySettings struct {
	Frames    int `mapstructure:"frames" yaml:"frames"`
	MaxMisses int `mapstructure:"max_misses" yaml:"max_misses"`
}

// HistorySettings configures the in-memory ring and the sqlite archive.
type HistorySettings struct {
	Capacity  int           `mapstructure:"capacity" yaml:"capacity"`
	Database  string        `mapstructure:"database" yaml:"database"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// OperatorSettings identifies the single remote operator.
type OperatorSettings struct {
	ID               string        `mapstructure:"id" yaml:"id"`
	CommandCooldown  time.Duration `mapstructure:"command_cooldown" yaml:"command_cooldown"`
	SnapshotCooldown time.Duration `mapstructure:"snapshot_cooldown" yaml:"snapshot_cooldown"`
}

// ServerSettings configures the HTTP front end.
type ServerSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// NotifySettings configures alert delivery.
type NotifySettings struct {
	Cooldown  time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	QueueSize int           `mapstructure:"queue_size" yaml:"queue_size"`
	Retry     RetrySettings `mapstructure:"retry" yaml:"retry"`
	Push      PushSettings  `mapstructure:"push" yaml:"push"`
	MQTT      MQTTSettings  `mapstructure:"mqtt" yaml:"mqtt"`
	Hooks     HookSettings  `mapstructure:"hooks" yaml:"hooks"`
}

// PushSettings lists shoutrrr service URLs.
type PushSettings struct {
	URLs    []string      `mapstructure:"urls" yaml:"urls"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MQTTSettings configures the MQTT sink.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	QoS      int    `mapstructure:"qos" yaml:"qos"`
	Retain   bool   `mapstructure:"retain" yaml:"retain"`
}

// HookSettings configures external hook executables.
type HookSettings struct {
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// StatusSettings configures the periodic status reporter.
type StatusSettings struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// TraySettings toggles the desktop tray menu.
type TraySettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load reads configuration into a Settings value. If path is empty the file
// config.yaml is searched for in the working directory and ~/.watchpost; a
// missing file is not an error. An explicit path must exist.
func Load(v *viper.Viper, path string) (*Settings, error) {
	SetDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if dir, err := DefaultDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	s.History.Database = expandHome(s.History.Database)
	s.Notify.Hooks.Dir = expandHome(s.Notify.Hooks.Dir)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return s, nil
}

// DefaultDir returns ~/.watchpost.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".watchpost"), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// YAML renders the settings as a YAML document.
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// WriteFile writes the settings to path, creating parent directories.
func (s *Settings) WriteFile(path string) error {
	data, err := s.YAML()
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// RuntimeDefaults converts the initial knobs for settings.New.
func (s *Settings) RuntimeDefaults() settings.Defaults {
	return settings.Defaults{
		MotionCannyLow:       s.Motion.CannyLow,
		MotionCannyHigh:      s.Motion.CannyHigh,
		MotionPixelThreshold: s.Motion.PixelThreshold,
		MotionCooldown:       s.Motion.Cooldown,
		DetectorConfidence:   s.Detector.Confidence,
		StabilityFrames:      s.Stability.Frames,
		StabilityMaxMisses:   s.Stability.MaxMisses,
		EnabledClasses:       append([]string(nil), s.Classes...),
	}
}

// CameraConfig converts the camera section for capture.NewCameraWithConfig.
func (s *Settings) CameraConfig() capture.Config {
	return capture.Config{
		DeviceID:       s.Camera.Device,
		Width:          s.Camera.Width,
		Height:         s.Camera.Height,
		FPS:            s.Camera.FPS,
		WarmupFrames:   s.Camera.WarmupFrames,
		PreferExternal: s.Camera.PreferExternal,
		ProbeLimit:     s.Camera.ProbeLimit,
	}
}

// DetectorConfig converts the detector section.
func (s *Settings) DetectorConfig() detector.Config {
	return detector.Config{
		Python:       s.Detector.Python,
		Script:       s.Detector.Script,
		Model:        s.Detector.Model,
		Tracking:     s.Detector.Tracking,
		Timeout:      s.Detector.Timeout,
		IdleShutdown: s.Detector.IdleShutdown,
	}
}

// Policy converts retry settings to a backoff policy.
func (r RetrySettings) Policy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
	}
}

// DispatcherConfig converts the notify section.
func (s *Settings) DispatcherConfig() notify.Config {
	return notify.Config{
		QueueSize: s.Notify.QueueSize,
		Retry:     s.Notify.Retry.Policy(),
	}
}

// MQTTConfig converts the MQTT section.
func (s *Settings) MQTTConfig() notify.MQTTConfig {
	return notify.MQTTConfig{
		Broker:   s.Notify.MQTT.Broker,
		Topic:    s.Notify.MQTT.Topic,
		ClientID: s.Notify.MQTT.ClientID,
		Username: s.Notify.MQTT.Username,
		Password: s.Notify.MQTT.Password,
		QoS:      byte(s.Notify.MQTT.QoS),
		Retain:   s.Notify.MQTT.Retain,
	}
}
