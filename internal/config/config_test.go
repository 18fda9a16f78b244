package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	s := Defaults()

	assert.Equal(t, 640, s.Camera.Width)
	assert.Equal(t, 5, s.Camera.FPS)
	assert.Equal(t, 2*time.Second, s.Motion.Cooldown)
	assert.Equal(t, 1000, s.History.Capacity)
	assert.Equal(t, "127.0.0.1:8780", s.Server.Listen)
	assert.Equal(t, time.Minute, s.Status.Interval)
	assert.Empty(t, s.Classes)
	require.NoError(t, s.Validate())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
camera:
  device: 2
  fps: 10
  retry:
    max_attempts: 7
motion:
  cooldown: 3s
  pixel_threshold: 1.5
classes: [person, dog]
operator:
  id: "12345"
notify:
  push:
    urls: ["telegram://token@telegram?chats=1"]
`)

	s, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, s.Camera.Device)
	assert.Equal(t, 10, s.Camera.FPS)
	assert.Equal(t, 480, s.Camera.Height, "unset keys keep their defaults")
	assert.Equal(t, 7, s.Camera.Retry.MaxAttempts)
	assert.Equal(t, 3*time.Second, s.Motion.Cooldown)
	assert.Equal(t, 1.5, s.Motion.PixelThreshold)
	assert.Equal(t, []string{"person", "dog"}, s.Classes)
	assert.Equal(t, "12345", s.Operator.ID)
	assert.Len(t, s.Notify.Push.URLs, 1)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WATCHPOST_SERVER_LISTEN", "0.0.0.0:9000")
	t.Setenv("WATCHPOST_OPERATOR_ID", "op-7")
	t.Setenv("WATCHPOST_DETECTOR_CONFIDENCE", "0.65")

	path := writeConfig(t, "operator:\n  id: from-file\n")
	s, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", s.Server.Listen)
	assert.Equal(t, "op-7", s.Operator.ID, "environment wins over the file")
	assert.Equal(t, 0.65, s.Detector.Confidence)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "camera:\n  fps: 0\nlog:\n  level: loud\n")
	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "camera.fps")
	assert.Contains(t, err.Error(), "log.level")
}

func TestLoad_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	path := writeConfig(t, "history:\n  database: ~/data/w.db\n")
	s, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "w.db"), s.History.Database)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr string
	}{
		{"valid defaults", func(s *Settings) {}, ""},
		{"bad format", func(s *Settings) { s.Log.Format = "xml" }, "log.format"},
		{"bad resolution", func(s *Settings) { s.Camera.Width = 0 }, "camera resolution"},
		{"negative device", func(s *Settings) { s.Camera.Device = -1 }, "camera.device"},
		{"no retries", func(s *Settings) { s.Camera.Retry.MaxAttempts = 0 }, "camera.retry.max_attempts"},
		{"confidence", func(s *Settings) { s.Detector.Confidence = 1.2 }, "detector.confidence"},
		{"history", func(s *Settings) { s.History.Capacity = 0 }, "history.capacity"},
		{"listen", func(s *Settings) { s.Server.Listen = "8080" }, "server.listen"},
		{"mqtt broker", func(s *Settings) {
			s.Notify.MQTT.Enabled = true
			s.Notify.MQTT.Broker = ""
		}, "notify.mqtt.broker"},
		{"mqtt qos", func(s *Settings) {
			s.Notify.MQTT.Enabled = true
			s.Notify.MQTT.QoS = 3
		}, "notify.mqtt.qos"},
		{"mqtt disabled ignores broker", func(s *Settings) { s.Notify.MQTT.Broker = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(s)
			err := s.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	s := Defaults()
	s.Operator.ID = "abc"
	s.Motion.Cooldown = 1500 * time.Millisecond
	s.Classes = []string{"cat"}
	dir := t.TempDir()
	s.History.Database = filepath.Join(dir, "w.db")
	s.Notify.Hooks.Dir = filepath.Join(dir, "hooks")

	path := filepath.Join(dir, "nested", "config.yaml")
	require.NoError(t, s.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cooldown: 1.5s")

	loaded, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, s.Operator, loaded.Operator)
	assert.Equal(t, s.Motion, loaded.Motion)
	assert.Equal(t, s.Camera, loaded.Camera)
	assert.Equal(t, s.Notify.Retry, loaded.Notify.Retry)
	assert.Equal(t, s.Classes, loaded.Classes)
	assert.Equal(t, s.History, loaded.History)
}

func TestConversions(t *testing.T) {
	s := Defaults()
	s.Classes = []string{"person"}

	rd := s.RuntimeDefaults()
	assert.Equal(t, s.Motion.CannyLow, rd.MotionCannyLow)
	assert.Equal(t, s.Detector.Confidence, rd.DetectorConfidence)
	assert.Equal(t, []string{"person"}, rd.EnabledClasses)

	rd.EnabledClasses[0] = "changed"
	assert.Equal(t, "person", s.Classes[0], "runtime defaults hold a copy")

	assert.Equal(t, s.Camera.ProbeLimit, s.CameraConfig().ProbeLimit)
	assert.Equal(t, "yolov8n", s.DetectorConfig().Model)
	assert.Equal(t, 5, s.Camera.Retry.Policy().MaxAttempts)
	assert.Equal(t, byte(1), s.MQTTConfig().QoS)
	assert.Equal(t, 64, s.DispatcherConfig().QueueSize)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogSettings{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "component", "test")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"component":"test"`)

	_, err = LogSettings{Level: "nope"}.NewLogger(&buf)
	assert.Error(t, err)
}
