package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 5)
	v.SetDefault("camera.warmup_frames", 5)
	v.SetDefault("camera.prefer_external", false)
	v.SetDefault("camera.probe_limit", 3)
	v.SetDefault("camera.retry.max_attempts", 5)
	v.SetDefault("camera.retry.initial_delay", time.Second)
	v.SetDefault("camera.retry.max_delay", 30*time.Second)
	v.SetDefault("camera.retry.recovery_interval", time.Minute)

	v.SetDefault("detector.python", "")
	v.SetDefault("detector.script", "")
	v.SetDefault("detector.model", "yolov8n")
	v.SetDefault("detector.tracking", true)
	v.SetDefault("detector.confidence", 0.5)
	v.SetDefault("detector.timeout", 10*time.Second)
	v.SetDefault("detector.idle_shutdown", 5*time.Minute)

	v.SetDefault("motion.canny_low", 50)
	v.SetDefault("motion.canny_high", 150)
	v.SetDefault("motion.pixel_threshold", 0.5)
	v.SetDefault("motion.cooldown", 2*time.Second)

	v.SetDefault("stability.frames", 2)
	v.SetDefault("stability.max_misses", 2)
	v.SetDefault("classes", []string{})

	v.SetDefault("history.capacity", 1000)
	v.SetDefault("history.database", "~/.watchpost/watchpost.db")
	v.SetDefault("history.retention", 30*24*time.Hour)

	v.SetDefault("operator.id", "")
	v.SetDefault("operator.command_cooldown", 2*time.Second)
	v.SetDefault("operator.snapshot_cooldown", 5*time.Second)

	v.SetDefault("server.listen", "127.0.0.1:8780")

	v.SetDefault("notify.cooldown", time.Minute)
	v.SetDefault("notify.queue_size", 64)
	v.SetDefault("notify.retry.max_attempts", 3)
	v.SetDefault("notify.retry.initial_delay", 500*time.Millisecond)
	v.SetDefault("notify.retry.max_delay", 5*time.Second)
	v.SetDefault("notify.retry.recovery_interval", 0)
	v.SetDefault("notify.push.urls", []string{})
	v.SetDefault("notify.push.timeout", 10*time.Second)
	v.SetDefault("notify.mqtt.enabled", false)
	v.SetDefault("notify.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("notify.mqtt.topic", "watchpost/sightings")
	v.SetDefault("notify.mqtt.client_id", "watchpost")
	v.SetDefault("notify.mqtt.username", "")
	v.SetDefault("notify.mqtt.password", "")
	v.SetDefault("notify.mqtt.qos", 1)
	v.SetDefault("notify.mqtt.retain", false)
	v.SetDefault("notify.hooks.dir", "~/.watchpost/hooks")
	v.SetDefault("notify.hooks.timeout", 30*time.Second)

	v.SetDefault("status.interval", time.Minute)
	v.SetDefault("tray.enabled", false)
}

// Defaults returns the settings produced by the defaults alone.
func Defaults() *Settings {
	v := viper.New()
	SetDefaults(v)
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		panic(err)
	}
	return s
}
