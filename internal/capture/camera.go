// Package capture provides camera capture and motion gating using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS          = 5
	DefaultWidth        = 640
	DefaultHeight       = 480
	DefaultWarmupFrames = 5
	DefaultProbeLimit   = 3
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrCaptureUnavailable is returned when no capture device could be opened.
	ErrCaptureUnavailable = errors.New("capture device unavailable")

	// ErrReadFailed is returned when an open device fails to deliver a frame.
	ErrReadFailed = errors.New("failed to read frame")
)

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Config describes which device to open and how.
type Config struct {
	DeviceID     int
	Width        int
	Height       int
	FPS          int
	WarmupFrames int

	// PreferExternal probes device indices 1..ProbeLimit-1 before DeviceID,
	// so a USB camera wins over a built-in one.
	PreferExternal bool
	ProbeLimit     int
}

// DefaultConfig returns the configuration for the first camera at 640x480.
func DefaultConfig() Config {
	return Config{
		DeviceID:     0,
		Width:        DefaultWidth,
		Height:       DefaultHeight,
		FPS:          DefaultFPS,
		WarmupFrames: DefaultWarmupFrames,
		ProbeLimit:   DefaultProbeLimit,
	}
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	config   Config
	deviceID int
	capture  *gocv.VideoCapture
	mu       sync.Mutex
	running  bool
	fps      int
	logger   *slog.Logger
}

// NewCamera creates a new Camera for the given device ID with default settings.
func NewCamera(deviceID int) Camera {
	cfg := DefaultConfig()
	cfg.DeviceID = deviceID
	return NewCameraWithConfig(cfg, nil)
}

// NewCameraWithConfig creates a Camera from cfg. Zero fields take defaults.
func NewCameraWithConfig(cfg Config, logger *slog.Logger) Camera {
	def := DefaultConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.WarmupFrames < 0 {
		cfg.WarmupFrames = 0
	}
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = def.ProbeLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &cameraImpl{
		config:   cfg,
		deviceID: cfg.DeviceID,
		fps:      cfg.FPS,
		logger:   logger.With("component", "camera"),
	}
}

// Open opens the camera for capturing frames and discards the warm-up frames.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	deviceID := c.chooseDevice()

	capture, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return fmt.Errorf("%w: device %d: %v", ErrCaptureUnavailable, deviceID, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("%w: device %d did not open", ErrCaptureUnavailable, deviceID)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.config.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.config.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	// Let exposure settle
	warm := gocv.NewMat()
	for i := 0; i < c.config.WarmupFrames; i++ {
		capture.Read(&warm)
	}
	warm.Close()

	c.capture = capture
	c.deviceID = deviceID
	c.running = true

	c.logger.Info("camera opened",
		"device", deviceID,
		"width", c.config.Width,
		"height", c.config.Height,
		"fps", c.fps,
		"warmup_frames", c.config.WarmupFrames)

	return nil
}

// chooseDevice returns the device to open. Must hold c.mu.
func (c *cameraImpl) chooseDevice() int {
	if !c.config.PreferExternal {
		return c.config.DeviceID
	}
	for idx := 1; idx < c.config.ProbeLimit; idx++ {
		if probeDevice(idx) {
			c.logger.Info("external camera detected", "device", idx)
			return idx
		}
	}
	c.logger.Info("no external camera found, using configured device", "device", c.config.DeviceID)
	return c.config.DeviceID
}

// probeDevice reports whether idx opens and yields a frame.
func probeDevice(idx int) bool {
	capture, err := gocv.OpenVideoCapture(idx)
	if err != nil {
		return false
	}
	defer capture.Close()
	if !capture.IsOpened() {
		return false
	}
	mat := gocv.NewMat()
	defer mat.Close()
	return capture.Read(&mat) && !mat.Empty()
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, fmt.Errorf("%w: device %d", ErrReadFailed, c.deviceID)
	}

	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: empty frame from device %d", ErrReadFailed, c.deviceID)
	}

	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
