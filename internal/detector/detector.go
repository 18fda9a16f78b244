package detector

import (
	"time"

	"gocv.io/x/gocv"
)

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Infer analyzes a video frame and returns the objects found with at
	// least the given confidence. Returns an empty slice if nothing is found.
	Infer(frame *gocv.Mat, confidence float64) ([]RawDetection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for the subprocess detector.
type Config struct {
	// Python is the interpreter used to run Script. Empty means a venv
	// interpreter if one is found, otherwise python3.
	Python string

	// Script is the path of the detection service. Empty means search the
	// usual locations.
	Script string

	// Model is the model name passed to the service (default: yolov8n).
	Model string

	// Tracking asks the service to assign persistent track ids.
	Tracking bool

	// Timeout bounds one request/response round trip.
	Timeout time.Duration

	// IdleShutdown stops the service after this long without requests.
	IdleShutdown time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Model:        "yolov8n",
		Tracking:     true,
		Timeout:      10 * time.Second,
		IdleShutdown: 5 * time.Minute,
	}
}
