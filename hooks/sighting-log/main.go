// Package main provides a watchpost hook that appends confirmed sightings to a
// log file, one line per detection.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Request represents the input from the hook executor.
type Request struct {
	Event   string          `json:"event"`
	Config  json.RawMessage `json:"config"`
	Payload json.RawMessage `json:"payload"`
}

// Response represents the output to the hook executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the hook's manifest configuration.
type Config struct {
	File string `json:"file"`
}

// Alert mirrors the notification payload sent for a sighting.
type Alert struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

// Detection is the subset of detection fields the hook logs.
type Detection struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
	TrackID    *int    `json:"track_id,omitempty"`
	BBox       struct {
		X1 int `json:"x1"`
		Y1 int `json:"y1"`
		X2 int `json:"x2"`
		Y2 int `json:"y2"`
	} `json:"bbox"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	switch req.Event {
	case "sighting":
		n, err := handleSighting(req.Config, req.Payload)
		if err != nil {
			writeErrorResponse(fmt.Sprintf("event %s failed: %v", req.Event, err))
			return
		}
		writeSuccessResponse(fmt.Sprintf("logged %d detections", n))
	case "test":
		writeSuccessResponse("ok")
	default:
		writeErrorResponse(fmt.Sprintf("unknown event: %s", req.Event))
	}
}

// handleSighting appends one line per detection and returns how many were written.
func handleSighting(rawConfig, payload json.RawMessage) (int, error) {
	cfg := Config{File: defaultLogFile()}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &cfg); err != nil {
			return 0, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if cfg.File == "" {
		return 0, fmt.Errorf("file is required")
	}

	var alert Alert
	if err := json.Unmarshal(payload, &alert); err != nil {
		return 0, fmt.Errorf("failed to parse payload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var b strings.Builder
	for _, d := range alert.Detections {
		b.WriteString(formatLine(alert, d))
		b.WriteByte('\n')
	}
	if _, err := f.WriteString(b.String()); err != nil {
		return 0, err
	}
	return len(alert.Detections), nil
}

// formatLine renders a detection as a tab-separated log line.
func formatLine(alert Alert, d Detection) string {
	track := "-"
	if d.TrackID != nil {
		track = fmt.Sprintf("%d", *d.TrackID)
	}
	return fmt.Sprintf("%s\t%s\t%s\t%.2f\ttrack=%s\tbox=%d,%d,%d,%d",
		alert.Timestamp.Format(time.RFC3339), alert.ID, d.Class, d.Confidence, track,
		d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2)
}

func defaultLogFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".watchpost", "sightings.log")
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	resp := Response{
		Success: false,
		Error:   errMsg,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

// writeSuccessResponse writes a success response with a message to stdout.
func writeSuccessResponse(message string) {
	data, _ := json.Marshal(map[string]string{"message": message})
	resp := Response{
		Success: true,
		Data:    data,
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}
