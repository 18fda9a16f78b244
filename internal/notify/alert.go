// Package notify delivers confirmed sightings to external sinks (push
// services, MQTT, hooks) without blocking the capture loop.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/watchpost/internal/detector"
)

// Alert is one notification covering the detections confirmed on one frame.
type Alert struct {
	ID         string               `json:"id"`
	Timestamp  time.Time            `json:"timestamp"`
	Detections []detector.Detection `json:"detections"`
}

// NewAlert creates an alert with a fresh id. dets is copied.
func NewAlert(dets []detector.Detection, ts time.Time) Alert {
	return Alert{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		Detections: detector.CloneAll(dets),
	}
}

// Classes returns the distinct classes in the alert, sorted.
func (a Alert) Classes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range a.Detections {
		if !seen[d.Class] {
			seen[d.Class] = true
			out = append(out, d.Class)
		}
	}
	sort.Strings(out)
	return out
}

// Only returns a copy of the alert restricted to the given classes.
func (a Alert) Only(classes map[string]bool) Alert {
	out := Alert{ID: a.ID, Timestamp: a.Timestamp}
	for _, d := range a.Detections {
		if classes[d.Class] {
			out.Detections = append(out.Detections, d)
		}
	}
	return out
}

// Title is a one-line headline for push services.
func (a Alert) Title() string {
	return "Watchpost: " + strings.Join(a.Classes(), ", ") + " detected"
}

// Message lists each detection with its confidence.
func (a Alert) Message() string {
	parts := make([]string, 0, len(a.Detections))
	for _, d := range a.Detections {
		p := fmt.Sprintf("%s (%.0f%%)", d.Class, d.Confidence*100)
		if d.TrackID != nil {
			p += fmt.Sprintf(" #%d", *d.TrackID)
		}
		parts = append(parts, p)
	}
	return fmt.Sprintf("%s at %s", strings.Join(parts, ", "), a.Timestamp.Format("15:04:05"))
}

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
	Close() error
}

// Recorder receives delivery outcomes, typically for metrics.
type Recorder interface {
	NotificationSent(sink string)
	NotificationFailed(sink string)
}

type nopRecorder struct{}

func (nopRecorder) NotificationSent(string)   {}
func (nopRecorder) NotificationFailed(string) {}
