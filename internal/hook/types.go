// Package hook discovers and runs external executables that react to
// watchpost events, such as a confirmed sighting.
package hook

import "encoding/json"

// Event names delivered to hooks.
const (
	EventSighting = "sighting"
	EventTest     = "test"
)

// Manifest describes a hook's metadata and the events it subscribes to.
type Manifest struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Executable  string          `json:"executable"`
	Events      []string        `json:"events"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// Request is written to the hook's stdin as a single JSON document.
type Request struct {
	Event   string          `json:"event"`
	Config  json.RawMessage `json:"config,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}

// Handles reports whether the hook subscribes to event. A manifest with no
// events subscribes to all of them.
func (h *Hook) Handles(event string) bool {
	if len(h.Manifest.Events) == 0 {
		return true
	}
	for _, e := range h.Manifest.Events {
		if e == event {
			return true
		}
	}
	return false
}
