// Package api provides the HTTP handlers behind the operator commands.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ayusman/watchpost/internal/app"
	"github.com/ayusman/watchpost/internal/notify"
	"github.com/ayusman/watchpost/internal/settings"
	"github.com/ayusman/watchpost/internal/state"
	"github.com/ayusman/watchpost/internal/stats"
	"github.com/ayusman/watchpost/internal/store"
	"github.com/ayusman/watchpost/internal/timeutil"
)

// Pipeline reports capture health. app.App implements it.
type Pipeline interface {
	Health() app.Health
}

// Notifier reports sink availability. notify.Dispatcher implements it.
type Notifier interface {
	Status() []notify.SinkStatus
}

// Archive reads archived sightings. store.SightingRepository implements it.
type Archive interface {
	ListSince(since time.Time, limit int) ([]store.Sighting, error)
	GetByID(id string) (*store.Sighting, error)
	Thumbnail(id string) ([]byte, error)
}

// Deps are the collaborators shared by the handlers. State and Runtime are
// required; the rest may be nil.
type Deps struct {
	State    *state.Shared
	Runtime  *settings.Runtime
	Pipeline Pipeline
	Notifier Notifier
	Archive  Archive
	Clock    timeutil.Clock
}

// Handler serves the operator commands.
type Handler struct {
	deps  Deps
	stats *stats.Generator
}

// NewHandler creates a Handler over deps.
func NewHandler(deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	return &Handler{
		deps:  deps,
		stats: stats.NewGenerator(deps.State, deps.Clock),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
