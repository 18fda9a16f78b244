package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/store"
)

// DefaultListLimit caps history and sighting listings without a limit.
const DefaultListLimit = 100

type historyResponse struct {
	Detections []detector.Detection `json:"detections"`
	Total      int                  `json:"total"`
}

// History handles GET /api/history. It returns the most recent confirmed
// detections from memory, newest first. Optional query parameters: limit,
// and since (RFC 3339).
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit, since, ok := listParams(w, r)
	if !ok {
		return
	}

	var dets []detector.Detection
	if since.IsZero() {
		dets = h.deps.State.History()
	} else {
		dets = h.deps.State.HistorySince(since)
	}

	total := len(dets)
	out := make([]detector.Detection, 0, min(limit, total))
	for i := total - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, dets[i])
	}
	writeJSON(w, http.StatusOK, historyResponse{Detections: out, Total: total})
}

type sightingsResponse struct {
	Sightings []store.Sighting `json:"sightings"`
}

// Sightings handles GET /api/sightings from the archive.
func (h *Handler) Sightings(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		WriteError(w, http.StatusNotImplemented, "sighting archive is disabled")
		return
	}
	limit, since, ok := listParams(w, r)
	if !ok {
		return
	}

	list, err := h.deps.Archive.ListSince(since, limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list sightings")
		return
	}
	if list == nil {
		list = []store.Sighting{}
	}
	writeJSON(w, http.StatusOK, sightingsResponse{Sightings: list})
}

// Sighting handles GET /api/sightings/{id}.
func (h *Handler) Sighting(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		WriteError(w, http.StatusNotImplemented, "sighting archive is disabled")
		return
	}

	sg, err := h.deps.Archive.GetByID(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "sighting not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to get sighting")
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

// Thumbnail handles GET /api/sightings/{id}/thumbnail.
func (h *Handler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	if h.deps.Archive == nil {
		WriteError(w, http.StatusNotImplemented, "sighting archive is disabled")
		return
	}

	data, err := h.deps.Archive.Thumbnail(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "thumbnail not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to get thumbnail")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// listParams parses the limit and since query parameters, writing a 400 on
// malformed input.
func listParams(w http.ResponseWriter, r *http.Request) (limit int, since time.Time, ok bool) {
	q := r.URL.Query()

	limit = DefaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return 0, time.Time{}, false
		}
		limit = n
	}

	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return 0, time.Time{}, false
		}
		since = t
	}
	return limit, since, true
}
