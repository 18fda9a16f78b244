package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/app"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/notify"
	"github.com/ayusman/watchpost/internal/stats"
)

// Snapshot response headers.
const (
	HeaderDetections     = "X-Detections"
	HeaderFrameTimestamp = "X-Frame-Timestamp"
)

// Snapshot handles GET /api/snapshot. The body is the latest frame as JPEG
// and the detections drawn from that same frame travel in X-Detections.
// While the camera is unavailable the held frame is stale and is not served.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.deps.Pipeline != nil && !h.deps.Pipeline.Health().CaptureAvailable {
		WriteError(w, http.StatusServiceUnavailable, "no frame available")
		return
	}
	obs, ok := h.deps.State.SnapshotLatestFrameWithDetections()
	if !ok {
		WriteError(w, http.StatusServiceUnavailable, "no frame available")
		return
	}
	defer obs.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *obs.Frame)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to encode frame")
		return
	}
	defer buf.Close()

	dets := obs.Detections
	if dets == nil {
		dets = []detector.Detection{}
	}
	meta, err := json.Marshal(dets)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to encode detections")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set(HeaderDetections, string(meta))
	w.Header().Set(HeaderFrameTimestamp, obs.Timestamp.UTC().Format(time.RFC3339Nano))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.GetBytes())
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Text            string              `json:"text"`
	Uptime          string              `json:"uptime"`
	UptimeSeconds   int64               `json:"uptime_seconds"`
	TotalDetections int                 `json:"total_detections"`
	ClassCounts     map[string]int      `json:"class_counts"`
	LastDetection   *time.Time          `json:"last_detection,omitempty"`
	Pipeline        *app.Health         `json:"pipeline,omitempty"`
	Sinks           []notify.SinkStatus `json:"sinks,omitempty"`
}

// Status handles GET /api/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.deps.State.Stats()
	resp := StatusResponse{
		Text:            h.stats.ShortStatus(),
		Uptime:          stats.FormatUptime(st.Uptime),
		UptimeSeconds:   int64(st.Uptime.Seconds()),
		TotalDetections: st.TotalDetections,
		ClassCounts:     st.ClassCounts,
	}
	if !st.LastDetection.IsZero() {
		last := st.LastDetection
		resp.LastDetection = &last
	}
	if h.deps.Pipeline != nil {
		health := h.deps.Pipeline.Health()
		resp.Pipeline = &health
		if !health.CaptureAvailable {
			resp.Text = h.stats.UnavailableStatus(health.NextProbe)
		}
	}
	if h.deps.Notifier != nil {
		resp.Sinks = h.deps.Notifier.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	Text    string        `json:"text"`
	Summary stats.Summary `json:"summary"`
}

// Summary handles GET /api/summary?hours=N.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	hours := stats.DefaultSummaryHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}

	summary := h.stats.Report(hours)
	writeJSON(w, http.StatusOK, summaryResponse{Text: summary.Text(), Summary: summary})
}

// Reset handles POST /api/reset.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.deps.State.Reset()
	writeJSON(w, http.StatusOK, messageResponse{Message: "Detection history and stats cleared."})
}
