package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayusman/watchpost/internal/settings"
)

// AllClasses is the class name addressing the whole allow-list.
const AllClasses = "all"

type settingsResponse struct {
	Settings settings.Snapshot `json:"settings"`
	Summary  string            `json:"summary"`
	Params   []string          `json:"params"`
}

// Settings handles GET /api/settings.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	snap := h.deps.Runtime.Snapshot()
	writeJSON(w, http.StatusOK, settingsResponse{
		Settings: snap,
		Summary:  snap.Summary(),
		Params:   settings.Params(),
	})
}

type setRequest struct {
	Value json.RawMessage `json:"value"`
}

type setResponse struct {
	Param string `json:"param"`
	Value string `json:"value"`
}

// SetParam handles PUT /api/settings/{param} with a body of
// {"value": "..."}. Numbers are accepted unquoted as well.
func (h *Handler) SetParam(w http.ResponseWriter, r *http.Request) {
	param := r.PathValue("param")

	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	value, ok := rawValue(req.Value)
	if !ok {
		WriteError(w, http.StatusBadRequest, "value is required")
		return
	}

	applied, err := h.deps.Runtime.Set(param, value)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, setResponse{Param: param, Value: applied})
}

// rawValue unwraps a JSON string or passes any other scalar through as text.
func rawValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

type classesResponse struct {
	Enabled []string `json:"enabled"`
	Message string   `json:"message"`
}

// EnableClass handles POST /api/classes/{name}/enable. Enabling "all"
// clears the allow-list so every class passes.
func (h *Handler) EnableClass(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		WriteError(w, http.StatusBadRequest, "class name is required")
		return
	}

	var msg string
	if strings.EqualFold(name, AllClasses) {
		h.deps.Runtime.EnableAllClasses()
		msg = "All classes enabled."
	} else {
		h.deps.Runtime.EnableClass(name)
		msg = fmt.Sprintf("Class %s enabled.", strings.ToLower(name))
	}
	h.writeClasses(w, msg)
}

// DisableClass handles POST /api/classes/{name}/disable. An empty
// allow-list already means every class, so "all" cannot be disabled, and
// neither can a class while the list is empty or holds only that class.
func (h *Handler) DisableClass(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		WriteError(w, http.StatusBadRequest, "class name is required")
		return
	}
	if strings.EqualFold(name, AllClasses) {
		WriteError(w, http.StatusBadRequest, "cannot disable all classes; enable the classes to keep instead")
		return
	}

	if err := h.deps.Runtime.DisableClass(name); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.writeClasses(w, fmt.Sprintf("Class %s disabled.", strings.ToLower(name)))
}

func (h *Handler) writeClasses(w http.ResponseWriter, msg string) {
	enabled := h.deps.Runtime.EnabledClasses()
	if enabled == nil {
		enabled = []string{}
	}
	writeJSON(w, http.StatusOK, classesResponse{Enabled: enabled, Message: msg})
}
