// Package api provides the HTTP handlers behind the palmscroll control surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/palmscroll/internal/control"
	"github.com/ayusman/palmscroll/internal/protocol"
	"github.com/ayusman/palmscroll/internal/settings"
)

// Controller is the control surface the handlers drive.
type Controller interface {
	Settings(ctx context.Context) (settings.Settings, error)
	UpdateSettings(ctx context.Context, patch settings.Patch) (settings.Settings, error)
	Enabled(ctx context.Context) (bool, error)
	Toggle(ctx context.Context, enabled bool) error
	Status(ctx context.Context) (control.Status, error)
}

type errorResponse struct {
	Error string        `json:"error"`
	Code  protocol.Code `json:"code,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeFailure(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: protocol.CodeOf(err)})
}

// SettingsHandler serves GET and PUT /api/settings.
type SettingsHandler struct {
	ctrl Controller
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(c Controller) *SettingsHandler {
	return &SettingsHandler{ctrl: c}
}

func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, err := h.ctrl.Settings(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to load settings")
			return
		}
		writeJSON(w, http.StatusOK, s)

	case http.MethodPut, http.MethodPatch:
		var patch settings.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		s, err := h.ctrl.UpdateSettings(r.Context(), patch)
		if errors.Is(err, settings.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save settings")
			return
		}
		writeJSON(w, http.StatusOK, s)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

type toggleResponse struct {
	Enabled bool `json:"enabled"`
}

// ToggleHandler serves POST /api/toggle. A toggle the page could not honor
// answers 502 with the originating error message.
type ToggleHandler struct {
	ctrl Controller
}

// NewToggleHandler creates a ToggleHandler.
func NewToggleHandler(c Controller) *ToggleHandler {
	return &ToggleHandler{ctrl: c}
}

func (h *ToggleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req toggleRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	// Without an explicit target the toggle flips the persisted flag.
	var enabled bool
	if req.Enabled != nil {
		enabled = *req.Enabled
	} else {
		cur, err := h.ctrl.Enabled(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read state")
			return
		}
		enabled = !cur
	}

	if err := h.ctrl.Toggle(r.Context(), enabled); err != nil {
		writeFailure(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{Enabled: enabled})
}

// StatusHandler serves GET /api/status.
type StatusHandler struct {
	ctrl Controller
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(c Controller) *StatusHandler {
	return &StatusHandler{ctrl: c}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st, err := h.ctrl.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
