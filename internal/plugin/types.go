// Package plugin discovers and runs external scroll plugins. A plugin is an
// executable that reads one JSON Request on stdin and writes one JSON Response
// on stdout.
package plugin

import (
	"encoding/json"
	"slices"
)

// Actions a scroll plugin may implement.
const (
	ActionScrollBy  = "scroll-by"
	ActionScrollTo  = "scroll-to"
	ActionIndicator = "indicator"
	ActionViewport  = "viewport"
)

// Manifest describes a plugin's metadata and capabilities.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Actions     []string `json:"actions"`
}

// Supports reports whether the plugin declares action.
func (m Manifest) Supports(action string) bool {
	return slices.Contains(m.Actions, action)
}

// Request is sent to a plugin for one action.
type Request struct {
	Action  string          `json:"action"`
	Gesture string          `json:"gesture,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewRequest builds a request with params encoded as JSON.
func NewRequest(action, gesture string, params any) (*Request, error) {
	req := &Request{Action: action, Gesture: gesture}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}
	return req, nil
}

// ScrollByParams are the params of ActionScrollBy. DY is in pixels; positive
// scrolls down.
type ScrollByParams struct {
	DY float64 `json:"dy"`
}

// ScrollToParams are the params of ActionScrollTo.
type ScrollToParams struct {
	Position string `json:"position"`
}

// IndicatorParams are the params of ActionIndicator.
type IndicatorParams struct {
	Text       string `json:"text"`
	DurationMs int64  `json:"durationMs"`
}

// ViewportData is returned by ActionViewport.
type ViewportData struct {
	Height float64 `json:"height"`
}

// Response is a plugin's answer.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin is a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
