package protocol

import "strings"

// Endpoint names a message destination on the bus.
type Endpoint string

// Fixed endpoints.
const (
	// Background is the session coordinator.
	Background Endpoint = "background"
	// Capture is the capture host living on the current capture surface.
	Capture Endpoint = "capture"
	// Control is the control surface (HTTP API, tray).
	Control Endpoint = "control"
)

const tabPrefix = "tab:"

// TabEndpoint returns the endpoint name for a page tab.
func TabEndpoint(id string) Endpoint {
	return Endpoint(tabPrefix + id)
}

// IsTab reports whether e names a page tab.
func (e Endpoint) IsTab() bool {
	return strings.HasPrefix(string(e), tabPrefix)
}

// TabID returns the tab id of a tab endpoint, or "" for other endpoints.
func (e Endpoint) TabID() string {
	if !e.IsTab() {
		return ""
	}
	return strings.TrimPrefix(string(e), tabPrefix)
}
