// Package main provides a scroll plugin for palmscroll.
// It scrolls the focused window with xdotool on Linux and AppleScript on macOS.
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// Request is the input from the plugin executor.
type Request struct {
	Action  string          `json:"action"`
	Gesture string          `json:"gesture"`
	Params  json.RawMessage `json:"params"`
}

// Response is the output to the plugin executor.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type scrollByParams struct {
	DY float64 `json:"dy"`
}

type scrollToParams struct {
	Position string `json:"position"`
}

type indicatorParams struct {
	Text       string `json:"text"`
	DurationMs int64  `json:"durationMs"`
}

// pixelsPerNotch approximates how far one wheel notch scrolls a browser page.
const pixelsPerNotch = 53

// maxNotches keeps a bad dy from spinning the wheel for minutes.
const maxNotches = 200

type handler func(params json.RawMessage) (any, error)

var handlers = map[string]handler{
	"scroll-by": scrollBy,
	"scroll-to": scrollTo,
	"indicator": indicator,
	"viewport":  viewport,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	h, ok := handlers[req.Action]
	if !ok {
		writeResponse(Response{Error: fmt.Sprintf("unknown action: %s", req.Action)})
		return
	}

	data, err := h(req.Params)
	if err != nil {
		writeResponse(Response{Error: fmt.Sprintf("action %s failed: %v", req.Action, err)})
		return
	}
	writeResponse(Response{Success: true, Data: data})
}

func scrollBy(params json.RawMessage) (any, error) {
	var p scrollByParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("failed to parse params: %w", err)
	}

	notches := int(math.Round(math.Abs(p.DY) / pixelsPerNotch))
	if notches == 0 {
		return nil, nil
	}
	notches = min(notches, maxNotches)

	if runtime.GOOS == "darwin" {
		// 125 is the down arrow, 126 the up arrow.
		code := 125
		if p.DY < 0 {
			code = 126
		}
		script := fmt.Sprintf(`tell application "System Events"
repeat %d times
key code %d
end repeat
end tell`, notches, code)
		return nil, run("osascript", "-e", script)
	}

	// Wheel button 5 scrolls down, 4 scrolls up.
	button := "5"
	if p.DY < 0 {
		button = "4"
	}
	return nil, run("xdotool", "click", "--repeat", strconv.Itoa(notches), "--delay", "5", button)
}

func scrollTo(params json.RawMessage) (any, error) {
	var p scrollToParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("failed to parse params: %w", err)
	}

	var key string
	var code int
	switch p.Position {
	case "top":
		key, code = "Home", 115
	case "bottom":
		key, code = "End", 119
	default:
		return nil, fmt.Errorf("invalid position %q", p.Position)
	}

	if runtime.GOOS == "darwin" {
		return nil, run("osascript", "-e", fmt.Sprintf(`tell application "System Events" to key code %d`, code))
	}
	return nil, run("xdotool", "key", key)
}

func indicator(params json.RawMessage) (any, error) {
	var p indicatorParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("failed to parse params: %w", err)
	}
	if p.Text == "" {
		return nil, fmt.Errorf("text is required")
	}

	if runtime.GOOS == "darwin" {
		text := strings.ReplaceAll(p.Text, `"`, `\"`)
		return nil, run("osascript", "-e", fmt.Sprintf(`display notification "%s" with title "palmscroll"`, text))
	}
	ms := p.DurationMs
	if ms <= 0 {
		ms = 1000
	}
	return nil, run("notify-send", "-t", strconv.FormatInt(ms, 10), "palmscroll", p.Text)
}

var geometryHeight = regexp.MustCompile(`Geometry:\s*\d+x(\d+)`)

func viewport(json.RawMessage) (any, error) {
	if runtime.GOOS == "darwin" {
		out, err := output("osascript", "-e",
			`tell application "System Events" to get item 2 of (get size of front window of (first application process whose frontmost is true))`)
		if err != nil {
			return nil, err
		}
		h, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
		if err != nil {
			return nil, fmt.Errorf("parse window height %q: %w", out, err)
		}
		return map[string]float64{"height": h}, nil
	}

	out, err := output("xdotool", "getactivewindow", "getwindowgeometry")
	if err != nil {
		return nil, err
	}
	m := geometryHeight.FindStringSubmatch(out)
	if m == nil {
		return nil, fmt.Errorf("no geometry in %q", out)
	}
	h, _ := strconv.ParseFloat(m[1], 64)
	return map[string]float64{"height": h}, nil
}

func writeResponse(resp Response) {
	json.NewEncoder(os.Stdout).Encode(resp)
}

func run(name string, args ...string) error {
	_, err := output(name, args...)
	return err
}

func output(name string, args ...string) (string, error) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
