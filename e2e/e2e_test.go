package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/ayusman/palmscroll/internal/app"
	"github.com/ayusman/palmscroll/internal/capture"
	"github.com/ayusman/palmscroll/internal/config"
	"github.com/ayusman/palmscroll/internal/control"
	"github.com/ayusman/palmscroll/internal/detector"
	"github.com/ayusman/palmscroll/internal/page"
	"github.com/ayusman/palmscroll/internal/session"
)

type effect struct {
	Op         string  `json:"op"`
	Tab        string  `json:"tab"`
	Position   string  `json:"position"`
	DY         float64 `json:"dy"`
	Text       string  `json:"text"`
	DurationMs int64   `json:"durationMs"`
}

type harness struct {
	app    *app.App
	camera *capture.MockCamera
	rec    *detector.MockRecognizer
	ts     *httptest.Server
}

func newHarness(t *testing.T, results ...*detector.Result) *harness {
	t.Helper()
	return newHarnessWithLoader(t, nil, results...)
}

// newHarnessWithLoader lets wrap replace the recognizer loader.
func newHarnessWithLoader(t *testing.T, wrap func(detector.Loader) detector.Loader, results ...*detector.Result) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.StaticDir = ""
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Camera.IdleFPS = 0
	cfg.Tray.Enabled = false

	frame := gocv.NewMatWithSize(120, 160, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { frame.Close() })
	cam := capture.NewMockCamera([]*gocv.Mat{&frame}, true)
	cam.SetFPS(100)
	rec := detector.NewMockRecognizer(results...)
	loader := rec.Loader()
	if wrap != nil {
		loader = wrap(loader)
	}

	a, err := app.New(&cfg, app.Deps{
		Camera: func() capture.Camera { return cam },
		Loader: loader,
	})
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	ts := httptest.NewServer(a.Server())
	t.Cleanup(func() {
		ts.Close()
		a.Close()
	})
	return &harness{app: a, camera: cam, rec: rec, ts: ts}
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// openTab connects a focused tab with the given viewport height.
func (h *harness) openTab(t *testing.T, height float64) *websocket.Conn {
	t.Helper()
	conn := h.dial(t, "/api/tabs")
	hello := map[string]any{"type": "hello", "height": height, "url": "https://example.com", "focus": true}
	if err := conn.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if f := readEffect(t, conn, 3*time.Second); f.Op != "welcome" {
		t.Fatalf("first frame = %+v, want welcome", f)
	}
	return conn
}

func (h *harness) toggle(t *testing.T, enabled bool) (int, map[string]any) {
	t.Helper()
	body := `{"enabled":false}`
	if enabled {
		body = `{"enabled":true}`
	}
	resp, err := h.ts.Client().Post(h.ts.URL+"/api/toggle", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/toggle: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func readEffect(t *testing.T, conn *websocket.Conn, timeout time.Duration) effect {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var f effect
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read effect: %v", err)
	}
	return f
}

// awaitEffect reads frames until match accepts one.
func awaitEffect(t *testing.T, conn *websocket.Conn, timeout time.Duration, match func(effect) bool) effect {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		f := readEffect(t, conn, time.Until(deadline))
		if match(f) {
			return f
		}
	}
	t.Fatal("expected effect not received")
	return effect{}
}

func TestE2E_GestureControlOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := newHarness(t, detector.GestureResult("Closed_Fist", 0.95))
	tab := h.openTab(t, 1000)
	events := h.dial(t, "/api/events")

	t.Run("ToggleOn", func(t *testing.T) {
		code, body := h.toggle(t, true)
		if code != http.StatusOK || body["enabled"] != true {
			t.Fatalf("toggle on = %d %v", code, body)
		}

		loading := awaitEffect(t, tab, 3*time.Second, func(f effect) bool { return f.Op == "indicator" })
		if loading.Text != page.LoadingText {
			t.Errorf("first indicator = %q, want %q", loading.Text, page.LoadingText)
		}
		awaitEffect(t, tab, 3*time.Second, func(f effect) bool {
			return f.Op == "indicator" && f.Text == page.ActiveText
		})

		events.SetReadDeadline(time.Now().Add(3 * time.Second))
		for {
			var u session.Update
			if err := events.ReadJSON(&u); err != nil {
				t.Fatalf("read update: %v", err)
			}
			if u.State == session.Active {
				break
			}
		}
	})

	t.Run("GestureScrolls", func(t *testing.T) {
		// Default settings: 80% of a 1000px viewport at speed 1.0.
		f := awaitEffect(t, tab, 3*time.Second, func(f effect) bool { return f.Op == "scrollBy" })
		if f.DY != 800 {
			t.Errorf("scrollBy dy = %v, want 800", f.DY)
		}
	})

	t.Run("SettingsReachTab", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, h.ts.URL+"/api/settings",
			strings.NewReader(`{"scrollSpeed":2,"scrollDistance":50}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := h.ts.Client().Do(req)
		if err != nil {
			t.Fatalf("PUT /api/settings: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("PUT /api/settings = %d", resp.StatusCode)
		}

		// Closed_Fist at speed 2.0 and distance 50 scrolls one full viewport.
		awaitEffect(t, tab, 4*time.Second, func(f effect) bool { return f.Op == "scrollBy" && f.DY == 1000 })
	})

	t.Run("Status", func(t *testing.T) {
		resp, err := h.ts.Client().Get(h.ts.URL + "/api/status")
		if err != nil {
			t.Fatalf("GET /api/status: %v", err)
		}
		defer resp.Body.Close()
		var st control.Status
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if !st.Enabled || st.Session == nil || st.Session.State != session.Active {
			t.Fatalf("status = %+v", st)
		}
		if len(st.Recent) == 0 || st.Recent[0].Gesture != "Closed_Fist" {
			t.Errorf("recent = %+v", st.Recent)
		}
	})

	t.Run("ToggleOff", func(t *testing.T) {
		if code, body := h.toggle(t, false); code != http.StatusOK {
			t.Fatalf("toggle off = %d %v", code, body)
		}
		awaitEffect(t, tab, 3*time.Second, func(f effect) bool { return f.Op == "hideIndicator" })
		if h.app.Surfaces().Exists() {
			t.Error("capture surface still present")
		}
		if h.camera.IsOpen() {
			t.Error("camera still open")
		}
	})
}

func TestE2E_ToggleOffDuringStartAbortsCleanly(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	// The model never finishes loading on its own.
	stalled := func(next detector.Loader) detector.Loader {
		return func(ctx context.Context) (detector.Recognizer, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}
	h := newHarnessWithLoader(t, stalled, detector.GestureResult("Thumb_Up", 0.9))
	tab := h.openTab(t, 800)

	onCode := make(chan int, 1)
	go func() {
		code, _ := h.toggle(t, true)
		onCode <- code
	}()
	awaitEffect(t, tab, 3*time.Second, func(f effect) bool { return f.Op == "indicator" && f.Text == page.LoadingText })

	if code, body := h.toggle(t, false); code != http.StatusOK {
		t.Fatalf("toggle off = %d %v", code, body)
	}

	select {
	case code := <-onCode:
		if code != http.StatusBadGateway {
			t.Errorf("aborted toggle on = %d, want %d", code, http.StatusBadGateway)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("toggle on did not return")
	}

	if h.app.Surfaces().Exists() {
		t.Error("surface left behind")
	}
	if h.camera.Opens() != 0 {
		t.Errorf("camera opened %d times, want 0", h.camera.Opens())
	}
	if got := h.app.Coordinator().State(); got != session.Idle {
		t.Errorf("state = %v, want idle", got)
	}

	// A cancelled start is not reported to the tab as a failure.
	tab.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	for {
		var f effect
		if err := tab.ReadJSON(&f); err != nil {
			break
		}
		if f.Op == "alert" || (f.Op == "indicator" && f.Text == page.FailedText) {
			t.Fatalf("unexpected failure effect %+v", f)
		}
	}
}

func TestE2E_ToggleWithoutTab(t *testing.T) {
	h := newHarness(t)

	code, body := h.toggle(t, true)
	if code != http.StatusBadGateway {
		t.Fatalf("toggle = %d, want %d", code, http.StatusBadGateway)
	}
	msg, _ := body["error"].(string)
	if !strings.Contains(msg, "no page connected") {
		t.Errorf("error = %q", msg)
	}

	enabled, err := h.app.Panel().Enabled(context.Background())
	if err != nil || enabled {
		t.Errorf("enabled = %v, err = %v", enabled, err)
	}
}

func TestE2E_StartFailureAlertsTab(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := newHarness(t, detector.GestureResult("Thumb_Up", 0.9))
	h.camera.SetOpenError(errors.New("device or resource busy"))
	tab := h.openTab(t, 800)

	code, body := h.toggle(t, true)
	if code != http.StatusBadGateway {
		t.Fatalf("toggle = %d %v, want %d", code, body, http.StatusBadGateway)
	}
	if body["code"] != "camera_access" {
		t.Errorf("code = %v", body["code"])
	}

	alert := awaitEffect(t, tab, 3*time.Second, func(f effect) bool { return f.Op == "alert" })
	if alert.Text == "" {
		t.Error("alert without message")
	}
	if h.app.Surfaces().Exists() {
		t.Error("surface left behind after camera failure")
	}
}

func TestE2E_ClosingTabStopsCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	h := newHarness(t, detector.GestureResult("Open_Palm", 0.9))
	tab := h.openTab(t, 900)

	if code, body := h.toggle(t, true); code != http.StatusOK {
		t.Fatalf("toggle on = %d %v", code, body)
	}
	if !h.camera.IsOpen() {
		t.Fatal("camera not open after toggle on")
	}

	tab.Close()

	deadline := time.Now().Add(5 * time.Second)
	for h.app.Surfaces().Exists() || h.camera.IsOpen() {
		if time.Now().After(deadline) {
			t.Fatalf("capture still running after tab closed: state=%v", h.app.Coordinator().State())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := h.app.Coordinator().State(); got != session.Idle {
		t.Errorf("state = %v, want idle", got)
	}

	// Turning off with no tab left still succeeds.
	if code, body := h.toggle(t, false); code != http.StatusOK {
		t.Errorf("toggle off = %d %v", code, body)
	}
}
