package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/capture"
)

func TestServer_Health(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	s := New(Config{Bus: b})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", ct)
		}

		var response map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}
		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
		if response["tabs"] != float64(0) {
			t.Errorf("expected 0 tabs, got %v", response["tabs"])
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, httptest.NewRequest(method, "/api/health", nil))
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_OptionalRoutes(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/settings", "/api/toggle", "/api/status", "/api/tabs", "/api/events", "/api/stream", "/"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	dir := t.TempDir()
	index := "<html><body>palmscroll</body></html>"
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	script := "connect();"
	if err := os.WriteFile(filepath.Join(dir, "tab.js"), []byte(script), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}

	s := New(Config{StaticDir: dir})

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/", http.StatusOK, index},
		{"/tab.js", http.StatusOK, script},
		{"/nonexistent.html", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s: expected status %d, got %d", tt.path, tt.code, rec.Code)
		}
		if tt.body != "" && rec.Body.String() != tt.body {
			t.Errorf("%s: expected body %q, got %q", tt.path, tt.body, rec.Body.String())
		}
	}
}

func TestStreamHandler(t *testing.T) {
	var seq atomic.Uint64
	src := func() *capture.Preview {
		n := seq.Add(1)
		if n < 3 {
			return nil
		}
		return &capture.Preview{JPEG: []byte{0xFF, 0xD8, 0xFF, 0xD9}, Seq: n}
	}

	h := NewStreamHandler(src)
	h.interval = 5 * time.Millisecond
	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	wantLines := []string{"--frame", "Content-Type: image/jpeg", "Content-Length: 4"}
	for _, want := range wantLines {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read part header: %v", err)
		}
		if got := strings.TrimRight(line, "\r\n"); got != want {
			t.Fatalf("line = %q, want %q", got, want)
		}
	}
}

func TestStreamHandler_MethodNotAllowed(t *testing.T) {
	h := NewStreamHandler(func() *capture.Preview { return nil })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stream", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
