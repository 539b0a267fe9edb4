package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ayusman/palmscroll/internal/action"
	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/page"
	"github.com/ayusman/palmscroll/internal/settings"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const (
	// HelloTimeout bounds the wait for a tab's hello frame.
	HelloTimeout = 5 * time.Second
	writeTimeout = 5 * time.Second
)

// Frames sent by a connected tab.
type tabFrame struct {
	Type   string  `json:"type"` // hello, focus, viewport
	Height float64 `json:"height,omitempty"`
	URL    string  `json:"url,omitempty"`
	Focus  bool    `json:"focus,omitempty"`
}

// Frames sent to a connected tab.
type effectFrame struct {
	Op         string  `json:"op"` // welcome, scrollTo, scrollBy, indicator, hideIndicator, alert
	Tab        string  `json:"tab,omitempty"`
	Position   string  `json:"position,omitempty"`
	DY         float64 `json:"dy,omitempty"`
	Text       string  `json:"text,omitempty"`
	DurationMs int64   `json:"durationMs,omitempty"`
}

// RemotePage applies effects to a browser tab connected over a websocket.
// Effects are fire-and-forget; the viewport height is the last one the tab
// reported.
type RemotePage struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	viewport float64
}

func newRemotePage(conn *websocket.Conn, viewport float64) *RemotePage {
	return &RemotePage{conn: conn, viewport: viewport}
}

func (p *RemotePage) send(ctx context.Context, f effectFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	p.conn.SetWriteDeadline(deadline)
	return p.conn.WriteJSON(f)
}

func (p *RemotePage) setViewport(h float64) {
	if h <= 0 {
		return
	}
	p.mu.Lock()
	p.viewport = h
	p.mu.Unlock()
}

// ViewportHeight returns the last reported height.
func (p *RemotePage) ViewportHeight(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.viewport <= 0 {
		return 0, errors.New("tab has not reported its viewport")
	}
	return p.viewport, nil
}

func (p *RemotePage) ScrollTo(ctx context.Context, pos action.Position) error {
	return p.send(ctx, effectFrame{Op: "scrollTo", Position: string(pos)})
}

func (p *RemotePage) ScrollBy(ctx context.Context, dy float64) error {
	return p.send(ctx, effectFrame{Op: "scrollBy", DY: dy})
}

func (p *RemotePage) ShowIndicator(ctx context.Context, text string, d time.Duration) error {
	return p.send(ctx, effectFrame{Op: "indicator", Text: text, DurationMs: d.Milliseconds()})
}

func (p *RemotePage) HideIndicator(ctx context.Context) error {
	return p.send(ctx, effectFrame{Op: "hideIndicator"})
}

// TabsHandler bridges browser tabs into the bus. Each websocket connection
// becomes one tab endpoint served by a page.Controller.
type TabsHandler struct {
	bus          *bus.Bus
	settings     func(ctx context.Context) (settings.Settings, error)
	logger       *slog.Logger
	helloTimeout time.Duration
}

// NewTabsHandler creates a TabsHandler. seed provides the settings a new tab
// starts with; nil uses the defaults.
func NewTabsHandler(b *bus.Bus, seed func(ctx context.Context) (settings.Settings, error), logger *slog.Logger) *TabsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TabsHandler{
		bus:          b,
		settings:     seed,
		logger:       logger.With("component", "tabs"),
		helloTimeout: HelloTimeout,
	}
}

func (h *TabsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	hello, err := h.readHello(conn)
	if err != nil {
		h.logger.Warn("tab handshake failed", "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
		return
	}

	s := settings.Default()
	if h.settings != nil {
		if loaded, err := h.settings(r.Context()); err == nil {
			s = loaded
		} else {
			h.logger.Warn("load settings for tab failed", "error", err)
		}
	}

	id := uuid.NewString()
	remote := newRemotePage(conn, hello.Height)
	log := h.logger.With("tab", id)

	_, detach, err := page.Attach(page.Options{
		Bus:      h.bus,
		TabID:    id,
		Page:     remote,
		Settings: s,
		Alert: func(err error) {
			msg := fmt.Sprintf("Failed to start gesture control!\n\nError: %v", err)
			if serr := remote.send(context.Background(), effectFrame{Op: "alert", Text: msg}); serr != nil {
				log.Debug("alert not delivered", "error", serr)
			}
		},
		Logger: h.logger,
	})
	if err != nil {
		log.Error("attach tab failed", "error", err)
		return
	}
	defer detach()

	if hello.Focus {
		h.bus.Tabs().SetActive(id)
	}
	if err := remote.send(r.Context(), effectFrame{Op: "welcome", Tab: id}); err != nil {
		log.Warn("welcome not delivered", "error", err)
		return
	}
	log.Info("tab connected", "url", hello.URL, "viewport", hello.Height)

	for {
		var f tabFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("tab read ended", "error", err)
			}
			break
		}
		switch f.Type {
		case "focus":
			h.bus.Tabs().SetActive(id)
			remote.setViewport(f.Height)
		case "viewport":
			remote.setViewport(f.Height)
		default:
			log.Debug("ignoring tab frame", "type", f.Type)
		}
	}
	log.Info("tab disconnected")
}

func (h *TabsHandler) readHello(conn *websocket.Conn) (tabFrame, error) {
	conn.SetReadDeadline(time.Now().Add(h.helloTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var f tabFrame
	if err := conn.ReadJSON(&f); err != nil {
		return tabFrame{}, fmt.Errorf("read hello: %w", err)
	}
	if f.Type != "hello" {
		return tabFrame{}, fmt.Errorf("expected hello, got %q", f.Type)
	}
	return f, nil
}
