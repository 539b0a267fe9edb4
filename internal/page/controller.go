// Package page implements the per-tab side of gesture control: it holds the
// tab's session, asks the coordinator to start and stop capture, and applies
// delivered gestures to the tab.
package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/palmscroll/internal/action"
	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/gesture"
	"github.com/ayusman/palmscroll/internal/protocol"
	"github.com/ayusman/palmscroll/internal/settings"
)

// Status indicator texts.
const (
	LoadingText = "Loading gesture model... ⏳"
	ActiveText  = "✅ Gesture Control Active!"
	FailedText  = "❌ Gesture control failed"
)

// Session is the tab's view of gesture control. It is replaced as a whole on
// every change.
type Session struct {
	Enabled  bool              `json:"enabled"`
	Settings settings.Settings `json:"settings"`
}

// DetachTimeout bounds the stop a detaching tab sends for its session.
const DetachTimeout = 10 * time.Second

// Options configures a Controller.
type Options struct {
	Bus   *bus.Bus
	TabID string
	Page  action.Page
	// Settings seeds the session; zero means settings.Default().
	Settings settings.Settings
	// Alert is told about start failures the user should see.
	Alert  func(error)
	Logger *slog.Logger
}

// Controller serves one tab endpoint.
type Controller struct {
	bus      *bus.Bus
	endpoint protocol.Endpoint
	page     action.Page
	alert    func(error)
	logger   *slog.Logger

	mu      sync.Mutex
	session Session
	// gen counts toggles so a stale start failure does not undo a newer toggle.
	gen uint64
}

// New creates a Controller. It is not registered on the bus; see Attach.
func New(opts Options) *Controller {
	s := opts.Settings
	if s == (settings.Settings{}) {
		s = settings.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		bus:      opts.Bus,
		endpoint: protocol.TabEndpoint(opts.TabID),
		page:     opts.Page,
		alert:    opts.Alert,
		logger:   logger.With("component", "page", "tab", opts.TabID),
		session:  Session{Settings: s},
	}
}

// Attach creates a Controller and registers it as the tab's endpoint. The
// returned function detaches it, stopping gesture control first when this
// tab had it on.
func Attach(opts Options) (*Controller, func(), error) {
	c := New(opts)
	unregister, err := opts.Bus.Register(c.endpoint, c)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	detach := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), DetachTimeout)
			defer cancel()
			c.Release(ctx)
			unregister()
		})
	}
	return c, detach, nil
}

// Release ends the tab's session. When it was enabled the coordinator is
// told to stop, which also aborts a start still in progress.
func (c *Controller) Release(ctx context.Context) {
	c.mu.Lock()
	enabled := c.session.Enabled
	c.session.Enabled = false
	c.gen++
	c.mu.Unlock()

	if !enabled {
		return
	}
	c.logger.Info("tab going away, stopping gesture control")
	if _, err := c.bus.Call(ctx, c.endpoint, protocol.Background, protocol.New(protocol.KindStopGestures)); err != nil {
		c.logger.Warn("stop gestures on detach failed", "error", err)
	}
}

// Endpoint returns the tab's bus endpoint.
func (c *Controller) Endpoint() protocol.Endpoint {
	return c.endpoint
}

// Session returns the current session snapshot.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// ServeMessage handles the tab endpoint's messages.
func (c *Controller) ServeMessage(ctx context.Context, req *bus.Request) {
	switch req.Message.Kind {
	case protocol.KindToggleGestures:
		c.toggle(ctx, req)
	case protocol.KindUpdateSettings:
		c.updateSettings(req)
	case protocol.KindGestureDetected:
		c.handleGesture(ctx, req)
	case protocol.KindGetStatus:
		req.Respond(protocol.OKWith(c.Session()))
	default:
		req.Fail(fmt.Errorf("%w: %s", protocol.ErrUnknownMessage, req.Message.Kind))
	}
}

func (c *Controller) toggle(ctx context.Context, req *bus.Request) {
	msg := req.Message

	c.mu.Lock()
	if msg.Settings != nil {
		next := c.session.Settings.Apply(*msg.Settings)
		if err := next.Validate(); err != nil {
			c.mu.Unlock()
			req.Fail(fmt.Errorf("%w: %w", protocol.ErrInvalidMessage, err))
			return
		}
		c.session.Settings = next
	}
	c.session.Enabled = msg.Enabled
	c.gen++
	gen := c.gen
	s := c.session.Settings
	c.mu.Unlock()

	c.logger.Info("gesture control toggled", "enabled", msg.Enabled)

	if !msg.Enabled {
		req.Async(func() protocol.Response {
			if err := c.page.HideIndicator(ctx); err != nil {
				c.logger.Debug("hide indicator failed", "error", err)
			}
			if _, err := c.bus.Call(ctx, c.endpoint, protocol.Background, protocol.New(protocol.KindStopGestures)); err != nil {
				c.logger.Warn("stop gestures failed", "error", err)
			}
			return protocol.OK()
		})
		return
	}

	req.Async(func() protocol.Response {
		c.indicate(ctx, s, LoadingText, action.DefaultIndicatorDuration)

		_, err := c.bus.Call(ctx, c.endpoint, protocol.Background, protocol.New(protocol.KindStartGestures))
		if err == nil {
			c.indicate(ctx, s, ActiveText, action.DefaultIndicatorDuration)
			return protocol.OK()
		}

		c.mu.Lock()
		stale := c.gen != gen
		if !stale {
			c.session.Enabled = false
		}
		c.mu.Unlock()

		if stale {
			// A later toggle owns the session now.
			c.logger.Debug("superseded start ended", "error", err)
			return protocol.Failure(err)
		}

		c.logger.Error("start gestures failed", "error", err)
		c.indicate(ctx, s, FailedText, action.DefaultIndicatorDuration)
		if c.alert != nil && !errors.Is(err, context.Canceled) {
			c.alert(err)
		}
		return protocol.Failure(err)
	})
}

func (c *Controller) updateSettings(req *bus.Request) {
	msg := req.Message

	c.mu.Lock()
	next := c.session.Settings.Apply(*msg.Settings)
	if err := next.Validate(); err != nil {
		c.mu.Unlock()
		req.Fail(fmt.Errorf("%w: %w", protocol.ErrInvalidMessage, err))
		return
	}
	c.session.Settings = next
	c.mu.Unlock()

	// The capture host only cares about showCamera; a missing host is fine.
	if err := c.bus.Post(c.endpoint, protocol.Capture, msg); err != nil && !errors.Is(err, protocol.ErrNoReceiver) {
		c.logger.Warn("forward settings to capture failed", "error", err)
	}
	req.Respond(protocol.OK())
}

func (c *Controller) handleGesture(ctx context.Context, req *bus.Request) {
	snap := c.Session()
	if !snap.Enabled {
		req.Respond(protocol.OK())
		return
	}

	name := gesture.Name(req.Message.Gesture)
	effect, err := action.Apply(ctx, c.page, name, snap.Settings)
	if err != nil {
		c.logger.Warn("apply gesture failed", "gesture", name, "error", err)
		req.Fail(err)
		return
	}
	c.logger.Debug("gesture applied", "gesture", name, "scroll_to", effect.ScrollTo, "scroll_by", effect.ScrollBy)
	req.Respond(protocol.OK())
}

func (c *Controller) indicate(ctx context.Context, s settings.Settings, text string, d time.Duration) {
	if !s.ShowIndicator {
		return
	}
	if err := c.page.ShowIndicator(ctx, text, d); err != nil {
		c.logger.Debug("show indicator failed", "error", err)
	}
}
