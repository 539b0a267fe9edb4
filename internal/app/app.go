// Package app wires the palmscroll daemon: store, message bus, session
// coordinator, capture surfaces, pages and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ayusman/palmscroll/internal/action"
	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/capture"
	"github.com/ayusman/palmscroll/internal/config"
	"github.com/ayusman/palmscroll/internal/control"
	"github.com/ayusman/palmscroll/internal/detector"
	"github.com/ayusman/palmscroll/internal/gesture"
	"github.com/ayusman/palmscroll/internal/page"
	"github.com/ayusman/palmscroll/internal/plugin"
	"github.com/ayusman/palmscroll/internal/protocol"
	"github.com/ayusman/palmscroll/internal/server"
	"github.com/ayusman/palmscroll/internal/session"
	"github.com/ayusman/palmscroll/internal/settings"
	"github.com/ayusman/palmscroll/internal/store"
	"github.com/ayusman/palmscroll/internal/tray"
)

// Built-in tab IDs.
const (
	DesktopTab = "desktop"
	BrowserTab = "browser"
)

// Gesture history retention.
const (
	EventRetention = 7 * 24 * time.Hour
	PruneInterval  = time.Hour
)

// Deps overrides the hardware-facing parts of the App.
type Deps struct {
	// Camera builds the camera for a new surface. Nil opens the configured webcam.
	Camera func() capture.Camera
	// Loader loads the recognizer. Nil runs the MediaPipe service.
	Loader detector.Loader
	Logger *slog.Logger
}

// App is the running daemon.
type App struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	store       *store.Store
	bus         *bus.Bus
	surfaces    *session.Surfaces
	coordinator *session.Coordinator
	panel       *control.Panel
	server      *server.Server
	tray        *tray.Tray

	mu      sync.Mutex
	detach  []func()
	browser *page.Browser

	closeOnce sync.Once
	closeErr  error
}

// New builds the App. Nothing touches the camera until a page toggles
// gesture control on.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		store:  st,
		bus:    bus.New(logger),
	}

	// Capture is never running at startup.
	if err := st.Settings().SetEnabled(context.Background(), false); err != nil {
		a.Close()
		return nil, fmt.Errorf("reset enabled flag: %w", err)
	}

	a.surfaces = session.NewSurfaces(a.bus, a.newHost, cfg.LockPath(), logger)
	a.coordinator = session.NewCoordinator(session.Options{
		Bus:         a.bus,
		Surfaces:    a.surfaces,
		Recorder:    st.Events(),
		InitTimeout: cfg.LoadTimeout(),
		Logger:      logger,
	})
	unregister, err := a.bus.Register(protocol.Background, a.coordinator)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register coordinator: %w", err)
	}
	a.detach = append(a.detach, unregister)

	a.panel = control.New(a.bus, st, logger)
	a.server = server.New(server.Config{
		StaticDir: cfg.Paths.StaticDir,
		Control:   a.panel,
		Bus:       a.bus,
		Updates:   a.coordinator,
		Preview:   a.preview,
		Logger:    logger,
	})

	if cfg.Tray.Enabled {
		a.tray = tray.New(logger)
		a.tray.OnToggle(a.panel.Toggle)
	}

	return a, nil
}

// newHost is the surface factory: a capture host over the configured camera
// and recognizer whose gestures are posted to the coordinator.
func (a *App) newHost(ctx context.Context, surfaceID string) (session.Host, error) {
	s, err := a.store.Settings().Load(ctx)
	if err != nil {
		a.logger.Warn("load settings for surface; using defaults", "error", err)
		s = settings.Default()
	}

	var camera capture.Camera
	if a.deps.Camera != nil {
		camera = a.deps.Camera()
	} else {
		camera = capture.NewCamera(capture.CameraConfig{
			Device: a.cfg.Camera.Device,
			Width:  a.cfg.Camera.Width,
			Height: a.cfg.Camera.Height,
			FPS:    a.cfg.Camera.FPS,
		})
	}

	loader := a.deps.Loader
	if loader == nil {
		loader = detector.MediaPipeLoader(a.detectorConfig(), a.logger)
	}

	host, err := capture.NewHost(capture.Options{
		Camera:     camera,
		Loader:     loader,
		Classifier: gesture.NewClassifier(nil),
		Emit: func(e gesture.Event) {
			msg := protocol.GestureDetected(string(e.Name), e.Confidence, e.At)
			if err := a.bus.Post(protocol.Capture, protocol.Background, msg); err != nil {
				a.logger.Warn("forward gesture", "surface", surfaceID, "gesture", e.Name, "error", err)
			}
		},
		ShowCamera: s.ShowCamera,
		IdleFPS:    a.cfg.Camera.IdleFPS,
		Logger:     a.logger.With("surface", surfaceID),
	})
	if err != nil {
		return nil, err
	}
	return host, nil
}

func (a *App) detectorConfig() detector.Config {
	dc := detector.DefaultConfig()
	dc.Python = a.cfg.Inference.Python
	dc.Script = a.cfg.Inference.Script
	dc.ModelPath = a.cfg.Inference.ModelPath
	dc.MaxHands = a.cfg.Inference.MaxHands
	dc.MinConfidence = a.cfg.Inference.MinConfidence
	dc.LoadTimeout = a.cfg.LoadTimeout()
	return dc
}

// preview returns the current surface's overlay frame, if any.
func (a *App) preview() *capture.Preview {
	sf := a.surfaces.Current()
	if sf == nil {
		return nil
	}
	p, ok := sf.Host.(interface{ Preview() *capture.Preview })
	if !ok {
		return nil
	}
	return p.Preview()
}

// Run serves until ctx is done. It opens the optional desktop and browser
// tabs first.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Desktop.Enabled {
		if err := a.attachDesktop(ctx); err != nil {
			return err
		}
	}
	if a.cfg.Browser.Enabled {
		if err := a.attachBrowser(ctx); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.Run(ctx, a.cfg.Server.Addr)
	})
	g.Go(func() error {
		a.pruneEvents(ctx)
		return nil
	})
	if a.tray != nil {
		updates, cancel := a.coordinator.Subscribe()
		g.Go(func() error {
			defer cancel()
			a.tray.Follow(ctx, updates)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) pruneEvents(ctx context.Context) {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()
	for {
		n, err := a.store.Events().Prune(ctx, time.Now().Add(-EventRetention))
		if err != nil && ctx.Err() == nil {
			a.logger.Warn("prune gesture history", "error", err)
		} else if n > 0 {
			a.logger.Debug("pruned gesture history", "removed", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// attachDesktop registers a tab that scrolls the focused desktop window
// through action plugins.
func (a *App) attachDesktop(ctx context.Context) error {
	manager := plugin.NewManager(a.cfg.Paths.PluginDir, a.logger)
	if err := manager.Discover(); err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}
	if len(manager.List()) == 0 {
		a.logger.Warn("no action plugins found; desktop tab disabled", "dir", manager.PluginDir())
		return nil
	}
	return a.attachTab(ctx, DesktopTab, page.NewPluginPage(manager, plugin.NewExecutor(a.cfg.PluginTimeout())))
}

// attachBrowser opens Chromium and registers it as a tab.
func (a *App) attachBrowser(ctx context.Context) error {
	b, err := page.LaunchBrowser(page.BrowserOptions{
		URL:      a.cfg.Browser.URL,
		Headless: a.cfg.Browser.Headless,
		Install:  a.cfg.Browser.Install,
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.browser = b
	a.mu.Unlock()
	return a.attachTab(ctx, BrowserTab, b.Page())
}

func (a *App) attachTab(ctx context.Context, id string, p action.Page) error {
	s, err := a.panel.Settings(ctx)
	if err != nil {
		return err
	}
	logger := a.logger.With("tab", id)
	_, detach, err := page.Attach(page.Options{
		Bus:      a.bus,
		TabID:    id,
		Page:     p,
		Settings: s,
		Alert: func(err error) {
			logger.Error("gesture control failed", "error", err)
		},
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("attach %s tab: %w", id, err)
	}
	a.mu.Lock()
	a.detach = append(a.detach, detach)
	a.mu.Unlock()

	if err := a.bus.Tabs().SetActive(id); err != nil {
		return err
	}
	logger.Info("tab attached")
	return nil
}

// Bus returns the message bus.
func (a *App) Bus() *bus.Bus { return a.bus }

// Coordinator returns the session coordinator.
func (a *App) Coordinator() *session.Coordinator { return a.coordinator }

// Panel returns the control panel.
func (a *App) Panel() *control.Panel { return a.panel }

// Server returns the HTTP handler.
func (a *App) Server() *server.Server { return a.server }

// Surfaces returns the capture surface manager.
func (a *App) Surfaces() *session.Surfaces { return a.surfaces }

// Tray returns the tray, or nil when disabled.
func (a *App) Tray() *tray.Tray { return a.tray }

// Close stops gesture control and releases everything.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.coordinator != nil {
			if err := a.coordinator.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.surfaces != nil {
			if err := a.surfaces.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		a.mu.Lock()
		detach := a.detach
		a.detach = nil
		browser := a.browser
		a.browser = nil
		a.mu.Unlock()

		for i := len(detach) - 1; i >= 0; i-- {
			detach[i]()
		}
		if browser != nil {
			if err := browser.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		a.bus.Close()
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
