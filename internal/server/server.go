// Package server provides the HTTP surface of palmscroll: the control API,
// the browser tab bridge, the event stream and the camera preview.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/server/api"
	"github.com/ayusman/palmscroll/internal/settings"
)

// Config holds the server configuration. Routes whose dependency is nil are
// not registered.
type Config struct {
	StaticDir string
	Control   api.Controller
	Bus       *bus.Bus
	Updates   UpdateSource
	Preview   PreviewSource
	Logger    *slog.Logger
}

// Server is the palmscroll HTTP server.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *slog.Logger
}

// New creates a Server.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger.With("component", "server"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if c := s.config.Control; c != nil {
		s.mux.Handle("/api/settings", api.NewSettingsHandler(c))
		s.mux.Handle("/api/toggle", api.NewToggleHandler(c))
		s.mux.Handle("/api/status", api.NewStatusHandler(c))
	}

	if s.config.Bus != nil {
		var seed func(context.Context) (settings.Settings, error)
		if s.config.Control != nil {
			seed = s.config.Control.Settings
		}
		s.mux.Handle("/api/tabs", NewTabsHandler(s.config.Bus, seed, s.logger))
	}

	if s.config.Updates != nil {
		s.mux.Handle("/api/events", NewEventsHandler(s.config.Updates, s.logger))
	}

	if s.config.Preview != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Preview))
	}

	if s.config.StaticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	}
	if s.config.Bus != nil {
		response["tabs"] = len(s.config.Bus.Tabs().List())
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Streams and websockets do not end on their own.
		srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
