// Package session drives the gesture session lifecycle: it creates and tears
// down the capture surface and sequences the capture host through
// initialization, capture and shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/protocol"
)

// Host is the capture host living on a surface.
type Host interface {
	bus.Handler
	Close() error
}

// Factory builds the capture host for a new surface.
type Factory func(ctx context.Context, surfaceID string) (Host, error)

// Surface is the privileged context holding camera and inference resources.
type Surface struct {
	ID        string
	Host      Host
	CreatedAt time.Time

	unregister func()
	lock       *flock.Flock
}

// Surfaces manages the single capture surface. Concurrent Ensure calls share
// one creation; at most one surface exists at a time, and the process lock
// extends that to every palmscroll process using the same data directory.
type Surfaces struct {
	bus      *bus.Bus
	factory  Factory
	lockPath string
	logger   *slog.Logger

	group   singleflight.Group
	mu      sync.Mutex
	current *Surface
	created atomic.Int64
}

const surfaceKey = "capture"

// NewSurfaces creates a manager that registers surfaces on b. An empty
// lockPath disables the process lock.
func NewSurfaces(b *bus.Bus, factory Factory, lockPath string, logger *slog.Logger) *Surfaces {
	if logger == nil {
		logger = slog.Default()
	}
	return &Surfaces{
		bus:      b,
		factory:  factory,
		lockPath: lockPath,
		logger:   logger.With("component", "surfaces"),
	}
}

// Ensure returns the current surface, creating it if absent.
func (s *Surfaces) Ensure(ctx context.Context) (*Surface, error) {
	if cur := s.Current(); cur != nil {
		return cur, nil
	}

	ch := s.group.DoChan(surfaceKey, func() (any, error) {
		if cur := s.Current(); cur != nil {
			return cur, nil
		}
		return s.create(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Surface), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Surfaces) create(ctx context.Context) (*Surface, error) {
	id := uuid.NewString()
	log := s.logger.With("surface", id)

	lock, err := s.acquireLock()
	if err != nil {
		return nil, err
	}

	release := func() {
		if lock != nil {
			lock.Unlock()
		}
	}

	host, err := s.factory(ctx, id)
	if err != nil {
		release()
		return nil, fmt.Errorf("create capture surface: %w", err)
	}

	if err := ctx.Err(); err != nil {
		host.Close()
		release()
		return nil, err
	}

	unregister, err := s.bus.Register(protocol.Capture, host)
	if err != nil {
		host.Close()
		release()
		return nil, fmt.Errorf("register capture surface: %w", err)
	}

	surface := &Surface{
		ID:         id,
		Host:       host,
		CreatedAt:  time.Now(),
		unregister: unregister,
		lock:       lock,
	}

	s.mu.Lock()
	s.current = surface
	s.mu.Unlock()
	s.created.Add(1)

	log.Info("capture surface created")
	return surface, nil
}

func (s *Surfaces) acquireLock() (*flock.Flock, error) {
	if s.lockPath == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(s.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: lock %s: %w", protocol.ErrCameraAccess, s.lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: camera in use by another palmscroll instance", protocol.ErrCameraAccess)
	}
	return lock, nil
}

// Close destroys the current surface, if any.
func (s *Surfaces) Close() error {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	if cur == nil {
		return nil
	}

	cur.unregister()
	err := cur.Host.Close()
	if cur.lock != nil {
		err = errors.Join(err, cur.lock.Unlock())
	}

	s.logger.Info("capture surface closed", "surface", cur.ID, "lifetime", time.Since(cur.CreatedAt).Round(time.Millisecond))
	return err
}

// Current returns the current surface, or nil.
func (s *Surfaces) Current() *Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Exists reports whether a surface is present.
func (s *Surfaces) Exists() bool {
	return s.Current() != nil
}

// Count returns the number of live surfaces (0 or 1).
func (s *Surfaces) Count() int {
	if s.Exists() {
		return 1
	}
	return 0
}

// Created returns how many surfaces have been created over the manager's life.
func (s *Surfaces) Created() int64 {
	return s.created.Load()
}
