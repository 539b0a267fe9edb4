// Package control is the user-facing control surface: it persists settings
// and the enabled flag and relays them to the focused tab.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/protocol"
	"github.com/ayusman/palmscroll/internal/session"
	"github.com/ayusman/palmscroll/internal/settings"
	"github.com/ayusman/palmscroll/internal/store"
)

// ToggleTimeout bounds a toggle round trip: surface settle, recognizer load
// and camera start.
const ToggleTimeout = 45 * time.Second

// ErrNoTab is returned when no page is connected to receive a toggle.
var ErrNoTab = errors.New("no page connected; open or reload a page and try again")

// Status is the combined view shown by control clients.
type Status struct {
	Enabled  bool              `json:"enabled"`
	Settings settings.Settings `json:"settings"`
	Session  *session.Status   `json:"session,omitempty"`
	Recent   []*store.Event    `json:"recent"`
}

// Panel relays user intent to the active tab.
type Panel struct {
	bus    *bus.Bus
	store  *store.Store
	logger *slog.Logger
}

// New creates a Panel.
func New(b *bus.Bus, st *store.Store, logger *slog.Logger) *Panel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Panel{bus: b, store: st, logger: logger.With("component", "control")}
}

// Settings returns the persisted settings merged over the defaults.
func (p *Panel) Settings(ctx context.Context) (settings.Settings, error) {
	return p.store.Settings().Load(ctx)
}

// Enabled returns the persisted enabled flag.
func (p *Panel) Enabled(ctx context.Context) (bool, error) {
	return p.store.Settings().Enabled(ctx)
}

// Toggle asks the active tab to turn gesture control on or off, carrying the
// full settings snapshot. On failure the persisted flag is reset to false and
// the originating error is returned. Toggles are not serialized: turning
// gesture control off while a start is pending aborts that start.
//
// Turning off with no tab connected stops the coordinator directly, so a
// session left behind by a closed tab can always be ended. A toggle-on whose
// caller gives up before the tab answers is withdrawn the same way.
func (p *Panel) Toggle(ctx context.Context, enabled bool) error {
	s, err := p.Settings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ToggleTimeout)
	defer cancel()

	tab, hasTab := p.bus.Tabs().Active()
	if hasTab {
		var resp protocol.Response
		resp, err = p.bus.Send(ctx, protocol.Control, tab, protocol.Toggle(enabled, s))
		if err == nil {
			err = resp.Err()
		}
	} else {
		err = fmt.Errorf("%w: no active tab", protocol.ErrNoReceiver)
	}

	switch {
	case err == nil:
	case !enabled && errors.Is(err, protocol.ErrNoReceiver):
		err = p.stopWithoutTab(ctx)
	case errors.Is(err, protocol.ErrNoReceiver):
		err = fmt.Errorf("%w: %w", ErrNoTab, err)
	case enabled && ctx.Err() != nil:
		p.withdraw(tab, s)
	}

	if err != nil {
		p.logger.Error("toggle failed", "enabled", enabled, "error", err)
		if serr := p.store.Settings().SetEnabled(context.WithoutCancel(ctx), false); serr != nil {
			p.logger.Warn("persist enabled flag failed", "error", serr)
		}
		return err
	}

	if err := p.store.Settings().SetEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("persist enabled flag: %w", err)
	}
	p.logger.Info("gesture control toggled", "enabled", enabled)
	return nil
}

// stopWithoutTab stops the coordinator on behalf of a tab that is gone.
func (p *Panel) stopWithoutTab(ctx context.Context) error {
	p.logger.Info("no tab connected, stopping gesture control directly")
	if _, err := p.bus.Call(ctx, protocol.Control, protocol.Background, protocol.New(protocol.KindStopGestures)); err != nil {
		return fmt.Errorf("stop gestures: %w", err)
	}
	return nil
}

// withdraw turns off a toggle-on the caller stopped waiting for, aborting
// the start it triggered.
func (p *Panel) withdraw(tab protocol.Endpoint, s settings.Settings) {
	err := p.bus.Post(protocol.Control, tab, protocol.Toggle(false, s))
	if errors.Is(err, protocol.ErrNoReceiver) {
		err = p.bus.Post(protocol.Control, protocol.Background, protocol.New(protocol.KindStopGestures))
	}
	if err != nil {
		p.logger.Warn("withdraw abandoned toggle failed", "error", err)
		return
	}
	p.logger.Info("caller gave up on toggle, withdrawing it", "tab", tab)
}

// UpdateSettings validates and persists patch and, while enabled, forwards it
// to the active tab. Forwarding is best-effort.
func (p *Panel) UpdateSettings(ctx context.Context, patch settings.Patch) (settings.Settings, error) {
	cur, err := p.Settings(ctx)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	next := cur.Apply(patch)
	if err := p.store.Settings().Save(ctx, next); err != nil {
		return settings.Settings{}, err
	}

	enabled, err := p.Enabled(ctx)
	if err != nil {
		p.logger.Warn("read enabled flag failed", "error", err)
	}
	if enabled && !patch.Empty() {
		if err := p.bus.PostActiveTab(protocol.Control, protocol.UpdateSettings(patch)); err != nil {
			p.logger.Debug("settings update not delivered", "error", err)
		}
	}
	return next, nil
}

// Status collects the persisted state, the coordinator's status and recent
// gestures.
func (p *Panel) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error

	if st.Settings, err = p.Settings(ctx); err != nil {
		return st, err
	}
	if st.Enabled, err = p.Enabled(ctx); err != nil {
		return st, err
	}
	if st.Recent, err = p.store.Events().Recent(ctx, 10); err != nil {
		return st, err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := p.bus.Call(ctx, protocol.Control, protocol.Background, protocol.New(protocol.KindGetStatus))
	if err != nil {
		p.logger.Debug("coordinator status unavailable", "error", err)
		return st, nil
	}
	var ss session.Status
	if err := resp.Decode(&ss); err == nil {
		st.Session = &ss
	}
	return st, nil
}
