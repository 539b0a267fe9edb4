// Package tray provides the system tray menu for palmscroll.
package tray

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/palmscroll/internal/session"
)

// Tray is the system tray menu. The toggle item reflects the coordinator's
// state, not the last click, so a failed start shows as disabled.
type Tray struct {
	onToggle   func(ctx context.Context, enabled bool) error
	onSettings func()
	onQuit     func()
	logger     *slog.Logger

	mu          sync.RWMutex
	enabled     bool
	lastGesture string

	menuToggle      *systray.MenuItem
	menuLastGesture *systray.MenuItem
}

// New creates a Tray showing gesture control as disabled.
func New(logger *slog.Logger) *Tray {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tray{logger: logger.With("component", "tray")}
}

// OnToggle sets the function run when the toggle item is clicked.
func (t *Tray) OnToggle(fn func(ctx context.Context, enabled bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnSettings sets the callback for the settings item.
func (t *Tray) OnSettings(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSettings = fn
}

// OnQuit sets the callback for the quit item.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the tray. It blocks until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit removes the tray.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("palmscroll")
	systray.SetTooltip("palmscroll gesture scrolling")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle gesture control")
	systray.AddSeparator()
	t.menuLastGesture = systray.AddMenuItem(gestureTitle(t.lastGesture), "Last detected gesture")
	t.menuLastGesture.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuSettings := systray.AddMenuItem("Open Settings...", "Open settings in browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit palmscroll")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				go t.handleToggle()
			case <-menuSettings.ClickedCh:
				t.handleSettings()
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Gestures On"
	}
	return "○ Gestures Off"
}

func gestureTitle(name string) string {
	if name == "" {
		return "Last: none"
	}
	return "Last: " + name
}

func (t *Tray) handleToggle() {
	t.mu.RLock()
	target := !t.enabled
	callback := t.onToggle
	t.mu.RUnlock()

	if callback == nil {
		return
	}
	if err := callback(context.Background(), target); err != nil {
		t.logger.Error("toggle from tray failed", "error", err)
		t.setTooltip(fmt.Sprintf("palmscroll: %v", err))
		return
	}
	t.setTooltip("palmscroll gesture scrolling")
}

func (t *Tray) setTooltip(s string) {
	t.mu.RLock()
	ready := t.menuToggle != nil
	t.mu.RUnlock()
	if ready {
		systray.SetTooltip(s)
	}
}

func (t *Tray) handleSettings() {
	t.mu.RLock()
	callback := t.onSettings
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

func (t *Tray) handleQuit() {
	t.mu.RLock()
	callback := t.onQuit
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
	systray.Quit()
}

// Apply updates the menu from a coordinator update.
func (t *Tray) Apply(u session.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.enabled = u.State == session.Active
	if u.Gesture != "" {
		t.lastGesture = u.Gesture
	}
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(t.enabled))
		t.menuLastGesture.SetTitle(gestureTitle(t.lastGesture))
	}
}

// Follow applies updates until the channel closes or ctx is done.
func (t *Tray) Follow(ctx context.Context, updates <-chan session.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			t.Apply(u)
		}
	}
}

// IsEnabled reports whether the tray shows gesture control as on.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

// LastGesture returns the last gesture shown.
func (t *Tray) LastGesture() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastGesture
}
