package control

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/page"
	"github.com/ayusman/palmscroll/internal/protocol"
	"github.com/ayusman/palmscroll/internal/session"
	"github.com/ayusman/palmscroll/internal/settings"
	"github.com/ayusman/palmscroll/internal/store"
)

// fakeTab answers toggles with a configurable error and records messages.
type fakeTab struct {
	toggleErr error

	mu   sync.Mutex
	msgs []protocol.Message
}

func (f *fakeTab) ServeMessage(ctx context.Context, req *bus.Request) {
	f.mu.Lock()
	f.msgs = append(f.msgs, req.Message)
	f.mu.Unlock()

	if req.Message.Kind == protocol.KindToggleGestures && f.toggleErr != nil {
		req.Fail(f.toggleErr)
		return
	}
	req.Respond(protocol.OK())
}

func (f *fakeTab) Messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.msgs...)
}

func newPanel(t *testing.T) (*Panel, *bus.Bus, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "palmscroll.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	b := bus.New(nil)
	t.Cleanup(b.Close)

	return New(b, st, nil), b, st
}

func TestPanel_ToggleOn(t *testing.T) {
	p, b, st := newPanel(t)
	tab := &fakeTab{}
	_, err := b.Register(protocol.TabEndpoint("t1"), tab)
	require.NoError(t, err)

	speed := 1.5
	_, err = p.UpdateSettings(context.Background(), settings.Patch{ScrollSpeed: &speed})
	require.NoError(t, err)

	require.NoError(t, p.Toggle(context.Background(), true))

	enabled, err := st.Settings().Enabled(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled)

	msgs := tab.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, protocol.KindToggleGestures, msgs[0].Kind)
	assert.True(t, msgs[0].Enabled)
	require.NotNil(t, msgs[0].Settings)
	require.NotNil(t, msgs[0].Settings.ScrollSpeed)
	assert.Equal(t, 1.5, *msgs[0].Settings.ScrollSpeed, "toggle carries the full snapshot")
	assert.NotNil(t, msgs[0].Settings.ShowIndicator)
}

func TestPanel_ToggleFailurePersistsDisabled(t *testing.T) {
	p, b, st := newPanel(t)
	require.NoError(t, st.Settings().SetEnabled(context.Background(), true))

	tab := &fakeTab{toggleErr: fmt.Errorf("%w: NotAllowedError", protocol.ErrCameraAccess)}
	_, err := b.Register(protocol.TabEndpoint("t1"), tab)
	require.NoError(t, err)

	err = p.Toggle(context.Background(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrCameraAccess)
	assert.Contains(t, err.Error(), "NotAllowedError")

	enabled, err := st.Settings().Enabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestPanel_ToggleWithoutTab(t *testing.T) {
	p, _, _ := newPanel(t)

	err := p.Toggle(context.Background(), true)
	assert.ErrorIs(t, err, ErrNoTab)
	assert.ErrorIs(t, err, protocol.ErrNoReceiver)
}

func TestPanel_UpdateSettings(t *testing.T) {
	p, b, st := newPanel(t)
	tab := &fakeTab{}
	_, err := b.Register(protocol.TabEndpoint("t1"), tab)
	require.NoError(t, err)

	show := false
	got, err := p.UpdateSettings(context.Background(), settings.Patch{ShowCamera: &show})
	require.NoError(t, err)
	assert.False(t, got.ShowCamera)

	loaded, err := st.Settings().Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, got, loaded)

	// Disabled: nothing is forwarded.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, tab.Messages())

	require.NoError(t, st.Settings().SetEnabled(context.Background(), true))
	d := 60.0
	_, err = p.UpdateSettings(context.Background(), settings.Patch{ScrollDistance: &d})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(tab.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	msg := tab.Messages()[0]
	assert.Equal(t, protocol.KindUpdateSettings, msg.Kind)
	assert.Equal(t, 60.0, *msg.Settings.ScrollDistance)
}

func TestPanel_UpdateSettingsRejectsInvalid(t *testing.T) {
	p, _, st := newPanel(t)

	speed := 0.0
	_, err := p.UpdateSettings(context.Background(), settings.Patch{ScrollSpeed: &speed})
	assert.ErrorIs(t, err, settings.ErrInvalid)

	loaded, err := st.Settings().Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), loaded)
}

type statusBackground struct{}

func (statusBackground) ServeMessage(ctx context.Context, req *bus.Request) {
	req.Respond(protocol.OKWith(session.Status{State: session.Active, Enabled: true, ActiveTab: "t1"}))
}

func TestPanel_Status(t *testing.T) {
	p, b, st := newPanel(t)
	ctx := context.Background()

	require.NoError(t, st.Events().Record(ctx, &store.Event{Gesture: "Thumb_Up", Confidence: 0.9}))

	got, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.Session, "no coordinator registered")
	assert.Len(t, got.Recent, 1)
	assert.Equal(t, settings.Default(), got.Settings)

	_, err = b.Register(protocol.Background, statusBackground{})
	require.NoError(t, err)

	got, err = p.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.Session)
	assert.Equal(t, session.Active, got.Session.State)
	assert.Equal(t, "t1", got.Session.ActiveTab)
}

// cameraHost is a capture host that only tracks whether its camera is on.
type cameraHost struct {
	mu      sync.Mutex
	running bool
}

func (h *cameraHost) ServeMessage(ctx context.Context, req *bus.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch req.Message.Kind {
	case protocol.KindStartCamera:
		h.running = true
	case protocol.KindStopCamera:
		h.running = false
	}
	req.Respond(protocol.OK())
}

func (h *cameraHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	return nil
}

// newSessionPanel wires a Panel to a real coordinator.
func newSessionPanel(t *testing.T) (*Panel, *bus.Bus, *store.Store, *session.Coordinator, *session.Surfaces) {
	t.Helper()
	p, b, st := newPanel(t)

	surfaces := session.NewSurfaces(b, func(ctx context.Context, id string) (session.Host, error) {
		return &cameraHost{}, nil
	}, "", nil)
	coord := session.NewCoordinator(session.Options{Bus: b, Surfaces: surfaces})
	_, err := b.Register(protocol.Background, coord)
	require.NoError(t, err)
	t.Cleanup(func() { coord.Close() })
	return p, b, st, coord, surfaces
}

func attachTab(t *testing.T, b *bus.Bus, id string) func() {
	t.Helper()
	_, detach, err := page.Attach(page.Options{Bus: b, TabID: id, Page: page.NewRecordingPage(1000)})
	require.NoError(t, err)
	return detach
}

func TestPanel_ClosingTabStopsItsSession(t *testing.T) {
	p, b, st, coord, surfaces := newSessionPanel(t)
	ctx := context.Background()

	detach := attachTab(t, b, "t1")
	require.NoError(t, p.Toggle(ctx, true))
	require.Equal(t, session.Active, coord.State())

	detach()
	assert.Equal(t, session.Idle, coord.State())
	assert.False(t, surfaces.Exists())

	// Turning off afterwards still succeeds with no tab left.
	require.NoError(t, p.Toggle(ctx, false))
	enabled, err := st.Settings().Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestPanel_ToggleOffWithoutTabStopsCoordinator(t *testing.T) {
	p, _, st, coord, surfaces := newSessionPanel(t)
	ctx := context.Background()

	// A session whose tab vanished without detaching cleanly.
	require.NoError(t, coord.Start(ctx))
	require.NoError(t, st.Settings().SetEnabled(ctx, true))
	require.True(t, surfaces.Exists())

	require.NoError(t, p.Toggle(ctx, false))
	assert.Equal(t, session.Idle, coord.State())
	assert.False(t, surfaces.Exists())

	enabled, err := st.Settings().Enabled(ctx)
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestPanel_AbandonedToggleOnIsWithdrawn(t *testing.T) {
	p, b, st, coord, surfaces := newSessionPanel(t)
	attachTab(t, b, "t1")

	// The caller stops waiting long before the settle delay is over.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := p.Toggle(ctx, true)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return coord.State() == session.Idle }, 2*time.Second, 10*time.Millisecond)
	// Past the point the start would have finished on its own.
	time.Sleep(session.SettleDelay + 200*time.Millisecond)
	assert.Equal(t, session.Idle, coord.State())
	assert.False(t, surfaces.Exists())

	enabled, err := st.Settings().Enabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)
}
