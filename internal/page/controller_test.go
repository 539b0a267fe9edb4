package page

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/palmscroll/internal/action"
	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/protocol"
	"github.com/ayusman/palmscroll/internal/settings"
)

// fakeBackground plays the coordinator.
type fakeBackground struct {
	startErr error
	// blockStart holds START until STOP arrives, then fails it as cancelled.
	blockStart bool

	mu      sync.Mutex
	kinds   []protocol.Kind
	stopped chan struct{}
	once    sync.Once
}

func newFakeBackground() *fakeBackground {
	return &fakeBackground{stopped: make(chan struct{})}
}

func (f *fakeBackground) ServeMessage(ctx context.Context, req *bus.Request) {
	f.mu.Lock()
	f.kinds = append(f.kinds, req.Message.Kind)
	f.mu.Unlock()

	switch req.Message.Kind {
	case protocol.KindStartGestures:
		req.Async(func() protocol.Response {
			if f.blockStart {
				select {
				case <-f.stopped:
					return protocol.Failure(fmt.Errorf("start cancelled by stop: %w", context.Canceled))
				case <-ctx.Done():
					return protocol.Failure(ctx.Err())
				}
			}
			if f.startErr != nil {
				return protocol.Failure(f.startErr)
			}
			return protocol.OK()
		})
	case protocol.KindStopGestures:
		f.once.Do(func() { close(f.stopped) })
		req.Respond(protocol.OK())
	default:
		req.Fail(protocol.ErrUnknownMessage)
	}
}

func (f *fakeBackground) Kinds() []protocol.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Kind(nil), f.kinds...)
}

type captureRecorder struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (c *captureRecorder) ServeMessage(ctx context.Context, req *bus.Request) {
	c.mu.Lock()
	c.msgs = append(c.msgs, req.Message)
	c.mu.Unlock()
	req.Respond(protocol.OK())
}

func (c *captureRecorder) Messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.msgs...)
}

type alerts struct {
	mu   sync.Mutex
	errs []error
}

func (a *alerts) add(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

func (a *alerts) All() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]error(nil), a.errs...)
}

type fixture struct {
	bus        *bus.Bus
	background *fakeBackground
	page       *RecordingPage
	ctrl       *Controller
	detach     func()
	alerts     *alerts
}

func newFixture(t *testing.T, bg *fakeBackground) *fixture {
	t.Helper()

	b := bus.New(nil)
	t.Cleanup(b.Close)

	_, err := b.Register(protocol.Background, bg)
	require.NoError(t, err)

	f := &fixture{bus: b, background: bg, page: NewRecordingPage(1000), alerts: &alerts{}}
	f.ctrl, f.detach, err = Attach(Options{Bus: b, TabID: "tab-1", Page: f.page, Alert: f.alerts.add})
	require.NoError(t, err)
	return f
}

func (f *fixture) call(t *testing.T, msg protocol.Message) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.bus.Call(ctx, protocol.Control, f.ctrl.Endpoint(), msg)
	return err
}

func indicatorTexts(ops []Op) []string {
	var out []string
	for _, op := range ops {
		if op.Kind == "indicator" {
			out = append(out, op.Text)
		}
	}
	return out
}

func TestController_ToggleOn(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	require.NoError(t, f.call(t, protocol.Toggle(true, settings.Default())))

	assert.True(t, f.ctrl.Session().Enabled)
	assert.Equal(t, []protocol.Kind{protocol.KindStartGestures}, f.background.Kinds())
	assert.Equal(t, []string{LoadingText, ActiveText}, indicatorTexts(f.page.Ops()))
	assert.Empty(t, f.alerts.All())
}

func TestController_ToggleOnFailureResetsSession(t *testing.T) {
	bg := newFakeBackground()
	bg.startErr = fmt.Errorf("%w: NotAllowedError: Permission denied", protocol.ErrCameraAccess)
	f := newFixture(t, bg)

	err := f.call(t, protocol.Toggle(true, settings.Default()))
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrCameraAccess)
	assert.Contains(t, err.Error(), "Permission denied")

	assert.False(t, f.ctrl.Session().Enabled)
	assert.Contains(t, indicatorTexts(f.page.Ops()), FailedText)

	got := f.alerts.All()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error(), "Permission denied")
}

func TestController_ToggleOffDuringStartDoesNotAlert(t *testing.T) {
	bg := newFakeBackground()
	bg.blockStart = true
	f := newFixture(t, bg)

	startErr := make(chan error, 1)
	go func() { startErr <- f.call(t, protocol.Toggle(true, settings.Default())) }()

	require.Eventually(t, func() bool { return len(bg.Kinds()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.call(t, protocol.Toggle(false, settings.Default())))

	err := <-startErr
	assert.ErrorIs(t, err, context.Canceled)

	assert.False(t, f.ctrl.Session().Enabled)
	assert.Empty(t, f.alerts.All())
	assert.Equal(t, []protocol.Kind{protocol.KindStartGestures, protocol.KindStopGestures}, bg.Kinds())
}

func TestController_ToggleOffWithoutStart(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	require.NoError(t, f.call(t, protocol.Toggle(false, settings.Default())))
	assert.False(t, f.ctrl.Session().Enabled)
	assert.Equal(t, []protocol.Kind{protocol.KindStopGestures}, f.background.Kinds())
}

func TestController_ToggleCarriesSettings(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	s := settings.Default()
	s.ScrollSpeed = 3
	s.ShowIndicator = false
	require.NoError(t, f.call(t, protocol.Toggle(true, s)))

	assert.Equal(t, s, f.ctrl.Session().Settings)
	assert.Empty(t, indicatorTexts(f.page.Ops()), "indicators are suppressed")
}

func TestController_ToggleRejectsInvalidSettings(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	s := settings.Default()
	s.ScrollSpeed = 0
	err := f.call(t, protocol.Toggle(true, s))
	assert.ErrorIs(t, err, protocol.ErrInvalidMessage)

	assert.False(t, f.ctrl.Session().Enabled)
	assert.Equal(t, settings.Default(), f.ctrl.Session().Settings)
	assert.Empty(t, f.background.Kinds(), "nothing is started")
}

func TestController_DetachStopsEnabledSession(t *testing.T) {
	f := newFixture(t, newFakeBackground())
	require.NoError(t, f.call(t, protocol.Toggle(true, settings.Default())))

	f.detach()

	assert.Equal(t, []protocol.Kind{protocol.KindStartGestures, protocol.KindStopGestures}, f.background.Kinds())
	assert.False(t, f.ctrl.Session().Enabled)
	assert.False(t, f.bus.Has(f.ctrl.Endpoint()))

	// A second detach is a no-op.
	f.detach()
	assert.Len(t, f.background.Kinds(), 2)
}

func TestController_DetachWhileDisabledLeavesCoordinatorAlone(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	f.detach()

	assert.Empty(t, f.background.Kinds())
	assert.False(t, f.bus.Has(f.ctrl.Endpoint()))
}

func TestController_DetachDuringStartAbortsIt(t *testing.T) {
	bg := newFakeBackground()
	bg.blockStart = true
	f := newFixture(t, bg)

	startErr := make(chan error, 1)
	go func() { startErr <- f.call(t, protocol.Toggle(true, settings.Default())) }()
	require.Eventually(t, func() bool { return len(bg.Kinds()) == 1 }, time.Second, 5*time.Millisecond)

	f.detach()

	select {
	case err := <-startErr:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("toggle did not return after detach")
	}
	assert.Equal(t, []protocol.Kind{protocol.KindStartGestures, protocol.KindStopGestures}, bg.Kinds())
	assert.Empty(t, f.alerts.All())
}

func TestController_UpdateSettings(t *testing.T) {
	f := newFixture(t, newFakeBackground())
	capture := &captureRecorder{}
	_, err := f.bus.Register(protocol.Capture, capture)
	require.NoError(t, err)

	speed, show := 2.5, false
	require.NoError(t, f.call(t, protocol.UpdateSettings(settings.Patch{ScrollSpeed: &speed, ShowCamera: &show})))

	got := f.ctrl.Session().Settings
	assert.Equal(t, 2.5, got.ScrollSpeed)
	assert.False(t, got.ShowCamera)
	assert.Equal(t, settings.Default().ScrollDistance, got.ScrollDistance)

	require.Eventually(t, func() bool { return len(capture.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	fwd := capture.Messages()[0]
	assert.Equal(t, protocol.KindUpdateSettings, fwd.Kind)
	require.NotNil(t, fwd.Settings.ShowCamera)
	assert.False(t, *fwd.Settings.ShowCamera)
}

func TestController_UpdateSettingsWithoutCapture(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	d := 40.0
	require.NoError(t, f.call(t, protocol.UpdateSettings(settings.Patch{ScrollDistance: &d})))
	assert.Equal(t, 40.0, f.ctrl.Session().Settings.ScrollDistance)
}

func TestController_UpdateSettingsRejectsInvalid(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	speed := -1.0
	err := f.call(t, protocol.UpdateSettings(settings.Patch{ScrollSpeed: &speed}))
	assert.ErrorIs(t, err, protocol.ErrInvalidMessage)
	assert.Equal(t, settings.Default(), f.ctrl.Session().Settings)
}

func TestController_GestureIgnoredWhenDisabled(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	require.NoError(t, f.call(t, protocol.GestureDetected("Closed_Fist", 0.9, time.Now())))
	assert.Empty(t, f.page.Ops())
}

func TestController_GestureScrolls(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	s := settings.Settings{ScrollSpeed: 2, ScrollDistance: 50, ShowCamera: true, ShowIndicator: true}
	require.NoError(t, f.call(t, protocol.Toggle(true, s)))

	require.NoError(t, f.call(t, protocol.GestureDetected("Closed_Fist", 0.9, time.Now())))
	require.NoError(t, f.call(t, protocol.GestureDetected("Pointing_Up", 0.9, time.Now())))
	require.NoError(t, f.call(t, protocol.GestureDetected("Thumb_Up", 0.9, time.Now())))
	require.NoError(t, f.call(t, protocol.GestureDetected("Open_Palm", 0.9, time.Now())))

	assert.Equal(t, []Op{
		{Kind: "scrollBy", DY: 1000},
		{Kind: "scrollBy", DY: -1000},
		{Kind: "scrollTo", Position: action.Top},
	}, f.page.Scrolls())
}

func TestController_GetStatus(t *testing.T) {
	f := newFixture(t, newFakeBackground())
	require.NoError(t, f.call(t, protocol.Toggle(true, settings.Default())))

	resp, err := f.bus.Call(context.Background(), protocol.Control, f.ctrl.Endpoint(), protocol.New(protocol.KindGetStatus))
	require.NoError(t, err)

	var s Session
	require.NoError(t, resp.Decode(&s))
	assert.True(t, s.Enabled)
	assert.Equal(t, settings.Default(), s.Settings)
}

func TestController_UnknownMessage(t *testing.T) {
	f := newFixture(t, newFakeBackground())

	err := f.call(t, protocol.New(protocol.KindStartCamera))
	assert.True(t, errors.Is(err, protocol.ErrUnknownMessage), "got %v", err)
}
