package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/detector"
	"github.com/ayusman/palmscroll/internal/protocol"
	"github.com/ayusman/palmscroll/internal/store"
)

const (
	// SettleDelay is the fixed wait between creating a surface and talking to it.
	SettleDelay = 1500 * time.Millisecond
	// StopTimeout bounds the best-effort stop-capture request.
	StopTimeout = 5 * time.Second
)

// ErrStartCancelled is returned by Start when Stop interrupts it. It matches
// context.Canceled.
var ErrStartCancelled = fmt.Errorf("start cancelled by stop: %w", context.Canceled)

// State is the coordinator lifecycle state.
type State string

const (
	Idle     State = "idle"
	Starting State = "starting"
	Active   State = "active"
	Stopping State = "stopping"
)

// Recorder persists delivered gestures.
type Recorder interface {
	Record(ctx context.Context, e *store.Event) error
}

// Update is published to subscribers on every state change and on every
// forwarded gesture.
type Update struct {
	State      State     `json:"state"`
	Gesture    string    `json:"gesture,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
	Error      string    `json:"error,omitempty"`
}

// Status is a snapshot of the coordinator.
type Status struct {
	State       State   `json:"state"`
	Enabled     bool    `json:"enabled"`
	Surface     string  `json:"surface,omitempty"`
	ActiveTab   string  `json:"activeTab,omitempty"`
	LastError   string  `json:"lastError,omitempty"`
	LastGesture *Update `json:"lastGesture,omitempty"`
}

// Options configures a Coordinator.
type Options struct {
	Bus         *bus.Bus
	Surfaces    *Surfaces
	Recorder    Recorder
	// InitTimeout bounds recognizer initialization; zero means detector.LoadTimeout.
	InitTimeout time.Duration
	Logger      *slog.Logger
}

// Coordinator owns the authoritative enabled flag and drives the capture
// surface through Idle → Starting → Active → Stopping → Idle.
//
// Start is single-flight: concurrent callers join the pending attempt. Stop
// cancels a pending Start, waits for it to unwind and then stops; it is
// idempotent and safe from any state.
type Coordinator struct {
	bus      *bus.Bus
	surfaces *Surfaces
	recorder Recorder
	logger   *slog.Logger
	tracer   trace.Tracer

	settleDelay time.Duration
	initTimeout time.Duration

	stopMu sync.Mutex

	mu          sync.Mutex
	state       State
	pending     *startAttempt
	stopDone    chan struct{}
	lastErr     string
	lastGesture *Update
	subs        map[int]chan Update
	nextSub     int
}

// startAttempt is one in-flight start. err is set before done closes.
type startAttempt struct {
	cancel func()
	done   chan struct{}
	err    error
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	initTimeout := opts.InitTimeout
	if initTimeout <= 0 {
		initTimeout = detector.LoadTimeout
	}
	return &Coordinator{
		bus:         opts.Bus,
		surfaces:    opts.Surfaces,
		recorder:    opts.Recorder,
		logger:      logger.With("component", "coordinator"),
		tracer:      otel.Tracer("github.com/ayusman/palmscroll/internal/session"),
		settleDelay: SettleDelay,
		initTimeout: initTimeout,
		state:       Idle,
		subs:        make(map[int]chan Update),
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enabled reports whether gesture control is running.
func (c *Coordinator) Enabled() bool {
	return c.State() == Active
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		State:     c.state,
		Enabled:   c.state == Active,
		LastError: c.lastErr,
	}
	if c.lastGesture != nil {
		g := *c.lastGesture
		st.LastGesture = &g
	}
	c.mu.Unlock()

	if cur := c.surfaces.Current(); cur != nil {
		st.Surface = cur.ID
	}
	st.ActiveTab = c.bus.Tabs().ActiveID()
	return st
}

// Subscribe returns a channel of updates and a function to cancel the
// subscription. Slow subscribers miss updates.
func (c *Coordinator) Subscribe() (<-chan Update, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Update, 16)
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			close(ch)
		})
	}
}

// publish must be called with c.mu held.
func (c *Coordinator) publish(u Update) {
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// setState must be called with c.mu held.
func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("state change", "from", c.state, "to", s)
	c.state = s
	c.publish(Update{State: s, At: time.Now(), Error: c.lastErr})
}

// Start brings gesture control up. It returns nil when already Active and
// joins a pending start otherwise. The start itself is detached from ctx;
// only Stop cancels it.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	for c.state == Stopping {
		done := c.stopDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	if c.state == Active {
		c.mu.Unlock()
		return nil
	}
	a := c.pending
	if a == nil {
		// Starting is entered under the lock so a Stop that follows always
		// sees the attempt it has to cancel.
		runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
		a = &startAttempt{
			cancel: func() { cancel(ErrStartCancelled) },
			done:   make(chan struct{}),
		}
		c.pending = a
		c.lastErr = ""
		c.setState(Starting)
		go c.start(runCtx, a, cancel)
	}
	c.mu.Unlock()

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) start(ctx context.Context, a *startAttempt, cancel context.CancelCauseFunc) {
	err := c.runStart(ctx)
	cancel(nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	a.err = err
	c.pending = nil
	if err != nil {
		c.lastErr = err.Error()
		c.setState(Idle)
	} else {
		c.setState(Active)
	}
	close(a.done)
}

func (c *Coordinator) runStart(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "session.start")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	started := time.Now()
	fail := func(step string, cause error) error {
		if cerr := context.Cause(ctx); cerr != nil && errors.Is(cause, context.Canceled) {
			cause = cerr
		}
		if closeErr := c.surfaces.Close(); closeErr != nil {
			c.logger.Warn("teardown after failed start", "error", closeErr)
		}
		c.logger.Error("start failed", "step", step, "error", cause)
		return cause
	}

	// (a) ensure the capture surface exists
	surface, err := c.surfaces.Ensure(ctx)
	if err != nil {
		return fail("surface", err)
	}
	span.SetAttributes(attribute.String("surface.id", surface.ID))

	// (b) let the surface settle
	timer := time.NewTimer(c.settleDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return fail("settle", ctx.Err())
	}

	// (c) initialize inference, bounded
	initCtx, cancelInit := context.WithTimeout(ctx, c.initTimeout)
	_, err = c.bus.Call(initCtx, protocol.Background, protocol.Capture, protocol.New(protocol.KindInitInference))
	cancelInit()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: recognizer not ready after %s", protocol.ErrInitialization, c.initTimeout)
		}
		return fail("initialize", err)
	}

	// (d) start the camera
	if _, err := c.bus.Call(ctx, protocol.Background, protocol.Capture, protocol.New(protocol.KindStartCamera)); err != nil {
		return fail("camera", err)
	}

	c.logger.Info("gesture control started", "surface", surface.ID, "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// Stop brings gesture control down. A pending Start is cancelled first.
// Stop always ends Idle and returns nil from Idle.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	c.mu.Lock()
	for a := c.pending; a != nil; a = c.pending {
		c.mu.Unlock()
		c.logger.Info("stop requested during start, cancelling start")
		a.cancel()
		<-a.done
		c.mu.Lock()
	}

	if c.state == Idle {
		c.mu.Unlock()
		// A failed or cancelled start already tore its surface down.
		if c.surfaces.Exists() {
			return c.surfaces.Close()
		}
		return nil
	}

	c.stopDone = make(chan struct{})
	c.setState(Stopping)
	c.mu.Unlock()

	c.runStop(ctx)

	c.mu.Lock()
	c.setState(Idle)
	close(c.stopDone)
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) runStop(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "session.stop")
	defer span.End()

	// (a) best-effort stop-capture
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), StopTimeout)
	_, err := c.bus.Call(stopCtx, protocol.Background, protocol.Capture, protocol.New(protocol.KindStopCamera))
	cancel()
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("stop capture failed", "error", err)
	}

	// (b) unconditional teardown
	if err := c.surfaces.Close(); err != nil {
		span.RecordError(err)
		c.logger.Warn("close surface failed", "error", err)
	}
	c.logger.Info("gesture control stopped")
}

// Close stops the session.
func (c *Coordinator) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*StopTimeout)
	defer cancel()
	return c.Stop(ctx)
}

// ServeMessage handles the background endpoint's messages.
func (c *Coordinator) ServeMessage(ctx context.Context, req *bus.Request) {
	msg := req.Message

	switch msg.Kind {
	case protocol.KindStartGestures:
		req.Async(func() protocol.Response {
			if err := c.Start(ctx); err != nil {
				return protocol.Failure(err)
			}
			return protocol.OK()
		})

	case protocol.KindStopGestures:
		req.Async(func() protocol.Response {
			if err := c.Stop(ctx); err != nil {
				return protocol.Failure(err)
			}
			return protocol.OK()
		})

	case protocol.KindGestureDetected:
		c.forwardGesture(ctx, req)

	case protocol.KindInitInference, protocol.KindStartCamera, protocol.KindStopCamera:
		c.logger.Error("capture command reached the coordinator", "type", msg.Kind, "from", req.From)
		req.Fail(fmt.Errorf("%w: %s belongs to the capture host", protocol.ErrRouting, msg.Kind))

	case protocol.KindGetStatus:
		req.Respond(protocol.OKWith(c.Status()))

	default:
		req.Fail(fmt.Errorf("%w: %s", protocol.ErrUnknownMessage, msg.Kind))
	}
}

func (c *Coordinator) forwardGesture(ctx context.Context, req *bus.Request) {
	msg := req.Message
	at := time.UnixMilli(msg.Timestamp)
	if msg.Timestamp == 0 {
		at = time.Now()
	}

	u := Update{Gesture: msg.Gesture, Confidence: msg.Confidence, At: at}
	c.mu.Lock()
	u.State = c.state
	c.lastGesture = &u
	c.publish(u)
	c.mu.Unlock()

	tab := c.bus.Tabs().ActiveID()
	if err := c.bus.PostActiveTab(protocol.Background, msg); err != nil {
		c.logger.Debug("gesture not forwarded", "gesture", msg.Gesture, "error", err)
	}

	if c.recorder != nil {
		ev := &store.Event{Gesture: msg.Gesture, Confidence: msg.Confidence, TabID: tab, CreatedAt: at}
		if err := c.recorder.Record(ctx, ev); err != nil {
			c.logger.Warn("record gesture failed", "error", err)
		}
	}

	req.Respond(protocol.OK())
}
