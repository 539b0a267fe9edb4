package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/palmscroll/internal/bus"
	"github.com/ayusman/palmscroll/internal/detector"
	"github.com/ayusman/palmscroll/internal/gesture"
	"github.com/ayusman/palmscroll/internal/protocol"
)

// ErrHostClosed is returned by a Host after Close.
var ErrHostClosed = errors.New("capture host closed")

// Options configures a Host.
type Options struct {
	Camera     Camera
	Loader     detector.Loader
	Classifier *gesture.Classifier
	// Emit receives every debounced gesture. It is called from the capture loop.
	Emit func(gesture.Event)
	// ShowCamera enables the landmark overlay preview.
	ShowCamera bool
	// IdleFPS slows the loop while the scene is still. Zero disables it.
	IdleFPS int
	Logger  *slog.Logger
}

// Status is a snapshot of a Host.
type Status struct {
	Initialized bool  `json:"initialized"`
	Running     bool  `json:"running"`
	ShowCamera  bool  `json:"showCamera"`
	Frames      int64 `json:"frames"`
	Skipped     int64 `json:"skipped"`
	Errors      int64 `json:"errors"`
	Emitted     int64 `json:"emitted"`
}

// Host owns the camera and the recognizer for one capture surface. It turns
// frames into debounced gesture events.
type Host struct {
	camera     Camera
	loader     detector.Loader
	classifier *gesture.Classifier
	emit       func(gesture.Event)
	idleFPS    int
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	initMu     sync.Mutex
	recognizer detector.Recognizer

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}

	showCamera atomic.Bool
	preview    atomic.Pointer[Preview]
	seq        atomic.Uint64

	frames  atomic.Int64
	skipped atomic.Int64
	errs    atomic.Int64
	emitted atomic.Int64
}

// NewHost creates a Host. Camera and Loader are required.
func NewHost(opts Options) (*Host, error) {
	if opts.Camera == nil {
		return nil, errors.New("camera is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("recognizer loader is required")
	}
	if opts.Classifier == nil {
		opts.Classifier = gesture.NewClassifier(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		camera:     opts.Camera,
		loader:     opts.Loader,
		classifier: opts.Classifier,
		emit:       opts.Emit,
		idleFPS:    opts.IdleFPS,
		logger:     opts.Logger.With("component", "capture"),
		ctx:        ctx,
		cancel:     cancel,
	}
	h.showCamera.Store(opts.ShowCamera)
	return h, nil
}

// Initialize constructs the recognizer. Calling it again after success is a
// no-op.
func (h *Host) Initialize(ctx context.Context) error {
	h.initMu.Lock()
	defer h.initMu.Unlock()

	if h.ctx.Err() != nil {
		return fmt.Errorf("%w: %w", protocol.ErrInitialization, ErrHostClosed)
	}
	if h.recognizer != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(h.ctx, cancel)
	defer unhook()

	start := time.Now()
	rec, err := h.loader(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w (%w)", err, ctxErr)
		}
		return fmt.Errorf("%w: %w", protocol.ErrInitialization, err)
	}

	h.recognizer = rec
	h.logger.Info("recognizer ready", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// Initialized reports whether the recognizer is ready.
func (h *Host) Initialized() bool {
	h.initMu.Lock()
	defer h.initMu.Unlock()
	return h.recognizer != nil
}

// StartCapture opens the camera and starts the frame loop. It requires a
// prior successful Initialize. Starting a running host is a no-op.
func (h *Host) StartCapture(ctx context.Context) error {
	h.initMu.Lock()
	rec := h.recognizer
	h.initMu.Unlock()
	if rec == nil {
		return fmt.Errorf("%w: recognizer not initialized", protocol.ErrInitialization)
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.done != nil {
		return nil
	}
	if h.ctx.Err() != nil {
		return ErrHostClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := h.camera.Open(); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrCameraAccess, err)
	}

	h.classifier.Reset()
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.run(rec, h.stop, h.done)

	h.logger.Info("capture started", "fps", h.camera.FPS())
	return nil
}

// StopCapture stops the frame loop and releases the camera. It is safe to
// call when capture never started.
func (h *Host) StopCapture() error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.done == nil {
		return nil
	}

	close(h.stop)
	<-h.done
	h.stop, h.done = nil, nil
	h.preview.Store(nil)

	if err := h.camera.Close(); err != nil {
		return fmt.Errorf("close camera: %w", err)
	}
	h.logger.Info("capture stopped", "frames", h.frames.Load(), "emitted", h.emitted.Load())
	return nil
}

// Running reports whether the frame loop is active.
func (h *Host) Running() bool {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	return h.done != nil
}

// SetShowCamera turns the overlay preview on or off.
func (h *Host) SetShowCamera(show bool) {
	h.showCamera.Store(show)
	if !show {
		h.preview.Store(nil)
	}
}

// Preview returns the latest overlay frame, or nil when there is none.
func (h *Host) Preview() *Preview {
	return h.preview.Load()
}

// Status returns a snapshot of the host.
func (h *Host) Status() Status {
	return Status{
		Initialized: h.Initialized(),
		Running:     h.Running(),
		ShowCamera:  h.showCamera.Load(),
		Frames:      h.frames.Load(),
		Skipped:     h.skipped.Load(),
		Errors:      h.errs.Load(),
		Emitted:     h.emitted.Load(),
	}
}

// Close stops capture and releases the recognizer.
func (h *Host) Close() error {
	h.cancel()
	stopErr := h.StopCapture()

	h.initMu.Lock()
	defer h.initMu.Unlock()

	var closeErr error
	if h.recognizer != nil {
		closeErr = h.recognizer.Close()
		h.recognizer = nil
	}
	return errors.Join(stopErr, closeErr)
}

func (h *Host) run(rec detector.Recognizer, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	pacer := NewPacer(h.camera.FPS(), h.idleFPS, nil)
	defer pacer.Close()

	ticker := time.NewTicker(pacer.Interval())
	defer ticker.Stop()

	lastTs := int64(-1)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		frame, err := h.camera.ReadFrame()
		if err != nil {
			h.errs.Add(1)
			h.logger.Warn("read frame failed", "error", err)
			continue
		}

		// Same frame as last tick; the camera has not produced a new one.
		if frame.TimestampMs == lastTs {
			h.skipped.Add(1)
			frame.Close()
			continue
		}
		lastTs = frame.TimestampMs

		h.process(rec, frame)

		if pacer.Observe(&frame.Mat) {
			ticker.Reset(pacer.Interval())
			h.logger.Debug("frame interval changed", "interval", pacer.Interval())
		}
		frame.Close()
	}
}

func (h *Host) process(rec detector.Recognizer, frame *Frame) {
	h.frames.Add(1)

	result, err := rec.Recognize(&frame.Mat, frame.TimestampMs)
	if err != nil {
		h.errs.Add(1)
		h.logger.Warn("recognize failed", "error", err, "timestamp_ms", frame.TimestampMs)
		return
	}

	if top, ok := result.Top(); ok {
		if ev, ok := h.classifier.Offer(gesture.Name(top.Name), top.Score); ok {
			h.emitted.Add(1)
			h.logger.Info("gesture detected", "gesture", ev.Name, "confidence", ev.Confidence)
			if h.emit != nil {
				h.emit(ev)
			}
		}
	}

	if h.showCamera.Load() {
		preview, err := encodePreview(frame, result.Hands, h.seq.Add(1))
		if err != nil {
			h.logger.Debug("encode preview failed", "error", err)
			return
		}
		h.preview.Store(preview)
	}
}

// ServeMessage handles the capture endpoint's messages.
func (h *Host) ServeMessage(ctx context.Context, req *bus.Request) {
	switch req.Message.Kind {
	case protocol.KindInitInference:
		req.Async(func() protocol.Response {
			if err := h.Initialize(ctx); err != nil {
				h.logger.Error("initialize failed", "error", err)
				return protocol.Failure(err)
			}
			return protocol.OK()
		})

	case protocol.KindStartCamera:
		req.Async(func() protocol.Response {
			if err := h.StartCapture(ctx); err != nil {
				h.logger.Error("start capture failed", "error", err)
				return protocol.Failure(err)
			}
			return protocol.OK()
		})

	case protocol.KindStopCamera:
		if err := h.StopCapture(); err != nil {
			req.Fail(err)
			return
		}
		req.Respond(protocol.OK())

	case protocol.KindUpdateSettings:
		if p := req.Message.Settings; p != nil && p.ShowCamera != nil {
			h.SetShowCamera(*p.ShowCamera)
		}
		req.Respond(protocol.OK())

	case protocol.KindGetStatus:
		req.Respond(protocol.OKWith(h.Status()))

	default:
		req.Fail(fmt.Errorf("%w: %s", protocol.ErrUnknownMessage, req.Message.Kind))
	}
}
