// Package capture runs the camera side of a gesture session: it owns the
// webcam, feeds frames to the recognizer and debounces what comes back.
package capture

import (
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Frame is one captured video frame. The caller owns Mat and must Close it.
type Frame struct {
	Mat         gocv.Mat
	TimestampMs int64
}

// Close releases the frame's pixels.
func (f *Frame) Close() error {
	if f == nil {
		return nil
	}
	return f.Mat.Close()
}

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*Frame, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// CameraConfig selects and shapes the capture device.
type CameraConfig struct {
	Device int
	Width  int
	Height int
	FPS    int
}

// DefaultCameraConfig returns the front-facing camera at 640x480.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		Device: 0,
		Width:  DefaultWidth,
		Height: DefaultHeight,
		FPS:    DefaultFPS,
	}
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	cfg     CameraConfig
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	now     func() time.Time
}

// NewCamera creates a Camera for cfg. Zero fields take the defaults.
func NewCamera(cfg CameraConfig) Camera {
	def := DefaultCameraConfig()
	if cfg.Width <= 0 {
		cfg.Width = def.Width
	}
	if cfg.Height <= 0 {
		cfg.Height = def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	return &cameraImpl{cfg: cfg, now: time.Now}
}

// Open opens the camera and applies the configured resolution and rate.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.cfg.Device)
	if err != nil {
		return err
	}
	if !capture.IsOpened() {
		capture.Close()
		return errors.New("camera device could not be opened")
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.cfg.FPS))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera. The timestamp is the
// stream position when the driver reports one, else the wall clock.
func (c *cameraImpl) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, errors.New("captured frame is empty")
	}

	ts := int64(c.capture.Get(gocv.VideoCapturePosMsec))
	if ts <= 0 {
		ts = c.now().UnixMilli()
	}

	return &Frame{Mat: mat, TimestampMs: ts}, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.FPS = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg.FPS
}

// IsOpen returns true if the camera is currently open.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
