package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames for testing.
type MockCamera struct {
	frames     []*gocv.Mat
	timestamps []int64
	index      int
	reads      int
	loop       bool
	fps        int
	openErr    error
	opens      int
	mu         sync.Mutex
	running    bool
}

// NewMockCamera creates a camera that returns clones of frames in order.
// Timestamps advance by 100ms per read unless SetTimestamps is used.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames: frames,
		loop:   loop,
		fps:    DefaultFPS,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.openErr != nil {
		return c.openErr
	}
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.frames) == 0 {
		return nil, errors.New("no frames available")
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, fmt.Errorf("no more frames")
		}
		c.index = 0
	}

	ts := int64(c.reads+1) * 100
	if c.reads < len(c.timestamps) {
		ts = c.timestamps[c.reads]
	} else if n := len(c.timestamps); n > 0 {
		ts = c.timestamps[n-1] + int64(c.reads-n+1)*100
	}

	// Clone the frame so the original isn't modified
	frame := &Frame{Mat: c.frames[c.index].Clone(), TimestampMs: ts}
	c.index++
	c.reads++

	return frame, nil
}

func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetTimestamps scripts the timestamps of successive reads.
func (c *MockCamera) SetTimestamps(ts ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamps = ts
}

// SetOpenError makes Open fail with err.
func (c *MockCamera) SetOpenError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

// Opens returns how many times Open was called.
func (c *MockCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// Reads returns how many frames have been handed out.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
