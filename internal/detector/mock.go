package detector

import (
	"context"
	"sync"

	"gocv.io/x/gocv"
)

// MockRecognizer is a scripted Recognizer for tests. Results are returned in
// order; once the script runs out the last result repeats.
type MockRecognizer struct {
	mu         sync.Mutex
	results    []*Result
	err        error
	calls      int
	timestamps []int64
	closed     bool
}

// NewMockRecognizer creates a MockRecognizer returning results in order.
func NewMockRecognizer(results ...*Result) *MockRecognizer {
	return &MockRecognizer{results: results}
}

// SetResults replaces the scripted results.
func (m *MockRecognizer) SetResults(results ...*Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = results
}

// SetError makes every following Recognize call fail with err.
func (m *MockRecognizer) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Recognize returns the next scripted result.
func (m *MockRecognizer) Recognize(frame *gocv.Mat, timestampMs int64) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.timestamps = append(m.timestamps, timestampMs)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return &Result{}, nil
	}
	r := m.results[0]
	if len(m.results) > 1 {
		m.results = m.results[1:]
	}
	return r, nil
}

// Calls returns how many times Recognize was called.
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Timestamps returns the timestamps passed to Recognize.
func (m *MockRecognizer) Timestamps() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.timestamps))
	copy(out, m.timestamps)
	return out
}

// Closed reports whether Close was called.
func (m *MockRecognizer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the recognizer closed.
func (m *MockRecognizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Loader returns a Loader that hands out m.
func (m *MockRecognizer) Loader() Loader {
	return func(ctx context.Context) (Recognizer, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// GestureResult builds a single-hand Result with one category.
func GestureResult(name string, score float64) *Result {
	return &Result{
		Gestures: [][]Category{{{Name: name, Score: score}}},
		Hands:    []HandLandmarks{ThumbsUpLandmarks()},
	}
}

// ThumbsUpLandmarks returns landmarks for a right hand with the thumb raised
// and the other fingers curled.
func ThumbsUpLandmarks() HandLandmarks {
	h := HandLandmarks{Handedness: "Right", Score: 0.95}

	h.Points[Wrist] = Point3D{X: 0.5, Y: 0.8}

	h.Points[ThumbCMC] = Point3D{X: 0.55, Y: 0.75}
	h.Points[ThumbMCP] = Point3D{X: 0.58, Y: 0.65}
	h.Points[ThumbIP] = Point3D{X: 0.58, Y: 0.50}
	h.Points[ThumbTip] = Point3D{X: 0.58, Y: 0.35}

	// Curled fingers: tips fold back toward the palm.
	for f, mcp := range []int{IndexMCP, MiddleMCP, RingMCP, PinkyMCP} {
		x := 0.55 - 0.05*float64(f)
		h.Points[mcp] = Point3D{X: x, Y: 0.70, Z: -0.02}
		h.Points[mcp+1] = Point3D{X: x, Y: 0.68, Z: -0.05}
		h.Points[mcp+2] = Point3D{X: x - 0.03, Y: 0.70, Z: -0.04}
		h.Points[mcp+3] = Point3D{X: x - 0.05, Y: 0.72, Z: -0.02}
	}

	return h
}
