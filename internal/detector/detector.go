// Package detector adapts an external gesture recognition model to palmscroll.
//
// The model itself lives outside this repository. A Recognizer turns one video
// frame into ranked gesture categories and hand landmarks.
package detector

import (
	"context"
	"time"

	"gocv.io/x/gocv"
)

// LoadTimeout bounds how long a recognizer may take to become ready.
const LoadTimeout = 30 * time.Second

// Recognizer classifies hand gestures in video frames.
type Recognizer interface {
	// Recognize analyzes a frame captured at timestampMs. A frame without
	// hands yields an empty Result, not an error.
	Recognize(frame *gocv.Mat, timestampMs int64) (*Result, error)

	// Close releases any resources held by the recognizer.
	Close() error
}

// Loader constructs a ready Recognizer. It must honor ctx.
type Loader func(ctx context.Context) (Recognizer, error)

// Category is one ranked classification.
type Category struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Result is the recognizer output for one frame. Gestures holds a ranked
// category list per detected hand, parallel to Hands.
type Result struct {
	Gestures [][]Category   `json:"gestures"`
	Hands    []HandLandmarks `json:"hands"`
}

// Top returns the best category of the first hand.
func (r *Result) Top() (Category, bool) {
	if r == nil || len(r.Gestures) == 0 || len(r.Gestures[0]) == 0 {
		return Category{}, false
	}
	return r.Gestures[0][0], true
}

// Config holds configuration for the MediaPipe recognizer service.
type Config struct {
	// Python is the interpreter to run. Empty means a venv python if one is
	// found, else python3.
	Python string

	// Script is the service script. Empty means search the usual locations.
	Script string

	// Args are passed to the script after its path.
	Args []string

	// Env is appended to the current environment of the service.
	Env []string

	// ModelPath is the gesture recognizer model file handed to the service.
	ModelPath string

	// MaxHands is the maximum number of hands to detect.
	MaxHands int

	// MinConfidence is the minimum hand detection confidence (0.0-1.0).
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence (0.0-1.0).
	MinTrackingConf float64

	// LoadTimeout bounds the wait for the service's ready line.
	LoadTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:        1,
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		LoadTimeout:     LoadTimeout,
	}
}
