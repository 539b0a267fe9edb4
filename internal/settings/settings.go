// Package settings defines the user preferences that shape gesture scrolling.
package settings

import (
	"errors"
	"fmt"
)

// MaxScrollDistance bounds ScrollDistance. Values above 100 scroll more than one
// viewport per gesture, which is allowed, but anything past this is garbage input.
const MaxScrollDistance = 1000

// ErrInvalid is returned when a settings value fails validation.
var ErrInvalid = errors.New("invalid settings")

// Settings holds the user's gesture scrolling preferences.
// A Settings value is always complete; updates replace the whole value.
type Settings struct {
	ScrollSpeed    float64 `json:"scrollSpeed" toml:"scroll_speed"`
	ScrollDistance float64 `json:"scrollDistance" toml:"scroll_distance"`
	ShowCamera     bool    `json:"showCamera" toml:"show_camera"`
	ShowIndicator  bool    `json:"showIndicator" toml:"show_indicator"`
}

// Default returns the settings used when nothing has been persisted.
func Default() Settings {
	return Settings{
		ScrollSpeed:    1.0,
		ScrollDistance: 80,
		ShowCamera:     true,
		ShowIndicator:  true,
	}
}

// Validate reports whether s is usable.
func (s Settings) Validate() error {
	if s.ScrollSpeed <= 0 {
		return fmt.Errorf("%w: scrollSpeed must be > 0, got %v", ErrInvalid, s.ScrollSpeed)
	}
	if s.ScrollDistance < 0 || s.ScrollDistance > MaxScrollDistance {
		return fmt.Errorf("%w: scrollDistance must be within 0..%d, got %v", ErrInvalid, MaxScrollDistance, s.ScrollDistance)
	}
	return nil
}

// Patch is a partial settings update. Nil fields are left unchanged.
type Patch struct {
	ScrollSpeed    *float64 `json:"scrollSpeed,omitempty"`
	ScrollDistance *float64 `json:"scrollDistance,omitempty"`
	ShowCamera     *bool    `json:"showCamera,omitempty"`
	ShowIndicator  *bool    `json:"showIndicator,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.ScrollSpeed == nil && p.ScrollDistance == nil && p.ShowCamera == nil && p.ShowIndicator == nil
}

// Apply returns a copy of s with the patch applied. s itself is not modified.
func (s Settings) Apply(p Patch) Settings {
	next := s
	if p.ScrollSpeed != nil {
		next.ScrollSpeed = *p.ScrollSpeed
	}
	if p.ScrollDistance != nil {
		next.ScrollDistance = *p.ScrollDistance
	}
	if p.ShowCamera != nil {
		next.ShowCamera = *p.ShowCamera
	}
	if p.ShowIndicator != nil {
		next.ShowIndicator = *p.ShowIndicator
	}
	return next
}

// AsPatch returns a patch that sets every field to the value in s.
func (s Settings) AsPatch() Patch {
	return Patch{
		ScrollSpeed:    &s.ScrollSpeed,
		ScrollDistance: &s.ScrollDistance,
		ShowCamera:     &s.ShowCamera,
		ShowIndicator:  &s.ShowIndicator,
	}
}
