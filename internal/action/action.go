// Package action turns recognized gestures into effects on a page.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/ayusman/palmscroll/internal/gesture"
	"github.com/ayusman/palmscroll/internal/settings"
)

// Position is an absolute scroll target.
type Position string

const (
	Top    Position = "top"
	Bottom Position = "bottom"
)

// DefaultIndicatorDuration is used for status indicators that are not tied to a gesture.
const DefaultIndicatorDuration = time.Second

// Page is the surface effects are applied to. Scrolls are smooth where the
// page supports it.
type Page interface {
	ViewportHeight(ctx context.Context) (float64, error)
	ScrollTo(ctx context.Context, pos Position) error
	ScrollBy(ctx context.Context, dy float64) error
	ShowIndicator(ctx context.Context, text string, d time.Duration) error
	HideIndicator(ctx context.Context) error
}

// Effect is the planned outcome of one gesture.
type Effect struct {
	Gesture gesture.Name
	// ScrollTo is set for absolute scrolls.
	ScrollTo Position
	// ScrollBy is the relative scroll in pixels; positive scrolls forward.
	ScrollBy float64
	// Relative reports whether ScrollBy applies, so that a zero amount is
	// still a scroll.
	Relative  bool
	Indicator string
	Duration  time.Duration
}

// None reports whether the effect does nothing at all.
func (e Effect) None() bool {
	return e.ScrollTo == "" && !e.Relative && e.Indicator == ""
}

type binding struct {
	scrollTo  Position
	direction float64
	indicator string
	duration  time.Duration
}

var bindings = map[gesture.Name]binding{
	gesture.ThumbUp:    {scrollTo: Top, indicator: "👍 Scroll to Top", duration: 500 * time.Millisecond},
	gesture.ThumbDown:  {scrollTo: Bottom, indicator: "👎 Scroll to Bottom", duration: 500 * time.Millisecond},
	gesture.OpenPalm:   {indicator: "✋ Open Palm", duration: 300 * time.Millisecond},
	gesture.ClosedFist: {direction: 1, indicator: "✊ Fist", duration: 300 * time.Millisecond},
	gesture.Victory:    {indicator: "✌️ Victory", duration: 500 * time.Millisecond},
	gesture.PointingUp: {direction: -1, indicator: "☝️ Scroll Up", duration: 500 * time.Millisecond},
	gesture.ILoveYou:   {indicator: "🤟 I Love You!", duration: 500 * time.Millisecond},
}

// ScrollAmount is the size of one relative scroll step.
func ScrollAmount(viewport float64, s settings.Settings) float64 {
	return viewport * (s.ScrollDistance / 100) * s.ScrollSpeed
}

// NeedsViewport reports whether planning name requires the viewport height.
func NeedsViewport(name gesture.Name) bool {
	return bindings[name].direction != 0
}

// Plan computes the effect of name. Unknown gestures plan to nothing.
func Plan(name gesture.Name, s settings.Settings, viewport float64) Effect {
	b, ok := bindings[name]
	if !ok {
		return Effect{Gesture: name}
	}

	e := Effect{
		Gesture:   name,
		ScrollTo:  b.scrollTo,
		Indicator: b.indicator,
		Duration:  b.duration,
	}
	if b.direction != 0 {
		e.Relative = true
		e.ScrollBy = b.direction * ScrollAmount(viewport, s)
	}
	if !s.ShowIndicator {
		e.Indicator = ""
		e.Duration = 0
	}
	return e
}

// Apply plans name against the page and performs it.
func Apply(ctx context.Context, p Page, name gesture.Name, s settings.Settings) (Effect, error) {
	var viewport float64
	if NeedsViewport(name) {
		h, err := p.ViewportHeight(ctx)
		if err != nil {
			return Effect{Gesture: name}, fmt.Errorf("read viewport: %w", err)
		}
		viewport = h
	}

	e := Plan(name, s, viewport)
	return e, Perform(ctx, p, e)
}

// Perform applies an already planned effect.
func Perform(ctx context.Context, p Page, e Effect) error {
	switch {
	case e.ScrollTo != "":
		if err := p.ScrollTo(ctx, e.ScrollTo); err != nil {
			return fmt.Errorf("scroll to %s: %w", e.ScrollTo, err)
		}
	case e.Relative:
		if err := p.ScrollBy(ctx, e.ScrollBy); err != nil {
			return fmt.Errorf("scroll by %.0f: %w", e.ScrollBy, err)
		}
	}

	if e.Indicator != "" {
		if err := p.ShowIndicator(ctx, e.Indicator, e.Duration); err != nil {
			return fmt.Errorf("show indicator: %w", err)
		}
	}
	return nil
}
