package page

import (
	"context"
	"sync"
	"time"

	"github.com/ayusman/palmscroll/internal/action"
)

// Op is one recorded page operation.
type Op struct {
	Kind     string // "scrollTo", "scrollBy", "indicator", "hide"
	Position action.Position
	DY       float64
	Text     string
	Duration time.Duration
}

// RecordingPage records effects instead of applying them. It is used by
// headless runs and tests.
type RecordingPage struct {
	mu       sync.Mutex
	viewport float64
	ops      []Op
	notify   chan struct{}
}

// NewRecordingPage creates a RecordingPage reporting the given viewport height.
func NewRecordingPage(viewport float64) *RecordingPage {
	return &RecordingPage{viewport: viewport, notify: make(chan struct{}, 1)}
}

func (r *RecordingPage) record(op Op) {
	r.mu.Lock()
	r.ops = append(r.ops, op)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// ViewportHeight returns the configured height.
func (r *RecordingPage) ViewportHeight(ctx context.Context) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewport, nil
}

// SetViewportHeight changes the reported height.
func (r *RecordingPage) SetViewportHeight(h float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewport = h
}

func (r *RecordingPage) ScrollTo(ctx context.Context, pos action.Position) error {
	r.record(Op{Kind: "scrollTo", Position: pos})
	return nil
}

func (r *RecordingPage) ScrollBy(ctx context.Context, dy float64) error {
	r.record(Op{Kind: "scrollBy", DY: dy})
	return nil
}

func (r *RecordingPage) ShowIndicator(ctx context.Context, text string, d time.Duration) error {
	r.record(Op{Kind: "indicator", Text: text, Duration: d})
	return nil
}

func (r *RecordingPage) HideIndicator(ctx context.Context) error {
	r.record(Op{Kind: "hide"})
	return nil
}

// Ops returns a copy of the recorded operations.
func (r *RecordingPage) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Scrolls returns only the scroll operations.
func (r *RecordingPage) Scrolls() []Op {
	var out []Op
	for _, op := range r.Ops() {
		if op.Kind == "scrollTo" || op.Kind == "scrollBy" {
			out = append(out, op)
		}
	}
	return out
}

// Changed is signalled after an operation is recorded.
func (r *RecordingPage) Changed() <-chan struct{} {
	return r.notify
}
