package gesture

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is the confidence a category must exceed to count.
	DefaultThreshold = 0.7
	// DefaultCooldown is the minimum gap between two emitted events.
	DefaultCooldown = time.Second
)

// Event is a debounced gesture.
type Event struct {
	Name       Name
	Confidence float64
	At         time.Time
}

// Classifier turns a stream of per-frame classifications into discrete
// events. A classification is accepted only when its confidence exceeds
// Threshold and more than Cooldown has passed since the last accepted one.
// The cooldown is global across gesture kinds. Rejected classifications leave
// the state untouched.
type Classifier struct {
	Threshold float64
	Cooldown  time.Duration

	now func() time.Time

	mu       sync.Mutex
	last     time.Time
	emitted  bool
	accepted int
	rejected int
}

// NewClassifier creates a Classifier with the default threshold and cooldown.
// A nil now uses time.Now.
func NewClassifier(now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{
		Threshold: DefaultThreshold,
		Cooldown:  DefaultCooldown,
		now:       now,
	}
}

// Offer presents one classification and reports whether it becomes an event.
func (c *Classifier) Offer(name Name, confidence float64) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if name == "" || name == None || confidence <= c.Threshold {
		c.rejected++
		return Event{}, false
	}

	now := c.now()
	if c.emitted && now.Sub(c.last) <= c.Cooldown {
		c.rejected++
		return Event{}, false
	}

	c.last = now
	c.emitted = true
	c.accepted++
	return Event{Name: name, Confidence: confidence, At: now}, true
}

// Reset forgets the last emitted event.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = time.Time{}
	c.emitted = false
	c.accepted = 0
	c.rejected = 0
}

// Stats returns how many classifications were accepted and rejected.
func (c *Classifier) Stats() (accepted, rejected int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted, c.rejected
}
