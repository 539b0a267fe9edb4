package bus

import (
	"fmt"
	"sync"

	"github.com/ayusman/palmscroll/internal/protocol"
)

// Tabs tracks the page tabs attached to the bus and which one is active.
// The first tab to attach becomes active; when the active tab leaves, the
// most recently attached remaining tab takes over.
type Tabs struct {
	mu     sync.RWMutex
	order  []string
	active string
}

// NewTabs creates an empty registry.
func NewTabs() *Tabs {
	return &Tabs{}
}

// Add records a tab.
func (t *Tabs) Add(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.order {
		if existing == id {
			return
		}
	}
	t.order = append(t.order, id)
	if t.active == "" {
		t.active = id
	}
}

// Remove forgets a tab.
func (t *Tabs) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if t.active == id {
		t.active = ""
		if n := len(t.order); n > 0 {
			t.active = t.order[n-1]
		}
	}
}

// SetActive marks id as the active tab.
func (t *Tabs) SetActive(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.order {
		if existing == id {
			t.active = id
			return nil
		}
	}
	return fmt.Errorf("%w: tab %s", protocol.ErrNoReceiver, id)
}

// Active returns the endpoint of the active tab.
func (t *Tabs) Active() (protocol.Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.active == "" {
		return "", false
	}
	return protocol.TabEndpoint(t.active), true
}

// ActiveID returns the id of the active tab, or "".
func (t *Tabs) ActiveID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// List returns the attached tab ids in attach order.
func (t *Tabs) List() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}
