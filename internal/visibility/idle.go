package visibility

import (
	"time"

	"github.com/starford/marginalia/internal/debounce"
)

// DefaultIdleHide is the quiet time after the last edit before every
// thread is hidden.
const DefaultIdleHide = 2 * time.Second

// IdleHider hides all threads once edits go quiet.
type IdleHider struct {
	timer *debounce.Timer
}

// NewIdleHider creates a hider for m. A non-positive quiet disables it.
func NewIdleHider(m *Machine, quiet time.Duration) *IdleHider {
	if quiet <= 0 {
		return &IdleHider{}
	}
	return &IdleHider{timer: debounce.New(quiet, func() { m.HideAll() })}
}

// Touch records an edit.
func (h *IdleHider) Touch() {
	if h.timer != nil {
		h.timer.Reset()
	}
}

// Stop cancels a pending hide.
func (h *IdleHider) Stop() {
	if h.timer != nil {
		h.timer.Stop()
	}
}
