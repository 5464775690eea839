// Package visibility tracks whether each thread is shown and whether it has
// unseen messages.
package visibility

import (
	"fmt"
	"sync"

	"github.com/starford/marginalia/internal/thread"
)

// State is the display state of one thread.
type State int

const (
	Hidden State = iota
	Visible
)

func (s State) String() string {
	if s == Visible {
		return "visible"
	}
	return "hidden"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "visible":
		*s = Visible
	case "hidden":
		*s = Hidden
	default:
		return fmt.Errorf("visibility: unknown state %q", text)
	}
	return nil
}

// Event describes a change of state or marker.
type Event struct {
	Key      thread.Key
	State    State
	Notified bool
}

// Listener receives events after the change is applied.
type Listener func(Event)

// Machine holds per-thread display state. Unknown keys are Hidden with no
// marker. New messages never change the state, only the marker.
type Machine struct {
	mu        sync.Mutex
	visible   map[thread.Key]struct{}
	notified  map[thread.Key]struct{}
	listeners []Listener
}

// New creates a machine with every thread hidden.
func New() *Machine {
	return &Machine{
		visible:  make(map[thread.Key]struct{}),
		notified: make(map[thread.Key]struct{}),
	}
}

// Listen registers a listener.
func (m *Machine) Listen(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// State returns the state of key.
func (m *Machine) State(key thread.Key) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(key)
}

// Notified reports whether key has unseen messages.
func (m *Machine) Notified(key thread.Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.notified[key]
	return ok
}

// Toggle flips the state of key and returns the new state.
func (m *Machine) Toggle(key thread.Key) State {
	m.mu.Lock()
	var next State
	if m.stateLocked(key) == Visible {
		next = Hidden
	} else {
		next = Visible
	}
	ev := m.setLocked(key, next)
	listeners := m.listeners
	m.mu.Unlock()

	emit(listeners, ev)
	return next
}

// Show makes key visible.
func (m *Machine) Show(key thread.Key) {
	m.set(key, Visible)
}

// Hide hides key.
func (m *Machine) Hide(key thread.Key) {
	m.set(key, Hidden)
}

// HideAll hides every visible thread and returns how many changed.
func (m *Machine) HideAll() int {
	m.mu.Lock()
	events := make([]Event, 0, len(m.visible))
	for key := range m.visible {
		events = append(events, m.setLocked(key, Hidden)...)
	}
	listeners := m.listeners
	m.mu.Unlock()

	emit(listeners, events)
	return len(events)
}

// Notify raises the marker for a new message unless the thread is already
// visible. It reports whether the marker was raised.
func (m *Machine) Notify(key thread.Key) bool {
	m.mu.Lock()
	if m.stateLocked(key) == Visible {
		m.mu.Unlock()
		return false
	}
	_, had := m.notified[key]
	m.notified[key] = struct{}{}
	listeners := m.listeners
	m.mu.Unlock()

	if !had {
		emit(listeners, []Event{{Key: key, State: Hidden, Notified: true}})
	}
	return true
}

// Dismiss clears the marker without showing the thread.
func (m *Machine) Dismiss(key thread.Key) bool {
	m.mu.Lock()
	_, had := m.notified[key]
	delete(m.notified, key)
	state := m.stateLocked(key)
	listeners := m.listeners
	m.mu.Unlock()

	if had {
		emit(listeners, []Event{{Key: key, State: state}})
	}
	return had
}

// Retain forgets every thread whose block is not live.
func (m *Machine) Retain(live map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.visible {
		if _, ok := live[key.BlockID]; !ok {
			delete(m.visible, key)
		}
	}
	for key := range m.notified {
		if _, ok := live[key.BlockID]; !ok {
			delete(m.notified, key)
		}
	}
}

func (m *Machine) set(key thread.Key, s State) {
	m.mu.Lock()
	ev := m.setLocked(key, s)
	listeners := m.listeners
	m.mu.Unlock()

	emit(listeners, ev)
}

// setLocked applies s and returns the resulting event, if any. Becoming
// visible clears the marker.
func (m *Machine) setLocked(key thread.Key, s State) []Event {
	if m.stateLocked(key) == s {
		return nil
	}
	if s == Visible {
		m.visible[key] = struct{}{}
		delete(m.notified, key)
	} else {
		delete(m.visible, key)
	}
	_, notified := m.notified[key]
	return []Event{{Key: key, State: s, Notified: notified}}
}

func (m *Machine) stateLocked(key thread.Key) State {
	if _, ok := m.visible[key]; ok {
		return Visible
	}
	return Hidden
}

func emit(listeners []Listener, events []Event) {
	for _, ev := range events {
		for _, l := range listeners {
			l(ev)
		}
	}
}
