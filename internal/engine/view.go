package engine

import (
	"github.com/starford/marginalia/internal/thread"
	"github.com/starford/marginalia/internal/visibility"
)

// Event types.
const (
	EventDocumentChanged   = "document.changed"
	EventThreadPending     = "thread.pending"
	EventThreadUpdated     = "thread.updated"
	EventVisibilityChanged = "thread.visibility"
)

// ThreadView is what the UI renders for one (block, annotator) pair.
type ThreadView struct {
	BlockID    string           `json:"blockId"`
	Annotator  string           `json:"annotator"`
	Messages   []thread.Message `json:"messages"`
	Visibility visibility.State `json:"visibility"`
	Pending    bool             `json:"pending"`
	Notified   bool             `json:"notified"`
}

// Key returns the thread key.
func (v ThreadView) Key() thread.Key {
	return thread.Key{BlockID: v.BlockID, Annotator: v.Annotator}
}

// BlockView is an eligible block with its threads.
type BlockView struct {
	ID      string       `json:"blockId"`
	Type    string       `json:"type"`
	Text    string       `json:"text"`
	Threads []ThreadView `json:"threads"`
}

// Event is pushed to subscribers after state changes.
type Event struct {
	Type     string      `json:"type"`
	Document string      `json:"document"`
	Version  uint64      `json:"version,omitempty"`
	Thread   *ThreadView `json:"thread,omitempty"`
}

// Sink receives engine events. Publish must not block for long and must
// not call back into the engine's document transactions.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f.
func (f SinkFunc) Publish(ev Event) { f(ev) }

type nopSink struct{}

func (nopSink) Publish(Event) {}
