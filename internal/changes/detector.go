// Package changes finds the blocks whose text changed since the last
// annotation cycle.
package changes

import (
	"strings"
	"sync"

	"github.com/starford/marginalia/internal/document"
)

// Block is the flattened form of an eligible block.
type Block struct {
	ID   string `json:"blockId"`
	Text string `json:"text"`
}

// Collect flattens every identified, non-empty eligible block under root in
// document order.
func Collect(root *document.Node) []Block {
	var out []Block
	for _, n := range root.Blocks() {
		if n.Attrs.BlockID == "" {
			continue
		}
		text := strings.TrimSpace(n.TextContent())
		if text == "" {
			continue
		}
		out = append(out, Block{ID: n.Attrs.BlockID, Text: text})
	}
	return out
}

// Diff returns the blocks of current that are new or whose text differs from
// previous. Deleted blocks are not reported.
func Diff(previous, current []Block) []Block {
	prev := make(map[string]string, len(previous))
	for _, b := range previous {
		prev[b.ID] = b.Text
	}
	var out []Block
	seen := make(map[string]struct{}, len(current))
	for _, b := range current {
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		if text, ok := prev[b.ID]; ok && text == b.Text {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Detector holds the snapshot of the last dispatched cycle.
type Detector struct {
	mu       sync.Mutex
	previous []Block
}

// NewDetector creates a Detector with an empty snapshot, so every block is
// reported on the first cycle.
func NewDetector() *Detector {
	return &Detector{}
}

// Seed sets the snapshot, e.g. from a freshly opened document whose blocks
// were annotated in an earlier session.
func (d *Detector) Seed(blocks []Block) {
	d.Commit(blocks)
}

// Detect flattens root and returns the current blocks and the changed ones.
func (d *Detector) Detect(root *document.Node) (current, changed []Block) {
	current = Collect(root)

	d.mu.Lock()
	prev := d.previous
	d.mu.Unlock()

	return current, Diff(prev, current)
}

// Commit replaces the snapshot after a successful dispatch cycle.
func (d *Detector) Commit(current []Block) {
	snap := make([]Block, len(current))
	copy(snap, current)

	d.mu.Lock()
	d.previous = snap
	d.mu.Unlock()
}

// Previous returns a copy of the snapshot.
func (d *Detector) Previous() []Block {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Block, len(d.previous))
	copy(out, d.previous)
	return out
}
