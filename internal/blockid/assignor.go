// Package blockid keeps every eligible block of a document identified.
package blockid

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/marginalia/internal/document"
)

// Assignor fills in missing and duplicate block ids. Register Process as a
// post-processor so every transaction commits with complete identity.
type Assignor struct {
	newID  func() string
	logger *slog.Logger
}

// Option configures an Assignor.
type Option func(*Assignor)

// WithGenerator overrides the id generator.
func WithGenerator(gen func() string) Option {
	return func(a *Assignor) { a.newID = gen }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assignor) { a.logger = logger }
}

// New creates an Assignor backed by random UUIDs.
func New(opts ...Option) *Assignor {
	a := &Assignor{newID: uuid.NewString, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach registers the assignor on the editor and identifies the blocks
// already present.
func (a *Assignor) Attach(e *document.Editor) error {
	e.Use(a.Process)
	return e.Normalize()
}

// Process assigns ids inside tx. A block without an id gets a fresh one;
// when two blocks share an id the first in document order keeps it and the
// later one is re-identified and loses the copied threads.
func (a *Assignor) Process(tx *document.Tx) {
	blocks := tx.Root().Blocks()

	seen := make(map[string]struct{}, len(blocks))
	var missing []*document.Node
	for _, b := range blocks {
		id := b.Attrs.BlockID
		if id == "" {
			missing = append(missing, b)
			continue
		}
		if _, dup := seen[id]; dup {
			a.logger.Debug("blockid: duplicate id reassigned", slog.String("block_id", id))
			b.Attrs.Threads = nil
			missing = append(missing, b)
			continue
		}
		seen[id] = struct{}{}
	}

	for _, b := range missing {
		b.Attrs.BlockID = a.fresh(seen)
		seen[b.Attrs.BlockID] = struct{}{}
		tx.Touch()
	}
}

// fresh generates an id not present in taken.
func (a *Assignor) fresh(taken map[string]struct{}) string {
	for {
		id := a.newID()
		if _, ok := taken[id]; !ok && id != "" {
			return id
		}
	}
}
