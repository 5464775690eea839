package document

import (
	"sync"
)

// maxPostRounds bounds how often post-processors may re-run on their own
// corrective mutations within a single transaction.
const maxPostRounds = 4

// PostProcessor observes the result of a transaction and may append
// corrective mutations to it before it commits.
type PostProcessor func(tx *Tx)

// Change describes a committed transaction.
type Change struct {
	Version uint64
	Root    *Node // snapshot, owned by the receiver
}

// Observer is notified after every committed transaction.
type Observer func(Change)

// Editor is the live document. Transactions are applied one at a time and
// observers see them in commit order.
type Editor struct {
	mu      sync.Mutex
	root    *Node
	version uint64
	post    []PostProcessor

	notifyMu  sync.Mutex
	obsMu     sync.RWMutex
	observers []Observer
}

// NewEditor creates an editor over root. A nil root starts an empty document.
func NewEditor(root *Node) *Editor {
	if root == nil {
		root = NewDoc()
	}
	return &Editor{root: root.Clone()}
}

// Use registers a post-processor. Register post-processors before the
// first transaction.
func (e *Editor) Use(p PostProcessor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.post = append(e.post, p)
}

// Observe registers an observer. Observers run synchronously after commit
// and must not call Apply themselves.
func (e *Editor) Observe(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

// Apply runs fn as one atomic transaction. If fn returns an error nothing
// is committed. Post-processors run on the result before commit.
func (e *Editor) Apply(fn func(tx *Tx) error) error {
	e.mu.Lock()

	tx := newTx(e.root)
	if err := fn(tx); err != nil {
		e.mu.Unlock()
		return err
	}
	for round := 0; round < maxPostRounds; round++ {
		before := tx.steps
		for _, p := range e.post {
			p(tx)
		}
		if tx.steps == before {
			break
		}
	}
	if tx.steps == 0 {
		e.mu.Unlock()
		return nil
	}

	e.root = tx.root
	e.version++
	change := Change{Version: e.version, Root: e.root.Clone()}

	// Hand over to the notify lock before releasing the writer so observers
	// see commits in order.
	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	e.obsMu.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.obsMu.RUnlock()
	for _, o := range observers {
		o(change)
	}
	return nil
}

// Normalize runs the post-processors over the current tree, committing
// only if they change something.
func (e *Editor) Normalize() error {
	return e.Apply(func(*Tx) error { return nil })
}

// Snapshot returns a deep copy of the live tree.
func (e *Editor) Snapshot() *Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root.Clone()
}

// Version returns the number of committed transactions.
func (e *Editor) Version() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// BlockIDs returns the ids of the blocks in the live tree.
func (e *Editor) BlockIDs() map[string]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root.BlockIDs()
}

// Has reports whether blockID is live.
func (e *Editor) Has(blockID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.root.Find(blockID) != nil
}
