package document

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/starford/marginalia/internal/thread"
)

// ErrBlockNotFound is returned when a mutation targets a block that is not
// in the document.
var ErrBlockNotFound = errors.New("document: block not found")

// Tx is one atomic mutation of the document. It operates on a private copy
// of the tree that becomes the live tree only when the transaction commits.
type Tx struct {
	root  *Node
	steps int
}

func newTx(root *Node) *Tx {
	return &Tx{root: root.Clone()}
}

// Root returns the working tree. Callers that mutate nodes directly must
// call Touch.
func (tx *Tx) Root() *Node { return tx.root }

// Touch records a direct mutation of the working tree.
func (tx *Tx) Touch() { tx.steps++ }

// Steps returns the number of recorded mutations.
func (tx *Tx) Steps() int { return tx.steps }

// Has reports whether blockID is live in the working tree.
func (tx *Tx) Has(blockID string) bool {
	return tx.root.Find(blockID) != nil
}

// Find returns the working node for blockID, or nil.
func (tx *Tx) Find(blockID string) *Node {
	return tx.root.Find(blockID)
}

// SetText replaces the inline content of a block.
func (tx *Tx) SetText(blockID, text string) error {
	n := tx.root.Find(blockID)
	if n == nil {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}
	n.Children = inline(text)
	tx.steps++
	return nil
}

// Insert places n as a top-level block after afterID, or at the end of the
// document when afterID is empty.
func (tx *Tx) Insert(afterID string, n *Node) error {
	if afterID == "" {
		tx.root.Children = append(tx.root.Children, n)
		tx.steps++
		return nil
	}
	parent, idx := tx.locate(afterID)
	if parent == nil {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, afterID)
	}
	parent.Children = insertAt(parent.Children, idx+1, n)
	tx.steps++
	return nil
}

// Delete removes a block and its threads from the document.
func (tx *Tx) Delete(blockID string) error {
	parent, idx := tx.locate(blockID)
	if parent == nil {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	tx.steps++
	return nil
}

// Split cuts a block's text at the rune offset. The first half keeps the
// block id and threads; the second half is a new block of the same type
// with no id, which the identity post-processor fills in.
func (tx *Tx) Split(blockID string, offset int) error {
	parent, idx := tx.locate(blockID)
	if parent == nil {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}
	orig := parent.Children[idx]
	text := orig.TextContent()
	if offset < 0 || offset > utf8.RuneCountInString(text) {
		return fmt.Errorf("document: split offset %d out of range", offset)
	}
	runes := []rune(text)
	head, tail := string(runes[:offset]), string(runes[offset:])

	orig.Children = inline(head)
	next := &Node{Type: orig.Type, Level: orig.Level, Children: inline(tail)}
	parent.Children = insertAt(parent.Children, idx+1, next)
	tx.steps++
	return nil
}

// Join appends the text of second to first and removes second. first keeps
// its id and threads; second's threads become unreachable.
func (tx *Tx) Join(firstID, secondID string) error {
	first := tx.root.Find(firstID)
	if first == nil {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, firstID)
	}
	parent, idx := tx.locate(secondID)
	if parent == nil {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, secondID)
	}
	second := parent.Children[idx]
	first.Children = inline(first.TextContent() + second.TextContent())
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	tx.steps++
	return nil
}

// SetThreads stores the serialized thread set on a block.
func (tx *Tx) SetThreads(blockID string, set thread.Set) error {
	n := tx.root.Find(blockID)
	if n == nil {
		return fmt.Errorf("%w: %s", ErrBlockNotFound, blockID)
	}
	n.Attrs.Threads = set.Clone()
	tx.steps++
	return nil
}

// locate returns the parent and child index of the block with blockID.
func (tx *Tx) locate(blockID string) (*Node, int) {
	if blockID == "" {
		return nil, -1
	}
	var parent *Node
	idx := -1
	tx.root.Walk(func(node, _ *Node) bool {
		if parent != nil {
			return false
		}
		for i, child := range node.Children {
			if child.Type.Eligible() && child.Attrs.BlockID == blockID {
				parent, idx = node, i
				return false
			}
		}
		return true
	})
	return parent, idx
}

func insertAt(nodes []*Node, i int, n *Node) []*Node {
	nodes = append(nodes, nil)
	copy(nodes[i+1:], nodes[i:])
	nodes[i] = n
	return nodes
}
