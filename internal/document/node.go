// Package document provides the block tree edited by the user and the
// single-writer transaction log every mutation goes through.
package document

import (
	"strings"

	"github.com/starford/marginalia/internal/thread"
)

// NodeType names a node kind.
type NodeType string

// Node types understood by the engine.
const (
	TypeDoc        NodeType = "doc"
	TypeParagraph  NodeType = "paragraph"
	TypeHeading    NodeType = "heading"
	TypeText       NodeType = "text"
	TypeHardBreak  NodeType = "hardBreak"
	TypeBlockquote NodeType = "blockquote"
	TypeBulletList NodeType = "bulletList"
	TypeListItem   NodeType = "listItem"
)

// Eligible reports whether blocks of this type carry a block id and
// annotation threads.
func (t NodeType) Eligible() bool {
	return t == TypeParagraph || t == TypeHeading
}

func (t NodeType) known() bool {
	switch t {
	case TypeDoc, TypeParagraph, TypeHeading, TypeText, TypeHardBreak,
		TypeBlockquote, TypeBulletList, TypeListItem:
		return true
	}
	return false
}

// BlockAttrs are the typed attributes of an eligible block.
type BlockAttrs struct {
	BlockID string
	Threads thread.Set
}

// Node is one node of the document tree.
type Node struct {
	Type     NodeType
	Level    int    // heading level, 1..6
	Text     string // text nodes only
	Attrs    BlockAttrs
	Children []*Node
}

// NewDoc returns a document root holding children.
func NewDoc(children ...*Node) *Node {
	return &Node{Type: TypeDoc, Children: children}
}

// NewParagraph returns a paragraph without a block id.
func NewParagraph(text string) *Node {
	return &Node{Type: TypeParagraph, Children: inline(text)}
}

// NewHeading returns a heading without a block id.
func NewHeading(level int, text string) *Node {
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return &Node{Type: TypeHeading, Level: level, Children: inline(text)}
}

func inline(text string) []*Node {
	if text == "" {
		return nil
	}
	return []*Node{{Type: TypeText, Text: text}}
}

// Clone returns a deep copy of n. The copy shares no memory with n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Type:  n.Type,
		Level: n.Level,
		Text:  n.Text,
		Attrs: BlockAttrs{
			BlockID: n.Attrs.BlockID,
			Threads: n.Attrs.Threads.Clone(),
		},
	}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// Walk visits n and its descendants depth-first in document order.
// Returning false from fn skips the node's children.
func (n *Node) Walk(fn func(node, parent *Node) bool) {
	walk(n, nil, fn)
}

func walk(n, parent *Node, fn func(node, parent *Node) bool) {
	if !fn(n, parent) {
		return
	}
	for _, child := range n.Children {
		walk(child, n, fn)
	}
}

// TextContent concatenates the inline text under n.
func (n *Node) TextContent() string {
	var b strings.Builder
	n.Walk(func(node, _ *Node) bool {
		switch node.Type {
		case TypeText:
			b.WriteString(node.Text)
		case TypeHardBreak:
			b.WriteByte('\n')
		}
		return true
	})
	return b.String()
}

// Blocks returns the eligible blocks under n in document order.
func (n *Node) Blocks() []*Node {
	var out []*Node
	n.Walk(func(node, _ *Node) bool {
		if node.Type.Eligible() {
			out = append(out, node)
			return false
		}
		return true
	})
	return out
}

// BlockIDs returns the set of block ids present under n.
func (n *Node) BlockIDs() map[string]struct{} {
	out := make(map[string]struct{})
	for _, b := range n.Blocks() {
		if b.Attrs.BlockID != "" {
			out[b.Attrs.BlockID] = struct{}{}
		}
	}
	return out
}

// Find returns the block with the given id, or nil.
func (n *Node) Find(blockID string) *Node {
	if blockID == "" {
		return nil
	}
	var found *Node
	n.Walk(func(node, _ *Node) bool {
		if found != nil {
			return false
		}
		if node.Type.Eligible() && node.Attrs.BlockID == blockID {
			found = node
			return false
		}
		return true
	})
	return found
}
