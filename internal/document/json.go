package document

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/thread"
)

// jsonAttrs is the wire form of block attributes.
type jsonAttrs struct {
	BlockID        *string    `json:"blockId,omitempty"`
	Level          int        `json:"level,omitempty"`
	AIChatMessages thread.Set `json:"aiChatMessages,omitempty"`
}

// jsonNode is the wire form of a node (editor JSON content).
type jsonNode struct {
	Type    NodeType    `json:"type"`
	Attrs   *jsonAttrs  `json:"attrs,omitempty"`
	Text    string      `json:"text,omitempty"`
	Content []*jsonNode `json:"content,omitempty"`
}

func (j *jsonNode) Validate() error {
	return validation.ValidateStruct(j,
		validation.Field(&j.Type, validation.Required, validation.By(func(any) error {
			if !j.Type.known() {
				return fmt.Errorf("unknown node type %q", j.Type)
			}
			return nil
		})),
		validation.Field(&j.Text, validation.When(j.Type == TypeText, validation.Required)),
	)
}

// Marshal encodes the tree rooted at n as editor JSON.
func Marshal(n *Node) ([]byte, error) {
	return json.Marshal(toJSON(n))
}

// Unmarshal decodes editor JSON into a tree. Attributes are validated here
// so the rest of the engine works with typed blocks only.
func Unmarshal(data []byte) (*Node, error) {
	var j jsonNode
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("document: decode: %w", err)
	}
	if j.Type != TypeDoc {
		return nil, fmt.Errorf("document: root type is %q, want %q", j.Type, TypeDoc)
	}
	return fromJSON(&j, "$")
}

func toJSON(n *Node) *jsonNode {
	j := &jsonNode{Type: n.Type, Text: n.Text}
	if n.Type.Eligible() {
		a := &jsonAttrs{AIChatMessages: n.Attrs.Threads}
		if n.Attrs.BlockID != "" {
			id := n.Attrs.BlockID
			a.BlockID = &id
		}
		if n.Type == TypeHeading {
			a.Level = n.Level
		}
		j.Attrs = a
	}
	for _, child := range n.Children {
		j.Content = append(j.Content, toJSON(child))
	}
	return j
}

func fromJSON(j *jsonNode, path string) (*Node, error) {
	if err := j.Validate(); err != nil {
		return nil, fmt.Errorf("document: %s: %w", path, err)
	}
	n := &Node{Type: j.Type, Text: j.Text}
	if j.Attrs != nil && j.Type.Eligible() {
		if j.Attrs.BlockID != nil {
			n.Attrs.BlockID = *j.Attrs.BlockID
		}
		if err := j.Attrs.AIChatMessages.Validate(); err != nil {
			return nil, fmt.Errorf("document: %s: %w", path, err)
		}
		n.Attrs.Threads = j.Attrs.AIChatMessages
		n.Level = j.Attrs.Level
	}
	if n.Type == TypeHeading && (n.Level < 1 || n.Level > 6) {
		n.Level = 1
	}
	for i, c := range j.Content {
		if c == nil {
			continue
		}
		child, err := fromJSON(c, fmt.Sprintf("%s.content[%d]", path, i))
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}
