// Package thread implements the per-block, per-annotator conversation model.
package thread

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Role tags the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAnnotator Role = "annotator"
	RoleSystem    Role = "system"
)

// roleLegacyAnnotator is how early documents tagged annotator replies.
const roleLegacyAnnotator = "bonsai"

// UnmarshalJSON accepts the legacy annotator tag.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case string(RoleUser), string(RoleAnnotator), string(RoleSystem):
		*r = Role(s)
	case roleLegacyAnnotator:
		*r = RoleAnnotator
	default:
		return fmt.Errorf("thread: unknown role %q", s)
	}
	return nil
}

// Message is one turn of a thread.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Validate validates the message.
func (m Message) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Role, validation.Required, validation.In(RoleUser, RoleAnnotator, RoleSystem)),
	)
}

// Key addresses a thread.
type Key struct {
	BlockID   string `json:"blockId"`
	Annotator string `json:"annotator"`
}

func (k Key) String() string {
	return k.BlockID + "/" + k.Annotator
}

// Set is the thread collection of one block, keyed by annotator name.
// It is the shape stored in block attributes.
type Set map[string][]Message

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for name, msgs := range s {
		out[name] = cloneMessages(msgs)
	}
	return out
}

// Validate checks every message of every thread in the set.
func (s Set) Validate() error {
	for name, msgs := range s {
		if name == "" {
			return fmt.Errorf("thread: empty annotator name")
		}
		for i, m := range msgs {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("thread: %s[%d]: %w", name, i, err)
			}
		}
	}
	return nil
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
