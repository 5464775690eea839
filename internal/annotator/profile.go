// Package annotator holds the externally owned annotator profile list.
package annotator

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Profile is one configured annotator: a named prompt with an advisory
// minimum spacing between requests.
type Profile struct {
	Name     string        `yaml:"name" json:"name"`
	Prompt   string        `yaml:"prompt" json:"prompt"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// Validate validates the profile.
func (p Profile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required),
		validation.Field(&p.Prompt, validation.Required),
		validation.Field(&p.Interval, validation.Min(time.Duration(0))),
	)
}

// Source supplies the current profile list. Implementations may change the
// list at runtime; callers read it fresh on every cycle.
type Source interface {
	Profiles() []Profile
}

// Static is a fixed profile list.
type Static []Profile

// Profiles returns a copy of the list.
func (s Static) Profiles() []Profile {
	out := make([]Profile, len(s))
	copy(out, s)
	return out
}

// ValidateList validates every profile and rejects duplicate names.
func ValidateList(profiles []Profile) error {
	seen := make(map[string]struct{}, len(profiles))
	for i, p := range profiles {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("annotator: profile %d: %w", i, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("annotator: duplicate profile name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
