package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type frontmatter struct {
	Title string   `yaml:"title,omitempty"`
	Tags  []string `yaml:"tags,omitempty"`
}

// Render writes blocks back as Markdown with a title/tags frontmatter.
func Render(title string, tags []string, blocks []Block) ([]byte, error) {
	var b strings.Builder
	if title != "" || len(tags) > 0 {
		fm, err := yaml.Marshal(frontmatter{Title: title, Tags: tags})
		if err != nil {
			return nil, fmt.Errorf("parser: render frontmatter: %w", err)
		}
		b.WriteString("---\n")
		b.Write(fm)
		b.WriteString("---\n\n")
	}
	for i, blk := range blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		if blk.Kind == KindHeading {
			level := min(max(blk.Level, 1), 6)
			b.WriteString(strings.Repeat("#", level))
			b.WriteString(" ")
		}
		b.WriteString(blk.Text)
		b.WriteString("\n")
	}
	return []byte(b.String()), nil
}
