// Package parser turns Markdown notes into headings and paragraphs and
// back, keeping the YAML frontmatter title and tags.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	tagRe     = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	markerRe  = regexp.MustCompile(`^(?:[-*+]\s+|\d+[.)]\s+|>\s?)`)
)

// Block kinds.
const (
	KindHeading   = "heading"
	KindParagraph = "paragraph"
)

// Block is one heading or paragraph of a note.
type Block struct {
	Kind  string
	Level int // headings only
	Text  string
}

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Title       string
	Tags        []string
	Blocks      []Block
}

// Parse extracts frontmatter, tags, title and blocks from raw Markdown.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	return &Result{
		Frontmatter: fm,
		Title:       deriveTitle(fm, body),
		Tags:        extractTags(body, fm),
		Blocks:      splitBlocks(body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: keep everything as body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// splitBlocks breaks the body into headings and paragraphs. Soft-wrapped
// lines join with a space; list items and quote lines become paragraphs of
// their own; fenced code is skipped.
func splitBlocks(body string) []Block {
	var (
		out   []Block
		lines []string
		fence bool
	)
	flush := func() {
		if len(lines) == 0 {
			return
		}
		out = append(out, Block{Kind: KindParagraph, Text: strings.Join(lines, " ")})
		lines = nil
	}

	for _, raw := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			flush()
			fence = !fence
			continue
		}
		if fence {
			continue
		}
		switch {
		case line == "":
			flush()
		case headingRe.MatchString(line):
			flush()
			m := headingRe.FindStringSubmatch(line)
			out = append(out, Block{Kind: KindHeading, Level: len(m[1]), Text: m[2]})
		case markerRe.MatchString(line):
			flush()
			if text := strings.TrimSpace(markerRe.ReplaceAllString(line, "")); text != "" {
				out = append(out, Block{Kind: KindParagraph, Text: text})
			}
		default:
			lines = append(lines, line)
		}
	}
	flush()
	return out
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	if fm != nil {
		if raw, ok := fm["tags"]; ok {
			if items, ok := raw.([]interface{}); ok {
				for _, item := range items {
					s, ok := item.(string)
					if !ok {
						continue
					}
					s = strings.TrimSpace(s)
					if _, dup := seen[s]; s != "" && !dup {
						seen[s] = struct{}{}
						out = append(out, s)
					}
				}
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
