package parser

import (
	"testing"
)

func TestParse_FrontmatterAndBlocks(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - notes\n---\n# Hello\nBody text\nwrapped here.\n\nSecond paragraph.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if len(r.Tags) < 2 || r.Tags[0] != "go" || r.Tags[1] != "notes" {
		t.Errorf("tags = %v, want [go notes]", r.Tags)
	}
	want := []Block{
		{Kind: KindHeading, Level: 1, Text: "Hello"},
		{Kind: KindParagraph, Text: "Body text wrapped here."},
		{Kind: KindParagraph, Text: "Second paragraph."},
	}
	if len(r.Blocks) != len(want) {
		t.Fatalf("blocks = %+v", r.Blocks)
	}
	for i := range want {
		if r.Blocks[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, r.Blocks[i], want[i])
		}
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	r, err := Parse([]byte("# Just a heading\nSome text.\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	r, err := Parse([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestSplitBlocks_ListsQuotesAndCode(t *testing.T) {
	body := "## Items\n- first item\n* second item\n1. third item\n> quoted\n\n```go\nfmt.Println()\n```\nafter code\n"
	got := splitBlocks(body)
	want := []Block{
		{Kind: KindHeading, Level: 2, Text: "Items"},
		{Kind: KindParagraph, Text: "first item"},
		{Kind: KindParagraph, Text: "second item"},
		{Kind: KindParagraph, Text: "third item"},
		{Kind: KindParagraph, Text: "quoted"},
		{Kind: KindParagraph, Text: "after code"},
	}
	if len(got) != len(want) {
		t.Fatalf("blocks = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{
		"tags": []any{"alpha"},
	}
	tags := extractTags("Some text #beta and #alpha again.", fm)
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	title := deriveTitle(map[string]any{"title": "FM Title"}, "# H1 Title\ntext")
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestRender_RoundTrip(t *testing.T) {
	blocks := []Block{
		{Kind: KindHeading, Level: 2, Text: "Plan"},
		{Kind: KindParagraph, Text: "Write the draft."},
	}
	data, err := Render("Notes", []string{"work"}, blocks)
	if err != nil {
		t.Fatal(err)
	}
	r, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if r.Title != "Notes" || len(r.Tags) != 1 || r.Tags[0] != "work" {
		t.Errorf("frontmatter lost: %+v", r)
	}
	if len(r.Blocks) != 2 || r.Blocks[0] != blocks[0] || r.Blocks[1] != blocks[1] {
		t.Errorf("blocks = %+v", r.Blocks)
	}
}
