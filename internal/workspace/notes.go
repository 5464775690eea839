package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/blockid"
	"github.com/starford/marginalia/internal/checksum"
	"github.com/starford/marginalia/internal/docstore"
	"github.com/starford/marginalia/internal/document"
	"github.com/starford/marginalia/internal/parser"
)

// NameFromPath derives a document name from a vault path:
// "journal/2024 plans.md" becomes "journal.2024-plans".
func NameFromPath(p string) string {
	p = strings.TrimSuffix(path.Clean(p), ".md")
	p = strings.ReplaceAll(p, "/", ".")
	var b strings.Builder
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return strings.TrimLeft(b.String(), ".-_")
}

// Import reads a note from the vault into a document and opens it.
func (s *Service) Import(ctx context.Context, notePath string) (*DocumentDetail, error) {
	if s.vault == nil {
		return nil, fmt.Errorf("workspace: import: no vault: %w", apperr.ErrInvalid)
	}
	data, err := s.vault.Read(notePath)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("workspace: import %s: %w", notePath, apperr.ErrNotFound)
		}
		return nil, err
	}
	name, err := s.importNote(notePath, data)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, name)
}

// ImportNote stores a note as a document without opening it. Blocks whose
// text is unchanged since the last import keep their id and threads. Open
// documents are left alone; the user's edits win over the file.
func (s *Service) ImportNote(notePath string, data []byte) error {
	name, err := s.importNote(notePath, data)
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			s.logger.Debug("workspace: import skipped, document open", slog.String("name", name))
		}
		return err
	}
	s.logger.Info("workspace: note imported", slog.String("path", notePath), slog.String("name", name))
	return nil
}

func (s *Service) importNote(notePath string, data []byte) (string, error) {
	name := NameFromPath(notePath)
	if err := ValidateName(name); err != nil {
		return name, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return name, fmt.Errorf("workspace: parse %s: %w", notePath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, open := s.sessions[name]; open {
		return name, fmt.Errorf("workspace: import %s: %w", name, apperr.ErrConflict)
	}

	var previous *document.Node
	if _, content, err := s.db.Load(name); err == nil {
		previous, _ = document.Unmarshal(content)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return name, err
	}

	root := treeFromNote(res.Blocks, previous)
	editor := document.NewEditor(root)
	if err := blockid.New(blockid.WithLogger(s.logger)).Attach(editor); err != nil {
		return name, fmt.Errorf("workspace: identify blocks: %w", err)
	}
	content, blocks, err := persisted(name, editor.Snapshot())
	if err != nil {
		return name, err
	}

	title := res.Title
	if title == "" {
		title = strings.TrimSuffix(path.Base(notePath), ".md")
	}
	row := docstore.DocumentRow{
		Name:           name,
		Title:          title,
		Tags:           nonNilSlice(res.Tags),
		Source:         notePath,
		SourceChecksum: checksum.Sum(data),
		UpdatedAt:      time.Now(),
	}
	_, err = s.db.Save(row, content, blocks, "")
	return name, err
}

// treeFromNote builds a document from parsed note blocks, carrying over
// the id and threads of previous blocks with identical text, in order.
func treeFromNote(blocks []parser.Block, previous *document.Node) *document.Node {
	carry := make(map[string][]document.BlockAttrs)
	if previous != nil {
		for _, b := range previous.Blocks() {
			text := b.TextContent()
			carry[text] = append(carry[text], b.Attrs)
		}
	}

	root := document.NewDoc()
	for _, b := range blocks {
		var n *document.Node
		if b.Kind == parser.KindHeading {
			n = document.NewHeading(b.Level, b.Text)
		} else {
			n = document.NewParagraph(b.Text)
		}
		if q := carry[b.Text]; len(q) > 0 {
			n.Attrs = q[0]
			carry[b.Text] = q[1:]
		}
		root.Children = append(root.Children, n)
	}
	if len(root.Children) == 0 {
		root.Children = append(root.Children, document.NewParagraph(""))
	}
	return root
}

// Export saves a document and writes it to the vault as Markdown, at its
// import path or at <name>.md. Threads stay in the store only.
func (s *Service) Export(_ context.Context, name string) (string, error) {
	if s.vault == nil {
		return "", fmt.Errorf("workspace: export: no vault: %w", apperr.ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.openLocked(name)
	if err != nil {
		return "", err
	}

	var blocks []parser.Block
	for _, b := range sess.eng.Snapshot().Blocks() {
		text := b.TextContent()
		if strings.TrimSpace(text) == "" {
			continue
		}
		pb := parser.Block{Kind: parser.KindParagraph, Text: text}
		if b.Type == document.TypeHeading {
			pb = parser.Block{Kind: parser.KindHeading, Level: b.Level, Text: text}
		}
		blocks = append(blocks, pb)
	}
	data, err := parser.Render(sess.row.Title, sess.row.Tags, blocks)
	if err != nil {
		return "", err
	}

	target := sess.row.Source
	if target == "" {
		target = name + ".md"
	}
	if err := s.vault.Write(target, data); err != nil {
		return "", err
	}
	// The watcher sees this file as already imported.
	sess.row.Source = target
	sess.row.SourceChecksum = checksum.Sum(data)
	if err := s.saveLocked(sess, ""); err != nil {
		return "", err
	}
	s.logger.Info("workspace: document exported", slog.String("name", name), slog.String("path", target))
	return target, nil
}
