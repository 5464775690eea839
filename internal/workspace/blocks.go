package workspace

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/document"
	"github.com/starford/marginalia/internal/engine"
)

// edit runs fn as one transaction on an open document.
func (s *Service) edit(ctx context.Context, name string, fn func(tx *document.Tx) error) (*engine.Engine, error) {
	eng, err := s.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := eng.Apply(fn); err != nil {
		if errors.Is(err, document.ErrBlockNotFound) {
			return nil, fmt.Errorf("workspace: %s: %w: %v", name, apperr.ErrNotFound, err)
		}
		return nil, err
	}
	return eng, nil
}

// EditBlock replaces the text of a block.
func (s *Service) EditBlock(ctx context.Context, name, blockID, text string) error {
	_, err := s.edit(ctx, name, func(tx *document.Tx) error {
		return tx.SetText(blockID, text)
	})
	return err
}

// SplitBlock cuts a block at a rune offset and returns the id of the new
// second half.
func (s *Service) SplitBlock(ctx context.Context, name, blockID string, offset int) (string, error) {
	eng, err := s.edit(ctx, name, func(tx *document.Tx) error {
		n := tx.Find(blockID)
		if n == nil {
			return fmt.Errorf("%w: %s", document.ErrBlockNotFound, blockID)
		}
		if offset < 0 || offset > utf8.RuneCountInString(n.TextContent()) {
			return fmt.Errorf("workspace: split offset %d: %w", offset, apperr.ErrInvalid)
		}
		return tx.Split(blockID, offset)
	})
	if err != nil {
		return "", err
	}
	return following(eng.Snapshot(), blockID), nil
}

// InsertBlock adds a heading (level > 0) or paragraph after afterID, or at
// the end, and returns its id.
func (s *Service) InsertBlock(ctx context.Context, name, afterID string, level int, text string) (string, error) {
	n := document.NewParagraph(text)
	if level > 0 {
		n = document.NewHeading(level, text)
	}
	eng, err := s.edit(ctx, name, func(tx *document.Tx) error {
		return tx.Insert(afterID, n)
	})
	if err != nil {
		return "", err
	}
	snap := eng.Snapshot()
	if afterID == "" {
		blocks := snap.Blocks()
		if len(blocks) == 0 {
			return "", nil
		}
		return blocks[len(blocks)-1].Attrs.BlockID, nil
	}
	return following(snap, afterID), nil
}

// DeleteBlock removes a block and its threads.
func (s *Service) DeleteBlock(ctx context.Context, name, blockID string) error {
	_, err := s.edit(ctx, name, func(tx *document.Tx) error {
		return tx.Delete(blockID)
	})
	return err
}

// JoinBlocks appends second to first.
func (s *Service) JoinBlocks(ctx context.Context, name, firstID, secondID string) error {
	_, err := s.edit(ctx, name, func(tx *document.Tx) error {
		return tx.Join(firstID, secondID)
	})
	return err
}

// following returns the id of the block after blockID in document order.
func following(root *document.Node, blockID string) string {
	blocks := root.Blocks()
	for i, b := range blocks {
		if b.Attrs.BlockID == blockID && i+1 < len(blocks) {
			return blocks[i+1].Attrs.BlockID
		}
	}
	return ""
}
