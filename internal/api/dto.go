package api

import (
	"encoding/json"

	"github.com/starford/marginalia/internal/engine"
	"github.com/starford/marginalia/internal/thread"
	"github.com/starford/marginalia/internal/visibility"
	"github.com/starford/marginalia/internal/workspace"
)

// CreateDocumentRequest is the request body for creating a document.
type CreateDocumentRequest struct {
	Name    string          `json:"name" example:"draft" validate:"required"`
	Title   string          `json:"title" example:"Draft"`
	Tags    []string        `json:"tags"`
	Content json.RawMessage `json:"content,omitempty"`
}

// ImportDocumentRequest names a vault note to import.
type ImportDocumentRequest struct {
	Path string `json:"path" example:"notes/plan.md" validate:"required"`
}

// ExportResponse is returned after writing a document to the vault.
type ExportResponse struct {
	Path string `json:"path" example:"notes/plan.md"`
}

// InsertBlockRequest adds a block; Level > 0 makes a heading.
type InsertBlockRequest struct {
	After string `json:"after,omitempty"`
	Level int    `json:"level,omitempty"`
	Text  string `json:"text"`
}

// EditBlockRequest replaces a block's text.
type EditBlockRequest struct {
	Text string `json:"text"`
}

// SplitBlockRequest cuts a block at a rune offset.
type SplitBlockRequest struct {
	Offset int `json:"offset"`
}

// JoinBlockRequest merges the next block into this one.
type JoinBlockRequest struct {
	Next string `json:"next" validate:"required"`
}

// BlockIDResponse carries the id of a block created by an edit.
type BlockIDResponse struct {
	BlockID string `json:"blockId"`
}

// SubmitMessageRequest is a user chat turn.
type SubmitMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

// ResetThreadRequest replaces a thread; an empty list clears it.
type ResetThreadRequest struct {
	Messages []thread.Message `json:"messages"`
}

// VisibilityResponse reports a thread's display state.
type VisibilityResponse struct {
	Visibility visibility.State `json:"visibility"`
}

// DocumentDetail is the full document response type (aliased from the domain layer).
type DocumentDetail = workspace.DocumentDetail

// DocumentListItem is a lightweight item in a list response (aliased from the domain layer).
type DocumentListItem = workspace.DocumentListItem

// DocumentListResponse wraps paginated document listings.
type DocumentListResponse struct {
	Documents []DocumentListItem `json:"documents" validate:"required"`
	Total     int                `json:"total" example:"42" validate:"required"`
}

// ThreadView is one (block, annotator) thread.
type ThreadView = engine.ThreadView

// BlockView is one block with its threads.
type BlockView = engine.BlockView

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Document string `json:"document" example:"draft" validate:"required"`
	Title    string `json:"title" example:"Draft"`
	BlockID  string `json:"blockId" validate:"required"`
	Snippet  string `json:"snippet" example:"...matched text..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}
