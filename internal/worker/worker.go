// Package worker defines the boundary with the out-of-process annotation
// worker and ships adapters for it.
package worker

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/thread"
)

// RequestBlock is one block to annotate.
type RequestBlock struct {
	BlockID       string           `json:"blockId"`
	Text          string           `json:"text"`
	PriorMessages []thread.Message `json:"priorMessages,omitempty"`
	// PromptInThread is set when PriorMessages already opens with a system
	// message; the worker must not send the instruction prompt again.
	PromptInThread bool `json:"promptInThread,omitempty"`
}

// Request asks one annotator to annotate a batch of blocks.
type Request struct {
	ID        string         `json:"requestId"`
	Annotator string         `json:"annotator"`
	Prompt    string         `json:"prompt"`
	Blocks    []RequestBlock `json:"blocks"`
}

// Result is the annotation of a single block.
type Result struct {
	BlockID     string `json:"blockId"`
	UpdatedText string `json:"updatedText"`
}

// Validate validates the result.
func (r Result) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BlockID, validation.Required),
		validation.Field(&r.UpdatedText, validation.Required),
	)
}

// Response carries results for a request. A worker may answer a request
// with several responses.
type Response struct {
	RequestID string   `json:"requestId"`
	Annotator string   `json:"annotator"`
	Results   []Result `json:"results"`
}

// Validate checks the envelope only; results are validated one by one so a
// bad entry does not poison its siblings.
func (r Response) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequestID, validation.Required),
		validation.Field(&r.Annotator, validation.Required),
	)
}

// Emitter receives responses as they become available.
type Emitter func(Response)

// Worker performs annotation. Annotate may call emit any number of times,
// from any goroutine, before it returns. A returned error means the
// remaining results will never arrive; the caller does not retry.
type Worker interface {
	Annotate(ctx context.Context, req Request, emit Emitter) error
}

// Func adapts a function to the Worker interface.
type Func func(ctx context.Context, req Request, emit Emitter) error

// Annotate calls f.
func (f Func) Annotate(ctx context.Context, req Request, emit Emitter) error {
	return f(ctx, req, emit)
}
