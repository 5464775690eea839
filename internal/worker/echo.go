package worker

import (
	"context"
	"fmt"
)

// Echo answers every block with its own text, tagged with the annotator
// name. It needs no model and is used for offline runs and demos.
type Echo struct{}

// Annotate emits one response per block.
func (Echo) Annotate(ctx context.Context, req Request, emit Emitter) error {
	for _, b := range req.Blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		emit(Response{
			RequestID: req.ID,
			Annotator: req.Annotator,
			Results: []Result{{
				BlockID:     b.BlockID,
				UpdatedText: fmt.Sprintf("[%s] %s", req.Annotator, b.Text),
			}},
		})
	}
	return nil
}
