// Package merge folds worker results back into the document.
package merge

import (
	"errors"
	"log/slog"

	"github.com/starford/marginalia/internal/dispatch"
	"github.com/starford/marginalia/internal/document"
	"github.com/starford/marginalia/internal/thread"
	"github.com/starford/marginalia/internal/worker"
)

// errStale aborts a merge transaction whose block is gone.
var errStale = errors.New("merge: block no longer exists")

// Sink is told about every message the merger appended and the request it
// answered.
type Sink interface {
	Merged(key thread.Key, requestID string, msg thread.Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(key thread.Key, requestID string, msg thread.Message)

// Merged calls f.
func (f SinkFunc) Merged(key thread.Key, requestID string, msg thread.Message) {
	f(key, requestID, msg)
}

// Stats counts what happened to merged results.
type Stats struct {
	Applied   int
	Stale     int
	Malformed int
}

// Merger applies results that still have a live handle and a live block.
type Merger struct {
	editor  *document.Editor
	threads *thread.Store
	arena   *dispatch.Arena
	sink    Sink
	logger  *slog.Logger
}

// New creates a Merger. sink may be nil.
func New(editor *document.Editor, threads *thread.Store, arena *dispatch.Arena, sink Sink, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		editor:  editor,
		threads: threads,
		arena:   arena,
		sink:    sink,
		logger:  logger,
	}
}

// Emit satisfies worker.Emitter.
func (m *Merger) Emit(resp worker.Response) {
	m.Merge(resp)
}

// Merge applies every valid, current result of resp. Each result is
// handled on its own; one bad entry does not affect the others.
func (m *Merger) Merge(resp worker.Response) Stats {
	var st Stats
	if err := resp.Validate(); err != nil {
		st.Malformed = len(resp.Results)
		if st.Malformed == 0 {
			st.Malformed = 1
		}
		m.logger.Debug("merge: malformed response", slog.String("error", err.Error()))
		return st
	}

	for _, res := range resp.Results {
		if err := res.Validate(); err != nil {
			st.Malformed++
			m.logger.Debug("merge: malformed result",
				slog.String("request_id", resp.RequestID),
				slog.String("error", err.Error()))
			continue
		}

		key := thread.Key{BlockID: res.BlockID, Annotator: resp.Annotator}
		if !m.arena.Resolve(key, resp.RequestID) {
			st.Stale++
			m.logger.Debug("merge: stale result",
				slog.String("key", key.String()),
				slog.String("request_id", resp.RequestID))
			continue
		}

		msg, err := m.apply(key, res.UpdatedText)
		if err != nil {
			st.Stale++
			m.logger.Debug("merge: stale result",
				slog.String("key", key.String()),
				slog.String("request_id", resp.RequestID),
				slog.String("error", err.Error()))
			continue
		}

		st.Applied++
		if m.sink != nil {
			m.sink.Merged(key, resp.RequestID, msg)
		}
	}
	return st
}

func (m *Merger) apply(key thread.Key, text string) (thread.Message, error) {
	var msg thread.Message
	err := m.editor.Apply(func(tx *document.Tx) error {
		if !tx.Has(key.BlockID) {
			return errStale
		}
		msg = m.threads.Append(key, thread.RoleAnnotator, text)
		return tx.SetThreads(key.BlockID, m.threads.Group(key.BlockID))
	})
	return msg, err
}
