// Package engine runs the annotation loop for one open document: it keeps
// block identity, debounces edits into cycles, dispatches changed blocks to
// the configured annotators and merges their replies back as threads.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/starford/marginalia/internal/annotator"
	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/blockid"
	"github.com/starford/marginalia/internal/changes"
	"github.com/starford/marginalia/internal/debounce"
	"github.com/starford/marginalia/internal/dispatch"
	"github.com/starford/marginalia/internal/document"
	"github.com/starford/marginalia/internal/merge"
	"github.com/starford/marginalia/internal/thread"
	"github.com/starford/marginalia/internal/visibility"
	"github.com/starford/marginalia/internal/worker"
)

// DefaultDebounce is the quiet window before changed blocks are dispatched.
const DefaultDebounce = 5 * time.Second

// Config tunes an Engine.
type Config struct {
	Debounce           time.Duration
	IdleHide           time.Duration
	QueueSize          int
	LaneWorkers        int
	ReplyOnUserMessage bool
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		Debounce:           DefaultDebounce,
		IdleHide:           visibility.DefaultIdleHide,
		QueueSize:          dispatch.DefaultQueueSize,
		LaneWorkers:        dispatch.DefaultLaneWorkers,
		ReplyOnUserMessage: true,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the tuning.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithSink sets where events are published.
func WithSink(sink Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithName names the document in events and logs.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithIDGenerator overrides the block id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// Engine owns one document and its annotation state.
type Engine struct {
	cfg      Config
	name     string
	logger   *slog.Logger
	sink     Sink
	newID    func() string
	profiles annotator.Source

	editor     *document.Editor
	threads    *thread.Store
	arena      *dispatch.Arena
	detector   *changes.Detector
	dispatcher *dispatch.Dispatcher
	merger     *merge.Merger
	vis        *visibility.Machine
	idle       *visibility.IdleHider
	debouncer  *debounce.Timer

	mu        sync.Mutex
	lastTexts []changes.Block
	holds     map[thread.Key]*hold
}

// hold hides what a thread held when its latest cycle was dispatched, and
// any reply to an older cycle, until the latest cycle's reply lands.
// Messages added after the dispatch, such as user turns, stay visible.
type hold struct {
	request    string
	superseded map[string]struct{}
	hidden     map[string]struct{}
}

// New opens root. Threads stored in block attributes are loaded and the
// current text counts as already annotated.
func New(root *document.Node, profiles annotator.Source, w worker.Worker, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		sink:     nopSink{},
		profiles: profiles,
		threads:  thread.NewStore(),
		arena:    dispatch.NewArena(),
		detector: changes.NewDetector(),
		vis:      visibility.New(),
		holds:    make(map[thread.Key]*hold),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.Debounce <= 0 {
		e.cfg.Debounce = DefaultDebounce
	}
	e.logger = e.logger.With(slog.String("document", e.name))

	e.editor = document.NewEditor(root)
	assignorOpts := []blockid.Option{blockid.WithLogger(e.logger)}
	if e.newID != nil {
		assignorOpts = append(assignorOpts, blockid.WithGenerator(e.newID))
	}
	if err := blockid.New(assignorOpts...).Attach(e.editor); err != nil {
		return nil, fmt.Errorf("engine: identify blocks: %w", err)
	}

	snap := e.editor.Snapshot()
	for _, b := range snap.Blocks() {
		if len(b.Attrs.Threads) > 0 {
			e.threads.Load(b.Attrs.BlockID, b.Attrs.Threads)
		}
	}
	e.lastTexts = changes.Collect(snap)
	e.detector.Seed(e.lastTexts)

	e.merger = merge.New(e.editor, e.threads, e.arena, merge.SinkFunc(e.merged), e.logger)
	e.dispatcher = dispatch.New(w, e.threads, e.arena, e.merger.Emit,
		dispatch.WithLogger(e.logger),
		dispatch.WithQueueSize(e.cfg.QueueSize),
		dispatch.WithLaneWorkers(e.cfg.LaneWorkers),
	)
	e.debouncer = debounce.New(e.cfg.Debounce, e.cycle)
	e.idle = visibility.NewIdleHider(e.vis, e.cfg.IdleHide)
	e.vis.Listen(e.visibilityChanged)
	e.editor.Observe(e.changed)
	return e, nil
}

// Start enables dispatching; worker calls run until ctx ends or Close.
func (e *Engine) Start(ctx context.Context) {
	e.dispatcher.Start(ctx)
}

// Close stops timers and waits for running worker calls.
func (e *Engine) Close() {
	e.debouncer.Stop()
	e.idle.Stop()
	e.dispatcher.Close()
}

// Name returns the document name.
func (e *Engine) Name() string { return e.name }

// Apply runs fn as one document transaction.
func (e *Engine) Apply(fn func(tx *document.Tx) error) error {
	return e.editor.Apply(fn)
}

// Snapshot returns a copy of the document.
func (e *Engine) Snapshot() *document.Node { return e.editor.Snapshot() }

// HasBlock reports whether the live document holds blockID.
func (e *Engine) HasBlock(blockID string) bool { return e.editor.Has(blockID) }

// Version returns the document version.
func (e *Engine) Version() uint64 { return e.editor.Version() }

// Flush runs a pending cycle now and reports whether one ran.
func (e *Engine) Flush() bool { return e.debouncer.Fire() }

// Reannotate forgets what was dispatched and runs a cycle over every block.
func (e *Engine) Reannotate() {
	e.detector.Seed(nil)
	e.debouncer.Reset()
	e.debouncer.Fire()
}

// changed observes every commit. Only text changes count as edits; merges
// and identity fixes do not restart the debounce window.
func (e *Engine) changed(c document.Change) {
	// The live tree may already be ahead of c; handles registered against
	// it must survive.
	live := e.editor.BlockIDs()
	dropped := e.arena.Retain(live)
	e.vis.Retain(live)
	if n := e.threads.Retain(live); n > 0 {
		e.logger.Debug("engine: abandoned threads dropped", slog.Int("count", n))
	}
	for _, b := range c.Root.Blocks() {
		// Blocks restored with their threads (undo, paste) bring them back.
		if len(b.Attrs.Threads) > 0 && len(e.threads.Group(b.Attrs.BlockID)) == 0 {
			e.threads.Load(b.Attrs.BlockID, b.Attrs.Threads)
		}
	}

	texts := changes.Collect(c.Root)

	e.mu.Lock()
	for _, key := range dropped {
		delete(e.holds, key)
	}
	for key := range e.holds {
		if _, ok := live[key.BlockID]; !ok {
			delete(e.holds, key)
		}
	}
	edited := !slices.Equal(texts, e.lastTexts)
	if edited {
		e.lastTexts = texts
	}
	e.mu.Unlock()

	e.sink.Publish(Event{Type: EventDocumentChanged, Document: e.name, Version: c.Version})
	if edited {
		e.debouncer.Reset()
		e.idle.Touch()
	}
}

// cycle diffs the document against the last dispatched snapshot and sends
// the changed blocks to every annotator.
func (e *Engine) cycle() {
	current, changed := e.detector.Detect(e.editor.Snapshot())
	if len(changed) == 0 {
		return
	}
	profiles := e.profiles.Profiles()

	res, err := e.dispatcher.Dispatch(changed, profiles)
	if err != nil {
		e.logger.Warn("engine: dispatch failed", slog.String("error", err.Error()))
		return
	}
	// A dropped request means some profile never saw these changes.
	if res.Requests > 0 && res.Dropped == 0 {
		e.detector.Commit(current)
	}
	e.logger.Debug("engine: cycle dispatched",
		slog.Int("blocks", len(changed)),
		slog.Int("requests", res.Requests),
		slog.Int("dropped", res.Dropped))

	e.mu.Lock()
	for _, key := range res.Pending {
		e.holdLocked(key, res.RequestIDs[key])
	}
	e.mu.Unlock()
	for _, key := range res.Pending {
		e.publishThread(EventThreadPending, key)
	}
}

// holdLocked hides the current messages of key until reqID is answered.
// Requests of earlier cycles still in flight become superseded.
func (e *Engine) holdLocked(key thread.Key, reqID string) {
	inflight := e.arena.Requests(key)
	if !slices.Contains(inflight, reqID) {
		// Already answered.
		return
	}
	h, ok := e.holds[key]
	if !ok {
		h = &hold{superseded: make(map[string]struct{}), hidden: make(map[string]struct{})}
		e.holds[key] = h
	}
	for _, id := range inflight {
		if id != reqID {
			h.superseded[id] = struct{}{}
		}
	}
	for _, m := range e.threads.Get(key) {
		h.hidden[m.ID] = struct{}{}
	}
	h.request = reqID
}

func (e *Engine) merged(key thread.Key, reqID string, msg thread.Message) {
	e.mu.Lock()
	stale := false
	if h, ok := e.holds[key]; ok {
		if reqID == h.request {
			delete(e.holds, key)
		} else if _, old := h.superseded[reqID]; old {
			delete(h.superseded, reqID)
			h.hidden[msg.ID] = struct{}{}
			stale = true
		}
	}
	e.mu.Unlock()

	if stale {
		e.logger.Debug("engine: superseded reply held back",
			slog.String("key", key.String()),
			slog.String("request_id", reqID))
		return
	}
	e.vis.Notify(key)
	e.publishThread(EventThreadUpdated, key)
}

func (e *Engine) visibilityChanged(ev visibility.Event) {
	e.publishThread(EventVisibilityChanged, ev.Key)
}

func (e *Engine) publishThread(typ string, key thread.Key) {
	view := e.Thread(key)
	e.sink.Publish(Event{Type: typ, Document: e.name, Thread: &view})
}

// Thread returns the read model of one thread. A thread waiting on a cycle
// shows only what was added after that cycle was dispatched.
func (e *Engine) Thread(key thread.Key) ThreadView {
	msgs := e.threads.Get(key)

	e.mu.Lock()
	if h, ok := e.holds[key]; ok {
		shown := make([]thread.Message, 0, len(msgs))
		for _, m := range msgs {
			if _, hidden := h.hidden[m.ID]; !hidden {
				shown = append(shown, m)
			}
		}
		msgs = shown
	}
	e.mu.Unlock()

	return ThreadView{
		BlockID:    key.BlockID,
		Annotator:  key.Annotator,
		Messages:   msgs,
		Visibility: e.vis.State(key),
		Pending:    e.arena.Pending(key),
		Notified:   e.vis.Notified(key),
	}
}

// Threads returns the threads of a block: one per configured annotator and
// one for every other annotator that left messages.
func (e *Engine) Threads(blockID string) []ThreadView {
	names := make([]string, 0)
	seen := make(map[string]struct{})
	for _, p := range e.profiles.Profiles() {
		names = append(names, p.Name)
		seen[p.Name] = struct{}{}
	}
	extra := make([]string, 0)
	for name := range e.threads.Group(blockID) {
		if _, ok := seen[name]; !ok {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	names = append(names, extra...)

	views := make([]ThreadView, 0, len(names))
	for _, name := range names {
		views = append(views, e.Thread(thread.Key{BlockID: blockID, Annotator: name}))
	}
	return views
}

// Blocks returns the flattened blocks with their thread views.
func (e *Engine) Blocks() []BlockView {
	snap := e.editor.Snapshot()
	out := make([]BlockView, 0)
	for _, n := range snap.Blocks() {
		out = append(out, BlockView{
			ID:      n.Attrs.BlockID,
			Type:    string(n.Type),
			Text:    n.TextContent(),
			Threads: e.Threads(n.Attrs.BlockID),
		})
	}
	return out
}

// ToggleVisibility flips the display state of a thread.
func (e *Engine) ToggleVisibility(key thread.Key) (visibility.State, error) {
	if !e.editor.Has(key.BlockID) {
		return visibility.Hidden, fmt.Errorf("engine: block %s: %w", key.BlockID, apperr.ErrNotFound)
	}
	return e.vis.Toggle(key), nil
}

// HideAll hides every thread.
func (e *Engine) HideAll() int {
	return e.vis.HideAll()
}

// Dismiss clears the notification marker of a thread.
func (e *Engine) Dismiss(key thread.Key) bool {
	return e.vis.Dismiss(key)
}

// SubmitUserMessage appends a user turn to a thread. An empty thread is
// opened with the annotator's prompt as a system message. When replies are
// enabled the annotator is asked to answer right away.
func (e *Engine) SubmitUserMessage(key thread.Key, content string) (thread.Message, error) {
	if content == "" {
		return thread.Message{}, fmt.Errorf("engine: empty message: %w", apperr.ErrInvalid)
	}
	profile, known := e.profile(key.Annotator)

	var msg thread.Message
	var text string
	err := e.editor.Apply(func(tx *document.Tx) error {
		n := tx.Find(key.BlockID)
		if n == nil {
			return fmt.Errorf("engine: block %s: %w", key.BlockID, apperr.ErrNotFound)
		}
		text = n.TextContent()
		if known && e.threads.Len(key) == 0 {
			e.threads.Append(key, thread.RoleSystem, profile.Prompt)
		}
		msg = e.threads.Append(key, thread.RoleUser, content)
		return tx.SetThreads(key.BlockID, e.threads.Group(key.BlockID))
	})
	if err != nil {
		return thread.Message{}, err
	}
	e.publishThread(EventThreadUpdated, key)

	if e.cfg.ReplyOnUserMessage && known {
		res, err := e.dispatcher.DispatchThread(profile, changes.Block{ID: key.BlockID, Text: text})
		if err != nil {
			e.logger.Warn("engine: reply dispatch failed",
				slog.String("key", key.String()),
				slog.String("error", err.Error()))
		} else if res.Requests > 0 {
			e.publishThread(EventThreadPending, key)
		}
	}
	return msg, nil
}

// ResetThread replaces a thread wholesale; an empty list clears it.
func (e *Engine) ResetThread(key thread.Key, msgs []thread.Message) error {
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("engine: message %d: %w: %v", i, apperr.ErrInvalid, err)
		}
	}
	err := e.editor.Apply(func(tx *document.Tx) error {
		if !tx.Has(key.BlockID) {
			return fmt.Errorf("engine: block %s: %w", key.BlockID, apperr.ErrNotFound)
		}
		e.threads.ReplaceAll(key, msgs)
		return tx.SetThreads(key.BlockID, e.threads.Group(key.BlockID))
	})
	if err != nil {
		return err
	}
	// A reset thread is shown as given, pending or not.
	e.mu.Lock()
	if h, ok := e.holds[key]; ok {
		clear(h.hidden)
	}
	e.mu.Unlock()
	e.publishThread(EventThreadUpdated, key)
	return nil
}

func (e *Engine) profile(name string) (annotator.Profile, bool) {
	for _, p := range e.profiles.Profiles() {
		if p.Name == name {
			return p, true
		}
	}
	return annotator.Profile{}, false
}
