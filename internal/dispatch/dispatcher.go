// Package dispatch fans annotation requests out to the worker, one bounded
// queue per annotator profile.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/starford/marginalia/internal/annotator"
	"github.com/starford/marginalia/internal/changes"
	"github.com/starford/marginalia/internal/thread"
	"github.com/starford/marginalia/internal/worker"
)

// Dispatch errors.
var (
	ErrNotStarted = errors.New("dispatch: not started")
	ErrStopped    = errors.New("dispatch: stopped")
)

// Defaults.
const (
	DefaultQueueSize   = 16
	DefaultLaneWorkers = 2
)

// Cycle reports what a dispatch call did.
type Cycle struct {
	Requests int          // requests handed to a lane
	Dropped  int          // requests dropped on a full queue
	Pending  []thread.Key // threads marked pending

	// RequestIDs maps each pending thread to the request carrying it.
	RequestIDs map[thread.Key]string
}

// Dispatcher builds requests from changed blocks and hands them to
// per-profile lanes. Worker calls never hold any engine lock.
type Dispatcher struct {
	worker      worker.Worker
	threads     *thread.Store
	arena       *Arena
	emit        worker.Emitter
	logger      *slog.Logger
	queueSize   int
	laneWorkers int
	newID       func() string

	mu    sync.Mutex
	ctx   context.Context
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithQueueSize sets the per-profile queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithLaneWorkers sets how many requests of one profile may run at once.
func WithLaneWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.laneWorkers = n
		}
	}
}

// New creates a Dispatcher. Responses from w are passed to emit.
func New(w worker.Worker, threads *thread.Store, arena *Arena, emit worker.Emitter, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		worker:      w,
		threads:     threads,
		arena:       arena,
		emit:        emit,
		logger:      slog.Default(),
		queueSize:   DefaultQueueSize,
		laneWorkers: DefaultLaneWorkers,
		newID:       uuid.NewString,
		lanes:       make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start enables dispatching. Lanes run until ctx is cancelled or Close.
// Lanes left from an earlier context are discarded.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, l := range d.lanes {
		close(l.queue)
		delete(d.lanes, name)
	}
	d.ctx = ctx
}

// runningLocked reports whether lanes can accept work.
func (d *Dispatcher) runningLocked() error {
	if d.ctx == nil {
		return ErrNotStarted
	}
	if d.ctx.Err() != nil {
		return ErrStopped
	}
	return nil
}

// Close stops all lanes and waits for running worker calls to return.
// Requests still queued are abandoned and their threads stay pending.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	for name, l := range d.lanes {
		close(l.queue)
		delete(d.lanes, name)
	}
	d.ctx = nil
	d.mu.Unlock()

	d.wg.Wait()
}

// Dispatch sends one request per profile covering every changed block.
// Profiles absent from the list have their lanes retired.
func (d *Dispatcher) Dispatch(blocks []changes.Block, profiles []annotator.Profile) (Cycle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.runningLocked(); err != nil {
		return Cycle{}, err
	}
	d.retireLocked(profiles)

	cycle := Cycle{RequestIDs: make(map[thread.Key]string)}
	if len(blocks) == 0 {
		return cycle, nil
	}
	for _, p := range profiles {
		req, keys := d.build(p, blocks)
		if d.enqueueLocked(p, req, keys) {
			cycle.Requests++
			cycle.Pending = append(cycle.Pending, keys...)
			for _, key := range keys {
				cycle.RequestIDs[key] = req.ID
			}
		} else {
			cycle.Dropped++
		}
	}
	return cycle, nil
}

// DispatchThread sends a single-block request for one thread, e.g. to
// answer a user message right away.
func (d *Dispatcher) DispatchThread(p annotator.Profile, block changes.Block) (Cycle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.runningLocked(); err != nil {
		return Cycle{}, err
	}
	req, keys := d.build(p, []changes.Block{block})
	if !d.enqueueLocked(p, req, keys) {
		return Cycle{Dropped: 1}, nil
	}
	return Cycle{Requests: 1, Pending: keys, RequestIDs: map[thread.Key]string{keys[0]: req.ID}}, nil
}

func (d *Dispatcher) build(p annotator.Profile, blocks []changes.Block) (worker.Request, []thread.Key) {
	req := worker.Request{
		ID:        d.newID(),
		Annotator: p.Name,
		Prompt:    p.Prompt,
		Blocks:    make([]worker.RequestBlock, 0, len(blocks)),
	}
	keys := make([]thread.Key, 0, len(blocks))
	for _, b := range blocks {
		key := thread.Key{BlockID: b.ID, Annotator: p.Name}
		prior := d.threads.Get(key)
		req.Blocks = append(req.Blocks, worker.RequestBlock{
			BlockID:        b.ID,
			Text:           b.Text,
			PriorMessages:  prior,
			PromptInThread: len(prior) > 0 && prior[0].Role == thread.RoleSystem,
		})
		keys = append(keys, key)
	}
	return req, keys
}

// enqueueLocked registers the request's handles and queues it. On a full
// queue the handles are released again.
func (d *Dispatcher) enqueueLocked(p annotator.Profile, req worker.Request, keys []thread.Key) bool {
	l := d.laneLocked(p)
	for _, key := range keys {
		d.arena.Register(key, req.ID)
	}
	select {
	case l.queue <- req:
		d.logger.Debug("dispatch: queued",
			slog.String("annotator", p.Name),
			slog.String("request_id", req.ID),
			slog.Int("blocks", len(req.Blocks)))
		return true
	default:
		d.arena.Release(req.ID, keys)
		d.logger.Warn("dispatch: queue full, request dropped",
			slog.String("annotator", p.Name),
			slog.String("request_id", req.ID))
		return false
	}
}

func (d *Dispatcher) laneLocked(p annotator.Profile) *lane {
	l, ok := d.lanes[p.Name]
	if !ok {
		l = &lane{
			name:    p.Name,
			queue:   make(chan worker.Request, d.queueSize),
			limiter: rate.NewLimiter(limitFor(p), 1),
		}
		d.lanes[p.Name] = l
		for i := 0; i < d.laneWorkers; i++ {
			d.wg.Add(1)
			go d.runLane(d.ctx, l)
		}
		return l
	}
	l.limiter.SetLimit(limitFor(p))
	return l
}

// retireLocked closes lanes whose profile was removed. Queued requests are
// still delivered.
func (d *Dispatcher) retireLocked(profiles []annotator.Profile) {
	keep := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		keep[p.Name] = struct{}{}
	}
	for name, l := range d.lanes {
		if _, ok := keep[name]; !ok {
			close(l.queue)
			delete(d.lanes, name)
			d.logger.Info("dispatch: annotator removed", slog.String("annotator", name))
		}
	}
}

func (d *Dispatcher) runLane(ctx context.Context, l *lane) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-l.queue:
			if !ok {
				return
			}
			if err := l.limiter.Wait(ctx); err != nil {
				return
			}
			if err := d.worker.Annotate(ctx, req, d.emit); err != nil {
				// The thread stays pending; a later cycle supersedes it.
				d.logger.Debug("dispatch: worker call failed",
					slog.String("annotator", l.name),
					slog.String("request_id", req.ID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// lane is the queue and pacing of one profile.
type lane struct {
	name    string
	queue   chan worker.Request
	limiter *rate.Limiter
}

func limitFor(p annotator.Profile) rate.Limit {
	if p.Interval <= 0 {
		return rate.Inf
	}
	return rate.Every(p.Interval)
}
