// Package workspace manages documents: their persistence, their Markdown
// sources and the annotation engine of every open document.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/marginalia/internal/annotator"
	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/docstore"
	"github.com/starford/marginalia/internal/document"
	"github.com/starford/marginalia/internal/engine"
	"github.com/starford/marginalia/internal/storage"
	"github.com/starford/marginalia/internal/worker"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// DocumentDetail is the full representation of an open document.
type DocumentDetail struct {
	Name      string             `json:"name"`
	Title     string             `json:"title"`
	Tags      []string           `json:"tags"`
	Source    string             `json:"source,omitempty"`
	Checksum  string             `json:"checksum"`
	Version   uint64             `json:"version"`
	Blocks    []engine.BlockView `json:"blocks"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// DocumentListItem is a lightweight item in a list response.
type DocumentListItem struct {
	Name      string    `json:"name"`
	Title     string    `json:"title"`
	Tags      []string  `json:"tags"`
	Source    string    `json:"source,omitempty"`
	Checksum  string    `json:"checksum"`
	Open      bool      `json:"open"`
	UpdatedAt time.Time `json:"updated_at"`
}

type session struct {
	eng *engine.Engine
	row docstore.DocumentRow
}

// Service coordinates the document store, the vault and open engines.
type Service struct {
	db       docstore.Store
	vault    storage.Provider
	profiles annotator.Source
	worker   worker.Worker
	cfg      engine.Config
	sink     engine.Sink
	logger   *slog.Logger

	mu       sync.Mutex
	ctx      context.Context
	sessions map[string]*session
}

// Option configures a Service.
type Option func(*Service)

// WithVault sets the Markdown vault used by Import and Export.
func WithVault(p storage.Provider) Option {
	return func(s *Service) { s.vault = p }
}

// WithEngineConfig sets the tuning of every engine.
func WithEngineConfig(cfg engine.Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithSink sets where engine events go.
func WithSink(sink engine.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a workspace over db.
func NewService(db docstore.Store, profiles annotator.Source, w worker.Worker, opts ...Option) *Service {
	s := &Service{
		db:       db,
		profiles: profiles,
		worker:   w,
		cfg:      engine.DefaultConfig(),
		sink:     engine.SinkFunc(func(engine.Event) {}),
		logger:   slog.Default(),
		ctx:      context.Background(),
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sets the context engines run under. Engines opened before Start
// use a background context.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
}

// Close saves and closes every open document.
func (s *Service) Close() error {
	s.mu.Lock()
	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	s.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := s.CloseDocument(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ValidateName checks a document name.
func ValidateName(name string) error {
	if err := validation.Validate(name, validation.Required, validation.Length(1, 200), validation.Match(nameRe)); err != nil {
		return fmt.Errorf("workspace: name %q: %w: %v", name, apperr.ErrInvalid, err)
	}
	return nil
}

// Create stores a new document from editor JSON (an empty document when
// content is empty) and opens it.
func (s *Service) Create(_ context.Context, name, title string, tags []string, content []byte) (*DocumentDetail, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	root := document.NewDoc(document.NewParagraph(""))
	if len(content) > 0 {
		var err error
		if root, err = document.Unmarshal(content); err != nil {
			return nil, fmt.Errorf("workspace: create %s: %w: %v", name, apperr.ErrInvalid, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, open := s.sessions[name]; open {
		return nil, fmt.Errorf("workspace: create %s: %w", name, apperr.ErrAlreadyExists)
	}
	eng, err := s.newEngine(name, root)
	if err != nil {
		return nil, err
	}
	row := docstore.DocumentRow{Name: name, Title: title, Tags: nonNilSlice(tags), UpdatedAt: time.Now()}
	data, blocks, err := persisted(name, eng.Snapshot())
	if err != nil {
		eng.Close()
		return nil, err
	}
	if row.Checksum, err = s.db.Create(row, data, blocks); err != nil {
		eng.Close()
		return nil, err
	}
	sess := &session{eng: eng, row: row}
	s.sessions[name] = sess
	s.logger.Info("workspace: document created", slog.String("name", name))
	return detail(sess), nil
}

// Open returns the engine of a document, loading it on first use.
func (s *Service) Open(_ context.Context, name string) (*engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.openLocked(name)
	if err != nil {
		return nil, err
	}
	return sess.eng, nil
}

func (s *Service) openLocked(name string) (*session, error) {
	if sess, ok := s.sessions[name]; ok {
		return sess, nil
	}
	row, data, err := s.db.Load(name)
	if err != nil {
		return nil, err
	}
	root, err := document.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("workspace: open %s: %w", name, err)
	}
	eng, err := s.newEngine(name, root)
	if err != nil {
		return nil, err
	}
	sess := &session{eng: eng, row: *row}
	s.sessions[name] = sess
	s.logger.Debug("workspace: document opened", slog.String("name", name))
	return sess, nil
}

func (s *Service) newEngine(name string, root *document.Node) (*engine.Engine, error) {
	eng, err := engine.New(root, s.profiles, s.worker,
		engine.WithName(name),
		engine.WithConfig(s.cfg),
		engine.WithSink(s.sink),
		engine.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	eng.Start(s.ctx)
	return eng, nil
}

// Get opens a document and returns its detail.
func (s *Service) Get(_ context.Context, name string) (*DocumentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.openLocked(name)
	if err != nil {
		return nil, err
	}
	return detail(sess), nil
}

// Save writes the current tree, threads included. A non-empty ifMatch must
// equal the checksum of the last save.
func (s *Service) Save(_ context.Context, name, ifMatch string) (*DocumentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok {
		return nil, fmt.Errorf("workspace: save %s: not open: %w", name, apperr.ErrNotFound)
	}
	if err := s.saveLocked(sess, ifMatch); err != nil {
		return nil, err
	}
	return detail(sess), nil
}

func (s *Service) saveLocked(sess *session, ifMatch string) error {
	data, blocks, err := persisted(sess.row.Name, sess.eng.Snapshot())
	if err != nil {
		return err
	}
	row := sess.row
	row.UpdatedAt = time.Now()
	cs, err := s.db.Save(row, data, blocks, ifMatch)
	if err != nil {
		return err
	}
	row.Checksum = cs
	sess.row = row
	return nil
}

// CloseDocument saves a document and stops its engine.
func (s *Service) CloseDocument(name string) error {
	s.mu.Lock()
	sess, ok := s.sessions[name]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.sessions, name)
	err := s.saveLocked(sess, "")
	s.mu.Unlock()

	sess.eng.Close()
	if err != nil {
		return fmt.Errorf("workspace: close %s: %w", name, err)
	}
	return nil
}

// Delete closes a document without saving and removes it.
func (s *Service) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	sess, open := s.sessions[name]
	delete(s.sessions, name)
	s.mu.Unlock()
	if open {
		sess.eng.Close()
	}
	return s.db.Delete(name)
}

// List returns paginated documents with optional tag filter.
func (s *Service) List(_ context.Context, limit, offset int, tag string) ([]DocumentListItem, int, error) {
	rows, total, err := s.db.List(limit, offset, tag)
	if err != nil {
		return nil, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]DocumentListItem, len(rows))
	for i, r := range rows {
		_, open := s.sessions[r.Name]
		items[i] = DocumentListItem{
			Name:      r.Name,
			Title:     r.Title,
			Tags:      nonNilSlice(r.Tags),
			Source:    r.Source,
			Checksum:  r.Checksum,
			Open:      open,
			UpdatedAt: r.UpdatedAt,
		}
	}
	return items, total, nil
}

// Search finds blocks by text as of their last save.
func (s *Service) Search(_ context.Context, query string, limit int) ([]docstore.SearchResult, error) {
	if query == "" {
		return nil, fmt.Errorf("workspace: search: empty query: %w", apperr.ErrInvalid)
	}
	return s.db.Search(query, limit)
}

// persisted encodes a tree and its search projection.
func persisted(name string, snap *document.Node) ([]byte, []docstore.BlockRow, error) {
	data, err := document.Marshal(snap)
	if err != nil {
		return nil, nil, fmt.Errorf("workspace: encode %s: %w", name, err)
	}
	var blocks []docstore.BlockRow
	for _, b := range snap.Blocks() {
		blocks = append(blocks, docstore.BlockRow{
			BlockID: b.Attrs.BlockID,
			Type:    string(b.Type),
			Text:    b.TextContent(),
			Threads: len(b.Attrs.Threads),
		})
	}
	return data, blocks, nil
}

func detail(sess *session) *DocumentDetail {
	return &DocumentDetail{
		Name:      sess.row.Name,
		Title:     sess.row.Title,
		Tags:      nonNilSlice(sess.row.Tags),
		Source:    sess.row.Source,
		Checksum:  sess.row.Checksum,
		Version:   sess.eng.Version(),
		Blocks:    sess.eng.Blocks(),
		UpdatedAt: sess.row.UpdatedAt,
	}
}

func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
