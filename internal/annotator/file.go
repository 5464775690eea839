package annotator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/starford/marginalia/pkg/config"
)

// fileFormat is the on-disk layout of a profiles file.
type fileFormat struct {
	Annotators []Profile `yaml:"annotators"`
}

// FileSource serves profiles from a YAML file and reloads them when the
// file changes. A file that fails to parse or validate keeps the last good
// list in place.
type FileSource struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	profiles []Profile
}

// OpenFile loads the profiles file at path.
func OpenFile(path string, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f := &FileSource{path: path, logger: logger}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Profiles returns a copy of the current list.
func (f *FileSource) Profiles() []Profile {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Profile, len(f.profiles))
	copy(out, f.profiles)
	return out
}

// Reload re-reads the file.
func (f *FileSource) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("annotator: read %s: %w", f.path, err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal([]byte(config.Expand(string(data))), &ff); err != nil {
		return fmt.Errorf("annotator: parse %s: %w", f.path, err)
	}
	if err := ValidateList(ff.Annotators); err != nil {
		return err
	}

	f.mu.Lock()
	f.profiles = ff.Annotators
	f.mu.Unlock()
	return nil
}

// Watch reloads the file on change until ctx is cancelled. The parent
// directory is watched so editors that replace the file atomically are
// picked up too. Reloads are debounced.
func (f *FileSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return err
	}
	target := filepath.Clean(f.path)

	f.logger.Info("annotators: watching", slog.String("path", f.path))

	var reloadTimer *time.Timer
	var reloadCh <-chan time.Time

	scheduleReload := func() {
		if reloadTimer == nil {
			reloadTimer = time.NewTimer(100 * time.Millisecond)
			reloadCh = reloadTimer.C
		} else {
			reloadTimer.Reset(100 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			f.logger.Info("annotators: watcher stopped")
			return nil

		case <-reloadCh:
			if err := f.Reload(); err != nil {
				f.logger.Warn("annotators: reload failed, keeping previous list",
					slog.String("path", f.path),
					slog.String("error", err.Error()))
				continue
			}
			f.logger.Info("annotators: reloaded",
				slog.String("path", f.path),
				slog.Int("count", len(f.Profiles())))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Error("annotators: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}
