package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/marginalia/internal/checksum"
)

const tempPrefix = ".marginalia-tmp-"

// FS implements Provider on a local directory. All access goes through an
// os.Root, so paths cannot escape the vault even via symlinks.
type FS struct {
	dir  string
	root *os.Root
}

// NewFS opens the vault rooted at dir, which must already exist.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: open root: %w", err)
	}
	return &FS{dir: abs, root: root}, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.dir }

// Close releases the root handle.
func (f *FS) Close() error { return f.root.Close() }

// clean turns a vault-relative path into the slash form os.Root expects.
func clean(rel string) (string, error) {
	if rel == "" {
		return ".", nil
	}
	p := path.Clean(filepath.ToSlash(rel))
	if !fs.ValidPath(p) {
		return "", fmt.Errorf("storage: path outside vault: %s", rel)
	}
	return p, nil
}

// List returns every .md note under dir. Hidden directories and files are
// skipped; returned paths are slash separated and relative to the root.
func (f *FS) List(dir string) ([]FileInfo, error) {
	base, err := clean(dir)
	if err != nil {
		return nil, err
	}
	fsys := f.root.FS()
	var out []FileInfo
	err = fs.WalkDir(fsys, base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		hidden := strings.HasPrefix(d.Name(), ".") && p != base
		if d.IsDir() {
			if hidden {
				return fs.SkipDir
			}
			return nil
		}
		if hidden || path.Ext(p) != ".md" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		out = append(out, FileInfo{
			Path:      p,
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a vault file.
func (f *FS) Read(p string) ([]byte, error) {
	name, err := clean(p)
	if err != nil {
		return nil, err
	}
	data, err := f.root.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Write replaces p with content by writing a synced temp file next to it
// and renaming it into place. Readers never see a partial note.
func (f *FS) Write(p string, content []byte) (err error) {
	name, err := clean(p)
	if err != nil {
		return err
	}
	if name == "." {
		return errors.New("storage: write: empty path")
	}
	if dir := path.Dir(name); dir != "." {
		if err := f.root.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("storage: mkdir: %w", err)
		}
	}

	tmpName := path.Join(path.Dir(name), tempPrefix+uuid.NewString())
	tmp, err := f.root.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = f.root.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err = f.root.Rename(tmpName, name); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}
