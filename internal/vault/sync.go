// Package vault keeps imported documents in step with the Markdown notes
// they came from.
package vault

import (
	"log/slog"

	"github.com/starford/marginalia/internal/storage"
)

// Index reports the checksum each note was last imported at.
type Index interface {
	SourceChecksums() (map[string]string, error)
}

// Importer turns one note into a document.
type Importer interface {
	ImportNote(path string, data []byte) error
}

// ImporterFunc adapts a function to Importer.
type ImporterFunc func(path string, data []byte) error

// ImportNote calls f.
func (f ImporterFunc) ImportNote(path string, data []byte) error { return f(path, data) }

// Sync walks the vault and re-imports every note whose content differs from
// its last import. Notes never imported are imported too. Documents whose
// note vanished are kept. It returns the number of notes imported.
func Sync(idx Index, store storage.Provider, imp Importer, logger *slog.Logger) (int, error) {
	files, err := store.List("")
	if err != nil {
		return 0, err
	}
	checksums, err := idx.SourceChecksums()
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, f := range files {
		if checksums[f.Path] == f.Checksum {
			continue
		}
		data, err := store.Read(f.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		if err := imp.ImportNote(f.Path, data); err != nil {
			logger.Warn("sync: import failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		imported++
		logger.Debug("sync: imported", slog.String("path", f.Path))
	}
	return imported, nil
}
