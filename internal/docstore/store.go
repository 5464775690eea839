package docstore

// Store is the persistence surface the workspace depends on.
type Store interface {
	Create(row DocumentRow, content []byte, blocks []BlockRow) (string, error)
	Save(row DocumentRow, content []byte, blocks []BlockRow, ifMatch string) (string, error)
	Load(name string) (*DocumentRow, []byte, error)
	List(limit, offset int, tag string) ([]DocumentRow, int, error)
	Delete(name string) error
	Search(query string, limit int) ([]SearchResult, error)
	SourceChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
