package index

// NoteIndex defines the interface for note indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	Replace(collection, checksum string, rows []NoteRow) error
	DeleteCollection(collection string) error
	GetChecksum(collection string) (string, error)
	AllChecksums() (map[string]string, error)
	GetNote(collection string, id int64) (*NoteRow, error)
	ListNotes(collection string, q ListQuery) ([]NoteRow, int, error)
	Search(collection, query string, limit int) ([]SearchResult, error)
	AllIDs(collection string) ([]int64, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
