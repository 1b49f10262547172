package index

import (
	"log/slog"

	"github.com/starford/tape/internal/checksum"
	"github.com/starford/tape/internal/storage"
	"github.com/starford/tape/internal/tree"
)

// Sync walks the data directory and brings the index up to date:
//   - new/changed collections are loaded and re-indexed
//   - collections removed from disk are deleted from the index
//
// A collection that fails to load is logged and skipped; its previous
// index entries are kept.
func Sync(db *DB, store storage.Provider, logger *slog.Logger) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexCollection(db, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteCollection(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// IndexCollection loads a persisted collection and replaces its index
// entries. Nothing is written when the data does not load.
func IndexCollection(db *DB, path string, data []byte) error {
	t, err := tree.Unmarshal(data)
	if err != nil {
		return err
	}
	records, err := t.Dump()
	if err != nil {
		return err
	}
	return db.Replace(path, checksum.Sum(data), Rows(path, records))
}
