// Package snapshot keeps previous versions of collection files so an
// overwrite can be undone by hand.
package snapshot

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/diskv/v3"

	"github.com/starford/tape/internal/apperr"
)

// keySep separates the encoded collection name from the ULID in a key.
const keySep = "-"

// Snapshot identifies one saved version of a collection.
type Snapshot struct {
	Key        string    `json:"key"`
	Collection string    `json:"collection"`
	Taken      time.Time `json:"taken"`
}

// Store is a diskv-backed snapshot store. It is safe for concurrent use.
type Store struct {
	d   *diskv.Diskv
	now func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open returns a store rooted at dir. Each collection gets its own
// subdirectory.
func Open(dir string, opts ...Option) *Store {
	s := &Store{
		d: diskv.New(diskv.Options{
			BasePath:          dir,
			AdvancedTransform: keyToPath,
			InverseTransform:  pathToKey,
			CacheSizeMax:      1024 * 1024, // 1MB
		}),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func keyToPath(key string) *diskv.PathKey {
	dir, file, ok := strings.Cut(key, keySep)
	if !ok {
		return &diskv.PathKey{FileName: key}
	}
	return &diskv.PathKey{Path: []string{dir}, FileName: file}
}

func pathToKey(pk *diskv.PathKey) string {
	if len(pk.Path) == 0 {
		return pk.FileName
	}
	return strings.Join(pk.Path, "") + keySep + pk.FileName
}

// prefix is the key prefix of every snapshot of collection. Names are hex
// encoded so nested collection paths map to a single directory.
func prefix(collection string) string {
	return hex.EncodeToString([]byte(collection)) + keySep
}

func (s *Store) newID() (ulid.ULID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.New(ulid.Timestamp(s.now()), s.entropy)
}

// Save stores data as the newest snapshot of collection.
func (s *Store) Save(collection string, data []byte) (Snapshot, error) {
	id, err := s.newID()
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: new id: %w", err)
	}
	key := prefix(collection) + id.String()
	if err := s.d.Write(key, data); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: write %s: %w", collection, err)
	}
	return Snapshot{Key: key, Collection: collection, Taken: ulid.Time(id.Time()).UTC()}, nil
}

// List returns the snapshots of collection, oldest first.
func (s *Store) List(ctx context.Context, collection string) ([]Snapshot, error) {
	p := prefix(collection)
	var out []Snapshot
	for key := range s.d.KeysPrefix(p, ctx.Done()) {
		id, err := ulid.ParseStrict(strings.TrimPrefix(key, p))
		if err != nil {
			continue
		}
		out = append(out, Snapshot{Key: key, Collection: collection, Taken: ulid.Time(id.Time()).UTC()})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// ULIDs sort by time, and monotonic entropy orders ties.
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Read returns the contents of a snapshot.
func (s *Store) Read(key string) ([]byte, error) {
	if !s.d.Has(key) {
		return nil, fmt.Errorf("snapshot %q: %w", key, apperr.ErrNotFound)
	}
	data, err := s.d.Read(key)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read %q: %w", key, err)
	}
	return data, nil
}

// Prune deletes all but the newest keep snapshots of collection and
// reports how many were removed. keep <= 0 keeps everything.
func (s *Store) Prune(ctx context.Context, collection string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	all, err := s.List(ctx, collection)
	if err != nil {
		return 0, err
	}
	if len(all) <= keep {
		return 0, nil
	}
	var errs []error
	removed := 0
	for _, snap := range all[:len(all)-keep] {
		if err := s.d.Erase(snap.Key); err != nil {
			errs = append(errs, fmt.Errorf("snapshot: erase %q: %w", snap.Key, err))
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
