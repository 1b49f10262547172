// Package collection serves one persisted note collection: the in-memory
// tree, its JSON file, the search index and snapshots of earlier versions.
package collection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/starford/tape/internal/apperr"
	"github.com/starford/tape/internal/checksum"
	"github.com/starford/tape/internal/hotlist"
	"github.com/starford/tape/internal/index"
	"github.com/starford/tape/internal/models"
	"github.com/starford/tape/internal/note"
	"github.com/starford/tape/internal/snapshot"
	"github.com/starford/tape/internal/storage"
	"github.com/starford/tape/internal/tags"
	"github.com/starford/tape/internal/tree"
)

var errNotOpen = errors.New("collection: not open")

// Service coordinates storage, index and snapshot operations around one
// collection. Every mutation works on a copy of the tree; the live tree,
// the file and the index change only when the whole operation succeeds.
type Service struct {
	store      storage.Provider
	db         index.NoteIndex
	name       string
	snaps      *snapshot.Store
	keep       int
	clock      note.Clock
	inlineTags bool
	logger     *slog.Logger

	mu       sync.RWMutex
	tree     *tree.Tree
	checksum string
}

// Option configures a Service.
type Option func(*Service)

// WithSnapshots saves the previous file to snaps before every overwrite
// and keeps the newest keep snapshots (all of them when keep <= 0).
func WithSnapshots(snaps *snapshot.Store, keep int) Option {
	return func(s *Service) {
		s.snaps = snaps
		s.keep = keep
	}
}

// WithClock sets the clock used to stamp created and modified notes.
func WithClock(clock note.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithInlineTags adds the #words found in a note body to its tags on
// create and update.
func WithInlineTags(enabled bool) Option {
	return func(s *Service) { s.inlineTags = enabled }
}

// NewService creates a service for the collection file name, relative to
// the storage root. Call Open before use.
func NewService(store storage.Provider, db index.NoteIndex, name string, opts ...Option) *Service {
	s := &Service{
		store:  store,
		db:     db,
		name:   name,
		clock:  note.SystemClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the collection file name.
func (s *Service) Name() string { return s.name }

// Checksum returns the digest of the collection file as last loaded or
// written.
func (s *Service) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksum
}

// Open loads the collection file, creating an empty collection when the
// file does not exist yet.
func (s *Service) Open(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Read(s.name)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("collection: creating", slog.String("collection", s.name))
		return s.commit(tree.New())
	}
	if err != nil {
		return err
	}
	t, err := tree.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("collection: load %s: %w", s.name, err)
	}
	s.tree, s.checksum = t, checksum.Sum(data)
	s.reindex(t, s.checksum)
	return nil
}

// Reload re-reads the collection file after an outside change. It reports
// whether the live tree was replaced; a file that does not load leaves the
// live tree untouched. The read happens under mu so that a write committed
// meanwhile is never replaced by an older file.
func (s *Service) Reload(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.Read(s.name)
	if err != nil {
		return false, err
	}
	cs := checksum.Sum(data)
	if cs == s.checksum {
		return false, nil
	}
	t, err := tree.Unmarshal(data)
	if err != nil {
		return false, fmt.Errorf("collection: reload %s: %w", s.name, err)
	}
	s.tree, s.checksum = t, cs
	if indexed, err := s.db.GetChecksum(s.name); err != nil || indexed != cs {
		s.reindex(t, cs)
	}
	s.logger.Info("collection: reloaded", slog.String("collection", s.name), slog.Int("notes", t.Len()))
	return true, nil
}

// commit persists t and makes it the live tree. The caller holds mu.
func (s *Service) commit(t *tree.Tree) error {
	data, err := t.Marshal()
	if err != nil {
		return err
	}
	cs := checksum.Sum(data)
	if err := s.snapshot(); err != nil {
		return err
	}
	if err := s.store.Write(s.name, data); err != nil {
		return err
	}
	s.tree, s.checksum = t, cs
	s.reindex(t, cs)
	return nil
}

func (s *Service) snapshot() error {
	if s.snaps == nil || s.tree == nil {
		return nil
	}
	prev, err := s.store.Read(s.name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := s.snaps.Save(s.name, prev); err != nil {
		return err
	}
	if _, err := s.snaps.Prune(context.Background(), s.name, s.keep); err != nil {
		s.logger.Warn("collection: prune snapshots", slog.String("error", err.Error()))
	}
	return nil
}

// reindex refreshes the search index. The file is the source of truth, so
// a failure is logged and left for the next sync.
func (s *Service) reindex(t *tree.Tree, cs string) {
	records, err := t.Dump()
	if err == nil {
		err = s.db.Replace(s.name, cs, index.Rows(s.name, records))
	}
	if err != nil {
		s.logger.Warn("collection: reindex failed", slog.String("collection", s.name), slog.String("error", err.Error()))
	}
}

// mutate applies fn to a copy of the live tree and commits the copy. then,
// if set, runs on the committed tree while the lock is still held.
func (s *Service) mutate(fn func(t *tree.Tree) error, then func(t *tree.Tree)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		return errNotOpen
	}
	work := s.tree.Clone()
	if err := fn(work); err != nil {
		return err
	}
	if err := s.commit(work); err != nil {
		return err
	}
	if then != nil {
		then(work)
	}
	return nil
}

// view runs fn on the live tree under the read lock.
func (s *Service) view(fn func(t *tree.Tree) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tree == nil {
		return errNotOpen
	}
	return fn(s.tree)
}

func lookup(t *tree.Tree, id int64) (tree.NodeID, error) {
	nid, ok := t.Find(id)
	if !ok {
		return tree.None, fmt.Errorf("collection: note %d: %w", id, apperr.ErrNotFound)
	}
	return nid, nil
}

// parentNode resolves an optional parent note id; nil is the root.
func parentNode(t *tree.Tree, id *int64) (tree.NodeID, error) {
	if id == nil {
		return tree.Root, nil
	}
	return lookup(t, *id)
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", apperr.ErrInvalid, err)
}

// noteID returns the persisted id of the note at nid. Only valid after a
// commit or load, when every note has an id.
func noteID(t *tree.Tree, nid tree.NodeID) *int64 {
	if nid == tree.Root || nid == tree.None {
		return nil
	}
	id := *t.Note(nid).ID
	return &id
}

// NoteChecksum returns the ETag of a note.
func NoteChecksum(n *note.Note) string {
	cs, _ := checksum.JSON(n.ToDict())
	return cs
}

func toModel(t *tree.Tree, nid tree.NodeID) *models.Note {
	n := t.Note(nid)
	parent := t.Parent(nid)
	m := &models.Note{
		ID:         *n.ID,
		ParentID:   noteID(t, parent),
		Title:      index.Title(n.Body),
		Body:       n.Body,
		Tags:       append([]string{}, n.Tags...),
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.ModifiedAt,
		Depth:      t.Level(nid),
		Children:   len(t.Children(nid)),
		Checksum:   NoteChecksum(n),
	}
	if row := t.Row(nid); row > 0 {
		m.PrevSiblingID = noteID(t, t.Children(parent)[row-1])
	}
	return m
}

func (s *Service) tagsFor(body string, given []string) []string {
	out := append([]string{}, given...)
	if !s.inlineTags {
		return out
	}
	for _, tag := range tags.Extract(body) {
		if !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	return out
}

// GetNote returns one note.
func (s *Service) GetNote(_ context.Context, id int64) (*models.Note, error) {
	var out *models.Note
	err := s.view(func(t *tree.Tree) error {
		nid, err := lookup(t, id)
		if err != nil {
			return err
		}
		out = toModel(t, nid)
		return nil
	})
	return out, err
}

// Tree returns the nested view of the collection.
func (s *Service) Tree(_ context.Context) ([]*models.TreeNode, error) {
	out := []*models.TreeNode{}
	err := s.view(func(t *tree.Tree) error {
		nodes := make(map[tree.NodeID]*models.TreeNode)
		t.Walk(func(nid tree.NodeID, _ int) bool {
			n := t.Note(nid)
			tn := &models.TreeNode{
				ID:         *n.ID,
				Title:      index.Title(n.Body),
				Body:       n.Body,
				Tags:       append([]string{}, n.Tags...),
				CreatedAt:  n.CreatedAt,
				ModifiedAt: n.ModifiedAt,
				Children:   []*models.TreeNode{},
			}
			nodes[nid] = tn
			if p := t.Parent(nid); p == tree.Root {
				out = append(out, tn)
			} else {
				nodes[p].Children = append(nodes[p].Children, tn)
			}
			return true
		})
		return nil
	})
	return out, err
}

// Records returns the flat persisted form of the collection.
func (s *Service) Records(_ context.Context) ([]tree.Record, error) {
	var out []tree.Record
	err := s.view(func(t *tree.Tree) error {
		var err error
		out, err = t.Clone().Dump()
		return err
	})
	return out, err
}

// Export returns the collection file contents.
func (s *Service) Export(_ context.Context) ([]byte, error) {
	var out []byte
	err := s.view(func(t *tree.Tree) error {
		var err error
		out, err = t.Clone().Marshal()
		return err
	})
	return out, err
}

// ListNotes returns a page of notes ordered and filtered by the index.
func (s *Service) ListNotes(_ context.Context, q index.ListQuery) ([]models.Note, int, error) {
	rows, total, err := s.db.ListNotes(s.name, q)
	if err != nil {
		return nil, 0, err
	}
	out := make([]models.Note, 0, len(rows))
	err = s.view(func(t *tree.Tree) error {
		byID := make(map[int64]tree.NodeID, t.Len())
		t.Walk(func(nid tree.NodeID, _ int) bool {
			byID[*t.Note(nid).ID] = nid
			return true
		})
		for _, r := range rows {
			// The index may briefly lag behind the live tree.
			if nid, ok := byID[r.ID]; ok {
				out = append(out, *toModel(t, nid))
			}
		}
		return nil
	})
	return out, total, err
}

// CreateNote adds a note under nn.ParentID at nn.Position.
func (s *Service) CreateNote(_ context.Context, nn models.NewNote) (*models.Note, error) {
	noteTags := s.tagsFor(nn.Body, nn.Tags)
	if err := tags.Validate(noteTags); err != nil {
		return nil, invalid(err)
	}
	var (
		created tree.NodeID
		out     *models.Note
	)
	err := s.mutate(func(t *tree.Tree) error {
		parent, err := parentNode(t, nn.ParentID)
		if err != nil {
			return err
		}
		n := note.New(s.clock, nn.Body, noteTags...)
		if nn.Position == nil {
			created = t.Append(parent, n)
			return nil
		}
		created, err = t.Insert(parent, *nn.Position, n)
		if err != nil {
			return invalid(err)
		}
		return nil
	}, func(t *tree.Tree) {
		out = toModel(t, created)
	})
	return out, err
}

// UpdateNote changes a note's body and tags. A non-empty ifMatch must equal
// the note's current checksum, else apperr.ErrConflict is returned.
func (s *Service) UpdateNote(_ context.Context, id int64, upd models.NoteUpdate, ifMatch string) (*models.Note, error) {
	var (
		target tree.NodeID
		out    *models.Note
	)
	err := s.mutate(func(t *tree.Tree) error {
		nid, err := lookup(t, id)
		if err != nil {
			return err
		}
		n := t.Note(nid)
		if ifMatch != "" && ifMatch != NoteChecksum(n) {
			return fmt.Errorf("collection: note %d changed: %w", id, apperr.ErrConflict)
		}
		if upd.Body != nil {
			n.Body = *upd.Body
		}
		if upd.Tags != nil {
			n.Tags = append([]string{}, (*upd.Tags)...)
		}
		n.Tags = s.tagsFor(n.Body, n.Tags)
		if err := tags.Validate(n.Tags); err != nil {
			return invalid(err)
		}
		n.Touch(s.clock)
		target = nid
		return nil
	}, func(t *tree.Tree) {
		out = toModel(t, target)
	})
	return out, err
}

// MoveNote makes a note the position-th child of parentID (nil for top
// level). A negative position appends.
func (s *Service) MoveNote(_ context.Context, id int64, parentID *int64, position int) (*models.Note, error) {
	var (
		target tree.NodeID
		out    *models.Note
	)
	err := s.mutate(func(t *tree.Tree) error {
		nid, err := lookup(t, id)
		if err != nil {
			return err
		}
		parent, err := parentNode(t, parentID)
		if err != nil {
			return err
		}
		if err := t.Move(nid, parent, position); err != nil {
			if errors.Is(err, tree.ErrInvalidPosition) {
				return invalid(err)
			}
			return err
		}
		target = nid
		return nil
	}, func(t *tree.Tree) {
		out = toModel(t, target)
	})
	return out, err
}

// DeleteNote removes a note and its descendants and returns how many notes
// were removed.
func (s *Service) DeleteNote(_ context.Context, id int64) (int, error) {
	removed := 0
	err := s.mutate(func(t *tree.Tree) error {
		nid, err := lookup(t, id)
		if err != nil {
			return err
		}
		before := t.Len()
		if err := t.Remove(nid); err != nil {
			return err
		}
		removed = before - t.Len()
		return nil
	}, nil)
	return removed, err
}

// Search finds notes by full-text query, tag glob pattern, or both. At
// least one of them is required.
func (s *Service) Search(_ context.Context, query, tagPattern string, limit int) ([]models.SearchHit, error) {
	if query == "" && tagPattern == "" {
		return nil, fmt.Errorf("collection: search needs a query or a tag pattern: %w", apperr.ErrInvalid)
	}
	if tagPattern != "" && !tags.ValidPattern(tagPattern) {
		return nil, fmt.Errorf("collection: bad tag pattern %q: %w", tagPattern, apperr.ErrInvalid)
	}
	if limit <= 0 {
		limit = 20
	}

	out := []models.SearchHit{}
	if query == "" {
		err := s.view(func(t *tree.Tree) error {
			t.Walk(func(nid tree.NodeID, _ int) bool {
				n := t.Note(nid)
				if len(out) < limit && tags.MatchAny(tagPattern, n.Tags) {
					title := index.Title(n.Body)
					out = append(out, models.SearchHit{ID: *n.ID, Title: title, Snippet: title, Tags: append([]string{}, n.Tags...)})
				}
				return len(out) < limit
			})
			return nil
		})
		return out, err
	}

	fetch := limit
	if tagPattern != "" {
		// Over-fetch, the tag filter runs after ranking.
		fetch = limit * 5
	}
	results, err := s.db.Search(s.name, query, fetch)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if !tags.MatchAny(tagPattern, r.Tags) {
			continue
		}
		out = append(out, models.SearchHit{ID: r.ID, Title: r.Title, Snippet: r.Snippet, Tags: r.Tags})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Filter returns, in tree order, the notes whose title, body or any tag
// contains text, ignoring case. Empty text matches every note.
func (s *Service) Filter(_ context.Context, text string) ([]models.Note, error) {
	needle := strings.ToLower(text)
	out := []models.Note{}
	err := s.view(func(t *tree.Tree) error {
		t.Walk(func(nid tree.NodeID, _ int) bool {
			if matches(needle, t.Note(nid)) {
				out = append(out, *toModel(t, nid))
			}
			return true
		})
		return nil
	})
	return out, err
}

func matches(needle string, n *note.Note) bool {
	if needle == "" {
		return true
	}
	components := append([]string{index.Title(n.Body)}, n.Tags...)
	components = append(components, n.Body)
	for _, c := range components {
		if strings.Contains(strings.ToLower(c), needle) {
			return true
		}
	}
	return false
}

// ImportResult reports a hotlist import.
type ImportResult struct {
	hotlist.Stats
	// Roots are the ids of the imported top-level notes.
	Roots []int64 `json:"roots"`
}

// Import reads a hotlist and appends its notes under parentID (nil for top
// level). Nothing changes if the hotlist does not parse.
func (s *Service) Import(_ context.Context, r io.Reader, parentID *int64, opts ...hotlist.Option) (*ImportResult, error) {
	imported, stats, err := hotlist.ImportWithStats(r, opts...)
	if err != nil {
		return nil, err
	}
	res := &ImportResult{Stats: stats, Roots: []int64{}}
	var roots []tree.NodeID
	err = s.mutate(func(t *tree.Tree) error {
		parent, err := parentNode(t, parentID)
		if err != nil {
			return err
		}
		roots, err = t.Graft(parent, imported)
		return err
	}, func(t *tree.Tree) {
		for _, nid := range roots {
			res.Roots = append(res.Roots, *t.Note(nid).ID)
		}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("collection: imported hotlist",
		slog.String("collection", s.name),
		slog.Int("notes", stats.Notes),
		slog.Int("folders", stats.Folders),
		slog.Int("skipped", stats.Skipped))
	return res, nil
}

// ExportHotlist writes the collection as an Opera hotlist.
func (s *Service) ExportHotlist(_ context.Context, w io.Writer) error {
	return s.view(func(t *tree.Tree) error {
		return hotlist.Export(w, t)
	})
}

// Replace loads a whole collection from r and swaps it in. A non-empty
// ifMatch must equal the current file checksum. Corrupt input leaves the
// collection untouched; structural problems are reported as
// *tree.StructureError, everything else wraps apperr.ErrInvalid.
func (s *Service) Replace(_ context.Context, r io.Reader, ifMatch string) (int, error) {
	t, err := tree.Decode(r)
	if err != nil {
		if tree.IsStructural(err) {
			return 0, err
		}
		return 0, invalid(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ifMatch != "" && ifMatch != s.checksum {
		return 0, fmt.Errorf("collection: %s changed: %w", s.name, apperr.ErrConflict)
	}
	if err := s.commit(t); err != nil {
		return 0, err
	}
	return t.Len(), nil
}

// Snapshots lists the saved versions of the collection, oldest first.
func (s *Service) Snapshots(ctx context.Context) ([]snapshot.Snapshot, error) {
	if s.snaps == nil {
		return []snapshot.Snapshot{}, nil
	}
	list, err := s.snaps.List(ctx, s.name)
	if list == nil {
		list = []snapshot.Snapshot{}
	}
	return list, err
}

// Restore replaces the collection with a saved snapshot. The current
// version is itself snapshotted first.
func (s *Service) Restore(ctx context.Context, key string) (int, error) {
	if s.snaps == nil {
		return 0, fmt.Errorf("collection: snapshots disabled: %w", apperr.ErrNotFound)
	}
	list, err := s.snaps.List(ctx, s.name)
	if err != nil {
		return 0, err
	}
	if !slices.ContainsFunc(list, func(snap snapshot.Snapshot) bool { return snap.Key == key }) {
		return 0, fmt.Errorf("collection: snapshot %q: %w", key, apperr.ErrNotFound)
	}
	data, err := s.snaps.Read(key)
	if err != nil {
		return 0, err
	}
	t, err := tree.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("collection: snapshot %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commit(t); err != nil {
		return 0, err
	}
	return t.Len(), nil
}
