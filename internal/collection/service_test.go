package collection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/tape/internal/apperr"
	"github.com/starford/tape/internal/hotlist"
	"github.com/starford/tape/internal/index"
	"github.com/starford/tape/internal/models"
	"github.com/starford/tape/internal/snapshot"
	"github.com/starford/tape/internal/storage"
	"github.com/starford/tape/internal/testutil"
	"github.com/starford/tape/internal/tree"
)

const name = "notes.json"

type env struct {
	svc   *Service
	store storage.Provider
}

func newEnv(t *testing.T, opts ...Option) env {
	t.Helper()
	_, store := testutil.TestDataDir(t)
	db := testutil.TestDB(t)
	opts = append([]Option{
		WithClock(testutil.Clock()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	svc := NewService(store, db, name, opts...)
	if err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return env{svc: svc, store: store}
}

func (e env) create(t *testing.T, body string, parent *int64, tagList ...string) *models.Note {
	t.Helper()
	n, err := e.svc.CreateNote(context.Background(), models.NewNote{Body: body, Tags: tagList, ParentID: parent})
	if err != nil {
		t.Fatalf("CreateNote(%q): %v", body, err)
	}
	return n
}

func (e env) file(t *testing.T) string {
	t.Helper()
	data, err := e.store.Read(name)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func ptr[T any](v T) *T { return &v }

func TestOpenCreatesEmptyCollection(t *testing.T) {
	e := newEnv(t)
	if got := strings.TrimSpace(e.file(t)); got != "[]" {
		t.Errorf("file = %q, want []", got)
	}
	nodes, err := e.svc.Tree(context.Background())
	if err != nil || len(nodes) != 0 {
		t.Errorf("Tree = %v, %v", nodes, err)
	}
}

func TestCreateAndGet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.create(t, "Alpha\nfirst", nil, "x")
	b := e.create(t, "Beta", nil)
	child := e.create(t, "child of alpha", &a.ID)

	if a.ID != 1 || b.ID != 2 || child.ID != 3 {
		t.Fatalf("ids = %d %d %d", a.ID, b.ID, child.ID)
	}
	if b.PrevSiblingID == nil || *b.PrevSiblingID != a.ID || b.ParentID != nil {
		t.Errorf("beta links = %+v", b)
	}
	if child.ParentID == nil || *child.ParentID != a.ID || child.Depth != 1 {
		t.Errorf("child links = %+v", child)
	}

	got, err := e.svc.GetNote(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if got.Title != "Alpha" || got.Children != 1 || got.Checksum == "" {
		t.Errorf("alpha = %+v", got)
	}

	first, err := e.svc.CreateNote(ctx, models.NewNote{Body: "zero", Position: ptr(0)})
	if err != nil {
		t.Fatalf("CreateNote at 0: %v", err)
	}
	if first.PrevSiblingID != nil {
		t.Errorf("inserted note has a predecessor: %+v", first)
	}
	records, _ := e.svc.Records(ctx)
	if records[0].ID != first.ID {
		t.Errorf("first record = %d, want %d", records[0].ID, first.ID)
	}

	if _, err := e.svc.GetNote(ctx, 99); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateFailuresLeaveFileUntouched(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "only", nil)
	before := e.file(t)

	tests := []struct {
		name string
		in   models.NewNote
		want error
	}{
		{"unknown parent", models.NewNote{Body: "x", ParentID: ptr(int64(42))}, apperr.ErrNotFound},
		{"position past end", models.NewNote{Body: "x", Position: ptr(5)}, apperr.ErrInvalid},
		{"comma in tag", models.NewNote{Body: "x", Tags: []string{"a,b"}}, apperr.ErrInvalid},
		{"duplicate tag", models.NewNote{Body: "x", Tags: []string{"a", "a"}}, apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.svc.CreateNote(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if after := e.file(t); after != before {
		t.Errorf("file changed after failed creates:\n%s", after)
	}
}

func TestUpdateNote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	n := e.create(t, "draft", nil)

	if _, err := e.svc.UpdateNote(ctx, n.ID, models.NoteUpdate{Body: ptr("x")}, "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	upd, err := e.svc.UpdateNote(ctx, n.ID, models.NoteUpdate{
		Body: ptr("final"),
		Tags: ptr([]string{"done"}),
	}, n.Checksum)
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if upd.Body != "final" || len(upd.Tags) != 1 || upd.Checksum == n.Checksum {
		t.Errorf("updated = %+v", upd)
	}
	if !upd.ModifiedAt.After(n.ModifiedAt) || !upd.CreatedAt.Equal(n.CreatedAt) {
		t.Errorf("timestamps: created %v -> %v, modified %v -> %v", n.CreatedAt, upd.CreatedAt, n.ModifiedAt, upd.ModifiedAt)
	}

	// Tags only; body kept.
	upd2, err := e.svc.UpdateNote(ctx, n.ID, models.NoteUpdate{Tags: ptr([]string{})}, "")
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if upd2.Body != "final" || len(upd2.Tags) != 0 {
		t.Errorf("updated = %+v", upd2)
	}

	if _, err := e.svc.UpdateNote(ctx, 77, models.NoteUpdate{}, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMoveNote(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.create(t, "a", nil)
	b := e.create(t, "b", nil)
	a1 := e.create(t, "a1", &a.ID)

	moved, err := e.svc.MoveNote(ctx, b.ID, &a.ID, 0)
	if err != nil {
		t.Fatalf("MoveNote: %v", err)
	}
	if moved.ParentID == nil || *moved.ParentID != a.ID || moved.PrevSiblingID != nil {
		t.Errorf("moved = %+v", moved)
	}
	got, _ := e.svc.GetNote(ctx, a1.ID)
	if got.PrevSiblingID == nil || *got.PrevSiblingID != b.ID {
		t.Errorf("a1 = %+v", got)
	}

	before := e.file(t)
	_, err = e.svc.MoveNote(ctx, a.ID, &a1.ID, -1)
	if !errors.Is(err, tree.ErrParentCycle) {
		t.Fatalf("err = %v, want ErrParentCycle", err)
	}
	if e.file(t) != before {
		t.Error("file changed after rejected move")
	}
	if _, err := e.svc.MoveNote(ctx, b.ID, nil, 9); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestDeleteNoteRemovesSubtree(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.create(t, "a", nil)
	a1 := e.create(t, "a1", &a.ID)
	e.create(t, "a1x", &a1.ID)
	b := e.create(t, "b", nil)

	removed, err := e.svc.DeleteNote(ctx, a.ID)
	if err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	records, _ := e.svc.Records(ctx)
	if len(records) != 1 || records[0].ID != b.ID || records[0].PrevSiblingID != nil {
		t.Errorf("records = %+v", records)
	}
	if _, err := e.svc.DeleteNote(ctx, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTreeView(t *testing.T) {
	e := newEnv(t)
	a := e.create(t, "a", nil)
	a1 := e.create(t, "a1", &a.ID)
	e.create(t, "a1x", &a1.ID)
	e.create(t, "b", nil)

	nodes, err := e.svc.Tree(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 || nodes[0].Title != "a" || nodes[1].Title != "b" {
		t.Fatalf("top level = %+v", nodes)
	}
	if len(nodes[0].Children) != 1 || len(nodes[0].Children[0].Children) != 1 || nodes[0].Children[0].Children[0].Title != "a1x" {
		t.Errorf("nesting lost: %+v", nodes[0])
	}
}

func TestFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "Shopping\nMILK and eggs", nil)
	e.create(t, "Plain", nil, "Milky Way")
	e.create(t, "Other", nil, "PPP RRR")

	got, err := e.svc.Filter(ctx, "milk")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Title != "Shopping" || got[1].Title != "Plain" {
		t.Errorf("filter = %+v", got)
	}
	got, _ = e.svc.Filter(ctx, "ppp\trrr")
	if len(got) != 0 {
		t.Errorf("whitespace must match exactly: %+v", got)
	}
	got, _ = e.svc.Filter(ctx, "")
	if len(got) != 3 {
		t.Errorf("empty filter = %d notes, want 3", len(got))
	}
}

func TestSearch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "zebra crossing", nil, "work/road")
	e.create(t, "zebra stripes", nil, "home")
	e.create(t, "lion", nil, "work/zoo")

	hits, err := e.svc.Search(ctx, "zebra", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("query hits = %+v", hits)
	}

	hits, _ = e.svc.Search(ctx, "zebra", "work/**", 10)
	if len(hits) != 1 || hits[0].Title != "zebra crossing" {
		t.Errorf("query+tag hits = %+v", hits)
	}

	hits, _ = e.svc.Search(ctx, "", "work/*", 10)
	if len(hits) != 2 {
		t.Errorf("tag hits = %+v", hits)
	}

	if _, err := e.svc.Search(ctx, "", "", 10); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
	if _, err := e.svc.Search(ctx, "", "[", 10); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestListNotes(t *testing.T) {
	e := newEnv(t)
	for _, b := range []string{"c", "a", "b"} {
		e.create(t, b, nil)
	}
	notes, total, err := e.svc.ListNotes(context.Background(), indexQuery("title", 2))
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(notes) != 2 || notes[0].Title != "a" || notes[1].Title != "b" {
		t.Errorf("page = %d %+v", total, notes)
	}
}

const trip = `Opera Hotlist version 2.0
Options: encoding = utf8, version=3

#FOLDER
	ID=1
	NAME=Trip
	CREATED=1262304000

#NOTE
	ID=2
	NAME=pack bags
	CREATED=1262304001

-

#NOTE
	ID=3
	NAME=loose
	CREATED=1262304002
`

func TestImport(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	existing := e.create(t, "existing", nil)

	res, err := e.svc.Import(ctx, strings.NewReader(trip), nil)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Notes != 2 || res.Folders != 1 || len(res.Roots) != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.Roots[0] != existing.ID+1 {
		t.Errorf("roots = %v", res.Roots)
	}
	folder, _ := e.svc.GetNote(ctx, res.Roots[0])
	if folder.Body != "Trip" || folder.Children != 1 || folder.CreatedAt.Unix() != 1262304000 {
		t.Errorf("folder = %+v", folder)
	}

	before := e.file(t)
	broken := strings.Replace(trip, "\tCREATED=1262304001\n", "", 1)
	if _, err := e.svc.Import(ctx, strings.NewReader(broken), nil); !errors.Is(err, hotlist.ErrMissingAttributes) {
		t.Errorf("err = %v, want ErrMissingAttributes", err)
	}
	if _, err := e.svc.Import(ctx, strings.NewReader(trip), ptr(int64(999))); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if e.file(t) != before {
		t.Error("file changed after failed imports")
	}
}

func TestReplace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "old", nil)
	before := e.file(t)

	corrupt := `[{"body":"x","tags":[],"id":1,"created_at":"2020-01-01T00:00:00.000000",
		"modified_at":"2020-01-01T00:00:00.000000","parent_id":null,"prev_sibling_id":1}]`
	_, err := e.svc.Replace(ctx, strings.NewReader(corrupt), "")
	if !errors.Is(err, tree.ErrSiblingCycle) {
		t.Fatalf("err = %v, want ErrSiblingCycle", err)
	}
	if _, err := e.svc.Replace(ctx, strings.NewReader(`{"not": "an array"}`), ""); !errors.Is(err, apperr.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
	if _, err := e.svc.Replace(ctx, strings.NewReader("[]"), "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
	if e.file(t) != before {
		t.Fatal("file changed after failed replace")
	}

	n, err := e.svc.Replace(ctx, strings.NewReader(string(testutil.Collection(t, "x", "y", "z"))), e.svc.Checksum())
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if n != 3 {
		t.Errorf("notes = %d, want 3", n)
	}
	filtered, _ := e.svc.Filter(ctx, "old")
	if len(filtered) != 0 {
		t.Error("old note survived replace")
	}
}

func TestSnapshotsAndRestore(t *testing.T) {
	snaps := snapshot.Open(t.TempDir())
	e := newEnv(t, WithSnapshots(snaps, 2))
	ctx := context.Background()

	e.create(t, "one", nil)
	afterOne := e.file(t)
	e.create(t, "two", nil)
	e.create(t, "three", nil)

	list, err := e.svc.Snapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("snapshots = %d, want 2 after pruning", len(list))
	}
	data, _ := snaps.Read(list[0].Key)
	if string(data) != afterOne {
		t.Errorf("oldest kept snapshot = %s", data)
	}

	n, err := e.svc.Restore(ctx, list[0].Key)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if n != 1 || e.file(t) != afterOne {
		t.Errorf("restored %d notes, file = %s", n, e.file(t))
	}
	if _, err := e.svc.Restore(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.create(t, "mine", nil)

	changed, err := e.svc.Reload(ctx)
	if err != nil || changed {
		t.Fatalf("Reload own write = %v, %v", changed, err)
	}

	if err := e.store.Write(name, testutil.Collection(t, "theirs", "more")); err != nil {
		t.Fatal(err)
	}
	changed, err = e.svc.Reload(ctx)
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v", changed, err)
	}
	got, _ := e.svc.GetNote(ctx, 1)
	if got.Body != "theirs" {
		t.Errorf("note 1 = %+v", got)
	}

	_ = e.store.Write(name, []byte(`[{"id": 1}]`))
	if _, err := e.svc.Reload(ctx); err == nil {
		t.Fatal("expected a load error")
	}
	got, _ = e.svc.GetNote(ctx, 2)
	if got == nil || got.Body != "more" {
		t.Errorf("live tree lost after bad reload: %+v", got)
	}
}

// gatedStore holds the next Read after returning its data until release
// is closed.
type gatedStore struct {
	storage.Provider
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (g *gatedStore) Read(path string) ([]byte, error) {
	data, err := g.Provider.Read(path)
	if g.armed.CompareAndSwap(true, false) {
		close(g.read)
		<-g.release
	}
	return data, err
}

func TestReloadDoesNotRevertConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	_, fsStore := testutil.TestDataDir(t)
	store := &gatedStore{Provider: fsStore, read: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(store, testutil.TestDB(t), name,
		WithClock(testutil.Clock()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := svc.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := svc.CreateNote(ctx, models.NewNote{Body: "first"}); err != nil {
		t.Fatal(err)
	}

	store.armed.Store(true)
	reloaded := make(chan error, 1)
	go func() {
		_, err := svc.Reload(ctx)
		reloaded <- err
	}()
	<-store.read

	created := make(chan error, 1)
	go func() {
		_, err := svc.CreateNote(ctx, models.NewNote{Body: "second"})
		created <- err
	}()
	select {
	case err := <-created:
		t.Fatalf("CreateNote finished while Reload held the file: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)
	if err := <-reloaded; err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if err := <-created; err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	if _, err := svc.CreateNote(ctx, models.NewNote{Body: "third"}); err != nil {
		t.Fatal(err)
	}
	data, err := fsStore.Read(name)
	if err != nil {
		t.Fatal(err)
	}
	for _, body := range []string{"first", "second", "third"} {
		if !strings.Contains(string(data), `"`+body+`"`) {
			t.Errorf("%q missing from collection file:\n%s", body, data)
		}
	}
}

func TestOpenExisting(t *testing.T) {
	_, store := testutil.TestDataDir(t)
	if err := store.Write(name, testutil.Collection(t, "kept")); err != nil {
		t.Fatal(err)
	}
	svc := NewService(store, testutil.TestDB(t), name)
	if err := svc.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := svc.GetNote(context.Background(), 1)
	if err != nil || got.Body != "kept" {
		t.Errorf("GetNote = %+v, %v", got, err)
	}

	_ = store.Write("bad.json", []byte(`[{"id": 1}]`))
	bad := NewService(store, testutil.TestDB(t), "bad.json")
	if err := bad.Open(context.Background()); err == nil {
		t.Error("expected an error opening a corrupt collection")
	}
	if _, err := bad.GetNote(context.Background(), 1); !errors.Is(err, errNotOpen) {
		t.Errorf("err = %v, want errNotOpen", err)
	}
}

func TestInlineTags(t *testing.T) {
	e := newEnv(t, WithInlineTags(true))
	n := e.create(t, "call bob #todo #work/phone", nil, "manual")
	want := []string{"manual", "todo", "work/phone"}
	if strings.Join(n.Tags, ",") != strings.Join(want, ",") {
		t.Errorf("tags = %v, want %v", n.Tags, want)
	}
}

func indexQuery(sort string, limit int) index.ListQuery {
	return index.ListQuery{Sort: sort, Limit: limit}
}

func TestExportHotlist(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.create(t, "Trip\nsummer", nil)
	e.create(t, "tickets", &a.ID)
	e.create(t, "loose", nil)

	var buf strings.Builder
	if err := e.svc.ExportHotlist(ctx, &buf); err != nil {
		t.Fatalf("ExportHotlist: %v", err)
	}
	back, err := hotlist.Import(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	var got []string
	back.Walk(func(nid tree.NodeID, depth int) bool {
		got = append(got, strings.Repeat(">", depth)+back.Note(nid).Body)
		return true
	})
	want := []string{"Trip\nsummer", ">tickets", "loose"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("round trip = %q, want %q", got, want)
	}
}
