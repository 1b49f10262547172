package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/tape/internal/apperr"
)

func steppingClock() func() time.Time {
	now := time.Date(2022, 5, 6, 7, 8, 9, 0, time.UTC)
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func TestSaveListRead(t *testing.T) {
	s := Open(t.TempDir(), WithClock(steppingClock()))
	ctx := context.Background()

	first, err := s.Save("notes.json", []byte("v1"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save("notes.json", []byte("v2")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := s.Save("sub/other.json", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := s.List(ctx, "notes.json")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(list))
	}
	if list[0].Key != first.Key || !list[0].Taken.Before(list[1].Taken) {
		t.Errorf("not oldest first: %+v", list)
	}
	if want := time.Date(2022, 5, 6, 7, 9, 9, 0, time.UTC); !first.Taken.Equal(want) {
		t.Errorf("taken = %v, want %v", first.Taken, want)
	}

	data, err := s.Read(list[1].Key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("data = %q, want v2", data)
	}

	other, _ := s.List(ctx, "sub/other.json")
	if len(other) != 1 || other[0].Collection != "sub/other.json" {
		t.Errorf("other = %+v", other)
	}
}

func TestSameMillisecondStaysOrdered(t *testing.T) {
	fixed := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Open(t.TempDir(), WithClock(func() time.Time { return fixed }))
	for _, v := range []string{"a", "b", "c"} {
		if _, err := s.Save("n.json", []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	list, _ := s.List(context.Background(), "n.json")
	if len(list) != 3 {
		t.Fatalf("snapshots = %d", len(list))
	}
	last, _ := s.Read(list[2].Key)
	if string(last) != "c" {
		t.Errorf("newest = %q, want c", last)
	}
}

func TestReadMissing(t *testing.T) {
	s := Open(t.TempDir())
	if _, err := s.Read("6e2e6a736f6e-01ARZ3NDEKTSV4RRFFQ69G5FAV"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPrune(t *testing.T) {
	s := Open(t.TempDir(), WithClock(steppingClock()))
	ctx := context.Background()
	for _, v := range []string{"1", "2", "3", "4"} {
		_, _ = s.Save("p.json", []byte(v))
	}

	removed, err := s.Prune(ctx, "p.json", 2)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	list, _ := s.List(ctx, "p.json")
	if len(list) != 2 {
		t.Fatalf("left = %d, want 2", len(list))
	}
	oldest, _ := s.Read(list[0].Key)
	if string(oldest) != "3" {
		t.Errorf("oldest kept = %q, want 3", oldest)
	}

	if removed, _ := s.Prune(ctx, "p.json", 0); removed != 0 {
		t.Errorf("keep 0 removed %d", removed)
	}
}
