package note

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func validDict() map[string]any {
	return map[string]any{
		"body":        "Y",
		"tags":        []any{"a", "b", "c"},
		"created_at":  "2013-06-16T00:00:00.000000",
		"modified_at": "2013-07-16T00:00:00.000000",
		"id":          int64(1),
	}
}

func TestNew_UsesClock(t *testing.T) {
	now := time.Date(2013, 6, 16, 12, 0, 0, 123456789, time.UTC)
	n := New(fixedClock(now), "body", "a", "b")
	if n.HasID() {
		t.Error("new note should have no id")
	}
	want := time.Date(2013, 6, 16, 12, 0, 0, 123456000, time.UTC)
	if !n.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", n.CreatedAt, want)
	}
	if !n.ModifiedAt.Equal(n.CreatedAt) {
		t.Errorf("modified_at = %v, want created_at", n.ModifiedAt)
	}
	if !reflect.DeepEqual(n.Tags, []string{"a", "b"}) {
		t.Errorf("tags = %v", n.Tags)
	}
}

func TestNew_DefaultsToEmpty(t *testing.T) {
	n := New(nil, "")
	if n.Body != "" || len(n.Tags) != 0 || n.ID != nil {
		t.Errorf("unexpected defaults: %v", n)
	}
}

func TestToDict(t *testing.T) {
	n := &Note{
		Body:       "Y",
		Tags:       []string{"a", "b", "c"},
		CreatedAt:  time.Date(2013, 6, 16, 0, 0, 0, 0, time.UTC),
		ModifiedAt: time.Date(2013, 7, 16, 0, 0, 0, 0, time.UTC),
	}
	n.SetID(666)
	d := n.ToDict()

	if d["body"] != "Y" {
		t.Errorf("body = %v", d["body"])
	}
	if !reflect.DeepEqual(d["tags"], []string{"a", "b", "c"}) {
		t.Errorf("tags = %v", d["tags"])
	}
	if d["created_at"] != "2013-06-16T00:00:00.000000" {
		t.Errorf("created_at = %v", d["created_at"])
	}
	if d["modified_at"] != "2013-07-16T00:00:00.000000" {
		t.Errorf("modified_at = %v", d["modified_at"])
	}
	if d["id"] != int64(666) {
		t.Errorf("id = %v", d["id"])
	}
}

func TestToDict_NilID(t *testing.T) {
	d := New(nil, "x").ToDict()
	if v, ok := d["id"]; !ok || v != nil {
		t.Errorf("id = %v (present=%v), want explicit nil", v, ok)
	}
}

func TestFromDict(t *testing.T) {
	d := validDict()
	d["id"] = nil
	n, err := FromDict(d)
	if err != nil {
		t.Fatalf("FromDict: %v", err)
	}
	if n.Body != "Y" || !reflect.DeepEqual(n.Tags, []string{"a", "b", "c"}) {
		t.Errorf("unexpected note: %v", n)
	}
	if !n.CreatedAt.Equal(time.Date(2013, 6, 16, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("created_at = %v", n.CreatedAt)
	}
	if !n.ModifiedAt.Equal(time.Date(2013, 7, 16, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("modified_at = %v", n.ModifiedAt)
	}
	if n.ID != nil {
		t.Errorf("id = %v, want nil", *n.ID)
	}
}

func TestFromDict_MissingProperties(t *testing.T) {
	for key := range validDict() {
		d := validDict()
		delete(d, key)
		_, err := FromDict(d)
		if !errors.Is(err, ErrMissingProperties) {
			t.Errorf("without %q: err = %v, want ErrMissingProperties", key, err)
			continue
		}
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name %q", err, key)
		}
	}
}

func TestFromDict_IgnoresExtraProperties(t *testing.T) {
	d := validDict()
	d["foo"] = "bar"
	if _, err := FromDict(d); err != nil {
		t.Fatalf("FromDict: %v", err)
	}
}

func TestFromDict_InvalidTagCharacter(t *testing.T) {
	d := validDict()
	d["tags"] = []any{"a", "b", "c,d,e"}
	if _, err := FromDict(d); !errors.Is(err, ErrInvalidTagCharacter) {
		t.Errorf("err = %v, want ErrInvalidTagCharacter", err)
	}
}

func TestFromDict_DuplicateTag(t *testing.T) {
	d := validDict()
	d["tags"] = []any{"a", "a"}
	if _, err := FromDict(d); !errors.Is(err, ErrDuplicateTag) {
		t.Errorf("err = %v, want ErrDuplicateTag", err)
	}
}

func TestFromDict_WrongAttributeType(t *testing.T) {
	samples := []struct {
		field string
		value any
	}{
		{"body", 1},
		{"body", nil},
		{"tags", map[string]any{}},
		{"tags", "a, b"},
		{"tags", []any{1, 2, 3}},
		{"tags", []int{1}},
		{"created_at", 1234567890},
		{"created_at", time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"modified_at", 1234567890},
		{"id", "10"},
		{"id", []any{}},
		{"id", 1.5},
		{"id", json.Number("1e400")},
	}
	for _, s := range samples {
		d := validDict()
		d[s.field] = s.value
		_, err := FromDict(d)
		if !errors.Is(err, ErrWrongAttributeType) {
			t.Errorf("%s=%#v: err = %v, want ErrWrongAttributeType", s.field, s.value, err)
			continue
		}
		if !strings.Contains(err.Error(), s.field) {
			t.Errorf("error %q does not name field %q", err, s.field)
		}
	}
}

func TestFromDict_AcceptsJSONNumbers(t *testing.T) {
	for _, v := range []any{int(7), float64(7), json.Number("7")} {
		d := validDict()
		d["id"] = v
		n, err := FromDict(d)
		if err != nil {
			t.Fatalf("id=%#v: %v", v, err)
		}
		if n.ID == nil || *n.ID != 7 {
			t.Errorf("id=%#v decoded as %v", v, n.ID)
		}
	}
}

func TestDecodeID_FloatRange(t *testing.T) {
	for _, v := range []float64{1 << 63, math.MaxInt64, math.Inf(1), math.Inf(-1), math.NaN()} {
		if id, err := DecodeID("id", v); !errors.Is(err, ErrWrongAttributeType) {
			t.Errorf("DecodeID(%v) = %v, %v, want ErrWrongAttributeType", v, id, err)
		}
	}
	for _, v := range []float64{-1 << 63, 1 << 62, -1} {
		id, err := DecodeID("id", v)
		if err != nil {
			t.Fatalf("DecodeID(%v): %v", v, err)
		}
		if *id != int64(v) {
			t.Errorf("DecodeID(%v) = %d", v, *id)
		}
	}
}

func TestFromDict_InvalidTimestamps(t *testing.T) {
	bad := []string{
		"",
		"2013-07-26",
		"13:37:11.123456",
		"2013-07-26 13:37:11.123456",
		"2013-07-26T13:37:11",
		"date",
		"      2013-07-26T13:37:11.123456      ",
	}
	for _, s := range bad {
		d := validDict()
		d["created_at"] = s
		if _, err := FromDict(d); !errors.Is(err, ErrInvalidTimestamp) {
			t.Errorf("created_at=%q: err = %v, want ErrInvalidTimestamp", s, err)
		}
	}

	d := validDict()
	d["created_at"], d["modified_at"] = d["modified_at"], d["created_at"]
	if _, err := FromDict(d); !errors.Is(err, ErrInvalidTimestamps) {
		t.Errorf("reversed timestamps: err = %v, want ErrInvalidTimestamps", err)
	}
}

func TestTimestamp_KeepsZeroMicroseconds(t *testing.T) {
	ts := time.Date(2013, 7, 26, 13, 37, 11, 0, time.UTC)
	s := FormatTimestamp(ts)
	if s != "2013-07-26T13:37:11.000000" {
		t.Fatalf("FormatTimestamp = %q", s)
	}
	got, err := ParseTimestamp(s)
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}
	if got, _ := ParseTimestamp("2013-07-26T13:37:11.123456"); got.Nanosecond() != 123456000 {
		t.Errorf("microseconds lost: %v", got)
	}
}

func TestTouch(t *testing.T) {
	created := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	n := New(fixedClock(created), "x")
	n.Touch(fixedClock(created.Add(time.Hour)))
	if !n.ModifiedAt.Equal(created.Add(time.Hour)) {
		t.Errorf("modified_at = %v", n.ModifiedAt)
	}
	n.Touch(fixedClock(created.Add(-time.Hour)))
	if n.ModifiedAt.Before(n.CreatedAt) {
		t.Error("modified_at moved before created_at")
	}
}

func TestClone(t *testing.T) {
	n := New(nil, "x", "a")
	n.SetID(3)
	c := n.Clone()
	c.Tags[0] = "changed"
	*c.ID = 4
	if n.Tags[0] != "a" || *n.ID != 3 {
		t.Error("clone shares state with original")
	}
	if c == n {
		t.Error("clone must be a distinct note")
	}
}

func TestRoundTrip_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		micros := rapid.Int64Range(0, 4102444800000000).Draw(t, "created")
		created := time.UnixMicro(micros).UTC()
		if rapid.Bool().Draw(t, "wholeSecond") {
			created = created.Truncate(time.Second)
		}
		delta := time.Duration(rapid.Int64Range(0, 1<<40).Draw(t, "delta")) * time.Microsecond
		tagList := rapid.SliceOfDistinct(
			rapid.StringMatching(`[a-z0-9 /_-]{1,12}`),
			func(s string) string { return s },
		).Draw(t, "tags")

		n := &Note{
			Body:       rapid.String().Draw(t, "body"),
			Tags:       tagList,
			CreatedAt:  created,
			ModifiedAt: created.Add(delta),
		}
		if rapid.Bool().Draw(t, "hasID") {
			n.SetID(rapid.Int64().Draw(t, "id"))
		}

		back, err := FromDict(n.ToDict())
		if err != nil {
			t.Fatalf("FromDict: %v", err)
		}
		if !reflect.DeepEqual(back.ToDict(), n.ToDict()) {
			t.Fatalf("round trip mismatch:\n got %v\nwant %v", back.ToDict(), n.ToDict())
		}
		if !back.CreatedAt.Equal(n.CreatedAt) || !back.ModifiedAt.Equal(n.ModifiedAt) {
			t.Fatalf("timestamps changed: %v/%v vs %v/%v", back.CreatedAt, back.ModifiedAt, n.CreatedAt, n.ModifiedAt)
		}
	})
}
