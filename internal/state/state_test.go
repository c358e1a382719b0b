package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/riverlevels/riverlevels/internal/atomicfile"
	"github.com/riverlevels/riverlevels/internal/monitor"
)

func sampleMap() Map {
	m := Map{}
	m.Put("1503TH.Downstream Stage", monitor.Baseline(1.0, "2019-01-01T00:00:00Z"))
	m.Put("1491TH.Stage", monitor.Baseline(2.345, "2019-01-02T12:15:00Z"))
	return m
}

func assertSameBaselines(t *testing.T, got, want Map) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("entries: got %d, want %d", len(got), len(want))
	}
	for k := range want {
		if got.Get(k) != want.Get(k) {
			t.Errorf("%s: got %+v, want %+v", k, got.Get(k), want.Get(k))
		}
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "riverlevels.save"))

	want := sampleMap()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assertSameBaselines(t, got, want)
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent.save"))
	m, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(m) != 0 {
		t.Errorf("entries: got %d, want 0", len(m))
	}
}

func TestFileStore_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.save")
	if err := os.WriteFile(path, []byte(`{"x": `), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFileStore_Format(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riverlevels.save")
	s := NewFileStore(path)
	m := Map{}
	m.Put("b.Stage", monitor.Baseline(1.5, "2019-01-01T00:00:00Z"))
	m.Put("a.Stage", monitor.Baseline(0.25, "2019-01-01T00:15:00Z"))
	if err := s.Save(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `{
  "a.Stage": {
    "alert_date": "2019-01-01T00:15:00Z",
    "alert_level": 0.25
  },
  "b.Stage": {
    "alert_date": "2019-01-01T00:00:00Z",
    "alert_level": 1.5
  }
}
`
	if string(got) != want {
		t.Errorf("file content:\n%s\nwant:\n%s", got, want)
	}
}

func TestFileStore_ReadsNullEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riverlevels.save")
	content := `{"X.Stage": {"alert_date": null, "alert_level": null},
 "Y.Stage": {"alert_date": "2019-01-01T00:00:00Z", "alert_level": 1.0}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m.Get("X.Stage").Observed {
		t.Error("null entry must load as unobserved")
	}
	if got := m.Get("Y.Stage"); got != monitor.Baseline(1.0, "2019-01-01T00:00:00Z") {
		t.Errorf("Y.Stage: got %+v", got)
	}
}

func TestFileStore_LeftoverTempFileIgnored(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "riverlevels.save")
	s := NewFileStore(path)

	want := sampleMap()
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	// A crash after writing the staging file but before the rename.
	if err := os.WriteFile(path+atomicfile.TempSuffix, []byte(`{"1503TH.Downstream Stage": {"alert_le`), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() after interrupted save error = %v", err)
	}
	assertSameBaselines(t, got, want)

	// The next save overwrites the stale staging file.
	want.Put("1491TH.Stage", monitor.Baseline(2.9, "2019-01-03T00:00:00Z"))
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() over stale temp error = %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSameBaselines(t, got, want)
}

func TestMap_PutIgnoresUnobserved(t *testing.T) {
	m := sampleMap()
	m.Put("1491TH.Stage", monitor.AlertState{})
	if !m.Get("1491TH.Stage").Observed {
		t.Error("unobserved Put replaced an existing baseline")
	}
	m.Put("new.Stage", monitor.AlertState{})
	if _, ok := m["new.Stage"]; ok {
		t.Error("unobserved Put created an entry")
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	want := sampleMap()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Update one key in place.
	want.Put("1491TH.Stage", monitor.Baseline(2.0, "2019-01-05T00:00:00Z"))
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assertSameBaselines(t, got, want)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("json", filepath.Join(dir, "a.save"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("json backend: got %T", s)
	}

	s, err = Open("sqlite", filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Errorf("sqlite backend: got %T", s)
	}

	if _, err := Open("redis", "x"); err == nil {
		t.Error("expected error for unknown backend")
	}
}
