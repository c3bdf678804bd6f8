package cursor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if v, ok, err := s.Get(ctx); err != nil || ok || v != "" {
		t.Fatalf("fresh store: got (%q, %v, %v), want (\"\", false, nil)", v, ok, err)
	}

	if err := s.Set(ctx, "110000000000000001"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "110000000000000001" {
		t.Errorf("got (%q, %v), want stored id", v, ok)
	}

	if err := s.Set(ctx, "110000000000000002"); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := s.Get(ctx); v != "110000000000000002" {
		t.Errorf("overwrite: got %q", v)
	}

	if err := s.Set(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := s.Get(ctx); err != nil || ok || v != "" {
		t.Errorf("after clear: got (%q, %v, %v)", v, ok, err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory(""))
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, NewFile(filepath.Join(t.TempDir(), "nested", "last_id.txt")))
}

func TestFileStore_BlankFileMeansNoCursor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_id.txt")
	if err := os.WriteFile(path, []byte("  \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, ok, err := NewFile(path).Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected blank file to mean no cursor")
	}
}

func TestFileStore_TrimsTrailingNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_id.txt")
	if err := os.WriteFile(path, []byte("12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	v, ok, err := NewFile(path).Get(context.Background())
	if err != nil || !ok || v != "12345" {
		t.Errorf("got (%q, %v, %v), want (12345, true, nil)", v, ok, err)
	}
}

func TestFileStore_NoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewFile(filepath.Join(dir, "last_id.txt"))
	if err := s.Set(context.Background(), "7"); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "last_id.txt" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cursor.db"), DefaultKey)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cursor.db")

	s, err := OpenSQLite(ctx, path, "bot-a")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(ctx, "99"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = OpenSQLite(ctx, path, "bot-a")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	v, ok, err := s.Get(ctx)
	if err != nil || !ok || v != "99" {
		t.Errorf("got (%q, %v, %v), want (99, true, nil)", v, ok, err)
	}

	other, err := OpenSQLite(ctx, path, "bot-b")
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	if _, ok, _ := other.Get(ctx); ok {
		t.Error("expected keys to be independent")
	}
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("OTOMED_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OTOMED_TEST_REDIS_URL not set")
	}
	s, err := OpenRedis(context.Background(), url, "otomed:test:"+t.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	exerciseStore(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Options{Path: filepath.Join(dir, "last_id.txt")})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*File); !ok {
		t.Errorf("default backend: got %T, want *File", s)
	}

	s, err = Open(ctx, Options{Backend: BackendMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*Memory); !ok {
		t.Errorf("memory backend: got %T", s)
	}

	s, err = Open(ctx, Options{Backend: BackendSQLite, Path: filepath.Join(dir, "c.db")})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := Open(ctx, Options{Backend: "etcd"}); err == nil {
		t.Error("expected error for unknown backend")
	}
	if _, err := Open(ctx, Options{Backend: BackendFile}); err == nil {
		t.Error("expected error for file backend without path")
	}
	if _, err := Open(ctx, Options{Backend: BackendRedis}); err == nil {
		t.Error("expected error for redis backend without url")
	}
}
