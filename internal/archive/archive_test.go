package archive_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"safeboard/internal/archive"
	"safeboard/internal/board"
)

// testArchive runs the behaviour every Archive variant shares.
func testArchive(t *testing.T, a board.Archive) {
	t.Helper()
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		body := `{"recordDays":7}`
		if err := a.Put(ctx, "snapshot-b.json", strings.NewReader(body), int64(len(body))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		var got bytes.Buffer
		if err := a.Get(ctx, "snapshot-b.json", &got); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.String() != body {
			t.Errorf("Get() = %q, want %q", got.String(), body)
		}
	})

	t.Run("objects are written once", func(t *testing.T) {
		if err := a.Put(ctx, "snapshot-b.json", strings.NewReader("x"), 1); err == nil {
			t.Error("overwriting an object should fail")
		}
	})

	t.Run("size mismatch", func(t *testing.T) {
		if err := a.Put(ctx, "snapshot-c.json", strings.NewReader("short"), 100); err == nil {
			t.Error("expected size mismatch error")
		}
	})

	t.Run("invalid names", func(t *testing.T) {
		for _, name := range []string{"", ".hidden", "../escape", `a\b`} {
			if err := a.Put(ctx, name, strings.NewReader("x"), 1); err == nil {
				t.Errorf("Put(%q) should fail", name)
			}
		}
	})

	t.Run("missing object", func(t *testing.T) {
		var buf bytes.Buffer
		if err := a.Get(ctx, "snapshot-missing.json", &buf); err == nil {
			t.Error("expected not found error")
		}
	})

	t.Run("list is sorted", func(t *testing.T) {
		a.Put(ctx, "snapshot-a.json", strings.NewReader("{}"), 2)
		got, err := a.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		want := []string{"snapshot-a.json", "snapshot-b.json"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("List() = %v, want %v", got, want)
		}
	})
}

func TestMemoryArchive(t *testing.T) {
	testArchive(t, archive.NewMemoryArchive("test"))
}

func TestFileSystemArchive(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive")
	a, err := archive.NewFileSystemArchive("test", root)
	if err != nil {
		t.Fatalf("NewFileSystemArchive() error = %v", err)
	}
	testArchive(t, a)

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, _ := os.ReadDir(root)
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".tmp-") {
				t.Errorf("leftover temp file %s", e.Name())
			}
		}
	})
}
