package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"plangate/internal/plan"
)

func archivablePlan(t *testing.T) *plan.Plan {
	t.Helper()
	p := plan.New("sess_arch", "Release v2: final!")
	for _, task := range []string{"Create the login page", "Write tests"} {
		if _, err := p.Append(task); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	p.Complete(1)
	return p
}

func TestArchive_WritesRecord(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, 0)

	path, err := a.Archive(archivablePlan(t), "allowed")
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "plan_") || !strings.HasSuffix(base, "_release-v2-final.json") {
		t.Fatalf("filename=%q", base)
	}

	rec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.SessionID != "sess_arch" || rec.Outcome != "allowed" {
		t.Fatalf("rec=%+v", rec)
	}
	if rec.ItemsTotal != 2 || rec.ItemsCompleted != 1 {
		t.Fatalf("stats: total=%d completed=%d", rec.ItemsTotal, rec.ItemsCompleted)
	}
	if len(rec.Items) != 2 || !rec.Items[0].Done() {
		t.Fatalf("items=%+v", rec.Items)
	}

	// no leftover temp file
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestArchive_EmptyPlanSkipped(t *testing.T) {
	a := New(t.TempDir(), 0)
	path, err := a.Archive(nil, "allowed")
	if err != nil || path != "" {
		t.Fatalf("path=%q err=%v", path, err)
	}
	path, err = a.Archive(plan.New("sess", "empty"), "allowed")
	if err != nil || path != "" {
		t.Fatalf("path=%q err=%v", path, err)
	}
}

func TestPrune_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, 3)

	// fabricate archives with increasing timestamps in the name
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("plan_20260101_00000%d_p.json", i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	// non-archive files are untouched
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := a.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed=%d, want 2", removed)
	}

	paths, err := a.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("remaining=%d, want 3", len(paths))
	}
	// newest first
	if !strings.HasSuffix(paths[0], "000004_p.json") {
		t.Fatalf("paths[0]=%q", paths[0])
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestPrune_MissingDir(t *testing.T) {
	a := New(filepath.Join(t.TempDir(), "nope"), 3)
	removed, err := a.Prune()
	if err != nil || removed != 0 {
		t.Fatalf("removed=%d err=%v", removed, err)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Release v2: final!", "release-v2-final"},
		{"  ", "unnamed"},
		{"---", "unnamed"},
		{"Fix DB migration", "fix-db-migration"},
	}
	for _, tt := range tests {
		if got := safeName(tt.in); got != tt.want {
			t.Errorf("safeName(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}
