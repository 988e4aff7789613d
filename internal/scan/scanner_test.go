package scan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dagback/internal/core"
	"dagback/internal/fswalk"
	"dagback/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScanFreshTreeDiscoversAllEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bb"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openTestStore(t)
	fc := s.FilesCache()
	fm := fswalk.New(root, nil)
	scanner := New(fm, fc)
	ctx := context.Background()

	if err := scanner.Scan(ctx, "test-set", root); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	rootEntry, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry: %v", err)
	}
	if rootEntry.StMode == nil {
		t.Fatalf("expected root to have been statted")
	}

	children, err := fc.Children(ctx, rootEntry.ID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 root children, got %d", len(children))
	}

	var subEntry *core.FSEntry
	for _, c := range children {
		if c.Name == "sub" {
			subEntry = c
		}
	}
	if subEntry == nil {
		t.Fatalf("expected to find sub directory entry")
	}
	subChildren, err := fc.Children(ctx, subEntry.ID)
	if err != nil {
		t.Fatalf("Children(sub): %v", err)
	}
	if len(subChildren) != 1 {
		t.Fatalf("expected 1 child under sub, got %d", len(subChildren))
	}
}

func TestScanSecondRunWithNoChangesLeavesNewFlagClear(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openTestStore(t)
	fc := s.FilesCache()
	fm := fswalk.New(root, nil)
	scanner := New(fm, fc)
	ctx := context.Background()

	if err := scanner.Scan(ctx, "test-set", root); err != nil {
		t.Fatalf("first Scan: %v", err)
	}
	if err := scanner.Scan(ctx, "test-set", root); err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	dirty, err := fc.SelectDirty(ctx, "test-set", false)
	if err != nil {
		t.Fatalf("SelectDirty: %v", err)
	}
	if len(dirty) != 0 {
		t.Fatalf("expected no new_flag rows remaining after steady-state scan, got %d", len(dirty))
	}
}

func TestScanDetectsDeletedFile(t *testing.T) {
	root := t.TempDir()
	filePath := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(filePath, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openTestStore(t)
	fc := s.FilesCache()
	fm := fswalk.New(root, nil)
	scanner := New(fm, fc)
	ctx := context.Background()

	if err := scanner.Scan(ctx, "test-set", root); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	if err := os.Remove(filePath); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// Force the directory's mtime to change so the scanner re-lists it.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(root, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if err := scanner.Scan(ctx, "test-set", root); err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	rootEntry, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry: %v", err)
	}
	children, err := fc.Children(ctx, rootEntry.ID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected deleted file to be removed from cache, got %d children", len(children))
	}
}

func TestScanInvalidatesAncestorsOnLeafChange(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub")
	if err := os.Mkdir(subdir, 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	leafPath := filepath.Join(subdir, "leaf.txt")
	if err := os.WriteFile(leafPath, []byte("v1"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := openTestStore(t)
	fc := s.FilesCache()
	fm := fswalk.New(root, nil)
	scanner := New(fm, fc)
	ctx := context.Background()

	if err := scanner.Scan(ctx, "test-set", root); err != nil {
		t.Fatalf("first Scan: %v", err)
	}

	rootEntry, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry: %v", err)
	}
	subChildren, _ := fc.Children(ctx, rootEntry.ID)
	subEntry := subChildren[0]
	leafChildren, _ := fc.Children(ctx, subEntry.ID)
	leafEntry := leafChildren[0]

	rootOID := core.OID{1}
	subOID := core.OID{2}
	leafOID := core.OID{3}
	if err := fc.SetObjID(ctx, rootEntry.ID, rootOID); err != nil {
		t.Fatalf("SetObjID root: %v", err)
	}
	if err := fc.SetObjID(ctx, subEntry.ID, subOID); err != nil {
		t.Fatalf("SetObjID sub: %v", err)
	}
	if err := fc.SetObjID(ctx, leafEntry.ID, leafOID); err != nil {
		t.Fatalf("SetObjID leaf: %v", err)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(leafPath, []byte("v2 longer content"), 0644); err != nil {
		t.Fatalf("rewriting leaf: %v", err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(subdir, future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	if err := scanner.Scan(ctx, "test-set", root); err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	rootAfter, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry after: %v", err)
	}
	if rootAfter.ObjID != nil {
		t.Fatalf("expected root obj_id invalidated after leaf change")
	}
}
