package walker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dagback/internal/backend"
	"dagback/internal/core"
	"dagback/internal/fswalk"
	"dagback/internal/objcodec"
	"dagback/internal/scan"
	"dagback/internal/store"
)

// plaintextCrypto is a deterministic, unauthenticated stand-in for
// core.CryptoProvider: it "seals" by copying bytes through unchanged, so
// walker tests don't depend on age key setup.
type plaintextCrypto struct{}

func (plaintextCrypto) MAC(plaintext []byte) core.OID { return sha256.Sum256(plaintext) }

func (plaintextCrypto) Seal(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func (plaintextCrypto) Unlock(passphrase string) (core.Decryptor, error) {
	return plaintextDecryptor{}, nil
}

type plaintextDecryptor struct{}

func (plaintextDecryptor) Open(r io.Reader, w io.Writer) error {
	_, err := io.Copy(w, r)
	return err
}

func setupWalkTest(t *testing.T, root string) (*Walker, core.FilesCache, core.Backend) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fc := s.FilesCache()
	oc := s.ObjectCache()
	fm := fswalk.New(root, nil)
	be := backend.NewMemoryBackend()

	scanner := scan.New(fm, fc)
	if err := scanner.Scan(context.Background(), "test-set", root); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	w := New(fc, oc, fm, plaintextCrypto{}, be, core.NewNopLogger(), core.RealClock{}, Config{
		ChunkSize:         10,
		MinChunkable:      5,
		UploadConcurrency: 2,
	})
	return w, fc, be
}

func TestWalkFreshBackupProducesTreeAndObjects(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, fc, be := setupWalkTest(t, root)
	ctx := context.Background()

	rootEntry, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry: %v", err)
	}

	oid, err := w.Walk(ctx, rootEntry)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	var got bytes.Buffer
	if err := be.Get(ctx, core.ObjectKey(oid), &got); err != nil {
		t.Fatalf("Get root tree object: %v", err)
	}
	plaintext, err := objcodec.Unframe(got.Bytes(), plaintextDecryptor{}.Open)
	if err != nil {
		t.Fatalf("Unframe: %v", err)
	}
	kind, decoded, err := objcodec.Decode(plaintext)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if kind != core.KindTree {
		t.Fatalf("expected root object to be a tree, got %v", kind)
	}
	tree := decoded.(*objcodec.Tree)
	if len(tree.Entries) != 1 || tree.Entries[0].Name != "a.txt" {
		t.Fatalf("unexpected tree entries: %+v", tree.Entries)
	}

	updated, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry after walk: %v", err)
	}
	if updated.ObjID == nil || *updated.ObjID != oid {
		t.Fatalf("expected root FSEntry.ObjID to be set to the returned OID")
	}
}

func TestWalkSkipsAlreadyBackedUpEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, fc, _ := setupWalkTest(t, root)
	ctx := context.Background()

	rootEntry, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry: %v", err)
	}
	if _, err := w.Walk(ctx, rootEntry); err != nil {
		t.Fatalf("first Walk: %v", err)
	}

	rootAfter, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry after: %v", err)
	}
	if rootAfter.ObjID == nil {
		t.Fatalf("expected root obj_id to be set after walk")
	}

	oid2, err := w.Walk(ctx, rootAfter)
	if err != nil {
		t.Fatalf("second Walk: %v", err)
	}
	if oid2 != *rootAfter.ObjID {
		t.Fatalf("expected repeated walk to return the cached obj_id")
	}
}

func TestWalkDedupesIdenticalContentUnderDifferentNames(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "dir1"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "dir2"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	content := []byte("identical payload shared by two files")
	if err := os.WriteFile(filepath.Join(root, "dir1", "one.txt"), content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "dir2", "two.txt"), content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, fc, be := setupWalkTest(t, root)
	ctx := context.Background()

	rootEntry, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry: %v", err)
	}
	if _, err := w.Walk(ctx, rootEntry); err != nil {
		t.Fatalf("Walk: %v", err)
	}

	children, err := fc.Children(ctx, rootEntry.ID)
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 root children, got %d", len(children))
	}

	// Inode OIDs differ across the two files (distinct inode numbers and
	// mtimes), but the underlying blob they reference must be identical
	// since the file contents are byte-for-byte the same.
	var blobOIDs []core.OID
	for _, dirEntry := range children {
		grandchildren, err := fc.Children(ctx, dirEntry.ID)
		if err != nil {
			t.Fatalf("Children(%s): %v", dirEntry.Name, err)
		}
		if len(grandchildren) != 1 {
			t.Fatalf("expected 1 file under %s, got %d", dirEntry.Name, len(grandchildren))
		}
		fileEntry := grandchildren[0]
		if fileEntry.ObjID == nil {
			t.Fatalf("expected file under %s to have an obj_id", dirEntry.Name)
		}

		var buf bytes.Buffer
		if err := be.Get(ctx, core.ObjectKey(*fileEntry.ObjID), &buf); err != nil {
			t.Fatalf("Get inode object for %s: %v", dirEntry.Name, err)
		}
		plaintext, err := objcodec.Unframe(buf.Bytes(), plaintextDecryptor{}.Open)
		if err != nil {
			t.Fatalf("Unframe inode for %s: %v", dirEntry.Name, err)
		}
		kind, decoded, err := objcodec.Decode(plaintext)
		if err != nil {
			t.Fatalf("Decode inode for %s: %v", dirEntry.Name, err)
		}
		if kind != core.KindInode {
			t.Fatalf("expected inode object under %s, got %v", dirEntry.Name, kind)
		}
		inode := decoded.(*objcodec.Inode)
		if len(inode.Chunks) != 1 {
			t.Fatalf("expected 1 chunk for %s, got %d", dirEntry.Name, len(inode.Chunks))
		}
		blobOIDs = append(blobOIDs, inode.Chunks[0].BlobOID)
	}

	if blobOIDs[0] != blobOIDs[1] {
		t.Fatalf("expected identical file content to produce the same blob OID, got %x and %x", blobOIDs[0], blobOIDs[1])
	}
}

// TestRescanAndWalkPicksUpLeafEditWithoutDirectoryMtimeChange exercises the
// scan -> backup -> edit -> scan -> backup cycle for a plain content edit
// that leaves every directory's mtime untouched. The containing directory's
// stat never changes, so the only path that can mark it dirty is
// InvalidateAncestors walking up from the edited leaf; if that propagation
// were broken, the second backup would keep returning the first backup's
// root OID and silently drop the edit from the snapshot.
func TestRescanAndWalkPicksUpLeafEditWithoutDirectoryMtimeChange(t *testing.T) {
	root := t.TempDir()
	subDir := filepath.Join(root, "sub")
	if err := os.Mkdir(subDir, 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	leafPath := filepath.Join(subDir, "leaf.txt")
	if err := os.WriteFile(leafPath, []byte("version one"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	w, fc, be := setupWalkTest(t, root)
	ctx := context.Background()

	rootEntry, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry: %v", err)
	}
	firstOID, err := w.Walk(ctx, rootEntry)
	if err != nil {
		t.Fatalf("first Walk: %v", err)
	}

	subDirBefore, err := os.Stat(subDir)
	if err != nil {
		t.Fatalf("Stat sub before edit: %v", err)
	}

	if err := os.WriteFile(leafPath, []byte("version two, with different content"), 0644); err != nil {
		t.Fatalf("rewriting leaf: %v", err)
	}
	// Force a distinct mtime on the leaf itself so the scanner's stat
	// comparison sees a change regardless of filesystem time resolution,
	// without touching sub's own mtime.
	newLeafTime := time.Now().Add(time.Hour)
	if err := os.Chtimes(leafPath, newLeafTime, newLeafTime); err != nil {
		t.Fatalf("Chtimes leaf: %v", err)
	}

	subDirAfter, err := os.Stat(subDir)
	if err != nil {
		t.Fatalf("Stat sub after edit: %v", err)
	}
	if !subDirBefore.ModTime().Equal(subDirAfter.ModTime()) {
		t.Fatalf("test setup invalid: sub directory mtime changed, want it untouched")
	}

	scanner := scan.New(fswalk.New(root, nil), fc)
	if err := scanner.Scan(ctx, "test-set", root); err != nil {
		t.Fatalf("second Scan: %v", err)
	}

	rootAfterScan, err := fc.RootEntry(ctx, "test-set", root)
	if err != nil {
		t.Fatalf("RootEntry after second scan: %v", err)
	}
	if rootAfterScan.ObjID != nil {
		t.Fatalf("expected root obj_id to be invalidated after leaf edit")
	}

	secondOID, err := w.Walk(ctx, rootAfterScan)
	if err != nil {
		t.Fatalf("second Walk: %v", err)
	}
	if secondOID == firstOID {
		t.Fatalf("expected leaf edit to change the root tree OID, got %x both times", firstOID)
	}

	rootObj := mustDecodeTree(t, ctx, be, secondOID)
	if len(rootObj.Entries) != 1 || rootObj.Entries[0].Name != "sub" {
		t.Fatalf("unexpected root entries: %+v", rootObj.Entries)
	}
	subTree := mustDecodeTree(t, ctx, be, rootObj.Entries[0].ChildOID)
	if len(subTree.Entries) != 1 || subTree.Entries[0].Name != "leaf.txt" {
		t.Fatalf("unexpected sub entries: %+v", subTree.Entries)
	}

	subChildren, err := fc.Children(ctx, rootAfterScan.ID)
	if err != nil {
		t.Fatalf("Children(root): %v", err)
	}
	leafChildren, err := fc.Children(ctx, subChildren[0].ID)
	if err != nil {
		t.Fatalf("Children(sub): %v", err)
	}
	if len(leafChildren) != 1 || leafChildren[0].ObjID == nil {
		t.Fatalf("expected leaf.txt to have a fresh obj_id, got %+v", leafChildren)
	}

	var inodeBuf bytes.Buffer
	if err := be.Get(ctx, core.ObjectKey(*leafChildren[0].ObjID), &inodeBuf); err != nil {
		t.Fatalf("Get leaf inode: %v", err)
	}
	inodePlaintext, err := objcodec.Unframe(inodeBuf.Bytes(), plaintextDecryptor{}.Open)
	if err != nil {
		t.Fatalf("Unframe leaf inode: %v", err)
	}
	kind, decoded, err := objcodec.Decode(inodePlaintext)
	if err != nil {
		t.Fatalf("Decode leaf inode: %v", err)
	}
	if kind != core.KindInode {
		t.Fatalf("expected inode object, got %v", kind)
	}
	inode := decoded.(*objcodec.Inode)
	if len(inode.Chunks) == 0 {
		t.Fatalf("expected leaf inode to reference at least one chunk")
	}

	var reassembled bytes.Buffer
	for _, chunk := range inode.Chunks {
		var blobBuf bytes.Buffer
		if err := be.Get(ctx, core.ObjectKey(chunk.BlobOID), &blobBuf); err != nil {
			t.Fatalf("Get leaf blob at offset %d: %v", chunk.Offset, err)
		}
		blobPlaintext, err := objcodec.Unframe(blobBuf.Bytes(), plaintextDecryptor{}.Open)
		if err != nil {
			t.Fatalf("Unframe leaf blob at offset %d: %v", chunk.Offset, err)
		}
		blobKind, blobDecoded, err := objcodec.Decode(blobPlaintext)
		if err != nil {
			t.Fatalf("Decode leaf blob at offset %d: %v", chunk.Offset, err)
		}
		if blobKind != core.KindBlob {
			t.Fatalf("expected blob object at offset %d, got %v", chunk.Offset, blobKind)
		}
		reassembled.Write(blobDecoded.(*objcodec.Blob).Data)
	}
	if reassembled.String() != "version two, with different content" {
		t.Fatalf("expected reassembled leaf content to reflect the edit, got %q", reassembled.String())
	}
}

func mustDecodeTree(t *testing.T, ctx context.Context, be core.Backend, oid core.OID) *objcodec.Tree {
	t.Helper()
	var buf bytes.Buffer
	if err := be.Get(ctx, core.ObjectKey(oid), &buf); err != nil {
		t.Fatalf("Get tree %x: %v", oid, err)
	}
	plaintext, err := objcodec.Unframe(buf.Bytes(), plaintextDecryptor{}.Open)
	if err != nil {
		t.Fatalf("Unframe tree %x: %v", oid, err)
	}
	kind, decoded, err := objcodec.Decode(plaintext)
	if err != nil {
		t.Fatalf("Decode tree %x: %v", oid, err)
	}
	if kind != core.KindTree {
		t.Fatalf("expected tree object, got %v", kind)
	}
	return decoded.(*objcodec.Tree)
}
