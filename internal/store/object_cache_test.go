package store

import (
	"context"
	"testing"

	"dagback/internal/core"
)

func TestObjectCacheRecordAndExists(t *testing.T) {
	s := openTestStore(t)
	oc := s.ObjectCache()
	ctx := context.Background()

	oid := core.OID{1}
	exists, err := oc.Exists(ctx, oid)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatalf("expected object to not yet exist")
	}

	if err := oc.Record(ctx, oid, core.KindBlob, 100, 40, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	exists, err = oc.Exists(ctx, oid)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected object to exist after Record")
	}
}

func TestObjectCacheRecordIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	oc := s.ObjectCache()
	ctx := context.Background()
	oid := core.OID{2}

	if err := oc.Record(ctx, oid, core.KindBlob, 10, 5, nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := oc.Record(ctx, oid, core.KindBlob, 10, 5, nil); err != nil {
		t.Fatalf("Record (repeat): %v", err)
	}
}

func TestObjectCacheChildrenAndParents(t *testing.T) {
	s := openTestStore(t)
	oc := s.ObjectCache()
	ctx := context.Background()

	blobOID := core.OID{3}
	treeOID := core.OID{4}

	if err := oc.Record(ctx, blobOID, core.KindBlob, 10, 5, nil); err != nil {
		t.Fatalf("Record blob: %v", err)
	}
	if err := oc.Record(ctx, treeOID, core.KindTree, 20, 10, []core.OID{blobOID}); err != nil {
		t.Fatalf("Record tree: %v", err)
	}

	var children []core.OID
	if err := oc.Children(ctx, treeOID, func(c core.OID) error {
		children = append(children, c)
		return nil
	}); err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 1 || children[0] != blobOID {
		t.Fatalf("expected [blobOID], got %v", children)
	}

	var parents []core.OID
	if err := oc.Parents(ctx, blobOID, func(p core.OID) error {
		parents = append(parents, p)
		return nil
	}); err != nil {
		t.Fatalf("Parents: %v", err)
	}
	if len(parents) != 1 || parents[0] != treeOID {
		t.Fatalf("expected [treeOID], got %v", parents)
	}
}

func TestObjectCacheIterAll(t *testing.T) {
	s := openTestStore(t)
	oc := s.ObjectCache()
	ctx := context.Background()

	want := map[core.OID]bool{{5}: true, {6}: true, {7}: true}
	for oid := range want {
		if err := oc.Record(ctx, oid, core.KindBlob, 1, 1, nil); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got := make(map[core.OID]bool)
	if err := oc.IterAll(ctx, func(oid core.OID) error {
		got[oid] = true
		return nil
	}); err != nil {
		t.Fatalf("IterAll: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d objects, got %d", len(want), len(got))
	}
}

func TestObjectCacheDeleteRemovesEdges(t *testing.T) {
	s := openTestStore(t)
	oc := s.ObjectCache()
	ctx := context.Background()

	blobOID := core.OID{8}
	treeOID := core.OID{9}
	if err := oc.Record(ctx, blobOID, core.KindBlob, 1, 1, nil); err != nil {
		t.Fatalf("Record blob: %v", err)
	}
	if err := oc.Record(ctx, treeOID, core.KindTree, 1, 1, []core.OID{blobOID}); err != nil {
		t.Fatalf("Record tree: %v", err)
	}

	if err := oc.Delete(ctx, blobOID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var children []core.OID
	if err := oc.Children(ctx, treeOID, func(c core.OID) error {
		children = append(children, c)
		return nil
	}); err != nil {
		t.Fatalf("Children: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected no children after deleting blob, got %v", children)
	}
}
