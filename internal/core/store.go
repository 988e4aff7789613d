package core

import (
	"context"
	"fmt"
)

// ObjectKind identifies which of the three DAG object payloads an Object
// row represents.
type ObjectKind byte

const (
	KindTree  ObjectKind = 't'
	KindInode ObjectKind = 'i'
	KindBlob  ObjectKind = 'b'
)

func (k ObjectKind) String() string {
	switch k {
	case KindTree:
		return "tree"
	case KindInode:
		return "inode"
	case KindBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// FSEntry is a persistent row describing one filesystem path under a
// backup set (spec §3). ObjID is nil when the entry is dirty.
type FSEntry struct {
	ID       int64
	ParentID *int64
	Name     string
	ObjID    *OID
	StMode   *uint32
	StMtime  *int64 // nanoseconds
	StSize   *int64
	NewFlag  bool
}

// Object is a local-cache record asserting "this OID is believed to exist
// in the repository."
type Object struct {
	ObjID            OID
	Kind             ObjectKind
	PayloadLength    int64
	CompressedLength int64
	UploadedAt       int64 // unix nanoseconds
}

// ObjectRelation is a directed DAG edge from a parent object to a child it
// references.
type ObjectRelation struct {
	ParentOID OID
	ChildOID  OID
}

// Snapshot is a named, point-in-time root of a backup set.
type Snapshot struct {
	SnapshotID  int64
	Name        string
	RootPath    string
	RootTreeOID OID
	CreatedAt   int64 // unix nanoseconds
}

// FilesCache is the persistent filesystem entry table consumed by the
// Scanner and Backup Walker.
type FilesCache interface {
	// RootEntry returns the single FSEntry for a backup set's root,
	// creating the row (with null stat columns) if the backup set is
	// new. backupSetName identifies the set; rootPath is its absolute
	// filesystem path.
	RootEntry(ctx context.Context, backupSetName, rootPath string) (*FSEntry, error)

	// Children returns the FSEntry rows whose ParentID is parentID.
	Children(ctx context.Context, parentID int64) ([]*FSEntry, error)

	// GetByID returns the FSEntry with the given id.
	GetByID(ctx context.Context, id int64) (*FSEntry, error)

	// InsertChild inserts a new FSEntry under parentID with new_flag=true
	// and null stat columns. It is a no-op returning the existing row if
	// an entry with the same (parentID, name) already exists.
	InsertChild(ctx context.Context, parentID int64, name string) (*FSEntry, error)

	// UpdateStat updates the stat columns of entry and clears ObjID
	// (marks it dirty), or leaves ObjID untouched if clearObjID is false.
	UpdateStat(ctx context.Context, id int64, mode uint32, mtimeNs int64, size int64, clearObjID bool) error

	// SetObjID records the successful backup of entry id under oid.
	SetObjID(ctx context.Context, id int64, oid OID) error

	// ClearObjID marks entry id dirty without touching its stat columns.
	ClearObjID(ctx context.Context, id int64) error

	// ClearNewFlag clears the new_flag on entry id.
	ClearNewFlag(ctx context.Context, id int64) error

	// DeleteRecursive removes entry id and, transitively, all of its
	// descendants.
	DeleteRecursive(ctx context.Context, id int64) error

	// SelectDirty returns entries with new_flag=true, or (if all is true)
	// every entry in the backup set — used for a subsequent scan's first
	// pass.
	SelectDirty(ctx context.Context, backupSetName string, all bool) ([]*FSEntry, error)

	// ParentID returns the ParentID of entry id, or nil if id is a root.
	ParentID(ctx context.Context, id int64) (*int64, error)

	// InvalidateAncestors clears ObjID on every ancestor of id up to and
	// including the root, stopping early once an already-nil ObjID is
	// reached.
	InvalidateAncestors(ctx context.Context, id int64) error

	// WithTx runs fn inside a single transaction against the underlying
	// store, matching spec §4.5's "all mutations within a single scan
	// occur in one transaction" requirement.
	WithTx(ctx context.Context, fn func(tx FilesCache) error) error
}

// EntryPath reconstructs the absolute filesystem path of e by walking
// ParentID links up to the root and concatenating names. O(depth) per
// call; shared by the Scanner and the Backup Walker, which both need to
// turn a FilesCache row back into a path to hand to a FilesystemManager.
func EntryPath(ctx context.Context, fc FilesCache, e *FSEntry) (string, error) {
	segments := []string{e.Name}
	currentParent := e.ParentID
	for currentParent != nil {
		parentEntry, err := fc.GetByID(ctx, *currentParent)
		if err != nil {
			return "", fmt.Errorf("core: reconstructing path: %w", err)
		}
		segments = append([]string{parentEntry.Name}, segments...)
		currentParent = parentEntry.ParentID
	}

	path := segments[0]
	for _, seg := range segments[1:] {
		path = path + "/" + seg
	}
	return path, nil
}

// ObjectCache answers "does the repository already have OID X" without a
// network call and maintains the DAG edges the Garbage Collector needs.
type ObjectCache interface {
	// Exists reports whether oid has already been recorded.
	Exists(ctx context.Context, oid OID) (bool, error)

	// Record atomically inserts the object row plus one edge per child.
	// Idempotent. Must only be called after the object and all of its
	// children have been successfully uploaded.
	Record(ctx context.Context, oid OID, kind ObjectKind, payloadLen, compressedLen int64, children []OID) error

	// IterAll streams every OID in the cache without materializing the
	// full table, invoking fn for each. fn returning a non-nil error
	// stops iteration and that error is returned.
	IterAll(ctx context.Context, fn func(oid OID) error) error

	// Children streams the direct children of oid.
	Children(ctx context.Context, oid OID, fn func(child OID) error) error

	// Parents streams the direct parents of oid.
	Parents(ctx context.Context, oid OID, fn func(parent OID) error) error

	// Delete removes the object row for oid and every edge incident to
	// it (as parent or as child).
	Delete(ctx context.Context, oid OID) error
}

// SnapshotRegistry is the strongly-consistent table of named snapshot
// roots, persisted in the local cache database. Snapshots are not mirrored
// to the repository; nothing is written under the snapshots/<name> key
// space.
type SnapshotRegistry interface {
	List(ctx context.Context) ([]*Snapshot, error)
	Create(ctx context.Context, name, rootPath string, rootOID OID, createdAt int64) (*Snapshot, error)
	Remove(ctx context.Context, name string) (*Snapshot, error)
	Get(ctx context.Context, name string) (*Snapshot, error)
}
