// Package walker implements the Backup Walker: a post-order traversal of
// the Files Cache that constructs the object DAG for dirty entries and
// uploads it to the Storage Backend.
package walker

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"dagback/internal/chunk"
	"dagback/internal/core"
	"dagback/internal/objcodec"
)

// DefaultUploadConcurrency bounds the number of blob uploads in flight at
// once for a single file's chunk set.
const DefaultUploadConcurrency = 4

// Walker constructs and uploads the object DAG for a backup set's dirty
// entries, then records a new Snapshot at the root.
type Walker struct {
	fc      core.FilesCache
	oc      core.ObjectCache
	fs      core.FilesystemManager
	crypto  core.CryptoProvider
	backend core.Backend
	logger  core.Logger
	clock   core.Clock

	chunkSize         int64
	minChunkable      int64
	uploadConcurrency int
}

// Config configures a Walker's tunables.
type Config struct {
	ChunkSize         int64
	MinChunkable      int64
	UploadConcurrency int
}

// New creates a Walker over the given components.
func New(fc core.FilesCache, oc core.ObjectCache, fsm core.FilesystemManager, crypto core.CryptoProvider, backend core.Backend, logger core.Logger, clock core.Clock, cfg Config) *Walker {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunk.DefaultChunkSize
	}
	if cfg.MinChunkable <= 0 {
		cfg.MinChunkable = chunk.DefaultMinChunkable
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = DefaultUploadConcurrency
	}
	return &Walker{
		fc: fc, oc: oc, fs: fsm, crypto: crypto, backend: backend, logger: logger, clock: clock,
		chunkSize: cfg.ChunkSize, minChunkable: cfg.MinChunkable, uploadConcurrency: cfg.UploadConcurrency,
	}
}

// frame is a directory's accumulator within one walkDirectory call: an
// FSEntry plus the (name, oid) pairs its already-visited children have
// produced. The traversal itself recurses on the Go call stack.
type frame struct {
	entry    *core.FSEntry
	children []objcodec.TreeEntry
}

// Walk performs a post-order traversal of the tree rooted at the given
// FSEntry and returns the root's OID once fully uploaded. Below the root,
// a child whose filesystem access fails (*core.FsError) is logged and left
// out of its parent's tree with its obj_id unset; any other error aborts
// the walk.
func (w *Walker) Walk(ctx context.Context, root *core.FSEntry) (core.OID, error) {
	var visitPostOrder func(entry *core.FSEntry) (core.OID, error)

	visitPostOrder = func(entry *core.FSEntry) (core.OID, error) {
		if err := ctx.Err(); err != nil {
			return core.OID{}, err
		}

		absPath, err := core.EntryPath(ctx, w.fc, entry)
		if err != nil {
			return core.OID{}, err
		}
		info, _, err := w.fs.Lstat(absPath)
		if err != nil {
			return core.OID{}, &core.FsError{Path: absPath, Err: err}
		}

		if info.IsDir() {
			return w.walkDirectory(ctx, entry, absPath)
		}
		return w.walkFile(ctx, entry, absPath)
	}

	oid, err := visitPostOrder(root)
	if err != nil {
		return core.OID{}, err
	}
	return oid, nil
}

func (w *Walker) walkDirectory(ctx context.Context, entry *core.FSEntry, absPath string) (core.OID, error) {
	if entry.ObjID != nil {
		return *entry.ObjID, nil
	}

	children, err := w.fc.Children(ctx, entry.ID)
	if err != nil {
		return core.OID{}, fmt.Errorf("walker: loading children of %s: %w", absPath, err)
	}

	fr := &frame{entry: entry}
	for _, child := range children {
		childOID, err := w.Walk(ctx, child)
		if err != nil {
			var fsErr *core.FsError
			if errors.As(err, &fsErr) {
				w.logger.Warn("skipping entry", "path", fsErr.Path, "error", err)
				continue
			}
			return core.OID{}, err
		}
		fr.children = append(fr.children, objcodec.TreeEntry{Name: child.Name, ChildOID: childOID})
	}

	info, stat, err := w.fs.Lstat(absPath)
	if err != nil {
		return core.OID{}, &core.FsError{Path: absPath, Err: err}
	}

	tree := &objcodec.Tree{
		UID:     uint32(stat.UID),
		GID:     uint32(stat.GID),
		Mode:    uint32(info.Mode()),
		Entries: fr.children,
	}
	plaintext := objcodec.EncodeTree(tree)
	oid := w.crypto.MAC(plaintext)

	childOIDs := make([]core.OID, len(fr.children))
	for i, c := range fr.children {
		childOIDs[i] = c.ChildOID
	}
	if err := w.uploadAndRecord(ctx, oid, core.KindTree, plaintext, childOIDs); err != nil {
		return core.OID{}, err
	}

	if err := w.fc.SetObjID(ctx, entry.ID, oid); err != nil {
		return core.OID{}, fmt.Errorf("walker: recording obj_id for %s: %w", absPath, err)
	}
	w.logger.Debug("directory backed up", "path", absPath)
	return oid, nil
}

func (w *Walker) walkFile(ctx context.Context, entry *core.FSEntry, absPath string) (core.OID, error) {
	if entry.ObjID != nil {
		return *entry.ObjID, nil
	}

	info, stat, err := w.fs.Lstat(absPath)
	if err != nil {
		return core.OID{}, &core.FsError{Path: absPath, Err: err}
	}

	chunks, err := w.uploadChunks(ctx, absPath, info.Size())
	if err != nil {
		return core.OID{}, err
	}

	inode := &objcodec.Inode{
		Size:    info.Size(),
		InodeNo: stat.InodeNo,
		UID:     uint32(stat.UID),
		GID:     uint32(stat.GID),
		Mode:    uint32(info.Mode()),
		CtimeNs: stat.Ctime.UnixNano(),
		MtimeNs: info.ModTime().UnixNano(),
		Chunks:  chunks,
	}
	plaintext := objcodec.EncodeInode(inode)
	oid := w.crypto.MAC(plaintext)

	blobOIDs := make([]core.OID, len(chunks))
	for i, c := range chunks {
		blobOIDs[i] = c.BlobOID
	}
	if err := w.uploadAndRecord(ctx, oid, core.KindInode, plaintext, blobOIDs); err != nil {
		return core.OID{}, err
	}

	if err := w.fc.SetObjID(ctx, entry.ID, oid); err != nil {
		return core.OID{}, fmt.Errorf("walker: recording obj_id for %s: %w", absPath, err)
	}
	w.logger.Debug("file backed up", "path", absPath, "size", info.Size())
	return oid, nil
}

// uploadChunks splits the file at absPath into fixed-size chunks and
// uploads each blob concurrently, bounded by uploadConcurrency.
func (w *Walker) uploadChunks(ctx context.Context, absPath string, size int64) ([]objcodec.DataChunk, error) {
	rc, err := w.fs.Open(absPath)
	if err != nil {
		return nil, &core.FsError{Path: absPath, Err: err}
	}
	defer rc.Close()

	chunker := chunk.New(rc, size, w.chunkSize, w.minChunkable)

	var offsets []int64
	var blobs [][]byte
	for {
		c, ok, err := chunker.Next()
		if err != nil {
			return nil, &core.FsError{Path: absPath, Err: err}
		}
		if !ok {
			break
		}
		offsets = append(offsets, c.Offset)
		blobs = append(blobs, c.Data)
	}

	dataChunks := make([]objcodec.DataChunk, len(blobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.uploadConcurrency)

	for i := range blobs {
		i := i
		g.Go(func() error {
			blob := &objcodec.Blob{Data: blobs[i]}
			plaintext := objcodec.EncodeBlob(blob)
			oid := w.crypto.MAC(plaintext)
			if err := w.uploadAndRecord(gctx, oid, core.KindBlob, plaintext, nil); err != nil {
				return err
			}
			dataChunks[i] = objcodec.DataChunk{Offset: offsets[i], BlobOID: oid}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dataChunks, nil
}

// uploadAndRecord skips the upload if the object cache already has oid
// (deduplication), otherwise frames, uploads, and records it.
func (w *Walker) uploadAndRecord(ctx context.Context, oid core.OID, kind core.ObjectKind, plaintext []byte, children []core.OID) error {
	exists, err := w.oc.Exists(ctx, oid)
	if err != nil {
		return fmt.Errorf("walker: checking object cache: %w", err)
	}
	if exists {
		return nil
	}

	ciphertext, err := objcodec.Frame(plaintext, w.crypto.Seal)
	if err != nil {
		return fmt.Errorf("walker: framing object: %w", err)
	}

	key := core.ObjectKey(oid)
	if err := w.backend.Put(ctx, key, bytes.NewReader(ciphertext), int64(len(ciphertext))); err != nil {
		return &core.IOError{Op: "put", Err: err}
	}

	if err := w.oc.Record(ctx, oid, kind, int64(len(plaintext)), int64(len(ciphertext)), children); err != nil {
		return fmt.Errorf("walker: recording object: %w", err)
	}
	return nil
}

// FinalizeSnapshot records the given name/root as a new Snapshot in the
// local registry once the walk completes. It writes nothing to the Storage
// Backend; no object is stored under the snapshots/<name> key space.
func (w *Walker) FinalizeSnapshot(ctx context.Context, registry core.SnapshotRegistry, name, rootPath string, rootOID core.OID) (*core.Snapshot, error) {
	createdAt := w.clock.Now().UnixNano()
	return registry.Create(ctx, name, rootPath, rootOID, createdAt)
}
