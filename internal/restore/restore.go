// Package restore reconstructs a directory tree on disk from a Snapshot's
// root OID, fetching objects directly from the Storage Backend rather
// than trusting the local Files/Object Cache to be complete — a restore
// may run on a machine that has never scanned this tree before.
package restore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"dagback/internal/core"
	"dagback/internal/objcodec"
)

// Restorer walks a repository's object DAG and writes plaintext files and
// directories to a local output path.
type Restorer struct {
	backend core.Backend
	logger  core.Logger
}

// New creates a Restorer over the given backend.
func New(backend core.Backend, logger core.Logger) *Restorer {
	return &Restorer{backend: backend, logger: logger}
}

// RestoreTree reconstructs the tree rooted at rootOID into outDir, using
// decryptor to open every fetched object. outDir is created if absent.
func (r *Restorer) RestoreTree(ctx context.Context, rootOID core.OID, decryptor core.Decryptor, outDir string) error {
	kind, obj, err := r.fetchObject(ctx, rootOID, decryptor)
	if err != nil {
		return fmt.Errorf("restore: fetching root object: %w", err)
	}
	if kind != core.KindTree {
		return fmt.Errorf("restore: root object %x is a %s, not a tree", rootOID, kind)
	}
	return r.restoreTree(ctx, obj.(*objcodec.Tree), decryptor, outDir)
}

func (r *Restorer) restoreTree(ctx context.Context, tree *objcodec.Tree, decryptor core.Decryptor, dirPath string) error {
	if err := os.MkdirAll(dirPath, os.FileMode(tree.Mode)|0700); err != nil {
		return fmt.Errorf("restore: creating directory %s: %w", dirPath, err)
	}

	for _, entry := range tree.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		childPath := filepath.Join(dirPath, entry.Name)
		kind, obj, err := r.fetchObject(ctx, entry.ChildOID, decryptor)
		if err != nil {
			return fmt.Errorf("restore: fetching %s: %w", childPath, err)
		}
		switch kind {
		case core.KindTree:
			if err := r.restoreTree(ctx, obj.(*objcodec.Tree), decryptor, childPath); err != nil {
				return err
			}
		case core.KindInode:
			if err := r.restoreFile(ctx, obj.(*objcodec.Inode), decryptor, childPath); err != nil {
				return err
			}
		default:
			return fmt.Errorf("restore: %s references a %s object as a tree entry", childPath, kind)
		}
	}
	r.logger.Debug("directory restored", "path", dirPath)
	return nil
}

func (r *Restorer) restoreFile(ctx context.Context, inode *objcodec.Inode, decryptor core.Decryptor, filePath string) error {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(inode.Mode)|0600)
	if err != nil {
		return fmt.Errorf("restore: creating file %s: %w", filePath, err)
	}
	defer f.Close()

	for _, chunk := range inode.Chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		kind, obj, err := r.fetchObject(ctx, chunk.BlobOID, decryptor)
		if err != nil {
			return fmt.Errorf("restore: fetching blob for %s at offset %d: %w", filePath, chunk.Offset, err)
		}
		if kind != core.KindBlob {
			return fmt.Errorf("restore: %s chunk at offset %d references a %s, not a blob", filePath, chunk.Offset, kind)
		}
		blob := obj.(*objcodec.Blob)
		if _, err := f.WriteAt(blob.Data, chunk.Offset); err != nil {
			return fmt.Errorf("restore: writing %s at offset %d: %w", filePath, chunk.Offset, err)
		}
	}
	r.logger.Debug("file restored", "path", filePath, "size", inode.Size)
	return nil
}

// fetchObject retrieves, decrypts, decompresses, and decodes the object
// stored under oid.
func (r *Restorer) fetchObject(ctx context.Context, oid core.OID, decryptor core.Decryptor) (core.ObjectKind, any, error) {
	var ciphertext bytes.Buffer
	if err := r.backend.Get(ctx, core.ObjectKey(oid), &ciphertext); err != nil {
		return 0, nil, &core.IOError{Op: "get", Err: err}
	}

	plaintext, err := objcodec.Unframe(ciphertext.Bytes(), decryptor.Open)
	if err != nil {
		return 0, nil, err
	}

	kind, obj, err := objcodec.Decode(plaintext)
	if err != nil {
		return 0, nil, fmt.Errorf("restore: decoding object %x: %w", oid, err)
	}
	return kind, obj, nil
}

