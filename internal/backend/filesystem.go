// Package backend implements core.Backend against a local directory, an
// in-memory map (for tests), and Backblaze B2.
package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"dagback/internal/core"
)

// FilesystemBackend stores keys as files under a root directory, using an
// atomic temp-file-plus-rename write so a crash mid-write never leaves a
// partially-written object visible under its final name.
type FilesystemBackend struct {
	root string
}

var _ core.Backend = (*FilesystemBackend)(nil)

// NewFilesystemBackend creates a backend rooted at root, creating the
// directory if necessary.
func NewFilesystemBackend(root string) (*FilesystemBackend, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("backend: creating root directory: %w", err)
	}
	return &FilesystemBackend{root: root}, nil
}

func (b *FilesystemBackend) path(key string) string {
	return filepath.Join(b.root, filepath.FromSlash(key))
}

func (b *FilesystemBackend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := b.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return &core.IOError{Op: "put", Err: fmt.Errorf("creating directory: %w", err)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return &core.IOError{Op: "put", Err: fmt.Errorf("creating temp file: %w", err)}
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return &core.IOError{Op: "put", Err: fmt.Errorf("writing data: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &core.IOError{Op: "put", Err: fmt.Errorf("closing temp file: %w", err)}
	}
	if size >= 0 && written != size {
		return &core.IOError{Op: "put", Err: fmt.Errorf("size mismatch: expected %d, wrote %d", size, written)}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return &core.IOError{Op: "put", Err: fmt.Errorf("renaming into place: %w", err)}
	}
	success = true
	return nil
}

func (b *FilesystemBackend) Get(ctx context.Context, key string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backend: get %q: %w", key, core.ErrNotFound)
		}
		return &core.IOError{Op: "get", Err: err}
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return &core.IOError{Op: "get", Err: err}
	}
	return nil
}

func (b *FilesystemBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return &core.IOError{Op: "delete", Err: err}
	}
	return nil
}

func (b *FilesystemBackend) List(ctx context.Context, prefix string, fn func(key string) error) error {
	root := b.path(prefix)
	walkRoot := root
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		walkRoot = filepath.Dir(root)
	}
	return filepath.WalkDir(walkRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return &core.IOError{Op: "list", Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		return fn(key)
	})
}
