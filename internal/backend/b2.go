package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/kurin/blazer/b2"

	"dagback/internal/core"
)

// B2Backend stores keys as objects in a Backblaze B2 bucket.
type B2Backend struct {
	bucket *b2.Bucket
	prefix string
}

var _ core.Backend = (*B2Backend)(nil)

// NewB2Backend authenticates against Backblaze B2 with accountID/key and
// binds to bucket, namespacing every key under prefix.
func NewB2Backend(ctx context.Context, accountID, key, bucket, prefix string) (*B2Backend, error) {
	client, err := b2.NewClient(ctx, accountID, key)
	if err != nil {
		return nil, &core.IOError{Op: "b2-auth", Err: err}
	}
	bkt, err := client.Bucket(ctx, bucket)
	if err != nil {
		return nil, &core.IOError{Op: "b2-bucket", Err: err}
	}
	return &B2Backend{bucket: bkt, prefix: prefix}, nil
}

func (b *B2Backend) objectKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "/" + key
}

func (b *B2Backend) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	obj := b.bucket.Object(b.objectKey(key))
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return &core.IOError{Op: "put", Err: err}
	}
	if err := w.Close(); err != nil {
		return &core.IOError{Op: "put", Err: err}
	}
	return nil
}

func (b *B2Backend) Get(ctx context.Context, key string, w io.Writer) error {
	obj := b.bucket.Object(b.objectKey(key))
	r := obj.NewReader(ctx)
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		if b2.IsNotExist(err) {
			return fmt.Errorf("backend: get %q: %w", key, core.ErrNotFound)
		}
		return &core.IOError{Op: "get", Err: err}
	}
	return nil
}

func (b *B2Backend) Delete(ctx context.Context, key string) error {
	obj := b.bucket.Object(b.objectKey(key))
	if err := obj.Delete(ctx); err != nil && !b2.IsNotExist(err) {
		return &core.IOError{Op: "delete", Err: err}
	}
	return nil
}

func (b *B2Backend) List(ctx context.Context, prefix string, fn func(key string) error) error {
	iter := b.bucket.List(ctx, b2.ListPrefix(b.objectKey(prefix)))
	for iter.Next() {
		name := iter.Object().Name()
		if b.prefix != "" {
			name = name[len(b.prefix)+1:]
		}
		if err := fn(name); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return &core.IOError{Op: "list", Err: err}
	}
	return nil
}
