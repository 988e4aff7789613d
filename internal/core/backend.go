package core

import (
	"context"
	"encoding/hex"
	"io"
)

// ObjectKey returns the Storage Backend key an OID is stored under.
func ObjectKey(oid OID) string {
	return "objects/" + hex.EncodeToString(oid[:])
}

// Backend is the Storage Backend capability interface (spec §4.1): an
// opaque blob put/get/delete/list keyed by hex OID string or a reserved
// key under the snapshots/meta prefixes. The core requires only these
// four operations; local-directory and Backblaze B2 drivers both satisfy
// this contract, as does an in-memory driver used in tests.
type Backend interface {
	// Put writes bytes under key. Idempotent: a put of an existing key
	// with identical bytes succeeds; with different bytes is undefined
	// and treated as the caller's violated invariant (content-addressing
	// guarantees this never legitimately happens for objects/<oid> keys).
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get retrieves bytes stored under key and writes them to w. Returns
	// an error wrapping core.ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string, w io.Writer) error

	// Delete removes key. Idempotent: deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// List lazily enumerates keys with the given prefix, invoking fn for
	// each. fn returning a non-nil error stops iteration and that error
	// is returned.
	List(ctx context.Context, prefix string, fn func(key string) error) error
}
