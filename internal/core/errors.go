package core

import "errors"

// Error kinds per the propagation policy: FsError and IOError are usually
// recoverable at a call-site-specific granularity (per-file for FsError,
// per-backup for IOError); AuthFail and CacheCorruption are always fatal;
// cancellation is reported via context.Canceled/context.DeadlineExceeded
// and handled with errors.Is, not a bespoke sentinel.

// FsError wraps a failed lstat, listdir, or file read. Per-entry: the
// caller logs and skips the entry; its obj_id remains unset.
type FsError struct {
	Path string
	Err  error
}

func (e *FsError) Error() string { return "fs error at " + e.Path + ": " + e.Err.Error() }
func (e *FsError) Unwrap() error { return e.Err }

// IOError wraps a storage backend transport failure. The drivers in
// internal/backend add no retry loop of their own; an IOError aborts the
// current backup.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "io error during " + e.Op + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// AuthFail indicates a ciphertext failed authenticated decryption. Always
// fatal to the operation that encountered it.
type AuthFail struct {
	Err error
}

func (e *AuthFail) Error() string { return "authentication failed: " + e.Err.Error() }
func (e *AuthFail) Unwrap() error { return e.Err }

// CacheCorruption indicates a detected invariant violation in the local
// cache (a missing edge, a dangling obj_id). The engine halts and requires
// a verify/rebuild; it is never recovered from automatically.
type CacheCorruption struct {
	Detail string
}

func (e *CacheCorruption) Error() string { return "cache corruption: " + e.Detail }

// ErrNotFound is returned by Backend.Get for a missing key.
var ErrNotFound = errors.New("key not found")
