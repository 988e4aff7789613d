package core

import (
	"io"
	"io/fs"
	"time"
)

// StatData holds the platform stat fields the Scanner and Backup Walker
// need beyond what fs.FileInfo exposes: owner/group ids, ctime, and the
// source inode number, all read via a single lstat syscall by the
// FilesystemManager implementation.
type StatData struct {
	UID     int
	GID     int
	Ctime   time.Time
	InodeNo uint64
}

// FilesystemManager abstracts filesystem access so the Scanner and Backup
// Walker can be tested without touching a real filesystem.
type FilesystemManager interface {
	// Resolve validates a raw path, resolves it to an absolute path, lstats
	// it, and returns a Path carrying the cached info. Symlinks, devices,
	// pipes and sockets are rejected: only regular files and directories
	// are backed up.
	Resolve(rawPath string) (*Path, error)

	// Lstat returns fresh stat info for an absolute path, without
	// dereferencing a trailing symlink. Used by the Scanner on every pass.
	Lstat(absPath string) (fs.FileInfo, *StatData, error)

	// Listdir lists the immediate children of a directory, returning
	// names only (no stat calls) so the Scanner can insert new FSEntry
	// rows before it has statted them.
	Listdir(absPath string) ([]string, error)

	// Open opens a regular file for reading.
	Open(absPath string) (io.ReadCloser, error)

	// IsIgnored reports whether relPath, relative to a tracked directory
	// root, should be excluded from scanning.
	IsIgnored(relPath string) bool
}
