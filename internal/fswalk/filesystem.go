// Package fswalk implements core.FilesystemManager against the real
// operating system filesystem.
package fswalk

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dagback/internal/core"
)

// OSFilesystemManager is the real filesystem implementation of
// core.FilesystemManager.
type OSFilesystemManager struct {
	root    string
	ignore  *IgnoreMatcher
}

// New creates a filesystem manager rooted at root, applying the given
// ignore matcher (nil is treated as "ignore nothing") to relative paths
// under it.
func New(root string, ignore *IgnoreMatcher) *OSFilesystemManager {
	if ignore == nil {
		ignore = NewIgnoreMatcher(nil)
	}
	return &OSFilesystemManager{root: root, ignore: ignore}
}

var _ core.FilesystemManager = (*OSFilesystemManager)(nil)

func (m *OSFilesystemManager) Resolve(rawPath string) (*core.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("fswalk: resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, &core.FsError{Path: absPath, Err: err}
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return nil, &core.FsError{Path: absPath, Err: fmt.Errorf("symlinks not supported")}
	case mode&os.ModeDevice != 0:
		return nil, &core.FsError{Path: absPath, Err: fmt.Errorf("device files not supported")}
	case mode&os.ModeNamedPipe != 0:
		return nil, &core.FsError{Path: absPath, Err: fmt.Errorf("named pipes not supported")}
	case mode&os.ModeSocket != 0:
		return nil, &core.FsError{Path: absPath, Err: fmt.Errorf("sockets not supported")}
	}

	return core.NewPath(absPath, info.IsDir(), info), nil
}

func (m *OSFilesystemManager) Lstat(absPath string) (fs.FileInfo, *core.StatData, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return nil, nil, &core.FsError{Path: absPath, Err: err}
	}
	stat, err := extractStatData(info)
	if err != nil {
		return nil, nil, &core.FsError{Path: absPath, Err: err}
	}
	return info, stat, nil
}

func (m *OSFilesystemManager) Listdir(absPath string) ([]string, error) {
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, &core.FsError{Path: absPath, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (m *OSFilesystemManager) Open(absPath string) (io.ReadCloser, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return nil, &core.FsError{Path: absPath, Err: err}
	}
	return f, nil
}

func (m *OSFilesystemManager) IsIgnored(relPath string) bool {
	if strings.TrimSpace(relPath) == "" {
		return false
	}
	return m.ignore.Match(relPath)
}
