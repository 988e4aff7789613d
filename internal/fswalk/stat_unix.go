//go:build linux

package fswalk

import (
	"fmt"
	"io/fs"
	"syscall"
	"time"

	"dagback/internal/core"
)

func extractStatData(info fs.FileInfo) (*core.StatData, error) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil, fmt.Errorf("fswalk: unsupported stat_t type %T", info.Sys())
	}
	return &core.StatData{
		UID:     int(sys.Uid),
		GID:     int(sys.Gid),
		Ctime:   time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec),
		InodeNo: sys.Ino,
	}, nil
}
