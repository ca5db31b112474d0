//go:build linux

package web

import (
	"golang.org/x/sys/unix"
)

func snapshotDisk(dir string) *DiskSnapshot {
	if dir == "" {
		dir = "/"
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return &DiskSnapshot{Path: dir, LastError: err.Error()}
	}
	bsize := uint64(st.Bsize)
	return &DiskSnapshot{
		Path:       dir,
		TotalBytes: st.Blocks * bsize,
		FreeBytes:  st.Bfree * bsize,
		AvailBytes: st.Bavail * bsize,
	}
}
