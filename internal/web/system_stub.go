//go:build !linux

package web

func snapshotDisk(dir string) *DiskSnapshot {
	return &DiskSnapshot{Path: dir, LastError: "disk stats not supported on this platform"}
}
