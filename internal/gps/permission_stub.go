//go:build !linux

package gps

import "os"

const permissionHint = "check that no other program holds the port and that the driver is installed"

func canAccess(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
