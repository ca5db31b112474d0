//go:build linux

package gps

import "golang.org/x/sys/unix"

const permissionHint = "add the user to the dialout group or install a udev rule for the receiver"

// canAccess reports whether the process may open the tty read/write.
func canAccess(path string) bool {
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}
