//go:build linux

package virtio

import "golang.org/x/sys/unix"

// dirReadable reports whether the current process can read the
// directory.
func dirReadable(path string) bool {
	return unix.Access(path, unix.R_OK|unix.X_OK) == nil
}
