//go:build !linux

package virtio

import "os"

// dirReadable reports whether the current process can read the
// directory.
func dirReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
