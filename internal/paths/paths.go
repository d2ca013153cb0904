package paths

import (
	"os"
	"path/filepath"
)

const (
	// Binaries and config directory
	ShareDir = "/usr/share/convirt"

	// State files directory
	StateDir = "/var/lib/convirt"

	// VirtioWinDir is the default location of the virtio-win driver
	// repository, as installed by the virtio-win package.
	VirtioWinDir = "/usr/share/virtio-win"

	// OsinfoDir is the default location of the OS capability database.
	OsinfoDir = "/usr/share/osinfo"

	// VirtioWinEnv overrides the driver repository location.
	VirtioWinEnv = "CONVIRT_VIRTIO_WIN"

	// OsinfoEnv overrides the capability database location.
	OsinfoEnv = "CONVIRT_OSINFO_DB"
)

// GetVirtioWinDir returns the driver repository root using a three-tier
// fallback: the CONVIRT_VIRTIO_WIN environment variable, the standard
// virtio-win package location, and finally the legacy copy bundled
// under the convirt share directory.
func GetVirtioWinDir() string {
	if dir := os.Getenv(VirtioWinEnv); dir != "" {
		return dir
	}
	if dirExists(VirtioWinDir) {
		return VirtioWinDir
	}
	return filepath.Join(ShareDir, "virtio-win")
}

// GetOsinfoDir returns the capability database directory, checking the
// environment variable first.
func GetOsinfoDir() string {
	if dir := os.Getenv(OsinfoEnv); dir != "" {
		return dir
	}
	return OsinfoDir
}

// GetStateDir returns the convirt state directory, checking environment
// variables first.
func GetStateDir() string {
	if dir := os.Getenv("CONVIRT_STATE_DIR"); dir != "" {
		return dir
	}
	return StateDir
}

// CapabilityCachePath returns the path to the capability database cache.
func CapabilityCachePath() string {
	return filepath.Join(GetStateDir(), "capcache.db")
}

// fileExists reports whether path resolves to a regular file, following
// symlinks.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// dirExists reports whether path resolves to a directory, following
// symlinks.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
