// Package config loads and validates the convirt configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/containerd/errdefs"

	"github.com/hypervolt/convirt/internal/paths"
)

// DefaultConfigPath is where the configuration file is looked up unless
// CONVIRT_CONFIG points elsewhere.
const DefaultConfigPath = "/etc/convirt/config.json"

// ConfigEnv overrides the configuration file location.
const ConfigEnv = "CONVIRT_CONFIG"

// Config holds the tool-wide settings. All fields have working
// defaults; an absent configuration file is not an error.
type Config struct {
	// VirtioWinDir is the root of the driver repository used by the
	// environment-backed driver source when CONVIRT_VIRTIO_WIN is not
	// set. Default: /usr/share/virtio-win.
	VirtioWinDir string `json:"virtio_win_dir"`

	// OsinfoDBDir is the OS capability database directory.
	// Default: /usr/share/osinfo.
	OsinfoDBDir string `json:"osinfo_db_dir"`

	// CacheDBPath is the capability database cache file. Empty disables
	// the cache. Default: /var/lib/convirt/capcache.db.
	CacheDBPath string `json:"cache_db_path"`

	// FirstbootDir is the guest-relative directory where first-boot
	// scripts are staged. Default: Program Files/Guestfs/Firstboot.
	FirstbootDir string `json:"firstboot_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		VirtioWinDir: paths.GetVirtioWinDir(),
		OsinfoDBDir:  paths.GetOsinfoDir(),
		CacheDBPath:  paths.CapabilityCachePath(),
		FirstbootDir: "Program Files/Guestfs/Firstboot",
	}
}

// Get loads the configuration from CONVIRT_CONFIG or the default
// location, filling unset fields with defaults. A missing file yields
// the defaults; an unreadable or malformed file is a configuration
// error.
func Get() (Config, error) {
	path := os.Getenv(ConfigEnv)
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("%w: failed to read config file %q: %v", errdefs.ErrInvalidArgument, path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse config file %q: %v", errdefs.ErrInvalidArgument, path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate canonicalizes the host-side paths so later errors and logs
// name the real locations, and rejects values that can never work.
func (c *Config) validate() error {
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"virtio_win_dir", &c.VirtioWinDir},
		{"osinfo_db_dir", &c.OsinfoDBDir},
	} {
		if *field.value == "" {
			return fmt.Errorf("%w: %s must not be empty", errdefs.ErrInvalidArgument, field.name)
		}
		canonical, err := canonicalizePath(*field.value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", errdefs.ErrInvalidArgument, field.name, err)
		}
		*field.value = canonical
	}

	if c.CacheDBPath != "" {
		canonical, err := canonicalizePath(c.CacheDBPath)
		if err != nil {
			return fmt.Errorf("%w: cache_db_path: %v", errdefs.ErrInvalidArgument, err)
		}
		c.CacheDBPath = canonical
	}

	if c.FirstbootDir == "" {
		return fmt.Errorf("%w: firstboot_dir must not be empty", errdefs.ErrInvalidArgument)
	}
	return nil
}
