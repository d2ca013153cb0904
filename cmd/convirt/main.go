// Command convirt converts virtual machine disk images for use on a
// different hypervisor. The subcommands here drive the Windows driver
// injection engine against an already-mounted guest tree.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/hypervolt/convirt/internal/config"
	"github.com/hypervolt/convirt/internal/firstboot"
	"github.com/hypervolt/convirt/internal/guestfs"
	"github.com/hypervolt/convirt/internal/osdb"
	"github.com/hypervolt/convirt/internal/paths"
	"github.com/hypervolt/convirt/internal/registry"
	"github.com/hypervolt/convirt/internal/retry"
	"github.com/hypervolt/convirt/internal/virtio"
)

func main() {
	// Load configuration first - fail fast if the config file is
	// explicitly configured but missing or invalid.
	cfg, err := config.Get()
	if err != nil {
		log.L.WithError(err).Error("failed to load convirt configuration")
		fmt.Fprintln(os.Stderr, "\nPlease check /etc/convirt/config.json, or set CONVIRT_CONFIG to a valid config file location.")
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "convirt",
		Usage: "convert virtual machine disk images for another hypervisor",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				return log.SetLevel("debug")
			}
			return nil
		},
		Commands: []*cli.Command{
			injectCommand(cfg),
			injectAgentCommand(cfg),
			cacheImportCommand(cfg),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.L.WithError(err).Error("conversion failed")
		os.Exit(1)
	}
}

func guestFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "guest-root",
			Usage:    "mounted root of the guest filesystem",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "os",
			Usage:    "guest OS identifier, e.g. win10",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "arch",
			Usage: "guest architecture",
			Value: "x86_64",
		},
		&cli.StringFlag{
			Name:  "driver-dir",
			Usage: "driver repository directory or ISO (overrides the environment-based default)",
		},
		&cli.BoolFlag{
			Name:  "from-db",
			Usage: "resolve drivers from the capability database's package references",
		},
		&cli.BoolFlag{
			Name:  "cached-db",
			Usage: "use the imported capability cache instead of parsing the XML database",
		},
		&cli.DurationFlag{
			Name:  "wait-mount",
			Usage: "wait up to this long for the guest root to appear",
		},
	}
}

func injectCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "inject",
		Usage: "inject paravirtualized drivers into a Windows guest",
		Flags: append(guestFlags(),
			&cli.StringFlag{
				Name:  "block-priority",
				Usage: "comma-separated block driver search order",
			},
			&cli.StringFlag{
				Name:  "reg-out",
				Usage: "guest-relative path of the registry export",
				Value: "Windows/Temp/convirt-inject.reg",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "stage registry changes in memory without writing them",
			},
		),
		Action: func(c *cli.Context) error {
			ctx := c.Context
			guest, db, handle, err := setup(ctx, c, cfg)
			if err != nil {
				return err
			}
			defer handle.Close()
			defer closeDB(db)

			if prio := c.String("block-priority"); prio != "" {
				handle.SetBlockDriverPriority(splitList(prio))
			}

			var hive registry.Hive = registry.NewRegFile(guest, c.String("reg-out"), `HKEY_LOCAL_MACHINE\SYSTEM`)
			if c.Bool("dry-run") {
				hive = registry.NewMemHive()
			}

			outcome, err := handle.Inject(ctx, guest, hive, guestInfo(c))
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(outcome)
		},
	}
}

func injectAgentCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "inject-agent",
		Usage: "stage the guest management agent for installation at first boot",
		Flags: guestFlags(),
		Action: func(c *cli.Context) error {
			ctx := c.Context
			guest, db, handle, err := setup(ctx, c, cfg)
			if err != nil {
				return err
			}
			defer handle.Close()
			defer closeDB(db)

			registrar := firstboot.NewWindowsRegistrar(guest, cfg.FirstbootDir)
			installed, err := handle.InjectAgent(ctx, guest, registrar, guestInfo(c))
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(map[string]bool{"agent_installed": installed})
		},
	}
}

func cacheImportCommand(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "cache-import",
		Usage: "import the XML capability database into the local cache",
		Action: func(c *cli.Context) error {
			ctx := c.Context
			if cfg.CacheDBPath == "" {
				return fmt.Errorf("no cache_db_path configured")
			}
			if err := config.EnsureDirectoryWritable(filepath.Dir(cfg.CacheDBPath), "cache_db_path"); err != nil {
				return err
			}

			src, err := osdb.NewXMLDB(ctx, cfg.OsinfoDBDir)
			if err != nil {
				return err
			}
			cache, err := osdb.OpenBolt(cfg.CacheDBPath)
			if err != nil {
				return err
			}
			defer cache.Close()

			ids := src.ShortIDs()
			if err := cache.ImportFrom(ctx, src, ids); err != nil {
				return err
			}
			log.G(ctx).WithField("records", len(ids)).Info("capability cache imported")
			return nil
		},
	}
}

// setup resolves the guest tree, the capability database and the driver
// source handle shared by the inject commands.
func setup(ctx context.Context, c *cli.Context, cfg config.Config) (*guestfs.DirGuest, osdb.DB, *virtio.Handle, error) {
	root := c.String("guest-root")
	if wait := c.Duration("wait-mount"); wait > 0 {
		err := retry.Until(ctx, retry.Config{Timeout: wait, Interval: time.Second}, func(context.Context) (bool, error) {
			return config.ValidateDirectoryExists(root, "guest-root") == nil, nil
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("guest root %q did not appear: %w", root, err)
		}
	}
	guest, err := guestfs.NewDirGuest(root)
	if err != nil {
		return nil, nil, nil, err
	}

	var db osdb.DB
	if c.Bool("cached-db") {
		cache, err := osdb.OpenBolt(cfg.CacheDBPath)
		if err != nil {
			return nil, nil, nil, err
		}
		db = cache
	} else {
		db, err = osdb.NewXMLDB(ctx, cfg.OsinfoDBDir)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	var handle *virtio.Handle
	switch {
	case c.Bool("from-db"):
		handle = virtio.NewFromDB(db)
	case c.String("driver-dir") != "":
		handle = virtio.NewFromPath(db, c.String("driver-dir"))
	case os.Getenv(paths.VirtioWinEnv) != "":
		handle = virtio.NewFromEnv(db)
	default:
		handle = virtio.NewFromPath(db, cfg.VirtioWinDir)
	}
	return guest, db, handle, nil
}

func closeDB(db osdb.DB) {
	if closer, ok := db.(*osdb.BoltDB); ok {
		closer.Close()
	}
}

func guestInfo(c *cli.Context) virtio.GuestInfo {
	return virtio.GuestInfo{OSID: c.String("os"), Arch: c.String("arch")}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
