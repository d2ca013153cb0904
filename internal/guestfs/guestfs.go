// Package guestfs exposes the guest filesystem to the conversion
// engine. Mounting and unmounting the guest image is the caller's
// responsibility; this package only operates on an already-mounted
// tree.
package guestfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// Guest is the filesystem of the guest being converted. Paths are
// slash-separated and relative to the guest root (e.g.
// "Windows/System32/drivers/viostor.sys"). Any failure here is fatal to
// the conversion; callers do not retry.
type Guest interface {
	MkdirAll(ctx context.Context, guestPath string) error
	WriteFile(ctx context.Context, guestPath string, data []byte) error
	ReadFile(ctx context.Context, guestPath string) ([]byte, error)
	// CopyIn copies a host file into the guest directory guestDir,
	// keeping the host file's base name.
	CopyIn(ctx context.Context, hostPath, guestDir string) error
}

// DirGuest implements Guest over a mounted guest root directory.
type DirGuest struct {
	root string
}

// NewDirGuest returns a Guest rooted at the mounted directory root.
func NewDirGuest(root string) (*DirGuest, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: guest root %q: %v", errdefs.ErrInvalidArgument, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: guest root %q is not a directory", errdefs.ErrInvalidArgument, root)
	}
	return &DirGuest{root: root}, nil
}

// MkdirAll creates the directory and any missing parents in the guest.
func (g *DirGuest) MkdirAll(_ context.Context, guestPath string) error {
	host, err := g.hostPath(guestPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(host, 0755); err != nil {
		return fmt.Errorf("failed to create guest directory %q: %w", guestPath, err)
	}
	return nil
}

// WriteFile writes data to a guest file, creating it if necessary.
func (g *DirGuest) WriteFile(_ context.Context, guestPath string, data []byte) error {
	host, err := g.hostPath(guestPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(host, data, 0644); err != nil {
		return fmt.Errorf("failed to write guest file %q: %w", guestPath, err)
	}
	return nil
}

// ReadFile reads a guest file.
func (g *DirGuest) ReadFile(_ context.Context, guestPath string) ([]byte, error) {
	host, err := g.hostPath(guestPath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(host)
	if err != nil {
		return nil, fmt.Errorf("failed to read guest file %q: %w", guestPath, err)
	}
	return data, nil
}

// CopyIn copies a host file into guestDir.
func (g *DirGuest) CopyIn(ctx context.Context, hostPath, guestDir string) error {
	dst := path.Join(guestDir, filepath.Base(hostPath))
	host, err := g.hostPath(dst)
	if err != nil {
		return err
	}

	src, err := os.Open(hostPath)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", hostPath, err)
	}
	defer src.Close()

	out, err := os.Create(host)
	if err != nil {
		return fmt.Errorf("failed to create guest file %q: %w", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %q into guest: %w", hostPath, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to copy %q into guest: %w", hostPath, err)
	}

	log.G(ctx).WithField("src", hostPath).WithField("dst", dst).Debug("copied file into guest")
	return nil
}

// hostPath maps a guest-relative path onto the host mount, rejecting
// absolute paths and traversal outside the guest root.
func (g *DirGuest) hostPath(guestPath string) (string, error) {
	cleaned := path.Clean(guestPath)
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: guest path %q escapes the guest root", errdefs.ErrInvalidArgument, guestPath)
	}
	return filepath.Join(g.root, filepath.FromSlash(cleaned)), nil
}
