// Package firstboot registers commands that run exactly once at the
// guest's next boot.
package firstboot

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/containerd/log"

	"github.com/hypervolt/convirt/internal/guestfs"
)

// Registrar registers a one-shot first-boot command.
type Registrar interface {
	// AddScript stages a batch script named after name to run once at
	// the guest's next boot. Scripts run in registration order.
	AddScript(ctx context.Context, name, content string) error
}

// driverScript dispatches the staged scripts in lexical order and
// deletes each one after it ran, which is what makes them one-shot.
const driverScript = "@echo off\r\n" +
	"setlocal EnableDelayedExpansion\r\n" +
	"set scripts=%~dp0scripts\r\n" +
	"set log=%~dp0log.txt\r\n" +
	"for /f %%f in ('dir /b \"%scripts%\"\\*.bat') do (\r\n" +
	"  echo running %%f >> \"%log%\"\r\n" +
	"  call \"%scripts%\\%%f\" >> \"%log%\" 2>&1\r\n" +
	"  del /f \"%scripts%\\%%f\"\r\n" +
	")\r\n"

// WindowsRegistrar stages first-boot scripts in a directory inside the
// guest. A dispatcher batch file in the same directory runs and then
// deletes them; hooking the dispatcher into the boot sequence is done
// by the caller (typically alongside the registry mutations of the same
// conversion).
type WindowsRegistrar struct {
	guest guestfs.Guest
	dir   string
	seq   int
}

// NewWindowsRegistrar returns a Registrar staging scripts under dir
// (guest-relative, e.g. "Program Files/Guestfs/Firstboot").
func NewWindowsRegistrar(guest guestfs.Guest, dir string) *WindowsRegistrar {
	return &WindowsRegistrar{guest: guest, dir: dir}
}

// AddScript writes the script with the next ordinal prefix and makes
// sure the dispatcher is in place.
func (w *WindowsRegistrar) AddScript(ctx context.Context, name, content string) error {
	scriptsDir := path.Join(w.dir, "scripts")
	if err := w.guest.MkdirAll(ctx, scriptsDir); err != nil {
		return fmt.Errorf("failed to create firstboot directory: %w", err)
	}

	if w.seq == 0 {
		if err := w.guest.WriteFile(ctx, path.Join(w.dir, "firstboot.bat"), []byte(driverScript)); err != nil {
			return fmt.Errorf("failed to write firstboot dispatcher: %w", err)
		}
	}

	w.seq++
	fileName := fmt.Sprintf("%04d-%s.bat", w.seq, sanitizeName(name))
	if err := w.guest.WriteFile(ctx, path.Join(scriptsDir, fileName), []byte(content)); err != nil {
		return fmt.Errorf("failed to write firstboot script %q: %w", name, err)
	}

	log.G(ctx).WithField("script", fileName).Info("registered firstboot script")
	return nil
}

// sanitizeName reduces a script name to characters safe in a batch file
// name.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
