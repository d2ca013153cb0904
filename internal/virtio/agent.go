package virtio

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/containerd/log"

	"github.com/hypervolt/convirt/internal/firstboot"
	"github.com/hypervolt/convirt/internal/guestfs"
)

// guestAgentDir is where the agent installer is staged inside the
// guest.
const guestAgentDir = "Windows/Temp"

// InjectAgent installs the guest management agent: it searches the
// driver source for an installer package matching the guest
// architecture, copies it into the guest, and registers a one-shot
// first-boot script that runs it. A missing package is a normal false
// result, not an error, and registers nothing.
func (h *Handle) InjectAgent(ctx context.Context, guest guestfs.Guest, registrar firstboot.Registrar, info GuestInfo) (bool, error) {
	cands, err := h.src.candidates(ctx, info.OSID, info.Arch, ClassAgent)
	if err != nil {
		return false, err
	}

	want := fmt.Sprintf("qemu-ga-%s.msi", normalizeArch(info.Arch))
	var pkg *Candidate
	for i, c := range cands {
		if strings.EqualFold(c.Name, want) {
			pkg = &cands[i]
			break
		}
	}
	if pkg == nil {
		log.G(ctx).WithField("package", want).Info("no guest agent package for this architecture")
		return false, nil
	}

	data, err := readCandidate(*pkg)
	if err != nil {
		return false, fmt.Errorf("failed to read agent package %q: %w", pkg.Name, err)
	}
	if err := guest.MkdirAll(ctx, guestAgentDir); err != nil {
		return false, err
	}
	staged := path.Join(guestAgentDir, pkg.Name)
	if err := guest.WriteFile(ctx, staged, data); err != nil {
		return false, err
	}

	script := fmt.Sprintf("@echo off\r\nstart /wait msiexec /i \"%%systemdrive%%\\%s\" /qn /norestart\r\n",
		strings.ReplaceAll(staged, "/", `\`))
	if err := registrar.AddScript(ctx, "install "+pkg.Name, script); err != nil {
		return false, fmt.Errorf("failed to register agent install script: %w", err)
	}

	log.G(ctx).WithField("package", pkg.Name).Info("guest agent staged for first boot")
	return true, nil
}

// normalizeArch maps inspection architecture names onto the names the
// driver repository uses.
func normalizeArch(arch string) string {
	switch strings.ToLower(arch) {
	case "amd64", "x86_64":
		return "x86_64"
	case "i386", "i486", "i586", "i686", "x86":
		return "i386"
	default:
		return strings.ToLower(arch)
	}
}
