package virtio

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/containerd/log"

	"github.com/hypervolt/convirt/internal/guestfs"
	"github.com/hypervolt/convirt/internal/osdb"
	"github.com/hypervolt/convirt/internal/registry"
)

// Guest locations used by the injection.
const (
	guestDriverDir    = "Windows/Drivers/VirtIO"
	guestBootDriveDir = "Windows/System32/drivers"
)

// Inject installs the drivers this guest needs to boot on the target
// hypervisor and returns what was installed. Missing drivers degrade to
// emulated fallbacks and false feature flags; an unreachable configured
// driver root and any registry failure are fatal. hive is committed
// exactly once, as the final step, so an error before that point leaves
// the previously-working boot configuration untouched.
func (h *Handle) Inject(ctx context.Context, guest guestfs.Guest, hive registry.Hive, info GuestInfo) (Outcome, error) {
	var devices []osdb.Device
	rec, known, err := h.db.Lookup(ctx, info.OSID)
	if err != nil {
		return Outcome{}, fmt.Errorf("capability lookup for %q failed: %w", info.OSID, err)
	}
	if known {
		devices = rec.Devices
	} else {
		log.G(ctx).WithField("os", info.OSID).Info("OS not in capability database, assuming no virtio capabilities")
	}

	out := Outcome{Block: BlockIDE, Net: netFallback(devices, known)}

	blockName, blockFound, err := h.selectDriver(ctx, ClassBlock, h.blockPriority, info, nil)
	if err != nil {
		return Outcome{}, err
	}
	if blockFound {
		out.Block = blockKindFor(blockName)
	} else {
		log.G(ctx).WithField("os", info.OSID).Info("no virtio block driver found, falling back to IDE")
	}

	// The OS-era exclusion is applied before the priority search, so a
	// guest that cannot use the modern model never selects it even when
	// its driver file happens to be present.
	var netExclude map[string]bool
	if !osdb.SupportsVirtioNet(devices) {
		netExclude = map[string]bool{"netkvm": true}
	}
	_, netFound, err := h.selectDriver(ctx, ClassNet, h.netPriority, info, netExclude)
	if err != nil {
		return Outcome{}, err
	}
	if netFound {
		out.Net = NetVirtio
	}

	// Optional features are independent: one missing driver never
	// blocks the others.
	features := []struct {
		name      string
		class     string
		supported bool
		flag      *bool
	}{
		{"viorng", ClassRNG, true, &out.VirtioRNG},
		{"balloon", ClassBalloon, true, &out.VirtioBalloon},
		{"pvpanic", ClassPVPanic, true, &out.ISAPVPanic},
		// The socket device only exists as a virtio 1.0 device.
		{"viosock", ClassSocket, osdb.SupportsVirtio10(devices), &out.VirtioSocket},
	}
	for _, f := range features {
		if !f.supported {
			continue
		}
		ok, err := h.featureAvailable(ctx, f.class, f.name, info)
		if err != nil {
			return Outcome{}, err
		}
		*f.flag = ok
	}

	if blockFound || netFound || out.VirtioRNG || out.VirtioBalloon || out.ISAPVPanic || out.VirtioSocket {
		if err := h.copyDrivers(ctx, guest, info, blockName, blockFound); err != nil {
			return Outcome{}, err
		}
	}

	// Registry mutations come last, after every file is in place, and
	// are only committed once they all succeeded.
	if blockFound {
		if err := registry.InstallBlockService(ctx, hive, blockName); err != nil {
			return Outcome{}, fmt.Errorf("failed to register block driver %q: %w", blockName, err)
		}
	}
	if err := hive.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("failed to commit registry changes: %w", err)
	}

	if osdb.SupportsQ35(devices) {
		out.Machine = MachineQ35
	}
	out.Virtio10 = osdb.SupportsVirtio10(devices) && (blockFound || netFound)

	log.G(ctx).WithField("os", info.OSID).
		WithField("block", out.Block.String()).
		WithField("net", out.Net.String()).
		WithField("machine", out.Machine.String()).
		Info("driver injection complete")
	return out, nil
}

// copyDrivers copies the guest's driver payload into the guest tree and
// the selected boot driver into the system driver directory.
func (h *Handle) copyDrivers(ctx context.Context, guest guestfs.Guest, info GuestInfo, blockName string, blockFound bool) error {
	cands, err := h.src.candidates(ctx, info.OSID, info.Arch, ClassBlock)
	if err != nil {
		return err
	}
	if len(cands) == 0 {
		return nil
	}

	if err := guest.MkdirAll(ctx, guestDriverDir); err != nil {
		return err
	}
	if blockFound {
		if err := guest.MkdirAll(ctx, guestBootDriveDir); err != nil {
			return err
		}
	}
	for _, c := range cands {
		data, err := readCandidate(c)
		if err != nil {
			return fmt.Errorf("failed to read driver file %q: %w", c.Name, err)
		}
		if err := guest.WriteFile(ctx, path.Join(guestDriverDir, c.Name), data); err != nil {
			return err
		}
		// The boot loader reads the block driver from the system
		// driver directory named in the service's ImagePath.
		if blockFound && strings.EqualFold(c.Name, blockName+".sys") {
			if err := guest.WriteFile(ctx, path.Join(guestBootDriveDir, c.Name), data); err != nil {
				return err
			}
		}
	}
	return nil
}

func readCandidate(c Candidate) ([]byte, error) {
	r, err := c.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func blockKindFor(name string) BlockKind {
	if strings.EqualFold(name, "vioscsi") {
		return BlockVirtioSCSI
	}
	return BlockVirtioBlk
}

// netFallback picks the emulated model used when no virtio net driver
// is installed: e1000 normally, rtl8139 for guests whose OS predates
// e1000 support. An OS missing from the database gets the modern
// default.
func netFallback(devices []osdb.Device, known bool) NetKind {
	if known && !osdb.SupportsE1000(devices) {
		return NetRTL8139
	}
	return NetE1000
}
