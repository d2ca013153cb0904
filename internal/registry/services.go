package registry

import (
	"context"
	"fmt"
	"sort"

	"github.com/containerd/log"
)

// scsiAdapterClassGUID is the device class of SCSI and RAID
// controllers; boot-critical storage bindings reference it.
const scsiAdapterClassGUID = "{4d36e97b-e325-11ce-bfc1-08002be10318}"

// pciDeviceIDs lists, per installable block driver, the PCI identities
// the driver binds to in the critical device database. Both the
// transitional and the modern (virtio 1.0) device IDs are bound so the
// guest boots regardless of which flavor the target hypervisor exposes.
var pciDeviceIDs = map[string][]string{
	"viostor": {
		"pci#ven_1af4&dev_1001&subsys_00000000",
		"pci#ven_1af4&dev_1001&subsys_00021af4",
		"pci#ven_1af4&dev_1042&subsys_11001af4",
	},
	"vioscsi": {
		"pci#ven_1af4&dev_1004&subsys_00081af4",
		"pci#ven_1af4&dev_1048&subsys_11001af4",
	},
	"virtio_blk": {
		"pci#ven_1af4&dev_1001&subsys_00000000",
		"pci#ven_1af4&dev_1001&subsys_00021af4",
		"pci#ven_1af4&dev_1042&subsys_11001af4",
	},
	"vrtioblk": {
		"pci#ven_1af4&dev_1001&subsys_00000000",
		"pci#ven_1af4&dev_1001&subsys_00021af4",
	},
}

// InstallBlockService registers driverName as a boot-start storage
// service in the guest's SYSTEM hive. All new keys are staged before
// anything pre-existing is touched, and nothing is removed at all: the
// IDE boot path stays intact, so a failure at any point leaves the
// guest bootable with its previous configuration. The caller commits
// the hive afterwards.
func InstallBlockService(ctx context.Context, hive Hive, driverName string) error {
	cs, err := currentControlSet(ctx, hive)
	if err != nil {
		return fmt.Errorf("failed to resolve current control set: %w", err)
	}

	svc := []string{cs, "Services", driverName}
	if err := hive.CreateKey(ctx, svc...); err != nil {
		return fmt.Errorf("failed to create service key for %q: %w", driverName, err)
	}
	if err := hive.SetDWord(ctx, svc, "Type", 1); err != nil {
		return err
	}
	// SERVICE_BOOT_START: the boot loader must load this driver before
	// the storage stack comes up.
	if err := hive.SetDWord(ctx, svc, "Start", 0); err != nil {
		return err
	}
	if err := hive.SetDWord(ctx, svc, "ErrorControl", 1); err != nil {
		return err
	}
	if err := hive.SetString(ctx, svc, "Group", "SCSI miniport"); err != nil {
		return err
	}
	if err := hive.SetExpandString(ctx, svc, "ImagePath", `system32\drivers\`+driverName+`.sys`); err != nil {
		return err
	}
	if err := hive.SetDWord(ctx, svc, "Tag", 64); err != nil {
		return err
	}

	params := []string{cs, "Services", driverName, "Parameters"}
	if err := hive.CreateKey(ctx, params...); err != nil {
		return fmt.Errorf("failed to create parameters key for %q: %w", driverName, err)
	}
	if err := hive.SetDWord(ctx, params, "BusType", 1); err != nil {
		return err
	}
	pnp := []string{cs, "Services", driverName, "Parameters", "PnpInterface"}
	if err := hive.CreateKey(ctx, pnp...); err != nil {
		return fmt.Errorf("failed to create pnp key for %q: %w", driverName, err)
	}
	if err := hive.SetDWord(ctx, pnp, "5", 1); err != nil {
		return err
	}

	// Critical device database bindings, in sorted order so repeated
	// injections write identical key sequences.
	ids := append([]string(nil), pciDeviceIDs[driverName]...)
	sort.Strings(ids)
	for _, id := range ids {
		cdd := []string{cs, "Control", "CriticalDeviceDatabase", id}
		if err := hive.CreateKey(ctx, cdd...); err != nil {
			return fmt.Errorf("failed to create critical device entry %q: %w", id, err)
		}
		if err := hive.SetString(ctx, cdd, "Service", driverName); err != nil {
			return err
		}
		if err := hive.SetString(ctx, cdd, "ClassGUID", scsiAdapterClassGUID); err != nil {
			return err
		}
	}

	log.G(ctx).WithField("driver", driverName).WithField("controlset", cs).Info("registered boot-start block driver")
	return nil
}

// currentControlSet resolves the control set the guest boots from, via
// the hive's Select key. Offline SYSTEM hives always carry it; sinks
// that are merged inside a running guest do not, and for those the
// CurrentControlSet alias is the correct target.
func currentControlSet(ctx context.Context, hive Hive) (string, error) {
	current, ok, err := hive.GetDWord(ctx, []string{"Select"}, "Current")
	if err != nil {
		return "", err
	}
	if !ok {
		return "CurrentControlSet", nil
	}
	return fmt.Sprintf("ControlSet%03d", current), nil
}
