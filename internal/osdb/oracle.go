package osdb

import (
	"strconv"
	"strings"
)

// Device ID markers recognized by the capability queries. These values
// come from the capability database schema: Q35 support is expressed as
// a chipset pseudo-device, virtio and e1000 support as PCI devices
// identified by vendor/product ID.
const (
	q35DeviceID = "http://qemu.org/chipset/x86/q35"

	virtioVendorID = 0x1af4
	intelVendorID  = 0x8086

	// Modern (non-transitional) virtio PCI device IDs occupy this range.
	virtio10MinProduct = 0x1041
	virtio10MaxProduct = 0x107f

	virtioNetLegacyProduct = 0x1000
	virtioNetModernProduct = 0x1041
	e1000Product           = 0x100e
)

// SupportsVirtio10 reports whether the device list contains evidence of
// modern (version 1.0) virtio support. An empty list yields false.
func SupportsVirtio10(devices []Device) bool {
	for _, d := range devices {
		vendor, product, ok := pciIDs(d)
		if !ok {
			continue
		}
		if vendor == virtioVendorID && product >= virtio10MinProduct && product <= virtio10MaxProduct {
			return true
		}
	}
	return false
}

// SupportsQ35 reports whether the device list contains the Q35 chipset
// marker device.
func SupportsQ35(devices []Device) bool {
	for _, d := range devices {
		if strings.EqualFold(strings.TrimSpace(d.ID), q35DeviceID) {
			return true
		}
	}
	return false
}

// SupportsVirtioNet reports whether the device list contains a virtio
// network device, legacy or modern. Guests whose OS era predates virtio
// networking have neither and must use an emulated model.
func SupportsVirtioNet(devices []Device) bool {
	for _, d := range devices {
		vendor, product, ok := pciIDs(d)
		if !ok {
			continue
		}
		if vendor == virtioVendorID && (product == virtioNetLegacyProduct || product == virtioNetModernProduct) {
			return true
		}
	}
	return false
}

// SupportsE1000 reports whether the device list contains the Intel
// e1000 network device. Very old guests lack it and fall back to
// rtl8139, the oldest emulated model.
func SupportsE1000(devices []Device) bool {
	for _, d := range devices {
		vendor, product, ok := pciIDs(d)
		if !ok {
			continue
		}
		if vendor == intelVendorID && product == e1000Product {
			return true
		}
	}
	return false
}

// pciIDs extracts the numeric PCI vendor and product ID of a device,
// from the dedicated fields when present, otherwise from the trailing
// components of a pcisig.com device URI. Comparison is case-insensitive
// because the database is inconsistent about hex digit case.
func pciIDs(d Device) (vendor, product uint64, ok bool) {
	vendor, verr := parseHexID(d.VendorID)
	product, perr := parseHexID(d.ProductID)
	if verr == nil && perr == nil {
		return vendor, product, true
	}

	// Fall back to URIs of the form ".../pci/<vendor>/<product>".
	parts := strings.Split(strings.TrimSpace(d.ID), "/")
	if len(parts) < 3 || !strings.EqualFold(parts[len(parts)-3], "pci") {
		return 0, 0, false
	}
	vendor, verr = parseHexID(parts[len(parts)-2])
	product, perr = parseHexID(parts[len(parts)-1])
	if verr != nil || perr != nil {
		return 0, 0, false
	}
	return vendor, product, true
}

func parseHexID(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	return strconv.ParseUint(s, 16, 32)
}
