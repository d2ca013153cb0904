// Package osdb provides access to the operating-system capability
// database used during guest conversion: per-OS device lists, driver
// package references, and the capability queries derived from them.
package osdb

import "context"

// Device is one hardware device associated with an OS record. The
// fields mirror the capability database schema; any of them may be
// empty for sparsely described devices.
type Device struct {
	// ID is a unique URI identifying the device, e.g.
	// "http://pcisig.com/pci/1af4/1041".
	ID        string
	Vendor    string
	VendorID  string // hex, "0x" prefixed
	Product   string
	ProductID string // hex, "0x" prefixed
	Name      string
	Class     string
	BusType   string
	Subsystem string
}

// DriverPackage references a set of driver files published for one OS
// release and architecture.
type DriverPackage struct {
	Arch           string
	Location       string
	Files          []string
	PreInstallable bool
	Signed         bool
	// Priority orders packages for the same OS/arch; higher wins.
	Priority int64
}

// Record is the capability database entry for one OS release.
type Record struct {
	// ShortID is the lookup key, e.g. "win10".
	ShortID string
	Name    string
	Family  string
	Devices []Device
	Drivers []DriverPackage
}

// DB answers OS capability lookups. An unknown OS identifier is an
// expected case: implementations return ok=false, not an error.
type DB interface {
	Lookup(ctx context.Context, osID string) (rec *Record, ok bool, err error)
}
