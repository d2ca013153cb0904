package osdb

import (
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// XMLDB is a capability database loaded from a directory tree of
// libosinfo-format XML files. The whole tree is parsed once at
// construction; lookups are map reads afterwards.
type XMLDB struct {
	records map[string]*Record
}

type xmlRoot struct {
	XMLName xml.Name    `xml:"libosinfo"`
	OSes    []xmlOS     `xml:"os"`
	Devices []xmlDevice `xml:"device"`
}

type xmlOS struct {
	ID        string      `xml:"id,attr"`
	ShortID   string      `xml:"short-id"`
	Name      string      `xml:"name"`
	Family    string      `xml:"family"`
	DeviceRef []xmlRef    `xml:"devices>device"`
	Drivers   []xmlDriver `xml:"driver"`
}

type xmlRef struct {
	ID string `xml:"id,attr"`
}

type xmlDevice struct {
	ID        string `xml:"id,attr"`
	Vendor    string `xml:"vendor"`
	VendorID  string `xml:"vendor-id"`
	Product   string `xml:"product"`
	ProductID string `xml:"product-id"`
	Name      string `xml:"name"`
	Class     string `xml:"class"`
	BusType   string `xml:"bus-type"`
	Subsystem string `xml:"subsystem"`
}

type xmlDriver struct {
	Arch           string   `xml:"arch,attr"`
	Location       string   `xml:"location,attr"`
	PreInstallable bool     `xml:"pre-installable,attr"`
	Signed         bool     `xml:"signed,attr"`
	Priority       int64    `xml:"priority,attr"`
	Files          []string `xml:"file"`
}

// NewXMLDB loads every .xml file beneath dir. A missing or unreadable
// directory is a configuration error.
func NewXMLDB(ctx context.Context, dir string) (*XMLDB, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: capability database directory %q: %v", errdefs.ErrInvalidArgument, dir, err)
	}

	var (
		oses    []xmlOS
		devices = make(map[string]Device)
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".xml") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %q: %w", path, err)
		}
		var root xmlRoot
		if err := xml.Unmarshal(data, &root); err != nil {
			// Skip files that are not libosinfo documents rather than
			// rejecting the whole database.
			log.G(ctx).WithField("path", path).WithError(err).Debug("skipping non-libosinfo XML file")
			return nil
		}
		oses = append(oses, root.OSes...)
		for _, dev := range root.Devices {
			devices[dev.ID] = Device{
				ID:        dev.ID,
				Vendor:    dev.Vendor,
				VendorID:  dev.VendorID,
				Product:   dev.Product,
				ProductID: dev.ProductID,
				Name:      dev.Name,
				Class:     dev.Class,
				BusType:   dev.BusType,
				Subsystem: dev.Subsystem,
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load capability database from %q: %w", dir, err)
	}

	db := &XMLDB{records: make(map[string]*Record, len(oses))}
	for _, o := range oses {
		rec := &Record{
			ShortID: o.ShortID,
			Name:    o.Name,
			Family:  o.Family,
		}
		for _, ref := range o.DeviceRef {
			if dev, ok := devices[ref.ID]; ok {
				rec.Devices = append(rec.Devices, dev)
			} else {
				// Forward reference to a device definition that is not
				// part of this tree. The URI alone still carries the
				// vendor/product identity.
				rec.Devices = append(rec.Devices, Device{ID: ref.ID})
			}
		}
		for _, drv := range o.Drivers {
			rec.Drivers = append(rec.Drivers, DriverPackage{
				Arch:           drv.Arch,
				Location:       drv.Location,
				Files:          drv.Files,
				PreInstallable: drv.PreInstallable,
				Signed:         drv.Signed,
				Priority:       drv.Priority,
			})
		}
		db.records[o.ShortID] = rec
	}

	log.G(ctx).WithField("dir", dir).WithField("records", len(db.records)).Debug("loaded capability database")
	return db, nil
}

// Lookup returns the record for osID, or ok=false when the OS is not in
// the database.
func (db *XMLDB) Lookup(_ context.Context, osID string) (*Record, bool, error) {
	rec, ok := db.records[osID]
	return rec, ok, nil
}

// ShortIDs returns the identifiers of every loaded record, for bulk
// import into a cache.
func (db *XMLDB) ShortIDs() []string {
	ids := make([]string, 0, len(db.records))
	for id := range db.records {
		ids = append(ids, id)
	}
	return ids
}
