package osdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const win10XML = `<libosinfo version="0.0.1">
  <os id="http://microsoft.com/win/10">
    <short-id>win10</short-id>
    <name>Microsoft Windows 10</name>
    <family>winnt</family>
    <devices>
      <device id="http://pcisig.com/pci/1af4/1041"/>
      <device id="http://qemu.org/chipset/x86/q35"/>
    </devices>
    <driver arch="x86_64" location="file:///drivers/win10/x86_64" pre-installable="true" signed="true" priority="50">
      <file>viostor.inf</file>
      <file>viostor.sys</file>
      <file>netkvm.sys</file>
    </driver>
  </os>
</libosinfo>
`

const devicesXML = `<libosinfo version="0.0.1">
  <device id="http://pcisig.com/pci/1af4/1041">
    <name>virtio1.0-net</name>
    <vendor>Red Hat, Inc</vendor>
    <vendor-id>0x1AF4</vendor-id>
    <product>Virtio 1.0 network device</product>
    <product-id>0x1041</product-id>
    <class>net</class>
    <bus-type>pci</bus-type>
  </device>
</libosinfo>
`

func writeTestDB(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "os"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "os", "win-10.xml"), []byte(win10XML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devices.xml"), []byte(devicesXML), 0644))
	// Non-libosinfo XML must be tolerated, not fatal.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.xml"), []byte("<scratch/>"), 0644))
	return dir
}

func TestXMLDBLookup(t *testing.T) {
	ctx := context.Background()
	db, err := NewXMLDB(ctx, writeTestDB(t))
	require.NoError(t, err)

	rec, ok, err := db.Lookup(ctx, "win10")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "Microsoft Windows 10", rec.Name)
	assert.Equal(t, "winnt", rec.Family)
	require.Len(t, rec.Devices, 2)
	// The device definition file fills in the PCI identity.
	assert.Equal(t, "0x1AF4", rec.Devices[0].VendorID)
	assert.Equal(t, "virtio1.0-net", rec.Devices[0].Name)
	// The chipset marker has no definition; the URI alone is kept.
	assert.Equal(t, "http://qemu.org/chipset/x86/q35", rec.Devices[1].ID)

	require.Len(t, rec.Drivers, 1)
	assert.Equal(t, "x86_64", rec.Drivers[0].Arch)
	assert.True(t, rec.Drivers[0].PreInstallable)
	assert.Contains(t, rec.Drivers[0].Files, "viostor.sys")

	assert.True(t, SupportsVirtio10(rec.Devices))
	assert.True(t, SupportsQ35(rec.Devices))
}

func TestXMLDBLookupUnknownOS(t *testing.T) {
	ctx := context.Background()
	db, err := NewXMLDB(ctx, writeTestDB(t))
	require.NoError(t, err)

	rec, ok, err := db.Lookup(ctx, "msdos6.22")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestNewXMLDBMissingDir(t *testing.T) {
	_, err := NewXMLDB(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestBoltDBImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, err := NewXMLDB(ctx, writeTestDB(t))
	require.NoError(t, err)

	cache, err := OpenBolt(filepath.Join(t.TempDir(), "capcache.db"))
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.ImportFrom(ctx, src, append(src.ShortIDs(), "no-such-os")))

	want, ok, err := src.Lookup(ctx, "win10")
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := cache.Lookup(ctx, "win10")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = cache.Lookup(ctx, "no-such-os")
	require.NoError(t, err)
	assert.False(t, ok)
}
