package virtio

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/kdomanski/iso9660"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypervolt/convirt/internal/osdb"
)

// fakeDB is an in-memory capability database.
type fakeDB struct {
	records map[string]*osdb.Record
}

func (f *fakeDB) Lookup(_ context.Context, osID string) (*osdb.Record, bool, error) {
	rec, ok := f.records[osID]
	return rec, ok, nil
}

// writeDriverTree creates root/{os}/{arch}/ with the given files.
func writeDriverTree(t *testing.T, root, osID, arch string, files ...string) {
	t.Helper()
	dir := filepath.Join(root, osID, arch)
	require.NoError(t, os.MkdirAll(dir, 0750))
	for _, f := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte(f+" content"), 0644))
	}
}

func candidateNames(cands []Candidate) []string {
	names := make([]string, 0, len(cands))
	for _, c := range cands {
		names = append(names, strings.ToLower(c.Name))
	}
	return names
}

func TestPathSourceDirectory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeDriverTree(t, root, "win10", "x86_64", "viostor.sys", "viostor.inf", "netkvm.sys", "readme.txt")

	src := newPathSource(root)
	defer src.Close()

	cands, err := src.candidates(ctx, "win10", "x86_64", ClassBlock)
	require.NoError(t, err)
	names := candidateNames(cands)
	assert.Contains(t, names, "viostor.sys")
	assert.Contains(t, names, "viostor.inf")
	assert.Contains(t, names, "netkvm.sys")
	assert.NotContains(t, names, "readme.txt", "non-driver files are not candidates")

	// Candidates are readable.
	for _, c := range cands {
		if strings.EqualFold(c.Name, "viostor.sys") {
			r, err := c.Open()
			require.NoError(t, err)
			defer r.Close()
		}
	}
}

func TestPathSourceMissingSubdirIsEmpty(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeDriverTree(t, root, "win10", "x86_64", "viostor.sys")

	src := newPathSource(root)
	defer src.Close()

	cands, err := src.candidates(ctx, "win2k", "i386", ClassBlock)
	require.NoError(t, err)
	assert.Empty(t, cands, "absence of candidates is not an error")
}

func TestPathSourceMissingRootIsFatal(t *testing.T) {
	ctx := context.Background()
	src := newPathSource(filepath.Join(t.TempDir(), "nope"))
	defer src.Close()

	_, err := src.candidates(ctx, "win10", "x86_64", ClassBlock)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err), "unreachable configured root is a configuration error")
}

func TestPathSourceISO(t *testing.T) {
	ctx := context.Background()

	w, err := iso9660.NewWriter()
	require.NoError(t, err)
	defer w.Cleanup()
	require.NoError(t, w.AddFile(strings.NewReader("viostor"), "win10/x86_64/viostor.sys"))
	require.NoError(t, w.AddFile(strings.NewReader("netkvm"), "win10/x86_64/netkvm.sys"))
	require.NoError(t, w.AddFile(strings.NewReader("agent"), "win10/x86_64/qemu-ga-x86_64.msi"))

	isoPath := filepath.Join(t.TempDir(), "drivers.iso")
	f, err := os.Create(isoPath)
	require.NoError(t, err)
	require.NoError(t, w.WriteTo(f, "virtio-win"))
	require.NoError(t, f.Close())

	src := newPathSource(isoPath)
	defer src.Close()

	cands, err := src.candidates(ctx, "win10", "x86_64", ClassBlock)
	require.NoError(t, err)
	names := candidateNames(cands)
	assert.Contains(t, names, "viostor.sys")
	assert.Contains(t, names, "netkvm.sys")
	assert.NotContains(t, names, "qemu-ga-x86_64.msi")

	agents, err := src.candidates(ctx, "win10", "x86_64", ClassAgent)
	require.NoError(t, err)
	assert.Equal(t, []string{"qemu-ga-x86_64.msi"}, candidateNames(agents))

	// Unknown OS directory is empty, not an error.
	empty, err := src.candidates(ctx, "win2k", "x86_64", ClassBlock)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPathSourceUnreadableMediaIsFatal(t *testing.T) {
	ctx := context.Background()
	notISO := filepath.Join(t.TempDir(), "drivers.iso")
	require.NoError(t, os.WriteFile(notISO, []byte("junk"), 0644))

	src := newPathSource(notISO)
	defer src.Close()

	_, err := src.candidates(ctx, "win10", "x86_64", ClassBlock)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestDBSource(t *testing.T) {
	ctx := context.Background()

	low := t.TempDir()
	high := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(low, "viostor.sys"), []byte("old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(low, "netkvm.sys"), []byte("netkvm"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(high, "viostor.sys"), []byte("new"), 0644))

	db := &fakeDB{records: map[string]*osdb.Record{
		"win10": {
			ShortID: "win10",
			Drivers: []osdb.DriverPackage{
				{Arch: "x86_64", Location: low, Files: []string{"viostor.sys", "netkvm.sys", "missing.sys"}, PreInstallable: true, Priority: 10},
				{Arch: "x86_64", Location: "file://" + high, Files: []string{"viostor.sys"}, PreInstallable: true, Priority: 90},
				{Arch: "i386", Location: low, Files: []string{"viostor.sys"}, PreInstallable: true, Priority: 50},
				{Arch: "x86_64", Location: low, Files: []string{"viostor.sys"}, PreInstallable: false, Priority: 100},
			},
		},
	}}

	src := newDBSource(db)
	defer src.Close()

	cands, err := src.candidates(ctx, "win10", "x86_64", ClassBlock)
	require.NoError(t, err)
	names := candidateNames(cands)
	assert.ElementsMatch(t, []string{"viostor.sys", "netkvm.sys"}, names, "missing files and other arches are skipped")

	// The higher-priority package supplies the duplicated file.
	for _, c := range cands {
		if strings.EqualFold(c.Name, "viostor.sys") {
			r, err := c.Open()
			require.NoError(t, err)
			data := make([]byte, 3)
			_, err = r.Read(data)
			require.NoError(t, err)
			r.Close()
			assert.Equal(t, "new", string(data))
		}
	}
}

func TestDBSourceUnknownOSIsEmpty(t *testing.T) {
	ctx := context.Background()
	src := newDBSource(&fakeDB{records: map[string]*osdb.Record{}})
	defer src.Close()

	cands, err := src.candidates(ctx, "win10", "x86_64", ClassBlock)
	require.NoError(t, err)
	assert.Empty(t, cands)
}
