package virtio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypervolt/convirt/internal/osdb"
)

func newTestHandle(t *testing.T, files ...string) *Handle {
	t.Helper()
	root := t.TempDir()
	writeDriverTree(t, root, "win10", "x86_64", files...)
	h := NewFromPath(&fakeDB{records: map[string]*osdb.Record{}}, root)
	t.Cleanup(func() { h.Close() })
	return h
}

var win10 = GuestInfo{OSID: "win10", Arch: "x86_64"}

func TestSelectDriverFirstMatchWins(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, "virtio_blk.sys", "viostor.sys")

	name, found, err := h.selectDriver(ctx, ClassBlock, []string{"virtio_blk", "vrtioblk", "viostor"}, win10, nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "virtio_blk", name, "an earlier match must never lose to a later one")
}

func TestSelectDriverLaterEntryWhenEarlierMissing(t *testing.T) {
	// Priority [X, Y] with only Y available selects Y.
	ctx := context.Background()
	h := newTestHandle(t, "viostor.sys")

	name, found, err := h.selectDriver(ctx, ClassBlock, []string{"virtio_blk", "viostor"}, win10, nil)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "viostor", name)
}

func TestSelectDriverNoneFound(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, "netkvm.sys")

	_, found, err := h.selectDriver(ctx, ClassBlock, []string{"virtio_blk", "viostor"}, win10, nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSelectDriverEmptyPriorityList(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, "viostor.sys")

	_, found, err := h.selectDriver(ctx, ClassBlock, nil, win10, nil)
	require.NoError(t, err)
	assert.False(t, found, "an empty priority list forces the fallback")
}

func TestSelectDriverExclusionBeatsAvailability(t *testing.T) {
	ctx := context.Background()
	h := newTestHandle(t, "netkvm.sys")

	_, found, err := h.selectDriver(ctx, ClassNet, []string{"netkvm"}, win10, map[string]bool{"netkvm": true})
	require.NoError(t, err)
	assert.False(t, found, "excluded names are skipped even when their file exists")
}

func TestPrioritySettersDedupe(t *testing.T) {
	h := newTestHandle(t)

	h.SetBlockDriverPriority([]string{"viostor", "virtio_blk", "VIOSTOR"})
	assert.Equal(t, []string{"viostor", "virtio_blk"}, h.BlockDriverPriority())

	h.SetNetDriverPriority(nil)
	assert.Empty(t, h.NetDriverPriority())
}

func TestPriorityGetterReturnsCopy(t *testing.T) {
	h := newTestHandle(t)

	got := h.BlockDriverPriority()
	got[0] = "tampered"
	assert.NotEqual(t, "tampered", h.BlockDriverPriority()[0])
}
