package guestfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirGuest(t *testing.T) {
	tests := []struct {
		name    string
		root    func(t *testing.T) string
		wantErr bool
	}{
		{
			name: "existing directory",
			root: func(t *testing.T) string { return t.TempDir() },
		},
		{
			name:    "missing directory",
			root:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") },
			wantErr: true,
		},
		{
			name: "regular file",
			root: func(t *testing.T) string {
				f := filepath.Join(t.TempDir(), "file")
				require.NoError(t, os.WriteFile(f, []byte("x"), 0644))
				return f
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDirGuest(tt.root(t))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errdefs.IsInvalidArgument(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDirGuestRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	g, err := NewDirGuest(root)
	require.NoError(t, err)

	require.NoError(t, g.MkdirAll(ctx, "Windows/System32/drivers"))
	require.NoError(t, g.WriteFile(ctx, "Windows/System32/drivers/viostor.sys", []byte("driver")))

	data, err := g.ReadFile(ctx, "Windows/System32/drivers/viostor.sys")
	require.NoError(t, err)
	assert.Equal(t, []byte("driver"), data)

	// The file lands under the host root with native separators.
	_, err = os.Stat(filepath.Join(root, "Windows", "System32", "drivers", "viostor.sys"))
	assert.NoError(t, err)
}

func TestDirGuestCopyIn(t *testing.T) {
	ctx := context.Background()
	g, err := NewDirGuest(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "netkvm.sys")
	require.NoError(t, os.WriteFile(src, []byte("netkvm"), 0644))

	require.NoError(t, g.MkdirAll(ctx, "Windows/Drivers/VirtIO"))
	require.NoError(t, g.CopyIn(ctx, src, "Windows/Drivers/VirtIO"))

	data, err := g.ReadFile(ctx, "Windows/Drivers/VirtIO/netkvm.sys")
	require.NoError(t, err)
	assert.Equal(t, []byte("netkvm"), data)
}

func TestDirGuestRejectsEscape(t *testing.T) {
	ctx := context.Background()
	g, err := NewDirGuest(t.TempDir())
	require.NoError(t, err)

	for _, p := range []string{"../outside", "a/../../outside", "/etc/passwd"} {
		err := g.MkdirAll(ctx, p)
		require.Error(t, err, p)
		assert.True(t, errdefs.IsInvalidArgument(err), p)
	}
}
