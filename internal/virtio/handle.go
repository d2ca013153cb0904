// Package virtio decides which paravirtualized drivers a converted
// Windows guest needs, installs them from a driver source, and
// registers them so the guest boots on the target hypervisor.
package virtio

import (
	"strings"

	"github.com/hypervolt/convirt/internal/osdb"
	"github.com/hypervolt/convirt/internal/paths"
)

// Vendor-recommended search order. Earlier entries are preferred; the
// first one with a matching driver file wins.
var (
	defaultBlockPriority = []string{"virtio_blk", "vrtioblk", "viostor"}
	defaultNetPriority   = []string{"netkvm"}
)

// Handle drives driver injection for one guest conversion. It is bound
// to one driver source at construction, used for exactly one Inject
// call, and then discarded. It is not safe for concurrent use; each
// conversion task owns its handle exclusively.
type Handle struct {
	db  osdb.DB
	src driverSource

	blockPriority []string
	netPriority   []string
}

// NewFromPath binds the handle to a driver repository at root, which is
// either an unpacked directory or an ISO image. The root is validated
// at first use, not here: an unreachable root surfaces as a fatal
// configuration error from Inject.
func NewFromPath(db osdb.DB, root string) *Handle {
	return newHandle(db, newPathSource(root))
}

// NewFromDB binds the handle to the capability database's driver
// package references; any configured path is ignored.
func NewFromDB(db osdb.DB) *Handle {
	return newHandle(db, newDBSource(db))
}

// NewFromEnv binds the handle to the repository named by the
// CONVIRT_VIRTIO_WIN environment variable, falling back to the standard
// virtio-win location and then the legacy bundled copy. This is the
// binding used by the default conversion entry point.
func NewFromEnv(db osdb.DB) *Handle {
	return newHandle(db, newPathSource(paths.GetVirtioWinDir()))
}

func newHandle(db osdb.DB, src driverSource) *Handle {
	return &Handle{
		db:            db,
		src:           src,
		blockPriority: append([]string(nil), defaultBlockPriority...),
		netPriority:   append([]string(nil), defaultNetPriority...),
	}
}

// Close releases the driver source.
func (h *Handle) Close() error {
	return h.src.Close()
}

// BlockDriverPriority returns the block driver search order.
func (h *Handle) BlockDriverPriority() []string {
	return append([]string(nil), h.blockPriority...)
}

// SetBlockDriverPriority replaces the block driver search order.
// Duplicate names keep their first position. An empty list forces the
// legacy IDE fallback.
func (h *Handle) SetBlockDriverPriority(names []string) {
	h.blockPriority = dedupe(names)
}

// NetDriverPriority returns the net driver search order.
func (h *Handle) NetDriverPriority() []string {
	return append([]string(nil), h.netPriority...)
}

// SetNetDriverPriority replaces the net driver search order. An empty
// list forces the emulated fallback.
func (h *Handle) SetNetDriverPriority(names []string) {
	h.netPriority = dedupe(names)
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
