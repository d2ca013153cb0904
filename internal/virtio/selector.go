package virtio

import (
	"context"
	"strings"

	"github.com/containerd/log"
)

// selectDriver walks the priority list in order and returns the first
// name for which <name>.sys exists among the source's candidates for
// this guest. List order is the sole tie-break: this is first-match,
// not best-match. Names in exclude are skipped before the search.
// found=false means the caller must fall back to an emulated device;
// only a broken source root is an error.
func (h *Handle) selectDriver(ctx context.Context, class string, priority []string, info GuestInfo, exclude map[string]bool) (name string, found bool, err error) {
	cands, err := h.src.candidates(ctx, info.OSID, info.Arch, class)
	if err != nil {
		return "", false, err
	}

	available := make(map[string]bool, len(cands))
	for _, c := range cands {
		available[strings.ToLower(c.Name)] = true
	}

	for _, n := range priority {
		if exclude[strings.ToLower(n)] {
			log.G(ctx).WithField("driver", n).WithField("class", class).Debug("driver excluded for this guest")
			continue
		}
		if available[strings.ToLower(n)+".sys"] {
			return n, true, nil
		}
	}
	return "", false, nil
}

// featureAvailable reports whether the feature driver <name>.sys is
// present for this guest.
func (h *Handle) featureAvailable(ctx context.Context, class, name string, info GuestInfo) (bool, error) {
	cands, err := h.src.candidates(ctx, info.OSID, info.Arch, class)
	if err != nil {
		return false, err
	}
	for _, c := range cands {
		if strings.EqualFold(c.Name, name+".sys") {
			return true, nil
		}
	}
	return false, nil
}
