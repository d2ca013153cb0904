package virtio

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/kdomanski/iso9660"

	"github.com/hypervolt/convirt/internal/osdb"
)

// Candidate is one driver file resolved from a source. It is produced
// lazily during selection and is only valid while the handle that
// produced it stays open.
type Candidate struct {
	// Name is the file base name, e.g. "viostor.sys".
	Name string
	open func() (io.ReadCloser, error)
}

// Open returns the file content.
func (c Candidate) Open() (io.ReadCloser, error) {
	return c.open()
}

// Device classes understood by the sources. Driver classes resolve .sys
// files plus their companion .inf/.cat files; the agent class resolves
// installer packages.
const (
	ClassBlock   = "block"
	ClassNet     = "net"
	ClassRNG     = "rng"
	ClassBalloon = "balloon"
	ClassPVPanic = "pvpanic"
	ClassSocket  = "socket"
	ClassAgent   = "agent"
)

// driverSource resolves the files available for an OS release and
// architecture. Absence of candidates is an empty slice, never an
// error; only an unreachable configured root is an error.
type driverSource interface {
	candidates(ctx context.Context, osID, arch, class string) ([]Candidate, error)
	io.Closer
}

// classMatches filters a file name by device class.
func classMatches(class, name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if class == ClassAgent {
		return ext == ".msi"
	}
	// Driver payloads: the .sys image plus the setup files needed to
	// reinstall the device properly at next boot.
	return ext == ".sys" || ext == ".inf" || ext == ".cat" || ext == ".dll"
}

// pathSource resolves drivers beneath a {root}/{os-id}/{arch}/ tree,
// where root is an unpacked directory or an ISO image. The root is
// validated at first use: a configured but unreachable root is a fatal
// configuration error, not an empty source.
type pathSource struct {
	root string

	checked bool
	isoFile *os.File
	iso     *iso9660.Image
}

func newPathSource(root string) *pathSource {
	return &pathSource{root: root}
}

func (s *pathSource) candidates(ctx context.Context, osID, arch, class string) ([]Candidate, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	if s.iso != nil {
		return s.isoCandidates(ctx, osID, arch, class)
	}
	return s.dirCandidates(ctx, osID, arch, class)
}

// check validates the configured root once, opening the image when the
// root is packaged media rather than a directory.
func (s *pathSource) check(ctx context.Context) error {
	if s.checked {
		return nil
	}

	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("%w: driver source root %q: %v", errdefs.ErrInvalidArgument, s.root, err)
	}
	if !info.IsDir() {
		f, err := os.Open(s.root)
		if err != nil {
			return fmt.Errorf("%w: driver source media %q: %v", errdefs.ErrInvalidArgument, s.root, err)
		}
		img, err := iso9660.OpenImage(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("%w: driver source media %q is not a readable image: %v", errdefs.ErrInvalidArgument, s.root, err)
		}
		s.isoFile = f
		s.iso = img
		log.G(ctx).WithField("media", s.root).Debug("opened driver source media")
	} else if !dirReadable(s.root) {
		return fmt.Errorf("%w: driver source root %q is not readable", errdefs.ErrInvalidArgument, s.root)
	}

	s.checked = true
	return nil
}

func (s *pathSource) dirCandidates(_ context.Context, osID, arch, class string) ([]Candidate, error) {
	dir := filepath.Join(s.root, osID, arch)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list driver directory %q: %w", dir, err)
	}

	var out []Candidate
	for _, e := range entries {
		if e.IsDir() || !classMatches(class, e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		out = append(out, Candidate{
			Name: e.Name(),
			open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}
	return out, nil
}

func (s *pathSource) isoCandidates(_ context.Context, osID, arch, class string) ([]Candidate, error) {
	dir, err := isoLookup(s.iso, osID, arch)
	if err != nil || dir == nil {
		return nil, err
	}
	children, err := dir.GetChildren()
	if err != nil {
		return nil, fmt.Errorf("failed to list media directory %s/%s: %w", osID, arch, err)
	}

	var out []Candidate
	for _, child := range children {
		name := isoName(child)
		if child.IsDir() || !classMatches(class, name) {
			continue
		}
		file := child
		out = append(out, Candidate{
			Name: name,
			open: func() (io.ReadCloser, error) { return io.NopCloser(file.Reader()), nil },
		})
	}
	return out, nil
}

// isoName strips the ISO9660 version suffix some mastering tools append
// to file identifiers.
func isoName(f *iso9660.File) string {
	return strings.SplitN(f.Name(), ";", 2)[0]
}

func (s *pathSource) Close() error {
	if s.isoFile != nil {
		return s.isoFile.Close()
	}
	return nil
}

// isoLookup descends to {osID}/{arch} in the image, nil if absent.
// ISO9660 directory records are case-insensitive in practice.
func isoLookup(img *iso9660.Image, osID, arch string) (*iso9660.File, error) {
	dir, err := img.RootDir()
	if err != nil {
		return nil, fmt.Errorf("failed to read media root directory: %w", err)
	}
	for _, component := range []string{osID, arch} {
		children, err := dir.GetChildren()
		if err != nil {
			return nil, fmt.Errorf("failed to read media directory: %w", err)
		}
		var next *iso9660.File
		for _, child := range children {
			if child.IsDir() && strings.EqualFold(isoName(child), component) {
				next = child
				break
			}
		}
		if next == nil {
			return nil, nil
		}
		dir = next
	}
	return dir, nil
}

// dbSource resolves drivers from the capability database's package
// references. An OS without a record, or without packages for the
// requested architecture, yields no candidates.
type dbSource struct {
	db osdb.DB
}

func newDBSource(db osdb.DB) *dbSource {
	return &dbSource{db: db}
}

func (s *dbSource) candidates(ctx context.Context, osID, arch, class string) ([]Candidate, error) {
	rec, ok, err := s.db.Lookup(ctx, osID)
	if err != nil {
		return nil, fmt.Errorf("capability database lookup for %q failed: %w", osID, err)
	}
	if !ok {
		return nil, nil
	}

	// Higher-priority packages win when they carry the same file name.
	pkgs := make([]osdb.DriverPackage, 0, len(rec.Drivers))
	for _, pkg := range rec.Drivers {
		if pkg.PreInstallable && strings.EqualFold(pkg.Arch, arch) {
			pkgs = append(pkgs, pkg)
		}
	}
	sort.SliceStable(pkgs, func(i, j int) bool { return pkgs[i].Priority > pkgs[j].Priority })

	var out []Candidate
	seen := make(map[string]bool)
	for _, pkg := range pkgs {
		root := strings.TrimPrefix(pkg.Location, "file://")
		for _, file := range pkg.Files {
			if !classMatches(class, file) || seen[strings.ToLower(file)] {
				continue
			}
			path := filepath.Join(root, file)
			// The contract promises files known to exist at call time.
			if _, err := os.Stat(path); err != nil {
				log.G(ctx).WithField("file", path).Debug("skipping missing database-referenced driver file")
				continue
			}
			seen[strings.ToLower(file)] = true
			out = append(out, Candidate{
				Name: file,
				open: func() (io.ReadCloser, error) { return os.Open(path) },
			})
		}
	}
	return out, nil
}

func (s *dbSource) Close() error { return nil }
