package registry

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/hypervolt/convirt/internal/guestfs"
)

// regHeader is the mandatory first line of a version-5 registry export.
const regHeader = "Windows Registry Editor Version 5.00"

// RegFile is a Hive that stages mutations and commits them as a .reg
// export written into the guest, to be merged by a first-boot script
// with "reg.exe import". It cannot read the guest's real registry, so
// GetDWord only sees values staged through it; the service writer then
// targets the CurrentControlSet alias, which is what a merge inside the
// running guest needs anyway.
type RegFile struct {
	guest     guestfs.Guest
	guestPath string
	rootKey   string

	keyOrder  []string
	values    map[string][]regValue
	committed bool
}

type regValue struct {
	name     string
	rendered string
	dword    uint32
	isDword  bool
}

// NewRegFile returns a RegFile that commits to guestPath inside guest.
// rootKey is the registry location the staged paths are relative to,
// e.g. `HKEY_LOCAL_MACHINE\SYSTEM`.
func NewRegFile(guest guestfs.Guest, guestPath, rootKey string) *RegFile {
	return &RegFile{
		guest:     guest,
		guestPath: guestPath,
		rootKey:   rootKey,
		values:    make(map[string][]regValue),
	}
}

// CreateKey stages the key and its missing parents.
func (r *RegFile) CreateKey(_ context.Context, path ...string) error {
	if r.committed {
		return fmt.Errorf("%w: registry export already committed", errdefs.ErrFailedPrecondition)
	}
	if len(path) == 0 {
		return fmt.Errorf("%w: empty key path", errdefs.ErrInvalidArgument)
	}
	for i := range path {
		r.ensureKey(path[:i+1])
	}
	return nil
}

// SetString stages a REG_SZ value.
func (r *RegFile) SetString(ctx context.Context, path []string, name, value string) error {
	return r.set(ctx, path, regValue{
		name:     name,
		rendered: fmt.Sprintf(`%s="%s"`, renderValueName(name), escapeRegString(value)),
	})
}

// SetExpandString stages a REG_EXPAND_SZ value.
func (r *RegFile) SetExpandString(ctx context.Context, path []string, name, value string) error {
	return r.set(ctx, path, regValue{
		name:     name,
		rendered: fmt.Sprintf("%s=hex(2):%s", renderValueName(name), hexUTF16(value+"\x00")),
	})
}

// SetMultiString stages a REG_MULTI_SZ value.
func (r *RegFile) SetMultiString(ctx context.Context, path []string, name string, values []string) error {
	var sb strings.Builder
	for _, v := range values {
		sb.WriteString(v)
		sb.WriteByte(0)
	}
	sb.WriteByte(0)
	return r.set(ctx, path, regValue{
		name:     name,
		rendered: fmt.Sprintf("%s=hex(7):%s", renderValueName(name), hexUTF16(sb.String())),
	})
}

// SetDWord stages a REG_DWORD value.
func (r *RegFile) SetDWord(ctx context.Context, path []string, name string, value uint32) error {
	return r.set(ctx, path, regValue{
		name:     name,
		rendered: fmt.Sprintf("%s=dword:%08x", renderValueName(name), value),
		dword:    value,
		isDword:  true,
	})
}

// GetDWord returns a previously staged DWORD. The real guest registry
// is not readable through an export file, so anything not staged is
// reported absent.
func (r *RegFile) GetDWord(_ context.Context, path []string, name string) (uint32, bool, error) {
	for _, v := range r.values[joinKey(path)] {
		if v.isDword && strings.EqualFold(v.name, name) {
			return v.dword, true, nil
		}
	}
	return 0, false, nil
}

// Commit renders the staged mutations as a UTF-16LE .reg file and
// writes it into the guest. It must be called exactly once.
func (r *RegFile) Commit(ctx context.Context) error {
	if r.committed {
		return fmt.Errorf("%w: registry export already committed", errdefs.ErrFailedPrecondition)
	}
	r.committed = true

	var sb strings.Builder
	sb.WriteString(regHeader)
	sb.WriteString("\r\n")
	for _, key := range r.keyOrder {
		sb.WriteString("\r\n[")
		sb.WriteString(r.rootKey)
		sb.WriteString(`\`)
		sb.WriteString(key)
		sb.WriteString("]\r\n")
		for _, v := range r.values[key] {
			sb.WriteString(v.rendered)
			sb.WriteString("\r\n")
		}
	}

	if err := r.guest.WriteFile(ctx, r.guestPath, encodeUTF16LE(sb.String())); err != nil {
		return fmt.Errorf("failed to write registry export: %w", err)
	}
	log.G(ctx).WithField("path", r.guestPath).WithField("keys", len(r.keyOrder)).Info("wrote registry export")
	return nil
}

func (r *RegFile) set(ctx context.Context, path []string, v regValue) error {
	if r.committed {
		return fmt.Errorf("%w: registry export already committed", errdefs.ErrFailedPrecondition)
	}
	if err := r.CreateKey(ctx, path...); err != nil {
		return err
	}
	key := joinKey(path)
	for i, existing := range r.values[key] {
		if strings.EqualFold(existing.name, v.name) {
			r.values[key][i] = v
			return nil
		}
	}
	r.values[key] = append(r.values[key], v)
	return nil
}

func (r *RegFile) ensureKey(path []string) {
	key := joinKey(path)
	if _, ok := r.values[key]; ok {
		return
	}
	r.values[key] = nil
	r.keyOrder = append(r.keyOrder, key)
}

func joinKey(path []string) string {
	return strings.Join(path, `\`)
}

func renderValueName(name string) string {
	if name == "" {
		return "@"
	}
	return `"` + escapeRegString(name) + `"`
}

func escapeRegString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// hexUTF16 renders s as the comma-separated little-endian UTF-16 byte
// list used by hex(2) and hex(7) values.
func hexUTF16(s string) string {
	units := utf16.Encode([]rune(s))
	parts := make([]string, 0, len(units)*2)
	for _, u := range units {
		parts = append(parts, fmt.Sprintf("%02x,%02x", byte(u), byte(u>>8)))
	}
	return strings.Join(parts, ",")
}

// encodeUTF16LE converts s to UTF-16LE with a byte order mark, the
// encoding regedit expects for version-5 export files.
func encodeUTF16LE(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 2, 2+len(units)*2)
	buf[0], buf[1] = 0xff, 0xfe
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	return buf
}
