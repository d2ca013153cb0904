package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// MemHive is an in-memory Hive used for dry-run conversions and tests.
// It records the exact write sequence so callers can inspect ordering.
type MemHive struct {
	keys      map[string]map[string]MemValue
	keyOrder  []string
	writeLog  []string
	committed bool
}

// MemValue is one registry value held by a MemHive.
type MemValue struct {
	Type    string // "sz", "expand_sz", "multi_sz", "dword"
	String  string
	Strings []string
	DWord   uint32
}

// NewMemHive returns an empty in-memory hive.
func NewMemHive() *MemHive {
	return &MemHive{keys: make(map[string]map[string]MemValue)}
}

// CreateKey creates the key and any missing parents.
func (m *MemHive) CreateKey(_ context.Context, path ...string) error {
	if m.committed {
		return fmt.Errorf("%w: hive already committed", errdefs.ErrFailedPrecondition)
	}
	if len(path) == 0 {
		return fmt.Errorf("%w: empty key path", errdefs.ErrInvalidArgument)
	}
	for i := range path {
		key := joinKey(path[:i+1])
		if _, ok := m.keys[key]; !ok {
			m.keys[key] = make(map[string]MemValue)
			m.keyOrder = append(m.keyOrder, key)
			m.writeLog = append(m.writeLog, "create "+key)
		}
	}
	return nil
}

// SetString sets a REG_SZ value.
func (m *MemHive) SetString(ctx context.Context, path []string, name, value string) error {
	return m.set(ctx, path, name, MemValue{Type: "sz", String: value})
}

// SetExpandString sets a REG_EXPAND_SZ value.
func (m *MemHive) SetExpandString(ctx context.Context, path []string, name, value string) error {
	return m.set(ctx, path, name, MemValue{Type: "expand_sz", String: value})
}

// SetMultiString sets a REG_MULTI_SZ value.
func (m *MemHive) SetMultiString(ctx context.Context, path []string, name string, values []string) error {
	return m.set(ctx, path, name, MemValue{Type: "multi_sz", Strings: values})
}

// SetDWord sets a REG_DWORD value.
func (m *MemHive) SetDWord(ctx context.Context, path []string, name string, value uint32) error {
	return m.set(ctx, path, name, MemValue{Type: "dword", DWord: value})
}

// GetDWord reads a REG_DWORD value; a missing key or value is ok=false.
func (m *MemHive) GetDWord(_ context.Context, path []string, name string) (uint32, bool, error) {
	values, ok := m.keys[joinKey(path)]
	if !ok {
		return 0, false, nil
	}
	v, ok := values[strings.ToLower(name)]
	if !ok || v.Type != "dword" {
		return 0, false, nil
	}
	return v.DWord, true, nil
}

// Commit marks the hive committed; further mutations fail.
func (m *MemHive) Commit(_ context.Context) error {
	if m.committed {
		return fmt.Errorf("%w: hive already committed", errdefs.ErrFailedPrecondition)
	}
	m.committed = true
	return nil
}

// Committed reports whether Commit has been called.
func (m *MemHive) Committed() bool { return m.committed }

// Value returns a stored value, if present.
func (m *MemHive) Value(path []string, name string) (MemValue, bool) {
	values, ok := m.keys[joinKey(path)]
	if !ok {
		return MemValue{}, false
	}
	v, ok := values[strings.ToLower(name)]
	return v, ok
}

// Keys returns the created key paths in creation order.
func (m *MemHive) Keys() []string {
	return append([]string(nil), m.keyOrder...)
}

// WriteLog returns the ordered record of every mutation.
func (m *MemHive) WriteLog() []string {
	return append([]string(nil), m.writeLog...)
}

func (m *MemHive) set(ctx context.Context, path []string, name string, v MemValue) error {
	if m.committed {
		return fmt.Errorf("%w: hive already committed", errdefs.ErrFailedPrecondition)
	}
	if err := m.CreateKey(ctx, path...); err != nil {
		return err
	}
	key := joinKey(path)
	m.keys[key][strings.ToLower(name)] = v
	m.writeLog = append(m.writeLog, fmt.Sprintf("set %s!%s", key, name))
	return nil
}
