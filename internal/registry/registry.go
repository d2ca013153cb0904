// Package registry mutates the guest's Windows registry through an
// abstract hive handle. Parsing the binary hive format is a
// collaborator's job; this package only decides which keys and values
// to write, and in what order.
package registry

import "context"

// Hive is a writable view of the guest's SYSTEM hive. Key paths are
// relative to the hive root, one element per subkey. Implementations
// must apply mutations atomically at Commit: Commit is the single
// commit point and must be called exactly once, after all writes for
// one injection.
type Hive interface {
	// CreateKey creates the key path, including missing intermediate
	// keys. Creating an existing key is not an error.
	CreateKey(ctx context.Context, path ...string) error

	// SetString sets a REG_SZ value.
	SetString(ctx context.Context, path []string, name, value string) error

	// SetExpandString sets a REG_EXPAND_SZ value.
	SetExpandString(ctx context.Context, path []string, name, value string) error

	// SetMultiString sets a REG_MULTI_SZ value.
	SetMultiString(ctx context.Context, path []string, name string, values []string) error

	// SetDWord sets a REG_DWORD value.
	SetDWord(ctx context.Context, path []string, name string, value uint32) error

	// GetDWord reads an existing REG_DWORD value. A missing key or
	// value is reported as ok=false, not an error.
	GetDWord(ctx context.Context, path []string, name string) (value uint32, ok bool, err error)

	// Commit flushes all staged mutations. After Commit the hive must
	// not be used again.
	Commit(ctx context.Context) error
}
