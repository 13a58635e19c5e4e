// Package permissions keeps sensitive files readable and writable by their
// owner only.
package permissions

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// ErrFixFailed is returned when a too-permissive mode could not be corrected.
var ErrFixFailed = errors.New("permissions: could not restrict file mode")

// OwnerOnly is the mode enforced on every managed file.
const OwnerOnly os.FileMode = 0o600

// groupOther covers every permission bit not held by the owner.
const groupOther os.FileMode = 0o077

// Enforce restricts path to owner read/write if its mode grants any access to
// group or others. It reports whether the mode was changed. File content is
// never touched.
//
// A file that vanished before it could be inspected yields an error wrapping
// os.ErrNotExist; a failed chmod yields an error wrapping ErrFixFailed.
func Enforce(fs afero.Fs, path string) (bool, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return false, fmt.Errorf("permissions: stat %s: %w", path, err)
	}

	if info.Mode().Perm()&groupOther == 0 {
		return false, nil
	}

	if err := fs.Chmod(path, OwnerOnly); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("permissions: chmod %s: %w", path, err)
		}
		return false, fmt.Errorf("%w: %s: %v", ErrFixFailed, path, err)
	}
	return true, nil
}

// IsOwnerOnly reports whether mode grants nothing to group or others.
func IsOwnerOnly(mode os.FileMode) bool {
	return mode.Perm()&groupOther == 0
}
