// Package fsattr wraps the platform-specific filesystem capabilities the
// snapshot engine needs: reading ownership and timestamps from stat data,
// applying them to staged nodes, creating special nodes, and setting a
// file's logical size without allocating storage. Unix implementations
// live in fsattr_unix.go; other platforms fall back to fsattr_other.go.
package fsattr

import (
	"errors"
	"fmt"
	"os"
)

// ErrUnsupported is returned when the running platform cannot perform the
// requested attribute operation at all, as opposed to the platform
// refusing it (e.g. EPERM). Callers use it to decide whether a failure is
// worth reporting per entry.
var ErrUnsupported = errors.New("operation not supported on this platform")

// SetLogicalSize sets the logical length of the file at path to size
// without writing data. On filesystems with sparse-file support the
// extended region consumes no proportional storage and reads as zeros.
func SetLogicalSize(path string, size int64) error {
	if size < 0 {
		return fmt.Errorf("negative size %d for %s", size, path)
	}
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("setting logical size of %s to %d: %w", path, size, err)
	}
	return nil
}
