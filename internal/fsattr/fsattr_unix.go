//go:build unix

package fsattr

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Owner returns the uid and gid recorded in the file's stat data.
// ok is false when the platform stat type is unavailable.
func Owner(info os.FileInfo) (uid, gid int, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}

// Rdev returns the device number for device nodes, 0 otherwise.
func Rdev(info os.FileInfo) uint64 {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0
	}
	return uint64(st.Rdev)
}

// Times returns the access and modification times of the node at path
// without following symlinks. The info argument supplies the fallback
// when the platform stat call fails.
func Times(path string, info os.FileInfo) (atime, mtime time.Time) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return info.ModTime(), info.ModTime()
	}
	return time.Unix(st.Atim.Unix()), time.Unix(st.Mtim.Unix())
}

// SetTimestamps sets the access and modification times of path,
// following symlinks.
func SetTimestamps(path string, atime, mtime time.Time) error {
	if err := os.Chtimes(path, atime, mtime); err != nil {
		return fmt.Errorf("setting timestamps on %s: %w", path, err)
	}
	return nil
}

// SetSymlinkTimestamps sets the access and modification times of the
// symlink itself rather than its target.
func SetSymlinkTimestamps(path string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return fmt.Errorf("setting symlink timestamps on %s: %w", path, err)
	}
	return nil
}

// SetOwnership sets the uid and gid of the node at path without
// following symlinks. Typically requires elevated privilege.
func SetOwnership(path string, uid, gid int) error {
	if err := os.Lchown(path, uid, gid); err != nil {
		return fmt.Errorf("setting ownership of %s: %w", path, err)
	}
	return nil
}

// MakeFifo creates a named pipe at path.
func MakeFifo(path string, perm os.FileMode) error {
	if err := unix.Mkfifo(path, uint32(perm.Perm())); err != nil {
		return fmt.Errorf("creating fifo %s: %w", path, err)
	}
	return nil
}

// MakeSocket creates a socket node at path. Like device nodes this is a
// structural placeholder; nothing will ever listen on it.
func MakeSocket(path string, perm os.FileMode) error {
	if err := unix.Mknod(path, unix.S_IFSOCK|uint32(perm.Perm()), 0); err != nil {
		return fmt.Errorf("creating socket node %s: %w", path, err)
	}
	return nil
}

// MakeDevice creates a character or block device node at path with the
// given device number. Requires CAP_MKNOD; unprivileged runs get EPERM.
func MakeDevice(path string, perm os.FileMode, rdev uint64, char bool) error {
	mode := uint32(perm.Perm())
	if char {
		mode |= unix.S_IFCHR
	} else {
		mode |= unix.S_IFBLK
	}
	if err := unix.Mknod(path, mode, int(rdev)); err != nil {
		return fmt.Errorf("creating device node %s: %w", path, err)
	}
	return nil
}

// OpenNoFollow opens path read-only, failing if the final component is a
// symlink. Guards the content copy against a file being swapped for a
// link between lstat and open.
func OpenNoFollow(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}
