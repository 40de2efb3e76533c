//go:build !unix

package fsattr

import (
	"os"
	"time"
)

func Owner(info os.FileInfo) (uid, gid int, ok bool) {
	return 0, 0, false
}

func Rdev(info os.FileInfo) uint64 {
	return 0
}

func Times(path string, info os.FileInfo) (atime, mtime time.Time) {
	return info.ModTime(), info.ModTime()
}

func SetTimestamps(path string, atime, mtime time.Time) error {
	if err := os.Chtimes(path, atime, mtime); err != nil {
		return err
	}
	return nil
}

func SetSymlinkTimestamps(path string, atime, mtime time.Time) error {
	return ErrUnsupported
}

func SetOwnership(path string, uid, gid int) error {
	return ErrUnsupported
}

func MakeFifo(path string, perm os.FileMode) error {
	return ErrUnsupported
}

func MakeSocket(path string, perm os.FileMode) error {
	return ErrUnsupported
}

func MakeDevice(path string, perm os.FileMode, rdev uint64, char bool) error {
	return ErrUnsupported
}

func OpenNoFollow(path string) (*os.File, error) {
	return os.Open(path)
}
