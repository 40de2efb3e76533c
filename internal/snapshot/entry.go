// Package snapshot implements the selective replication engine: it walks
// a source tree, decides per file whether to keep full content or only
// metadata with a sparse apparent size, materializes that decision into a
// staging tree, and hands the staging tree to a packager.
package snapshot

import (
	"fmt"
	"os"
	"time"

	"github.com/masfimg/masfimg/internal/fsattr"
)

// EntryType classifies a filesystem node.
type EntryType string

const (
	TypeRegular    EntryType = "regular"
	TypeDir        EntryType = "dir"
	TypeSymlink    EntryType = "symlink"
	TypeFifo       EntryType = "fifo"
	TypeSocket     EntryType = "socket"
	TypeDevice     EntryType = "device"
	TypeCharDevice EntryType = "char-device"
)

// SourceEntry is a read-only view of one node under the source root.
// RelPath is the slash-separated key shared with the staging tree.
type SourceEntry struct {
	RelPath    string
	AbsPath    string
	Type       EntryType
	Size       int64
	Mode       os.FileMode
	ModTime    time.Time
	ATime      time.Time
	UID        int
	GID        int
	HasOwner   bool
	LinkTarget string
	Rdev       uint64
}

// classify maps a file mode to an EntryType.
func classify(mode os.FileMode) EntryType {
	switch {
	case mode.IsDir():
		return TypeDir
	case mode&os.ModeSymlink != 0:
		return TypeSymlink
	case mode&os.ModeNamedPipe != 0:
		return TypeFifo
	case mode&os.ModeSocket != 0:
		return TypeSocket
	case mode&os.ModeCharDevice != 0:
		return TypeCharDevice
	case mode&os.ModeDevice != 0:
		return TypeDevice
	default:
		return TypeRegular
	}
}

// newSourceEntry builds a SourceEntry from lstat data. Symlink targets
// are read here so later stages never touch the source again for
// structural information.
func newSourceEntry(absPath, relPath string, info os.FileInfo) (*SourceEntry, error) {
	atime, mtime := fsattr.Times(absPath, info)

	entry := &SourceEntry{
		RelPath: relPath,
		AbsPath: absPath,
		Type:    classify(info.Mode()),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: mtime,
		ATime:   atime,
	}

	if uid, gid, ok := fsattr.Owner(info); ok {
		entry.UID = uid
		entry.GID = gid
		entry.HasOwner = true
	}

	switch entry.Type {
	case TypeSymlink:
		target, err := os.Readlink(absPath)
		if err != nil {
			return nil, fmt.Errorf("reading link target of %s: %w", relPath, err)
		}
		entry.LinkTarget = target
	case TypeDevice, TypeCharDevice:
		entry.Rdev = fsattr.Rdev(info)
	}

	return entry, nil
}
