package snapshot

import (
	"errors"
	"log/slog"
	"os"

	"github.com/masfimg/masfimg/internal/fsattr"
)

// Cloner reproduces a source entry's structural attributes onto a
// staging node without reading file content.
type Cloner struct {
	logger *slog.Logger
}

// NewCloner creates a Cloner.
func NewCloner(logger *slog.Logger) *Cloner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cloner{logger: logger}
}

// CreateNode creates the staging node as the same type as the source
// entry with zero content length. Directories and regular files start
// owner-writable regardless of the source mode: materializing content
// into a staged copy of a read-only file would otherwise fail, and
// child creation would refresh directory timestamps. The real
// permission bits are applied afterwards by ApplyAttrs.
func (c *Cloner) CreateNode(entry *SourceEntry, stagingPath string) error {
	var err error
	switch entry.Type {
	case TypeDir:
		err = os.Mkdir(stagingPath, 0o700)
		if errors.Is(err, os.ErrExist) {
			err = nil
		}
	case TypeRegular:
		var f *os.File
		f, err = os.OpenFile(stagingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			err = f.Close()
		}
	case TypeSymlink:
		err = os.Symlink(entry.LinkTarget, stagingPath)
	case TypeFifo:
		err = fsattr.MakeFifo(stagingPath, entry.Mode)
	case TypeSocket:
		err = fsattr.MakeSocket(stagingPath, entry.Mode)
	case TypeDevice:
		err = fsattr.MakeDevice(stagingPath, entry.Mode, entry.Rdev, false)
	case TypeCharDevice:
		err = fsattr.MakeDevice(stagingPath, entry.Mode, entry.Rdev, true)
	}
	if err != nil {
		return &MetadataError{Path: entry.RelPath, Attr: "node", Err: err}
	}
	return nil
}

// ApplyAttrs copies permission bits, ownership, and timestamps from the
// source entry to the staging node. Ownership failure under restricted
// privilege is tolerated and logged; other attribute failures surface
// as a MetadataError naming the attribute. Timestamps go last so no
// later operation refreshes them.
func (c *Cloner) ApplyAttrs(entry *SourceEntry, stagingPath string) error {
	if entry.Type == TypeSymlink {
		return c.applySymlinkAttrs(entry, stagingPath)
	}

	// Perm() alone would drop setuid/setgid/sticky; carry them over too.
	mode := entry.Mode & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
	if err := os.Chmod(stagingPath, mode); err != nil {
		return &MetadataError{Path: entry.RelPath, Attr: "permissions", Err: err}
	}

	if entry.HasOwner {
		if err := fsattr.SetOwnership(stagingPath, entry.UID, entry.GID); err != nil {
			c.logger.Debug("ownership not preserved", "path", entry.RelPath, "error", err)
		}
	}

	if err := fsattr.SetTimestamps(stagingPath, entry.ATime, entry.ModTime); err != nil {
		return &MetadataError{Path: entry.RelPath, Attr: "timestamps", Err: err}
	}
	return nil
}

// applySymlinkAttrs handles links, which have no chmod on most
// platforms. Ownership and timestamps are best effort.
func (c *Cloner) applySymlinkAttrs(entry *SourceEntry, stagingPath string) error {
	if entry.HasOwner {
		if err := fsattr.SetOwnership(stagingPath, entry.UID, entry.GID); err != nil {
			c.logger.Debug("link ownership not preserved", "path", entry.RelPath, "error", err)
		}
	}
	if err := fsattr.SetSymlinkTimestamps(stagingPath, entry.ATime, entry.ModTime); err != nil && !errors.Is(err, fsattr.ErrUnsupported) {
		c.logger.Debug("link timestamps not preserved", "path", entry.RelPath, "error", err)
	}
	return nil
}
