package snapshot

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/masfimg/masfimg/internal/fsattr"
	"github.com/zeebo/xxh3"
)

const copyBufferSize = 128 * 1024

// Materializer fills a staged regular file: either the full byte
// content of the source, or a sparse region whose logical length
// matches the source size. Either way the staged file's size equals
// the source entry's size afterwards.
type Materializer struct {
	logger *slog.Logger
}

// NewMaterializer creates a Materializer.
func NewMaterializer(logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{logger: logger}
}

// Materialize populates stagingPath for a regular file. When
// includeContent is true it copies the source bytes and returns their
// xxh3 digest; otherwise it sets the sparse logical size and returns an
// empty hash. On a content failure the staged file falls back to the
// sparse declared size so the tree shape survives the failed entry.
func (m *Materializer) Materialize(entry *SourceEntry, stagingPath string, includeContent bool) (string, error) {
	if !includeContent {
		if err := fsattr.SetLogicalSize(stagingPath, entry.Size); err != nil {
			return "", &ContentError{Path: entry.RelPath, Err: err}
		}
		return "", nil
	}

	hash, err := m.copyContent(entry, stagingPath)
	if err != nil {
		// Preserve the declared size even when the bytes are lost.
		if terr := fsattr.SetLogicalSize(stagingPath, entry.Size); terr != nil {
			m.logger.Warn("could not restore declared size after copy failure",
				"path", entry.RelPath, "error", terr)
		}
		return "", &ContentError{Path: entry.RelPath, Err: err}
	}
	return hash, nil
}

// copyContent copies source bytes into the staged file while hashing
// them, then re-stats the source once. A size change means the file was
// modified mid-copy; the entry fails rather than shipping a torn copy.
func (m *Materializer) copyContent(entry *SourceEntry, stagingPath string) (string, error) {
	src, err := fsattr.OpenNoFollow(entry.AbsPath)
	if err != nil {
		return "", fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(stagingPath, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return "", fmt.Errorf("opening staged file: %w", err)
	}

	hasher := xxh3.New()
	buf := make([]byte, copyBufferSize)
	copied, err := io.CopyBuffer(io.MultiWriter(dst, hasher), src, buf)
	if err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("copying content: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing staged file: %w", err)
	}

	info, err := os.Lstat(entry.AbsPath)
	if err != nil {
		return "", fmt.Errorf("re-checking source: %w", err)
	}
	if info.Size() != copied {
		return "", fmt.Errorf("source changed during copy: copied %d bytes, size now %d", copied, info.Size())
	}

	return fmt.Sprintf("%016x", hasher.Sum64()), nil
}
