package packager

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/masfimg/masfimg/internal/fsattr"
	"github.com/ulikunitz/xz"
)

var tarCompressions = map[string]bool{
	"zstd": true,
	"xz":   true,
	"gzip": true,
	"none": true,
}

// Tarball is the built-in packager. It writes the image to a .partial
// file and renames it into place, so a failed run never leaves a
// half-written image at the output path. Content-excluded files stream
// their logical zeros through the compressor, which collapses them.
type Tarball struct {
	compression string
	logger      *slog.Logger
}

func newTarball(compression string, logger *slog.Logger) (*Tarball, error) {
	if compression == "" {
		compression = "zstd"
	}
	if !tarCompressions[compression] {
		return nil, fmt.Errorf("unsupported tar compression %q (supported: zstd, xz, gzip, none)", compression)
	}
	return &Tarball{compression: compression, logger: logger}, nil
}

// Name identifies this backend.
func (t *Tarball) Name() string { return "tar" }

// Package writes a compressed tar of stagingRoot to outputPath.
func (t *Tarball) Package(ctx context.Context, stagingRoot, outputPath string) error {
	partial := outputPath + ".partial"

	if err := t.writeArchive(ctx, stagingRoot, partial); err != nil {
		if rmErr := os.Remove(partial); rmErr != nil && !os.IsNotExist(rmErr) {
			t.logger.Warn("failed to remove partial image", "path", partial, "error", rmErr)
		}
		return err
	}

	if err := os.Rename(partial, outputPath); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("moving image into place: %w", err)
	}

	t.logger.Info("tar image created", "path", outputPath, "compression", t.compression)
	return nil
}

func (t *Tarball) writeArchive(ctx context.Context, stagingRoot, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating image file: %w", err)
	}
	defer f.Close()

	var compressed io.WriteCloser
	switch t.compression {
	case "zstd":
		compressed, err = zstd.NewWriter(f)
	case "xz":
		compressed, err = xz.NewWriter(f)
	case "gzip":
		compressed = gzip.NewWriter(f)
	case "none":
		compressed = nopWriteCloser{f}
	}
	if err != nil {
		return fmt.Errorf("creating %s writer: %w", t.compression, err)
	}

	tw := tar.NewWriter(compressed)
	if err := t.addTree(ctx, tw, stagingRoot); err != nil {
		_ = tw.Close()
		_ = compressed.Close()
		return err
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing tar writer: %w", err)
	}
	if err := compressed.Close(); err != nil {
		return fmt.Errorf("closing %s writer: %w", t.compression, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing image file: %w", err)
	}
	return nil
}

// addTree walks the staging tree and writes one header (plus content
// for regular files) per node.
func (t *Tarball) addTree(ctx context.Context, tw *tar.Writer, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking staging tree at %s: %w", path, err)
		}
		if path == root {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", rel, err)
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("building header for %s: %w", rel, err)
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		atime, _ := fsattr.Times(path, info)
		hdr.AccessTime = atime
		hdr.Format = tar.FormatPAX
		if uid, gid, ok := fsattr.Owner(info); ok {
			hdr.Uid = uid
			hdr.Gid = gid
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing header for %s: %w", rel, err)
		}

		if info.Mode().IsRegular() && info.Size() > 0 {
			src, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", rel, err)
			}
			_, err = io.Copy(tw, src)
			src.Close()
			if err != nil {
				return fmt.Errorf("archiving %s: %w", rel, err)
			}
		}
		return nil
	})
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
