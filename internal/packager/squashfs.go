package packager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ErrBinaryNotFound is returned when the external mksquashfs binary is
// not on PATH. Callers can suggest the tar backend instead.
var ErrBinaryNotFound = errors.New("mksquashfs binary not found")

var squashfsCompressions = map[string]bool{
	"gzip": true,
	"lzo":  true,
	"lz4":  true,
	"xz":   true,
	"zstd": true,
}

// Squashfs invokes mksquashfs on the staging tree. mksquashfs detects
// and preserves sparse files natively.
type Squashfs struct {
	binary      string
	compression string
	logger      *slog.Logger
}

func newSquashfs(binary, compression string, logger *slog.Logger) (*Squashfs, error) {
	if binary == "" {
		binary = "mksquashfs"
	}
	if compression == "" {
		compression = "zstd"
	}
	if !squashfsCompressions[compression] {
		return nil, fmt.Errorf("unsupported squashfs compression %q (supported: gzip, lzo, lz4, xz, zstd)", compression)
	}
	return &Squashfs{binary: binary, compression: compression, logger: logger}, nil
}

// Name identifies this backend.
func (s *Squashfs) Name() string { return "squashfs" }

// Package compresses stagingRoot into a squashfs image at outputPath.
// A failed invocation removes whatever mksquashfs left behind.
func (s *Squashfs) Package(ctx context.Context, stagingRoot, outputPath string) error {
	path, err := exec.LookPath(s.binary)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBinaryNotFound, s.binary)
	}

	// mksquashfs appends to an existing image by default; -noappend
	// alone still refuses some pre-existing files, so clear the path.
	if err := os.Remove(outputPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing output path %s: %w", outputPath, err)
	}

	args := []string{stagingRoot, outputPath, "-comp", s.compression, "-noappend", "-quiet"}
	s.logger.Debug("invoking mksquashfs", "binary", path, "args", args)

	cmd := exec.CommandContext(ctx, path, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove partial image", "path", outputPath, "error", rmErr)
		}
		return fmt.Errorf("mksquashfs failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	s.logger.Info("squashfs image created", "path", outputPath, "compression", s.compression)
	return nil
}
