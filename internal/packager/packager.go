// Package packager turns a finished staging tree into a single
// compressed image file. The squashfs backend shells out to mksquashfs;
// the tar backend is built in for hosts without squashfs tooling. Both
// preserve sparse regions efficiently, either natively or by letting
// the compressor collapse the logical zeros.
package packager

import (
	"context"
	"fmt"
	"log/slog"
)

// Packager compresses a staging tree into an image file. On failure no
// partial image is left at the output path.
type Packager interface {
	Name() string
	Package(ctx context.Context, stagingRoot, outputPath string) error
}

// Config selects and tunes a packager backend.
type Config struct {
	Type             string // "squashfs" or "tar"
	Compression      string
	MksquashfsBinary string
}

// New builds the configured packager. Unknown types and unsupported
// compression settings are configuration errors, rejected before any
// filesystem work starts.
func New(cfg Config, logger *slog.Logger) (Packager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Type {
	case "squashfs", "":
		return newSquashfs(cfg.MksquashfsBinary, cfg.Compression, logger)
	case "tar":
		return newTarball(cfg.Compression, logger)
	default:
		return nil, fmt.Errorf("unknown packager type %q (supported: squashfs, tar)", cfg.Type)
	}
}
