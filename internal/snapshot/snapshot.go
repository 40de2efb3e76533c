package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/masfimg/masfimg/internal/packager"
	"github.com/masfimg/masfimg/internal/policy"
	"github.com/masfimg/masfimg/internal/store"
)

// Manager orchestrates a snapshot run: staging root, walk, packaging,
// image hashing, and the run catalog. The catalog is advisory; store
// failures are logged and never fail the run.
type Manager struct {
	store  *store.Store
	logger *slog.Logger
}

// NewManager creates a Manager. store may be nil when history is
// disabled.
func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, logger: logger}
}

// CreateOptions configures one snapshot run.
type CreateOptions struct {
	Source      string
	Output      string
	Rules       []policy.Rule
	GlobalLimit int64
	Excludes    []string
	StagingDir  string
	Workers     int
	Packager    packager.Config
	Tracker     *Tracker
}

// Report summarizes a completed run.
type Report struct {
	RunID       string
	Result      *RunResult
	ImagePath   string
	ImageSHA256 string
	ImageSize   int64
	Duration    time.Duration
}

// Create produces a snapshot image of opts.Source at opts.Output.
// Configuration problems and packaging failures are fatal; per-entry
// failures are reported in the result with the run still succeeding.
// The staging tree is removed on every exit path.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Report, error) {
	startTime := time.Now()

	pol, excl, err := buildPolicy(opts)
	if err != nil {
		return nil, err
	}
	pkgr, err := packager.New(opts.Packager, m.logger)
	if err != nil {
		return nil, err
	}
	if err := validateSource(opts.Source); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := m.logger.With("run_id", runID)
	logger.Info("starting snapshot", "source", opts.Source, "output", opts.Output, "packager", pkgr.Name())

	staging, err := NewStagingRoot(opts.StagingDir, runID, logger)
	if err != nil {
		return nil, fmt.Errorf("creating staging root: %w", err)
	}
	defer staging.Remove()

	run := m.recordRunStart(runID, opts, startTime)

	walker := &Walker{
		Source:     opts.Source,
		Staging:    staging.Path(),
		Exclusions: excl,
		Policy:     pol,
		Cloner:     NewCloner(logger),
		Material:   NewMaterializer(logger),
		Workers:    opts.Workers,
		Tracker:    opts.Tracker,
		Logger:     logger,
	}

	result, err := walker.Walk(ctx)
	if err != nil {
		m.recordRunEnd(run, result, "", "", 0, "aborted", err.Error())
		return nil, fmt.Errorf("walking source tree: %w", err)
	}
	logger.Info("walk complete",
		"entries", result.Total(),
		"full", result.Full,
		"metadata_only", result.MetadataOnly,
		"excluded", result.Excluded,
		"failed", result.Failed,
		"bytes_copied", result.BytesCopied,
	)

	if err := pkgr.Package(ctx, staging.Path(), opts.Output); err != nil {
		m.recordRunEnd(run, result, "", "", 0, "failed", err.Error())
		return nil, fmt.Errorf("packaging staging tree: %w", err)
	}

	imageHash, imageSize, err := hashImage(opts.Output)
	if err != nil {
		m.recordRunEnd(run, result, "", "", 0, "failed", err.Error())
		return nil, fmt.Errorf("hashing image: %w", err)
	}

	status := "success"
	if result.Failed > 0 {
		status = "partial"
	}
	m.recordRunEnd(run, result, opts.Output, imageHash, imageSize, status, "")

	duration := time.Since(startTime)
	logger.Info("snapshot complete",
		"image", opts.Output,
		"image_size", imageSize,
		"failed_entries", result.Failed,
		"duration", duration,
	)

	return &Report{
		RunID:       runID,
		Result:      result,
		ImagePath:   opts.Output,
		ImageSHA256: imageHash,
		ImageSize:   imageSize,
		Duration:    duration,
	}, nil
}

// Plan is the dry run: it evaluates exclusions and the inclusion policy
// over the source tree without writing anything.
type Plan struct {
	Entries       int
	FullContent   int
	MetadataOnly  int
	Excluded      int
	FullBytes     int64
	DeclaredBytes int64
}

// PlanCreate walks the source read-only and projects what Create would
// do with the same options.
func (m *Manager) PlanCreate(ctx context.Context, opts CreateOptions) (*Plan, error) {
	pol, excl, err := buildPolicy(opts)
	if err != nil {
		return nil, err
	}
	if err := validateSource(opts.Source); err != nil {
		return nil, err
	}

	plan := &Plan{}
	walkErr := filepath.WalkDir(opts.Source, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if path == opts.Source || err != nil {
			return nil
		}

		rel, relErr := filepath.Rel(opts.Source, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if excl.Match(rel) {
			plan.Excluded++
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		plan.Entries++
		if !d.Type().IsRegular() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		if pol.IncludeContent(rel, filepath.Ext(rel), info.Size()) {
			plan.FullContent++
			plan.FullBytes += info.Size()
		} else {
			plan.MetadataOnly++
		}
		plan.DeclaredBytes += info.Size()
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("planning walk: %w", walkErr)
	}
	return plan, nil
}

func buildPolicy(opts CreateOptions) (*policy.Policy, *policy.Exclusions, error) {
	pol, err := policy.New(opts.Rules, opts.GlobalLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid inclusion rules: %w", err)
	}
	excl, err := policy.CompileExclusions(opts.Excludes)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid exclusions: %w", err)
	}
	return pol, excl, nil
}

func validateSource(source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("source root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source root %s is not a directory", source)
	}
	return nil
}

// recordRunStart inserts the catalog row for a starting run. Returns
// nil when the catalog is disabled or the insert fails.
func (m *Manager) recordRunStart(runID string, opts CreateOptions, startTime time.Time) *store.SnapshotRun {
	if m.store == nil {
		return nil
	}
	run := &store.SnapshotRun{
		RunID:     runID,
		Source:    opts.Source,
		ImagePath: opts.Output,
		StartTime: startTime,
		Status:    "running",
	}
	if err := m.store.CreateSnapshotRun(run); err != nil {
		m.logger.Warn("failed to record snapshot run", "error", err)
		return nil
	}
	return run
}

// recordRunEnd finalizes the catalog row and persists per-entry records.
func (m *Manager) recordRunEnd(run *store.SnapshotRun, result *RunResult, imagePath, imageHash string, imageSize int64, status, errMsg string) {
	if m.store == nil || run == nil {
		return
	}

	run.EndTime = time.Now()
	run.Status = status
	run.ErrorMessage = errMsg
	if imagePath != "" {
		run.ImagePath = imagePath
	}
	run.ImageSHA256 = imageHash
	run.ImageSize = imageSize
	if result != nil {
		run.EntriesTotal = result.Total()
		run.FullContent = result.Full
		run.MetadataOnly = result.MetadataOnly
		run.Excluded = result.Excluded
		run.Failed = result.Failed
		run.BytesCopied = result.BytesCopied
	}

	if err := m.store.UpdateSnapshotRun(run); err != nil {
		m.logger.Warn("failed to update snapshot run", "error", err)
	}
	if result == nil {
		return
	}

	records := make([]store.EntryRecord, 0, len(result.Entries))
	for _, e := range result.Entries {
		records = append(records, store.EntryRecord{
			SnapshotRunID: run.ID,
			Path:          e.RelPath,
			Type:          string(e.Type),
			Size:          e.Size,
			Outcome:       string(e.Outcome),
			Hash:          e.Hash,
			Error:         e.Error,
		})
	}
	if err := m.store.InsertEntryRecords(records); err != nil {
		m.logger.Warn("failed to record snapshot entries", "error", err)
	}
}

// hashImage computes the SHA256 of the finished image file.
func hashImage(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
