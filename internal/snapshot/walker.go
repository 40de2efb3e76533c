package snapshot

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/masfimg/masfimg/internal/policy"
	"github.com/masfimg/masfimg/internal/safety"
)

// Walker traverses the source tree depth-first, parents before
// children, and materializes each entry into the staging root. Per-entry
// failures are recorded and never abort the walk; only context
// cancellation does.
type Walker struct {
	Source     string
	Staging    string
	Exclusions *policy.Exclusions
	Policy     *policy.Policy
	Cloner     *Cloner
	Material   *Materializer
	Workers    int
	Tracker    *Tracker
	Logger     *slog.Logger
}

// dirAttr remembers a staged directory whose attributes must be applied
// after its children exist.
type dirAttr struct {
	entry       *SourceEntry
	stagingPath string
	resultIdx   int
}

// Walk runs the three phases: structure (nodes created in traversal
// order), content (copy pool over queued regular files), and directory
// attributes (deepest first, staging root last). The returned RunResult
// holds one outcome per visited entry.
func (w *Walker) Walk(ctx context.Context) (*RunResult, error) {
	if w.Logger == nil {
		w.Logger = slog.Default()
	}

	result := newRunResult()
	var jobs []copyJob
	var dirs []dirAttr

	walkErr := filepath.WalkDir(w.Source, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if path == w.Source {
			if err != nil {
				return err
			}
			// The staging root itself stands in for the source root;
			// its attributes are applied at the end of phase C.
			info, statErr := os.Lstat(path)
			if statErr != nil {
				return statErr
			}
			entry, eerr := newSourceEntry(path, ".", info)
			if eerr != nil {
				return eerr
			}
			dirs = append(dirs, dirAttr{entry: entry, stagingPath: w.Staging, resultIdx: -1})
			return nil
		}

		rel, relErr := filepath.Rel(w.Source, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if err != nil {
			// Unreadable entry or listing failure: one failure record,
			// subtree pruned.
			w.recordFailure(result, rel, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if w.Exclusions.Match(rel) {
			result.record(EntryResult{RelPath: rel, Outcome: OutcomeExcluded})
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if w.Tracker != nil {
			w.Tracker.EntryVisited(rel)
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			w.recordFailure(result, rel, infoErr)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		entry, entryErr := newSourceEntry(path, rel, info)
		if entryErr != nil {
			w.recordFailure(result, rel, entryErr)
			return nil
		}

		stagingPath, pathErr := safety.JoinUnderRoot(w.Staging, rel)
		if pathErr != nil {
			w.recordFailure(result, rel, pathErr)
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if cloneErr := w.Cloner.CreateNode(entry, stagingPath); cloneErr != nil {
			w.recordFailure(result, rel, cloneErr)
			if d.IsDir() {
				// No staging parent for the children; prune.
				return fs.SkipDir
			}
			return nil
		}

		switch entry.Type {
		case TypeDir:
			idx := result.record(entryResult(entry, OutcomeMetadataOnly, "", ""))
			dirs = append(dirs, dirAttr{entry: entry, stagingPath: stagingPath, resultIdx: idx})

		case TypeRegular:
			include := w.Policy.IncludeContent(rel, filepath.Ext(rel), entry.Size)
			outcome := OutcomeMetadataOnly
			if include {
				outcome = OutcomeFull
			}
			idx := result.record(entryResult(entry, outcome, "", ""))
			jobs = append(jobs, copyJob{
				entry:          entry,
				stagingPath:    stagingPath,
				includeContent: include,
				resultIdx:      idx,
			})

		default:
			// Symlinks and special nodes carry metadata only; their
			// attributes are final as soon as the node exists.
			if attrErr := w.Cloner.ApplyAttrs(entry, stagingPath); attrErr != nil {
				w.recordFailure(result, rel, attrErr)
				return nil
			}
			result.record(entryResult(entry, OutcomeMetadataOnly, "", ""))
		}
		return nil
	})

	if walkErr != nil {
		result.finish()
		return result, walkErr
	}

	// Phase B: content. Attributes are applied per file after its copy
	// so the copy itself cannot clobber the timestamps.
	pool := newCopyPool(w.Material, w.Workers, w.Logger)
	if w.Tracker != nil {
		pool.OnComplete = func(relPath string, bytes int64, err error) {
			w.Tracker.CopyDone(bytes, err != nil)
		}
	}
	for _, res := range pool.run(ctx, jobs) {
		if res.err != nil {
			result.amend(res.job.resultIdx, OutcomeFailed, res.err.Error())
			continue
		}
		if attrErr := w.Cloner.ApplyAttrs(res.job.entry, res.job.stagingPath); attrErr != nil {
			result.amend(res.job.resultIdx, OutcomeFailed, attrErr.Error())
			continue
		}
		result.Entries[res.job.resultIdx].Hash = res.hash
		if res.job.includeContent {
			result.BytesCopied += res.job.entry.Size
		}
	}

	select {
	case <-ctx.Done():
		result.finish()
		return result, ctx.Err()
	default:
	}

	// Phase C: directory attributes, deepest first. WalkDir visited
	// parents before children, so the reverse order is children-first.
	for i := len(dirs) - 1; i >= 0; i-- {
		da := dirs[i]
		if attrErr := w.Cloner.ApplyAttrs(da.entry, da.stagingPath); attrErr != nil {
			if da.resultIdx >= 0 {
				result.amend(da.resultIdx, OutcomeFailed, attrErr.Error())
			} else {
				w.Logger.Warn("staging root attributes not applied", "error", attrErr)
			}
		}
	}

	result.finish()
	return result, nil
}

func (w *Walker) recordFailure(result *RunResult, rel string, err error) {
	w.Logger.Warn("entry failed", "path", rel, "error", err)
	if w.Tracker != nil {
		w.Tracker.EntryFailed()
	}
	result.record(EntryResult{RelPath: rel, Outcome: OutcomeFailed, Error: err.Error()})
}

func entryResult(entry *SourceEntry, outcome Outcome, hash, errMsg string) EntryResult {
	return EntryResult{
		RelPath: entry.RelPath,
		Type:    entry.Type,
		Size:    entry.Size,
		Outcome: outcome,
		Hash:    hash,
		Error:   errMsg,
	}
}
