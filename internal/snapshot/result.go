package snapshot

import "time"

// Outcome is the final disposition of one source entry.
type Outcome string

const (
	OutcomeFull         Outcome = "full"
	OutcomeMetadataOnly Outcome = "metadata-only"
	OutcomeExcluded     Outcome = "excluded"
	OutcomeFailed       Outcome = "failed"
)

// EntryResult records the disposition of a single entry. Hash is the
// xxh3 digest of the copied content, set only for full-content files.
type EntryResult struct {
	RelPath string
	Type    EntryType
	Size    int64
	Outcome Outcome
	Hash    string
	Error   string
}

// RunResult accumulates per-entry outcomes over one walk, in traversal
// order. It is appended to by a single goroutine; the copy pool reports
// back through ordered results, not by writing here directly.
type RunResult struct {
	StartTime time.Time
	EndTime   time.Time
	Entries   []EntryResult

	Full         int
	MetadataOnly int
	Excluded     int
	Failed       int
	BytesCopied  int64
}

func newRunResult() *RunResult {
	return &RunResult{StartTime: time.Now()}
}

// record appends an entry outcome and returns its index so the walker
// can amend it later (directory attributes are applied after the
// subtree completes).
func (r *RunResult) record(res EntryResult) int {
	r.Entries = append(r.Entries, res)
	r.count(res.Outcome, 1)
	return len(r.Entries) - 1
}

// amend rewrites the outcome of a previously recorded entry, keeping
// the counters consistent.
func (r *RunResult) amend(idx int, outcome Outcome, errMsg string) {
	prev := r.Entries[idx].Outcome
	if prev == outcome {
		return
	}
	r.count(prev, -1)
	r.count(outcome, 1)
	r.Entries[idx].Outcome = outcome
	r.Entries[idx].Error = errMsg
}

func (r *RunResult) count(o Outcome, delta int) {
	switch o {
	case OutcomeFull:
		r.Full += delta
	case OutcomeMetadataOnly:
		r.MetadataOnly += delta
	case OutcomeExcluded:
		r.Excluded += delta
	case OutcomeFailed:
		r.Failed += delta
	}
}

func (r *RunResult) finish() {
	r.EndTime = time.Now()
}

// Total returns the number of entries visited, excluded ones included.
func (r *RunResult) Total() int {
	return len(r.Entries)
}

// FailedEntries returns the entries that could not be staged.
func (r *RunResult) FailedEntries() []EntryResult {
	var failed []EntryResult
	for _, e := range r.Entries {
		if e.Outcome == OutcomeFailed {
			failed = append(failed, e)
		}
	}
	return failed
}

// Duration returns the wall time of the walk.
func (r *RunResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
