package snapshot

import (
	"sync"
	"time"
)

// Progress is a point-in-time snapshot of a running walk, safe to read
// from the CLI's live status line.
type Progress struct {
	Entries     int
	Copied      int
	Failed      int
	BytesCopied int64
	CurrentPath string
	Elapsed     time.Duration
}

// Tracker accumulates walk progress in a thread-safe manner. The walker
// reports visited entries; pool workers report completed copies.
type Tracker struct {
	mu sync.Mutex

	entries     int
	copied      int
	failed      int
	bytesCopied int64
	currentPath string
	startTime   time.Time
}

// NewTracker creates a tracker with its clock started.
func NewTracker() *Tracker {
	return &Tracker{startTime: time.Now()}
}

// EntryVisited records one source entry passing through the walker.
func (t *Tracker) EntryVisited(relPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries++
	t.currentPath = relPath
}

// CopyDone records a finished content materialization.
func (t *Tracker) CopyDone(bytes int64, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if failed {
		t.failed++
		return
	}
	t.copied++
	t.bytesCopied += bytes
}

// EntryFailed records a per-entry failure outside the copy phase.
func (t *Tracker) EntryFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Progress{
		Entries:     t.entries,
		Copied:      t.copied,
		Failed:      t.failed,
		BytesCopied: t.bytesCopied,
		CurrentPath: t.currentPath,
		Elapsed:     time.Since(t.startTime),
	}
}
