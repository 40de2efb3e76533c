package store

import "time"

// SnapshotRun records one image-creation run.
type SnapshotRun struct {
	ID           int64
	RunID        string // uuid correlating logs, staging dir, and catalog
	Source       string
	ImagePath    string
	ImageSHA256  string
	ImageSize    int64
	StartTime    time.Time
	EndTime      time.Time
	EntriesTotal int
	FullContent  int
	MetadataOnly int
	Excluded     int
	Failed       int
	BytesCopied  int64
	Status       string // "running", "success", "partial", "failed", "aborted"
	ErrorMessage string
}

// EntryRecord is the per-entry outcome of a run.
type EntryRecord struct {
	ID            int64
	SnapshotRunID int64
	Path          string // relative to the source root
	Type          string
	Size          int64
	Outcome       string // "full", "metadata-only", "excluded", "failed"
	Hash          string // xxh3 of copied content, full-content files only
	Error         string
}
