package snapshot

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
)

func poolJobs(t *testing.T, n int) []copyJob {
	t.Helper()
	src := t.TempDir()
	staging := t.TempDir()

	jobs := make([]copyJob, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("f%03d.txt", i)
		path := writeFile(t, src, name, []byte(name), 0o644)
		entry, stagingPath := stageEntry(t, path, staging)
		jobs = append(jobs, copyJob{
			entry:          entry,
			stagingPath:    stagingPath,
			includeContent: true,
			resultIdx:      i,
		})
	}
	return jobs
}

func TestCopyPoolResultsInSubmissionOrder(t *testing.T) {
	jobs := poolJobs(t, 40)

	pool := newCopyPool(NewMaterializer(discardLogger()), 4, discardLogger())
	results := pool.run(context.Background(), jobs)

	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}
	for i, res := range results {
		if res.index != i {
			t.Fatalf("result %d has index %d; order not preserved", i, res.index)
		}
		if res.err != nil {
			t.Errorf("job %d failed: %v", i, res.err)
		}
		if res.hash == "" {
			t.Errorf("job %d missing hash", i)
		}
	}
}

func TestCopyPoolNoJobs(t *testing.T) {
	pool := newCopyPool(NewMaterializer(discardLogger()), 2, discardLogger())
	if results := pool.run(context.Background(), nil); results != nil {
		t.Errorf("expected nil results for no jobs, got %d", len(results))
	}
}

func TestCopyPoolCancelledContextFailsJobs(t *testing.T) {
	jobs := poolJobs(t, 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := newCopyPool(NewMaterializer(discardLogger()), 2, discardLogger())
	results := pool.run(ctx, jobs)

	if len(results) != len(jobs) {
		t.Fatalf("got %d results, want %d", len(results), len(jobs))
	}
	for _, res := range results {
		if res.err == nil {
			t.Errorf("job %d succeeded under cancelled context", res.index)
		}
	}
}

func TestCopyPoolOnComplete(t *testing.T) {
	jobs := poolJobs(t, 10)

	var calls atomic.Int64
	var bytes atomic.Int64

	pool := newCopyPool(NewMaterializer(discardLogger()), 3, discardLogger())
	pool.OnComplete = func(relPath string, copied int64, err error) {
		calls.Add(1)
		bytes.Add(copied)
	}
	pool.run(context.Background(), jobs)

	if calls.Load() != int64(len(jobs)) {
		t.Errorf("OnComplete called %d times, want %d", calls.Load(), len(jobs))
	}

	var want int64
	for _, job := range jobs {
		want += job.entry.Size
	}
	if bytes.Load() != want {
		t.Errorf("OnComplete reported %d bytes, want %d", bytes.Load(), want)
	}
}

func TestCopyPoolSingleWorkerFallback(t *testing.T) {
	jobs := poolJobs(t, 3)

	// Zero or negative worker counts collapse to one worker.
	pool := newCopyPool(NewMaterializer(discardLogger()), 0, discardLogger())
	results := pool.run(context.Background(), jobs)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, res := range results {
		if res.err != nil {
			t.Errorf("job %d failed: %v", res.index, res.err)
		}
		if _, err := os.Stat(res.job.stagingPath); err != nil {
			t.Errorf("staged file missing: %v", err)
		}
	}
}
