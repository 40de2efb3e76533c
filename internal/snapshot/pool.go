package snapshot

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// copyJob is one regular file queued for content materialization.
type copyJob struct {
	entry          *SourceEntry
	stagingPath    string
	includeContent bool
	resultIdx      int // index into RunResult.Entries
}

// copyResult pairs a finished job with its outcome.
type copyResult struct {
	job   copyJob
	hash  string
	err   error
	index int
}

// copyPool runs content materialization on a fixed set of workers.
// Results come back in submission order, which is traversal order, so
// the run result stays deterministic regardless of worker count.
type copyPool struct {
	materializer *Materializer
	workers      int
	logger       *slog.Logger

	// OnComplete, when set, is called from worker goroutines as each
	// job finishes. Used for live progress.
	OnComplete func(relPath string, bytes int64, err error)
}

func newCopyPool(materializer *Materializer, workers int, logger *slog.Logger) *copyPool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &copyPool{
		materializer: materializer,
		workers:      workers,
		logger:       logger,
	}
}

// run executes all jobs and waits for completion. A cancelled context
// fails the remaining jobs with ctx.Err() instead of processing them.
func (p *copyPool) run(ctx context.Context, jobs []copyJob) []copyResult {
	if len(jobs) == 0 {
		return nil
	}

	jobsChan := make(chan copyJob, len(jobs))
	resultsChan := make(chan copyResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, jobsChan, resultsChan, &wg)
	}

	for _, job := range jobs {
		jobsChan <- job
	}
	close(jobsChan)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]copyResult, 0, len(jobs))
	for res := range resultsChan {
		results = append(results, res)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})
	return results
}

func (p *copyPool) worker(ctx context.Context, jobsChan <-chan copyJob, resultsChan chan<- copyResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobsChan {
		select {
		case <-ctx.Done():
			resultsChan <- copyResult{job: job, err: ctx.Err(), index: job.resultIdx}
			continue
		default:
		}

		hash, err := p.materializer.Materialize(job.entry, job.stagingPath, job.includeContent)
		if err != nil {
			p.logger.Warn("materialize failed", "path", job.entry.RelPath, "error", err)
		}
		if p.OnComplete != nil {
			var copied int64
			if err == nil && job.includeContent {
				copied = job.entry.Size
			}
			p.OnComplete(job.entry.RelPath, copied, err)
		}

		resultsChan <- copyResult{job: job, hash: hash, err: err, index: job.resultIdx}
	}
}
