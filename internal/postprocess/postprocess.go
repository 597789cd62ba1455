// Package postprocess runs the metadata -> indexing -> cleanup chain
// for transcribed episodes off the orchestrator's main loop (spec §4.G).
package postprocess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"podpipe/internal/indexer"
	"podpipe/internal/model"
)

const defaultMaxRetries = 3

// Repository is the narrow slice of repository operations the chain
// needs; kept as an interface so tests can inject a fake.
type Repository interface {
	GetEpisode(ctx context.Context, id string) (*model.Episode, error)

	MarkMetadataStarted(ctx context.Context, episodeID string) error
	MarkMetadataComplete(ctx context.Context, episodeID string, m model.MetadataTrack) error
	MarkMetadataFailed(ctx context.Context, episodeID, errMsg string) error

	MarkIndexingStarted(ctx context.Context, episodeID string) error
	MarkIndexingComplete(ctx context.Context, episodeID, resourceName, displayName string) error
	MarkIndexingFailed(ctx context.Context, episodeID, errMsg string) error

	MarkAudioCleanedUp(ctx context.Context, episodeID string) error

	ResetEpisodeForRetry(ctx context.Context, episodeID, stage string) error
	IncrementRetryCount(ctx context.Context, episodeID, stage string) (int, error)
	MarkPermanentlyFailed(ctx context.Context, episodeID, stage, errMsg string) error
}

// MetadataExtractor is the capability this chain calls for stage 1.
type MetadataExtractor interface {
	Extract(ctx context.Context, localFilePath, transcript, filename string) (model.MetadataTrack, error)
}

// Indexer is the capability this chain calls for stage 2.
type Indexer interface {
	UploadTranscript(ctx context.Context, text, displayName string, tags indexer.Tags, skipExisting bool) (string, error)
}

// Stats counters are incremented under a mutex (spec §9 "thread-safe
// counters").
type Stats struct {
	mu                sync.Mutex
	MetadataProcessed int
	MetadataFailed    int
	IndexingProcessed int
	IndexingFailed    int
	CleanupProcessed  int
}

func (s *Stats) incr(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		MetadataProcessed: s.MetadataProcessed,
		MetadataFailed:    s.MetadataFailed,
		IndexingProcessed: s.IndexingProcessed,
		IndexingFailed:    s.IndexingFailed,
		CleanupProcessed:  s.CleanupProcessed,
	}
}

// Stage is one link of the chain; each receives the freshly re-read
// episode. Run is called only when Precondition holds; a false
// Precondition skips the stage (not a failure).
type Stage struct {
	Name      string
	Run       func(ctx context.Context, ep *model.Episode) error
	Precondition func(ep *model.Episode) bool
}

// PostProcessor is a bounded worker pool running Stage chains
// (spec §4.G).
type PostProcessor struct {
	repo       Repository
	stages     []Stage
	maxRetries int

	jobs  chan string
	wg    sync.WaitGroup
	stats Stats

	mu      sync.Mutex
	running bool
}

// Option configures a PostProcessor at construction.
type Option func(*PostProcessor)

// WithMaxRetries overrides the default retry budget (spec's
// PIPELINE_MAX_RETRIES, default 3).
func WithMaxRetries(n int) Option {
	return func(p *PostProcessor) { p.maxRetries = n }
}

// New builds a PostProcessor whose chain is metadata -> indexing ->
// cleanup, using the given stage implementations.
func New(repo Repository, stages []Stage, opts ...Option) *PostProcessor {
	p := &PostProcessor{repo: repo, stages: stages, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start creates n_workers goroutines draining the job channel.
// n_workers=0 disables async processing; callers must use
// ProcessOneSync instead (spec §4.G).
func (p *PostProcessor) Start(ctx context.Context, nWorkers int) {
	p.mu.Lock()
	if p.running || nWorkers <= 0 {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.jobs = make(chan string, 256)
	p.mu.Unlock()

	for i := 0; i < nWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *PostProcessor) worker(ctx context.Context) {
	defer p.wg.Done()
	for episodeID := range p.jobs {
		p.runChain(ctx, episodeID)
	}
}

// Stop shuts down the pool. If wait, it drains remaining queued jobs
// before returning; otherwise it abandons them, logging the pending
// count (spec §5 "drains or abandons, caller-selectable").
func (p *PostProcessor) Stop(wait bool) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	jobs := p.jobs
	p.mu.Unlock()

	if !wait {
		pending := len(jobs)
		if pending > 0 {
			slog.Warn("postprocess: abandoning pending jobs on shutdown", "pending", pending)
		}
		for drained := false; !drained; {
			select {
			case <-jobs:
			default:
				drained = true
			}
		}
	}
	close(jobs)
	p.wg.Wait()
}

// Submit enqueues episodeID for the chain. If the pool was never
// started (nWorkers=0), callers should use ProcessOneSync directly.
func (p *PostProcessor) Submit(episodeID string) error {
	p.mu.Lock()
	jobs := p.jobs
	running := p.running
	p.mu.Unlock()
	if !running {
		return errors.New("postprocess: pool not started")
	}
	select {
	case jobs <- episodeID:
		return nil
	default:
		return fmt.Errorf("postprocess: job queue full, dropping episode %s", episodeID)
	}
}

// ProcessOneSync runs the chain inline, for the synchronous fallback
// when the pool is disabled (n_workers=0).
func (p *PostProcessor) ProcessOneSync(ctx context.Context, episodeID string) {
	p.runChain(ctx, episodeID)
}

// GetPendingCount returns the number of jobs still queued.
func (p *PostProcessor) GetPendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.jobs == nil {
		return 0
	}
	return len(p.jobs)
}

// Stats returns a snapshot of the processed/failed counters.
func (p *PostProcessor) Stats() Stats {
	return p.stats.Snapshot()
}

// runChain re-reads the episode before each stage and runs only the
// stages whose precondition currently holds; it stops at the first
// failing stage and does not attempt later stages for this submission
// (spec §4.G).
func (p *PostProcessor) runChain(ctx context.Context, episodeID string) {
	for _, stage := range p.stages {
		ep, err := p.repo.GetEpisode(ctx, episodeID)
		if err != nil {
			slog.Error("postprocess: failed to reload episode", "episode_id", episodeID, "error", err)
			return
		}
		if !stage.Precondition(ep) {
			continue
		}
		if err := stage.Run(ctx, ep); err != nil {
			p.handleStageFailure(ctx, episodeID, stage.Name, err)
			return
		}
		p.recordSuccess(stage.Name)
	}
}

func (p *PostProcessor) recordSuccess(stageName string) {
	switch stageName {
	case "metadata":
		p.stats.incr(&p.stats.MetadataProcessed)
	case "file_search":
		p.stats.incr(&p.stats.IndexingProcessed)
	case "cleanup":
		p.stats.incr(&p.stats.CleanupProcessed)
	}
}

// handleStageFailure increments the stage's retry counter; below
// max_retries it resets to pending for a later attempt, otherwise it
// marks the stage permanently failed (spec §4.G, §7).
func (p *PostProcessor) handleStageFailure(ctx context.Context, episodeID, stageName string, stageErr error) {
	slog.Error("postprocess: stage failed", "episode_id", episodeID, "stage", stageName, "error", stageErr)

	switch stageName {
	case "metadata":
		p.stats.incr(&p.stats.MetadataFailed)
		_ = p.repo.MarkMetadataFailed(ctx, episodeID, stageErr.Error())
	case "file_search":
		p.stats.incr(&p.stats.IndexingFailed)
		_ = p.repo.MarkIndexingFailed(ctx, episodeID, stageErr.Error())
	}

	if stageName == "cleanup" {
		// Cleanup has no retry track (spec §3: no status/retry_count on
		// the cleanup operation itself, only on file_search).
		return
	}

	count, err := p.repo.IncrementRetryCount(ctx, episodeID, stageName)
	if err != nil {
		slog.Error("postprocess: failed to increment retry count", "episode_id", episodeID, "stage", stageName, "error", err)
		return
	}
	if count >= p.maxRetries {
		if err := p.repo.MarkPermanentlyFailed(ctx, episodeID, stageName, stageErr.Error()); err != nil {
			slog.Error("postprocess: failed to mark permanently failed", "episode_id", episodeID, "stage", stageName, "error", err)
		}
		return
	}
	if err := p.repo.ResetEpisodeForRetry(ctx, episodeID, stageName); err != nil {
		slog.Error("postprocess: failed to reset for retry", "episode_id", episodeID, "stage", stageName, "error", err)
	}
}
