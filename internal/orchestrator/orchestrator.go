// Package orchestrator drives the single-threaded pipeline loop that
// keeps the transcriber saturated via a download buffer and hands
// finished transcripts to the post-processing pool (spec §4.H).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"podpipe/internal/config"
	"podpipe/internal/downloader"
	"podpipe/internal/model"
	"podpipe/internal/postprocess"
	"podpipe/internal/repository"
	"podpipe/internal/transcriber"
)

// Repository is the slice of repository operations the orchestrator
// itself calls directly (the PostProcessor and Downloader hold their
// own narrower views).
type Repository interface {
	GetDownloadBufferCount(ctx context.Context) (int, error)
	GetEpisodesPendingDownload(ctx context.Context, limit int) ([]*model.Episode, error)
	GetNextForTranscription(ctx context.Context) (*model.Episode, error)
	MarkTranscriptStarted(ctx context.Context, episodeID string) error
	MarkTranscriptComplete(ctx context.Context, episodeID, text string, source model.TranscriptSource) error
	MarkTranscriptFailed(ctx context.Context, episodeID, errMsg string) error
	MarkDownloadAndTranscriptComplete(ctx context.Context, episodeID, text string) error
	ResetEpisodeForRetry(ctx context.Context, episodeID, stage string) error
	IncrementRetryCount(ctx context.Context, episodeID, stage string) (int, error)
	MarkPermanentlyFailed(ctx context.Context, episodeID, stage, errMsg string) error
	GetNextPendingPostProcessing(ctx context.Context) (*model.Episode, error)
}

// Syncer runs a feed sync pass; the concrete implementation lives at
// the cmd layer, which owns FeedParser/YouTubeClient wiring.
type Syncer interface {
	SyncAll(ctx context.Context) error
}

// DigestRunner runs one email-digest pass across eligible users.
type DigestRunner interface {
	RunDigests(ctx context.Context) error
}

// Stats mirrors the orchestrator's process-lifetime counters
// (spec §4.H).
type Stats struct {
	mu                              sync.Mutex
	EpisodesTranscribed             int
	TranscriptionPermanentFailures  int
	StartedAt                       time.Time
	StoppedAt                       *time.Time
}

func (s *Stats) incrTranscribed() {
	s.mu.Lock()
	s.EpisodesTranscribed++
	s.mu.Unlock()
}

func (s *Stats) incrPermanentFailures() {
	s.mu.Lock()
	s.TranscriptionPermanentFailures++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current stats.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		EpisodesTranscribed:            s.EpisodesTranscribed,
		TranscriptionPermanentFailures: s.TranscriptionPermanentFailures,
		StartedAt:                      s.StartedAt,
		StoppedAt:                      s.StoppedAt,
	}
}

// Orchestrator is the single-threaded pipeline driver (spec §4.H).
type Orchestrator struct {
	repo         Repository
	cfg          *config.PipelineConfig
	downloader   *downloader.Downloader
	transcriber  *transcriber.Transcriber
	postProcessor *postprocess.PostProcessor
	syncer       Syncer
	digest       DigestRunner

	stats Stats

	mu                   sync.Mutex
	running              bool
	lastSync             time.Time
	lastEmailDigestCheck time.Time
	syncInFlight         bool
	digestInFlight       bool
	syncWG               sync.WaitGroup
	digestWG             sync.WaitGroup
}

// New constructs an Orchestrator from its collaborators. The
// PostProcessor is started by Run with cfg.PostProcessingWorkers
// (spec §4.G: n_workers=0 disables async, leaving synchronous fallback).
func New(repo Repository, cfg *config.PipelineConfig, dl *downloader.Downloader, tr *transcriber.Transcriber, pp *postprocess.PostProcessor, syncer Syncer, digest DigestRunner) *Orchestrator {
	return &Orchestrator{
		repo:          repo,
		cfg:           cfg,
		downloader:    dl,
		transcriber:   tr,
		postProcessor: pp,
		syncer:        syncer,
		digest:        digest,
	}
}

// Run drives the main loop until ctx is canceled or Stop is called.
// It implements spec §4.H's pseudocode: sync, digest, download-buffer
// refill, transcription, else help post-process or sleep.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.running = true
	o.stats.StartedAt = time.Now()
	o.mu.Unlock()

	o.postProcessor.Start(ctx, o.cfg.PostProcessingWorkers)

	if err := o.transcriber.LoadModel(ctx); err != nil {
		return fmt.Errorf("orchestrator: load model: %w", err)
	}

	for o.isRunning() {
		select {
		case <-ctx.Done():
			o.Stop()
		default:
		}
		if !o.isRunning() {
			break
		}

		o.maybeRunSync(ctx)
		o.maybeRunEmailDigests(ctx)
		o.maintainDownloadBuffer(ctx)

		episode, err := o.repo.GetNextForTranscription(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				if !o.helpPostProcess(ctx) {
					o.sleepIdle(ctx)
				}
				continue
			}
			slog.Error("orchestrator: get next for transcription failed", "error", err)
			o.sleepIdle(ctx)
			continue
		}

		o.transcribeOne(ctx, episode)
	}

	o.shutdownSequence(ctx)
	return nil
}

func (o *Orchestrator) isRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Stop flips running=false; the main loop exits after its current
// transcription call returns (spec §5 cancellation semantics).
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) sleepIdle(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(o.cfg.IdleWaitSeconds) * time.Second):
	}
}

// transcribeOne runs the blocking transcription call on the main
// thread, intentionally, to keep the model handle hot (spec §5).
func (o *Orchestrator) transcribeOne(ctx context.Context, ep *model.Episode) {
	if err := o.repo.MarkTranscriptStarted(ctx, ep.ID); err != nil {
		slog.Error("orchestrator: mark transcript started failed", "episode_id", ep.ID, "error", err)
		return
	}

	text, err := o.transcriber.TranscribeSingle(ctx, transcriber.Episode{
		ID:                       ep.ID,
		LocalFilePath:            ep.Download.LocalFilePath,
		TranscriptText:           ep.Transcript.TranscriptText,
		LegacyTranscriptPath:     ep.Transcript.TranscriptPath,
		YouTubeCaptionsAvailable: ep.YouTubeCaptionsAvailable,
		YouTubeCaptionLanguage:   ep.YouTubeCaptionLanguage,
	})
	if err != nil || text == "" {
		o.handleTranscriptionFailure(ctx, ep.ID, err)
		return
	}

	if err := o.repo.MarkTranscriptComplete(ctx, ep.ID, text, model.TranscriptSourceModel); err != nil {
		slog.Error("orchestrator: mark transcript complete failed", "episode_id", ep.ID, "error", err)
		return
	}
	if err := o.postProcessor.Submit(ep.ID); err != nil {
		slog.Warn("orchestrator: post-processor submit failed, will be picked up by help_post_process", "episode_id", ep.ID, "error", err)
	}
	o.stats.incrTranscribed()
}

// handleTranscriptionFailure implements spec §4.H's failure handling:
// increment the retry counter; at or above max_retries, mark
// permanently failed and bump the stats counter; otherwise reset to
// pending (scenario S3).
func (o *Orchestrator) handleTranscriptionFailure(ctx context.Context, episodeID string, transcribeErr error) {
	if transcribeErr != nil {
		slog.Error("orchestrator: transcription failed", "episode_id", episodeID, "error", transcribeErr)
	}
	count, err := o.repo.IncrementRetryCount(ctx, episodeID, repository.StageTranscript)
	if err != nil {
		slog.Error("orchestrator: increment retry count failed", "episode_id", episodeID, "error", err)
		return
	}
	if count >= o.cfg.MaxRetries {
		errMsg := "transcription failed"
		if transcribeErr != nil {
			errMsg = transcribeErr.Error()
		}
		if err := o.repo.MarkPermanentlyFailed(ctx, episodeID, repository.StageTranscript, errMsg); err != nil {
			slog.Error("orchestrator: mark permanently failed failed", "episode_id", episodeID, "error", err)
			return
		}
		o.stats.incrPermanentFailures()
		return
	}
	if err := o.repo.ResetEpisodeForRetry(ctx, episodeID, repository.StageTranscript); err != nil {
		slog.Error("orchestrator: reset for retry failed", "episode_id", episodeID, "error", err)
	}
}

// helpPostProcess tries to finish one pending post-processing chain
// synchronously when there is no transcription work, so the episode
// backlog is cleared even under a disabled or saturated worker pool.
func (o *Orchestrator) helpPostProcess(ctx context.Context) bool {
	ep, err := o.repo.GetNextPendingPostProcessing(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("orchestrator: get next pending post-processing failed", "error", err)
		}
		return false
	}
	o.postProcessor.ProcessOneSync(ctx, ep.ID)
	return true
}

// maintainDownloadBuffer dispatches a download batch when the buffer
// of downloaded-but-not-transcribed episodes drops below the
// configured threshold (spec §4.H, testable property 4).
func (o *Orchestrator) maintainDownloadBuffer(ctx context.Context) {
	count, err := o.repo.GetDownloadBufferCount(ctx)
	if err != nil {
		slog.Error("orchestrator: get download buffer count failed", "error", err)
		return
	}
	if count >= o.cfg.DownloadBufferThreshold {
		return
	}
	pending, err := o.repo.GetEpisodesPendingDownload(ctx, o.cfg.DownloadBatchSize)
	if err != nil {
		slog.Error("orchestrator: get episodes pending download failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	refs := make([]downloader.EpisodeRef, len(pending))
	for i, ep := range pending {
		refs[i] = downloader.EpisodeRef{
			ID:            ep.ID,
			Title:         ep.Title,
			EpisodeNumber: ep.EpisodeNumber,
			Enclosure:     ep.Enclosure,
			PodcastDir:    ep.PodcastID,
		}
	}
	results := o.downloader.DownloadBatch(ctx, refs)
	for _, r := range results {
		if !r.Success {
			slog.Warn("orchestrator: download failed", "episode_id", r.EpisodeID, "error", r.Error)
		}
	}
}

// maybeRunSync fires a sync job on the background executor at most
// once at a time, every sync_interval_seconds (spec §4.H, §5).
func (o *Orchestrator) maybeRunSync(ctx context.Context) {
	if o.syncer == nil {
		return
	}
	o.mu.Lock()
	due := time.Since(o.lastSync) >= time.Duration(o.cfg.SyncIntervalSeconds)*time.Second
	inFlight := o.syncInFlight
	if due && !inFlight {
		o.syncInFlight = true
		o.lastSync = time.Now()
	}
	shouldRun := due && !inFlight
	o.mu.Unlock()
	if !shouldRun {
		return
	}

	o.syncWG.Add(1)
	go func() {
		defer o.syncWG.Done()
		defer func() {
			o.mu.Lock()
			o.syncInFlight = false
			o.mu.Unlock()
		}()
		if err := o.syncer.SyncAll(ctx); err != nil {
			slog.Error("orchestrator: sync failed", "error", err)
		}
	}()
}

// maybeRunEmailDigests submits a digest pass once per wall-clock hour
// boundary crossed, skipping if one is already in flight (spec §4.H).
func (o *Orchestrator) maybeRunEmailDigests(ctx context.Context) {
	if o.digest == nil {
		return
	}
	now := time.Now()
	o.mu.Lock()
	newHour := o.lastEmailDigestCheck.IsZero() || now.Hour() != o.lastEmailDigestCheck.Hour() || now.Truncate(time.Hour).After(o.lastEmailDigestCheck.Truncate(time.Hour))
	inFlight := o.digestInFlight
	if newHour && !inFlight {
		o.digestInFlight = true
		o.lastEmailDigestCheck = now
	}
	shouldRun := newHour && !inFlight
	o.mu.Unlock()
	if !shouldRun {
		return
	}

	o.digestWG.Add(1)
	go func() {
		defer o.digestWG.Done()
		defer func() {
			o.mu.Lock()
			o.digestInFlight = false
			o.mu.Unlock()
		}()
		if err := o.digest.RunDigests(ctx); err != nil {
			slog.Error("orchestrator: digest run failed", "error", err)
		}
	}()
}

// shutdownSequence implements spec §4.H's five-step shutdown: running
// is already false by the time this runs; await the in-flight digest
// job (bounded), shut down the executor and post-processor (wait),
// unload the model, and finalize stats with stopped_at.
func (o *Orchestrator) shutdownSequence(ctx context.Context) {
	slog.Info("orchestrator: shutting down")

	digestDone := make(chan struct{})
	go func() {
		o.digestWG.Wait()
		close(digestDone)
	}()
	select {
	case <-digestDone:
	case <-time.After(30 * time.Second):
		slog.Warn("orchestrator: timed out waiting for in-flight digest job")
	}

	o.syncWG.Wait()
	o.postProcessor.Stop(true)

	if err := o.transcriber.UnloadModel(ctx); err != nil {
		slog.Error("orchestrator: unload model failed", "error", err)
	}

	stopped := time.Now()
	o.stats.mu.Lock()
	o.stats.StoppedAt = &stopped
	o.stats.mu.Unlock()
}

// Stats returns a snapshot of the orchestrator's process-lifetime
// counters.
func (o *Orchestrator) Stats() Stats {
	return o.stats.Snapshot()
}
