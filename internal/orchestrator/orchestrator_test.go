package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"podpipe/internal/config"
	"podpipe/internal/downloader"
	"podpipe/internal/model"
	"podpipe/internal/postprocess"
	"podpipe/internal/repository"
	"podpipe/internal/transcriber"
)

type fakeRepo struct {
	mu               sync.Mutex
	bufferCount      int
	pending          []*model.Episode
	nextTranscription *model.Episode
	transcriptRetry  int
	permFailStage    string
	resetStage       string
	pendingQueries   int
}

func (f *fakeRepo) GetDownloadBufferCount(ctx context.Context) (int, error) {
	return f.bufferCount, nil
}
func (f *fakeRepo) GetEpisodesPendingDownload(ctx context.Context, limit int) ([]*model.Episode, error) {
	f.pendingQueries++
	return f.pending, nil
}
func (f *fakeRepo) GetNextForTranscription(ctx context.Context) (*model.Episode, error) {
	if f.nextTranscription == nil {
		return nil, repository.ErrNotFound
	}
	ep := f.nextTranscription
	f.nextTranscription = nil
	return ep, nil
}
func (f *fakeRepo) MarkTranscriptStarted(ctx context.Context, episodeID string) error { return nil }
func (f *fakeRepo) MarkTranscriptComplete(ctx context.Context, episodeID, text string, source model.TranscriptSource) error {
	return nil
}
func (f *fakeRepo) MarkTranscriptFailed(ctx context.Context, episodeID, errMsg string) error { return nil }
func (f *fakeRepo) MarkDownloadAndTranscriptComplete(ctx context.Context, episodeID, text string) error {
	return nil
}
func (f *fakeRepo) ResetEpisodeForRetry(ctx context.Context, episodeID, stage string) error {
	f.resetStage = stage
	return nil
}
func (f *fakeRepo) IncrementRetryCount(ctx context.Context, episodeID, stage string) (int, error) {
	f.transcriptRetry++
	return f.transcriptRetry, nil
}
func (f *fakeRepo) MarkPermanentlyFailed(ctx context.Context, episodeID, stage, errMsg string) error {
	f.permFailStage = stage
	return nil
}
func (f *fakeRepo) GetNextPendingPostProcessing(ctx context.Context) (*model.Episode, error) {
	return nil, repository.ErrNotFound
}

type failingModel struct{}

func (failingModel) LoadModel(ctx context.Context) error   { return nil }
func (failingModel) UnloadModel(ctx context.Context) error { return nil }
func (failingModel) IsLoaded() bool                        { return true }
func (failingModel) TranscribeFile(ctx context.Context, path, language string) (string, error) {
	return "", errors.New("model unavailable")
}

func TestHandleTranscriptionFailureReachesPermanentFailure(t *testing.T) {
	repo := &fakeRepo{transcriptRetry: 2} // scenario S3: retry_count already 2, max_retries=3
	cfg := &config.PipelineConfig{MaxRetries: 3, IdleWaitSeconds: 1, PostProcessingWorkers: 0, DownloadBufferThreshold: 5, DownloadBufferSize: 10, DownloadBatchSize: 1, DownloadWorkers: 1}
	pp := postprocess.New(repo2Adapter{}, nil)
	tr := transcriber.New(failingModel{}, "en")
	dl := downloader.New(nil, "", 1)
	o := New(repo, cfg, dl, tr, pp, nil, nil)

	o.handleTranscriptionFailure(context.Background(), "ep1", errors.New("boom"))

	if repo.transcriptRetry != 3 {
		t.Fatalf("retry count = %d, want 3", repo.transcriptRetry)
	}
	if repo.permFailStage != repository.StageTranscript {
		t.Fatalf("expected permanent failure on stage %q, got %q", repository.StageTranscript, repo.permFailStage)
	}
	if o.Stats().TranscriptionPermanentFailures != 1 {
		t.Fatalf("TranscriptionPermanentFailures = %d, want 1", o.Stats().TranscriptionPermanentFailures)
	}
}

func TestHandleTranscriptionFailureResetsBelowBudget(t *testing.T) {
	repo := &fakeRepo{transcriptRetry: 0}
	cfg := &config.PipelineConfig{MaxRetries: 3, IdleWaitSeconds: 1}
	pp := postprocess.New(repo2Adapter{}, nil)
	tr := transcriber.New(failingModel{}, "en")
	dl := downloader.New(nil, "", 1)
	o := New(repo, cfg, dl, tr, pp, nil, nil)

	o.handleTranscriptionFailure(context.Background(), "ep2", errors.New("boom"))

	if repo.permFailStage != "" {
		t.Fatalf("should not have permanently failed yet, retry=%d", repo.transcriptRetry)
	}
	if repo.resetStage != repository.StageTranscript {
		t.Fatalf("expected reset on stage %q, got %q", repository.StageTranscript, repo.resetStage)
	}
}

func TestMaintainDownloadBufferDispatchesWhenBelowThreshold(t *testing.T) {
	ep := &model.Episode{ID: "ep1", Title: "Ep", Enclosure: model.Enclosure{URL: "http://example.com/a.mp3"}}
	repo := &fakeRepo{bufferCount: 1, pending: []*model.Episode{ep}}
	cfg := &config.PipelineConfig{DownloadBufferThreshold: 5, DownloadBufferSize: 10, DownloadBatchSize: 1, DownloadWorkers: 0, MaxRetries: 3, IdleWaitSeconds: 1}
	pp := postprocess.New(repo2Adapter{}, nil)
	tr := transcriber.New(failingModel{}, "en")
	dl := downloader.New(nil, t.TempDir(), 1)
	o := New(repo, cfg, dl, tr, pp, nil, nil)

	o.maintainDownloadBuffer(context.Background())
	// With a real HTTP client pointed at a bad URL the download will
	// fail, but the point under test is that a batch is attempted at
	// all when buffer_count < threshold (testable property 4) — proven
	// by exercising maintainDownloadBuffer without panicking and the
	// pending list having been consulted.
	if repo.pendingQueries != 1 {
		t.Fatalf("expected one pending-download query with buffer 1 < threshold 5, got %d", repo.pendingQueries)
	}
}

type repo2Adapter struct{}

func (repo2Adapter) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	return nil, repository.ErrNotFound
}
func (repo2Adapter) MarkMetadataStarted(ctx context.Context, episodeID string) error { return nil }
func (repo2Adapter) MarkMetadataComplete(ctx context.Context, episodeID string, m model.MetadataTrack) error {
	return nil
}
func (repo2Adapter) MarkMetadataFailed(ctx context.Context, episodeID, errMsg string) error { return nil }
func (repo2Adapter) MarkIndexingStarted(ctx context.Context, episodeID string) error        { return nil }
func (repo2Adapter) MarkIndexingComplete(ctx context.Context, episodeID, resourceName, displayName string) error {
	return nil
}
func (repo2Adapter) MarkIndexingFailed(ctx context.Context, episodeID, errMsg string) error { return nil }
func (repo2Adapter) MarkAudioCleanedUp(ctx context.Context, episodeID string) error         { return nil }
func (repo2Adapter) ResetEpisodeForRetry(ctx context.Context, episodeID, stage string) error {
	return nil
}
func (repo2Adapter) IncrementRetryCount(ctx context.Context, episodeID, stage string) (int, error) {
	return 0, nil
}
func (repo2Adapter) MarkPermanentlyFailed(ctx context.Context, episodeID, stage, errMsg string) error {
	return nil
}
