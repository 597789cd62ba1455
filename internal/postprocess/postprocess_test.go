package postprocess

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"podpipe/internal/indexer"
	"podpipe/internal/model"
	"podpipe/internal/repository"
)

type fakeRepo struct {
	mu          sync.Mutex
	episodes    map[string]*model.Episode
	permFailed  []string
	resetCalls  []string
	retryCounts map[string]int
}

func newFakeRepo(ep *model.Episode) *fakeRepo {
	return &fakeRepo{
		episodes:    map[string]*model.Episode{ep.ID: ep},
		retryCounts: make(map[string]int),
	}
}

func (f *fakeRepo) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.episodes[id]
	return &cp, nil
}

func (f *fakeRepo) MarkMetadataStarted(ctx context.Context, episodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes[episodeID].Metadata.Status = model.MetadataProcessing
	return nil
}

func (f *fakeRepo) MarkMetadataComplete(ctx context.Context, episodeID string, m model.MetadataTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.Status = model.MetadataCompleted
	f.episodes[episodeID].Metadata = m
	return nil
}

func (f *fakeRepo) MarkMetadataFailed(ctx context.Context, episodeID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes[episodeID].Metadata.Status = model.MetadataFailed
	f.episodes[episodeID].Metadata.Error = errMsg
	return nil
}

func (f *fakeRepo) MarkIndexingStarted(ctx context.Context, episodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes[episodeID].FileSearch.Status = model.FileSearchProcessing
	return nil
}

func (f *fakeRepo) MarkIndexingComplete(ctx context.Context, episodeID, resourceName, displayName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep := f.episodes[episodeID]
	ep.FileSearch.Status = model.FileSearchIndexed
	ep.FileSearch.ResourceName = resourceName
	ep.FileSearch.DisplayName = displayName
	return nil
}

func (f *fakeRepo) MarkIndexingFailed(ctx context.Context, episodeID, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes[episodeID].FileSearch.Status = model.FileSearchFailed
	f.episodes[episodeID].FileSearch.Error = errMsg
	return nil
}

func (f *fakeRepo) MarkAudioCleanedUp(ctx context.Context, episodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes[episodeID].Download.LocalFilePath = ""
	return nil
}

func (f *fakeRepo) ResetEpisodeForRetry(ctx context.Context, episodeID, stage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetCalls = append(f.resetCalls, stage)
	switch stage {
	case repository.StageMetadata:
		f.episodes[episodeID].Metadata.Status = model.MetadataPending
	case repository.StageFileSearch:
		f.episodes[episodeID].FileSearch.Status = model.FileSearchPending
	}
	return nil
}

func (f *fakeRepo) IncrementRetryCount(ctx context.Context, episodeID, stage string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retryCounts[stage]++
	return f.retryCounts[stage], nil
}

func (f *fakeRepo) MarkPermanentlyFailed(ctx context.Context, episodeID, stage, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permFailed = append(f.permFailed, stage)
	switch stage {
	case repository.StageMetadata:
		f.episodes[episodeID].Metadata.Status = model.MetadataPermanentlyFailed
	case repository.StageFileSearch:
		f.episodes[episodeID].FileSearch.Status = model.FileSearchPermanentlyFailed
	}
	return nil
}

type fakeExtractor struct {
	err error
}

func (f *fakeExtractor) Extract(ctx context.Context, localFilePath, transcript, filename string) (model.MetadataTrack, error) {
	if f.err != nil {
		return model.MetadataTrack{}, f.err
	}
	return model.MetadataTrack{AISummary: "summary", AIHosts: []string{"host"}}, nil
}

func TestChainRunsAllStagesOnSuccess(t *testing.T) {
	now := time.Now()
	ep := &model.Episode{
		ID:            "ep1",
		Title:         "Episode One",
		PublishedDate: &now,
		Transcript:    model.TranscriptTrack{Status: model.TranscriptCompleted, TranscriptText: "hello world"},
		Metadata:      model.MetadataTrack{Status: model.MetadataPending},
		FileSearch:    model.FileSearchTrack{Status: model.FileSearchPending},
		Download:      model.DownloadTrack{LocalFilePath: ""},
	}
	repo := newFakeRepo(ep)
	extractor := &fakeExtractor{}
	idx := &fakeIndexerStub{resourceName: "resource/1"}

	pp := New(repo, BuildChain(extractor, idx, repo))
	pp.ProcessOneSync(context.Background(), "ep1")

	final := repo.episodes["ep1"]
	if final.Metadata.Status != model.MetadataCompleted {
		t.Errorf("metadata status = %v", final.Metadata.Status)
	}
	if final.FileSearch.Status != model.FileSearchIndexed {
		t.Errorf("file_search status = %v", final.FileSearch.Status)
	}
	stats := pp.Stats()
	if stats.MetadataProcessed != 1 || stats.IndexingProcessed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestChainStopsAtFirstFailureAndRetries(t *testing.T) {
	now := time.Now()
	ep := &model.Episode{
		ID:            "ep2",
		Title:         "Episode Two",
		PublishedDate: &now,
		Transcript:    model.TranscriptTrack{Status: model.TranscriptCompleted, TranscriptText: "hello"},
		Metadata:      model.MetadataTrack{Status: model.MetadataPending},
		FileSearch:    model.FileSearchTrack{Status: model.FileSearchPending},
	}
	repo := newFakeRepo(ep)
	extractor := &fakeExtractor{err: errors.New("ai unavailable")}
	idx := &fakeIndexerStub{}

	pp := New(repo, BuildChain(extractor, idx, repo))
	pp.ProcessOneSync(context.Background(), "ep2")

	if repo.episodes["ep2"].FileSearch.Status == model.FileSearchIndexed {
		t.Error("indexing stage should not have run after metadata failure")
	}
	stats := pp.Stats()
	if stats.MetadataFailed != 1 {
		t.Errorf("MetadataFailed = %d, want 1", stats.MetadataFailed)
	}
	if len(repo.resetCalls) != 1 || repo.resetCalls[0] != repository.StageMetadata {
		t.Errorf("resetCalls = %v", repo.resetCalls)
	}
}

func TestChainMarksPermanentlyFailedAtRetryBudget(t *testing.T) {
	now := time.Now()
	ep := &model.Episode{
		ID:            "ep3",
		PublishedDate: &now,
		Transcript:    model.TranscriptTrack{Status: model.TranscriptCompleted, TranscriptText: "hello"},
		Metadata:      model.MetadataTrack{Status: model.MetadataPending},
		FileSearch:    model.FileSearchTrack{Status: model.FileSearchPending},
	}
	repo := newFakeRepo(ep)
	extractor := &fakeExtractor{err: errors.New("ai unavailable")}
	idx := &fakeIndexerStub{}

	pp := New(repo, BuildChain(extractor, idx, repo), WithMaxRetries(2))
	pp.ProcessOneSync(context.Background(), "ep3")
	repo.episodes["ep3"].Metadata.Status = model.MetadataPending // simulate re-queue
	pp.ProcessOneSync(context.Background(), "ep3")

	if len(repo.permFailed) != 1 {
		t.Fatalf("expected exactly one permanent failure, got %v", repo.permFailed)
	}
	if repo.episodes["ep3"].Metadata.Status != model.MetadataPermanentlyFailed {
		t.Errorf("metadata status = %v", repo.episodes["ep3"].Metadata.Status)
	}
}

type fakeIndexerStub struct {
	resourceName string
}

func (f *fakeIndexerStub) UploadTranscript(ctx context.Context, text, displayName string, tags indexer.Tags, skipExisting bool) (string, error) {
	return f.resourceName, nil
}
