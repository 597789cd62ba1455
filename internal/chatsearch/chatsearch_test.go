package chatsearch

import (
	"context"
	"testing"

	"podpipe/internal/model"
	"podpipe/internal/repository"
)

type fakeRepo struct {
	subs       []*model.Podcast
	episodes   map[string]*model.Episode
	byDisplay  map[string]*model.Episode
	podcastsByDisplay map[string]*model.Podcast
}

func (f *fakeRepo) GetUserSubscriptions(ctx context.Context, userID string) ([]*model.Podcast, error) {
	return f.subs, nil
}
func (f *fakeRepo) GetPodcast(ctx context.Context, id string) (*model.Podcast, error) {
	return nil, repository.ErrNotFound
}
func (f *fakeRepo) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	if ep, ok := f.episodes[id]; ok {
		return ep, nil
	}
	return nil, repository.ErrNotFound
}
func (f *fakeRepo) GetEpisodeByFileSearchDisplayName(ctx context.Context, displayName string) (*model.Episode, error) {
	if ep, ok := f.byDisplay[displayName]; ok {
		return ep, nil
	}
	return nil, repository.ErrNotFound
}
func (f *fakeRepo) GetPodcastByDescriptionDisplayName(ctx context.Context, displayName string) (*model.Podcast, error) {
	if p, ok := f.podcastsByDisplay[displayName]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

type fakeGenerator struct {
	resp *GroundedResponse
}

func (f *fakeGenerator) Search(ctx context.Context, query, filter string) (*GroundedResponse, error) {
	return f.resp, nil
}

func TestExtractCitationsDedupsByTitleScenarioS5(t *testing.T) {
	repo := &fakeRepo{
		byDisplay: map[string]*model.Episode{
			"ep_x_transcription.txt": {ID: "ep-x", PodcastID: "pod-1"},
		},
	}
	gen := &fakeGenerator{resp: &GroundedResponse{
		ResponseText: "answer",
		Chunks: []GroundingChunk{
			{Title: "ep_x_transcription.txt", Text: "first chunk"},
			{Title: "ep_x_transcription.txt", Text: "second chunk, duplicate title"},
		},
	}}

	result := SearchTranscripts(context.Background(), gen, repo, Scope{UserID: "u1"}, "what did they discuss")

	if len(result.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(result.Citations))
	}
	c := result.Citations[0]
	if c.Index != 1 || c.SourceType != "transcript" || c.EpisodeID != "ep-x" {
		t.Errorf("citation = %+v", c)
	}
}

func TestExtractCitationsDropsUnresolvedTitles(t *testing.T) {
	repo := &fakeRepo{byDisplay: map[string]*model.Episode{}}
	gen := &fakeGenerator{resp: &GroundedResponse{
		Chunks: []GroundingChunk{{Title: "unknown.txt", Text: "x"}},
	}}
	result := SearchTranscripts(context.Background(), gen, repo, Scope{UserID: "u1"}, "query")
	if len(result.Citations) != 0 {
		t.Errorf("expected unresolved title to be dropped, got %+v", result.Citations)
	}
}

func TestSearchTranscriptsRejectsEmptyQuery(t *testing.T) {
	repo := &fakeRepo{}
	gen := &fakeGenerator{resp: &GroundedResponse{}}
	result := SearchTranscripts(context.Background(), gen, repo, Scope{UserID: "u1"}, "   ")
	if result.Error == "" {
		t.Fatal("expected error for empty query")
	}
}

func TestScopePrecedenceEpisodeBeatsSubscribedOnly(t *testing.T) {
	repo := &fakeRepo{
		episodes: map[string]*model.Episode{"ep-1": {ID: "ep-1", PodcastID: "pod-1"}},
		subs:     []*model.Podcast{{ID: "pod-2"}},
	}
	filter, err := buildScopeFilter(context.Background(), repo, Scope{UserID: "u1", EpisodeID: "ep-1", SubscribedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if filter != `podcast="pod-1" AND episode="ep-1"` {
		t.Errorf("filter = %q", filter)
	}
}
