package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"podpipe/internal/model"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestCreatePodcastAndEpisodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	id, err := repo.CreatePodcast(ctx, &model.Podcast{FeedURL: "https://example.com/feed.xml", Title: "Test Cast"})
	require.NoError(t, err)

	got, err := repo.GetPodcast(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "Test Cast", got.Title)
	require.Equal(t, 24, got.CheckFrequencyHr)

	epID, err := repo.CreateEpisode(ctx, &model.Episode{PodcastID: id, GUID: "ep-1", Title: "Episode One"})
	require.NoError(t, err)

	ep, err := repo.GetEpisode(ctx, epID)
	require.NoError(t, err)
	require.Equal(t, model.DownloadPending, ep.Download.Status)
	require.Equal(t, model.TranscriptPending, ep.Transcript.Status)
}

func TestGetOrCreateEpisodeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	podID, err := repo.CreatePodcast(ctx, &model.Podcast{FeedURL: "https://example.com/feed.xml", Title: "Cast"})
	require.NoError(t, err)

	first, created, err := repo.GetOrCreateEpisode(ctx, &model.Episode{PodcastID: podID, GUID: "dup", Title: "Dup Episode"})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := repo.GetOrCreateEpisode(ctx, &model.Episode{PodcastID: podID, GUID: "dup", Title: "Dup Episode Again"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestRetryCountReachesPermanentFailure(t *testing.T) {
	// Mirrors scenario S3: retry_count starts at 2, one more increment
	// crosses max_retries=3 and the caller transitions to permanently_failed.
	ctx := context.Background()
	repo := newTestRepo(t)
	podID, err := repo.CreatePodcast(ctx, &model.Podcast{FeedURL: "https://x.example/feed.xml", Title: "X"})
	require.NoError(t, err)
	epID, err := repo.CreateEpisode(ctx, &model.Episode{PodcastID: podID, GUID: "g1", Title: "E1"})
	require.NoError(t, err)

	_, err = repo.IncrementRetryCount(ctx, epID, StageTranscript)
	require.NoError(t, err)
	_, err = repo.IncrementRetryCount(ctx, epID, StageTranscript)
	require.NoError(t, err)
	newCount, err := repo.IncrementRetryCount(ctx, epID, StageTranscript)
	require.NoError(t, err)
	require.Equal(t, 3, newCount)

	maxRetries := 3
	require.GreaterOrEqual(t, newCount, maxRetries)
	require.NoError(t, repo.MarkPermanentlyFailed(ctx, epID, StageTranscript, "exhausted retries"))

	ep, err := repo.GetEpisode(ctx, epID)
	require.NoError(t, err)
	require.Equal(t, model.TranscriptPermanentlyFailed, ep.Transcript.Status)
}

func TestSubscriptionIsTheOnlySubscribedSignal(t *testing.T) {
	// Invariant 6: no global subscribed flag; membership is the join table.
	ctx := context.Background()
	repo := newTestRepo(t)
	podID, err := repo.CreatePodcast(ctx, &model.Podcast{FeedURL: "https://y.example/feed.xml", Title: "Y"})
	require.NoError(t, err)

	err = repo.exec(ctx, `INSERT INTO users (id, external_oauth_id, email, created_at, updated_at) VALUES (?,?,?,?,?)`,
		"u1", "oauth-1", "u1@example.com", time.Now().UTC(), time.Now().UTC())
	require.NoError(t, err)

	subs, err := repo.GetUserSubscriptions(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, subs)

	require.NoError(t, repo.Subscribe(ctx, "u1", podID))
	subs, err = repo.GetUserSubscriptions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, podID, subs[0].ID)
}

func TestDownloadBufferCount(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	podID, err := repo.CreatePodcast(ctx, &model.Podcast{FeedURL: "https://z.example/feed.xml", Title: "Z"})
	require.NoError(t, err)

	epID, err := repo.CreateEpisode(ctx, &model.Episode{PodcastID: podID, GUID: "g1", Title: "E1"})
	require.NoError(t, err)

	count, err := repo.GetDownloadBufferCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)

	require.NoError(t, repo.MarkDownloadComplete(ctx, epID, "/tmp/e1.mp3", 1024, "deadbeef"))
	count, err = repo.GetDownloadBufferCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	next, err := repo.GetNextForTranscription(ctx)
	require.NoError(t, err)
	require.Equal(t, epID, next.ID)
}
