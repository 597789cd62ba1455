package digest

import (
	"context"
	"testing"
	"time"

	"podpipe/internal/mailer"
	"podpipe/internal/model"
)

type fakeRepo struct {
	users       []*model.User
	episodes    map[string][]*model.Episode
	podcast     *model.Podcast
	sentUserIDs []string
}

func (f *fakeRepo) GetUsersForEmailDigest(ctx context.Context) ([]*model.User, error) {
	return f.users, nil
}
func (f *fakeRepo) GetNewEpisodesForUserSince(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Episode, error) {
	return f.episodes[userID], nil
}
func (f *fakeRepo) GetPodcast(ctx context.Context, id string) (*model.Podcast, error) {
	return f.podcast, nil
}
func (f *fakeRepo) MarkEmailDigestSent(ctx context.Context, userID string) error {
	f.sentUserIDs = append(f.sentUserIDs, userID)
	return nil
}

type fakeMailer struct {
	configured bool
	sent       []mailer.Message
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }
func (f *fakeMailer) Send(ctx context.Context, msg mailer.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestDigestTimezoneFilterScenarioS4(t *testing.T) {
	// Current UTC time 12:05. User A (America/New_York, hour 8) is
	// eligible (local hour 8); User B (UTC, hour 8) is not (local hour 12).
	now, err := time.Parse(time.RFC3339, "2026-07-31T12:05:00Z")
	if err != nil {
		t.Fatal(err)
	}

	userA := &model.User{ID: "A", Email: "a@example.com", EmailDigestEnabled: true, EmailDigestHour: 8, Timezone: "America/New_York"}
	userB := &model.User{ID: "B", Email: "b@example.com", EmailDigestEnabled: true, EmailDigestHour: 8, Timezone: "UTC"}

	repo := &fakeRepo{
		users:    []*model.User{userA, userB},
		episodes: map[string][]*model.Episode{},
		podcast:  &model.Podcast{ID: "p1", Title: "Test Podcast"},
	}
	mail := &fakeMailer{configured: true}
	w := New(repo, mail, "")
	w.now = func() time.Time { return now }

	if err := w.RunDigests(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(repo.sentUserIDs) != 1 || repo.sentUserIDs[0] != "A" {
		t.Fatalf("sentUserIDs = %v, want [A]", repo.sentUserIDs)
	}
	if userB.LastEmailDigestSent != nil {
		t.Error("user B's last_email_digest_sent should be unchanged")
	}
}

func TestDigestSendsEvenWithZeroEpisodes(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2026-07-31T08:00:00Z")
	user := &model.User{ID: "A", Email: "a@example.com", EmailDigestEnabled: true, EmailDigestHour: 8, Timezone: "UTC"}
	repo := &fakeRepo{users: []*model.User{user}, episodes: map[string][]*model.Episode{}}
	mail := &fakeMailer{configured: true}
	w := New(repo, mail, "")
	w.now = func() time.Time { return now }

	if err := w.RunDigests(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(repo.sentUserIDs) != 1 {
		t.Fatalf("expected digest sent even with zero episodes, got %v", repo.sentUserIDs)
	}
}

func TestDigestSkippedWhenMailerUnconfigured(t *testing.T) {
	now, _ := time.Parse(time.RFC3339, "2026-07-31T08:00:00Z")
	user := &model.User{ID: "A", EmailDigestEnabled: true, EmailDigestHour: 8, Timezone: "UTC"}
	repo := &fakeRepo{users: []*model.User{user}}
	mail := &fakeMailer{configured: false}
	w := New(repo, mail, "")
	w.now = func() time.Time { return now }

	if err := w.RunDigests(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(repo.sentUserIDs) != 0 {
		t.Error("expected no digests sent when mailer unconfigured")
	}
}

func TestRenderEpisodeItemFallsBackToTruncatedSummary(t *testing.T) {
	ep := &model.Episode{
		Title: "Ep",
		Metadata: model.MetadataTrack{
			AISummary: string(make([]byte, 400)),
		},
	}
	item := renderEpisodeItem("", ep)
	if len(item.Teaser) != fallbackSummaryLength {
		t.Errorf("teaser length = %d, want %d", len(item.Teaser), fallbackSummaryLength)
	}
}

func TestRenderEpisodeItemDropsStoryItemsForNonNews(t *testing.T) {
	ep := &model.Episode{
		Metadata: model.MetadataTrack{
			AIEmailContent: &model.EmailContent{
				PodcastType:    model.EmailPodcastTypeGeneral,
				TeaserSummary:  "this is a long enough teaser for the rule",
				StorySummaries: []model.StorySummary{{Headline: "h", Summary: "s"}},
			},
		},
	}
	item := renderEpisodeItem("", ep)
	if item.StoryItems != nil {
		t.Error("expected story items to be dropped for non-news podcast_type")
	}
}
