// Package feedsync refreshes every subscribed podcast's episode list
// from its feed (RSS) or channel (YouTube) and upserts new episodes
// into the repository (spec §4.B).
package feedsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"podpipe/internal/feed"
	"podpipe/internal/model"
	"podpipe/internal/youtube"
)

// Repository is the narrow slice of repository operations sync needs.
type Repository interface {
	ListPodcasts(ctx context.Context, limit int) ([]*model.Podcast, error)
	GetPodcast(ctx context.Context, id string) (*model.Podcast, error)
	UpdatePodcast(ctx context.Context, p *model.Podcast) error
	GetOrCreateEpisode(ctx context.Context, e *model.Episode) (*model.Episode, bool, error)
}

// YouTubeClient is the narrow slice of the YouTube adapter sync needs.
// Channels sync is skipped (with a logged warning) when this is nil,
// so an RSS-only deployment never needs YouTube credentials.
type YouTubeClient interface {
	FetchChannel(ctx context.Context, handle string) (*youtube.ChannelInfo, error)
	FetchRecentUploads(ctx context.Context, uploadsPlaylistID string, maxResults int64) ([]youtube.Video, error)
}

const youtubeFetchLimit = 25

// Syncer refreshes podcast feeds and channels, satisfying
// orchestrator.Syncer.
type Syncer struct {
	repo       Repository
	httpClient *http.Client
	yt         YouTubeClient
}

// New constructs a Syncer. yt may be nil to disable YouTube channel
// refresh.
func New(repo Repository, httpClient *http.Client, yt YouTubeClient) *Syncer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Syncer{repo: repo, httpClient: httpClient, yt: yt}
}

// SyncAll refreshes every known podcast. A single podcast's failure is
// logged and does not stop the rest (spec §4.B: "collect errors per
// podcast, continue with the rest").
func (s *Syncer) SyncAll(ctx context.Context) error {
	podcasts, err := s.repo.ListPodcasts(ctx, 0)
	if err != nil {
		return fmt.Errorf("feedsync: list podcasts: %w", err)
	}
	for _, p := range podcasts {
		if err := s.syncOne(ctx, p); err != nil {
			slog.Error("feedsync: sync failed", "podcast_id", p.ID, "title", p.Title, "error", err)
		}
	}
	return nil
}

// SyncOne refreshes a single podcast by id, used by the CLI's
// --podcast-id flag.
func (s *Syncer) SyncOne(ctx context.Context, podcastID string) error {
	p, err := s.repo.GetPodcast(ctx, podcastID)
	if err != nil {
		return fmt.Errorf("feedsync: get podcast: %w", err)
	}
	return s.syncOne(ctx, p)
}

func (s *Syncer) syncOne(ctx context.Context, p *model.Podcast) error {
	switch p.SourceType {
	case model.SourceYouTube:
		return s.syncYouTube(ctx, p)
	default:
		return s.syncRSS(ctx, p)
	}
}

func (s *Syncer) syncRSS(ctx context.Context, p *model.Podcast) error {
	parsed, err := feed.ParseURL(s.httpClient, p.FeedURL)
	if err != nil {
		return fmt.Errorf("parse feed: %w", err)
	}

	newest := p.LastNewEpisode
	for _, pe := range parsed.Episodes {
		_, created, err := s.repo.GetOrCreateEpisode(ctx, &model.Episode{
			PodcastID:       p.ID,
			GUID:            pe.GUID,
			Title:           pe.Title,
			Description:     pe.Description,
			PublishedDate:   pe.PublishedDate,
			DurationSeconds: derefInt(pe.DurationSeconds),
			EpisodeNumber:   pe.EpisodeNumber,
			SeasonNumber:    pe.SeasonNumber,
			Enclosure: model.Enclosure{
				URL:    pe.Enclosure.URL,
				Type:   pe.Enclosure.Type,
				Length: pe.Enclosure.Length,
			},
		})
		if err != nil {
			return fmt.Errorf("upsert episode %q: %w", pe.GUID, err)
		}
		if created && (newest == nil || (pe.PublishedDate != nil && pe.PublishedDate.After(*newest))) {
			newest = pe.PublishedDate
		}
	}

	now := time.Now().UTC()
	p.LastChecked = &now
	if newest != nil {
		p.LastNewEpisode = newest
	}
	return s.repo.UpdatePodcast(ctx, p)
}

func (s *Syncer) syncYouTube(ctx context.Context, p *model.Podcast) error {
	if s.yt == nil {
		slog.Warn("feedsync: skipping youtube channel, no client configured", "podcast_id", p.ID)
		return nil
	}

	playlistID := p.PlaylistID
	if playlistID == "" {
		info, err := s.yt.FetchChannel(ctx, p.Handle)
		if err != nil {
			return fmt.Errorf("fetch channel: %w", err)
		}
		playlistID = info.UploadsPlaylistID
		p.ChannelID = info.ChannelID
		p.PlaylistID = playlistID
	}

	videos, err := s.yt.FetchRecentUploads(ctx, playlistID, youtubeFetchLimit)
	if err != nil {
		return fmt.Errorf("fetch recent uploads: %w", err)
	}

	newest := p.LastNewEpisode
	for _, v := range videos {
		pe := youtube.ToParsedEpisode(v)
		_, created, err := s.repo.GetOrCreateEpisode(ctx, &model.Episode{
			PodcastID:                p.ID,
			GUID:                     pe.GUID,
			SourceType:               model.SourceYouTubeVideo,
			Title:                    pe.Title,
			Description:              pe.Description,
			PublishedDate:            pe.PublishedDate,
			DurationSeconds:          derefInt(pe.DurationSeconds),
			Enclosure:                model.Enclosure{URL: pe.Enclosure.URL, Type: pe.Enclosure.Type},
			YouTubeCaptionsAvailable: v.CaptionsAvailable,
			YouTubeCaptionLanguage:   v.CaptionLanguage,
		})
		if err != nil {
			return fmt.Errorf("upsert video %q: %w", pe.GUID, err)
		}
		if created && (newest == nil || (pe.PublishedDate != nil && pe.PublishedDate.After(*newest))) {
			newest = pe.PublishedDate
		}
	}

	now := time.Now().UTC()
	p.LastChecked = &now
	if newest != nil {
		p.LastNewEpisode = newest
	}
	return s.repo.UpdatePodcast(ctx, p)
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
