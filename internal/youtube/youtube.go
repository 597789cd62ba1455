// Package youtube adapts a channel's uploads playlist into the same
// ParsedPodcast/ParsedEpisode shape the feed package produces (spec
// §4.B), using the teacher's own google.golang.org/api + x/oauth2
// stack (originally wired for Google Drive, repurposed here for the
// YouTube Data API v3).
package youtube

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	youtubeapi "google.golang.org/api/youtube/v3"

	"podpipe/internal/feed"
)

// Client wraps the generated YouTube Data API v3 service.
type Client struct {
	svc *youtubeapi.Service
}

// New builds a Client from a pre-obtained OAuth2 token source, the
// same credential-handling idiom as the teacher's
// internal/auth.DefaultTokenProvider.
func New(ctx context.Context, tokenSource oauth2.TokenSource) (*Client, error) {
	svc, err := youtubeapi.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("youtube: build service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// ChannelInfo is the subset of channel metadata the orchestrator
// needs to create or refresh a Podcast row.
type ChannelInfo struct {
	ChannelID    string
	Title        string
	Description  string
	Handle       string
	UploadsPlaylistID string
	ThumbnailURL string
}

// FetchChannel resolves a channel by handle (e.g. "@example") to its
// id, title, and uploads playlist id.
func (c *Client) FetchChannel(ctx context.Context, handle string) (*ChannelInfo, error) {
	call := c.svc.Channels.List([]string{"snippet", "contentDetails"}).ForHandle(handle).Context(ctx)
	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("youtube: channels.list: %w", err)
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("youtube: no channel found for handle %q", handle)
	}
	item := resp.Items[0]
	info := &ChannelInfo{
		ChannelID:         item.Id,
		Title:             item.Snippet.Title,
		Description:       item.Snippet.Description,
		Handle:            handle,
		UploadsPlaylistID: item.ContentDetails.RelatedPlaylists.Uploads,
	}
	if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.High != nil {
		info.ThumbnailURL = item.Snippet.Thumbnails.High.Url
	}
	return info, nil
}

// Video is one recent upload, with caption availability recorded at
// discovery time only (spec §9: the flag is never refreshed).
type Video struct {
	VideoID           string
	Title             string
	Description       string
	PublishedAt       *time.Time
	DurationSeconds   *int
	CaptionsAvailable bool
	CaptionLanguage   string
}

// FetchRecentUploads walks the uploads playlist (most recent first)
// up to maxResults videos, enriching each with duration and caption
// availability via videos.list.
func (c *Client) FetchRecentUploads(ctx context.Context, uploadsPlaylistID string, maxResults int64) ([]Video, error) {
	plCall := c.svc.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(uploadsPlaylistID).MaxResults(maxResults).Context(ctx)
	plResp, err := plCall.Do()
	if err != nil {
		return nil, fmt.Errorf("youtube: playlistItems.list: %w", err)
	}

	videoIDs := make([]string, 0, len(plResp.Items))
	titles := make(map[string]string)
	descriptions := make(map[string]string)
	published := make(map[string]*time.Time)
	for _, item := range plResp.Items {
		vid := item.ContentDetails.VideoId
		videoIDs = append(videoIDs, vid)
		titles[vid] = item.Snippet.Title
		descriptions[vid] = item.Snippet.Description
		if t, err := time.Parse(time.RFC3339, item.ContentDetails.VideoPublishedAt); err == nil {
			published[vid] = &t
		}
	}
	if len(videoIDs) == 0 {
		return nil, nil
	}

	vCall := c.svc.Videos.List([]string{"contentDetails"}).Id(videoIDs...).Context(ctx)
	vResp, err := vCall.Do()
	if err != nil {
		return nil, fmt.Errorf("youtube: videos.list: %w", err)
	}

	videos := make([]Video, 0, len(videoIDs))
	for _, v := range vResp.Items {
		dur := ParseISO8601Duration(v.ContentDetails.Duration)
		videos = append(videos, Video{
			VideoID:           v.Id,
			Title:             titles[v.Id],
			Description:       descriptions[v.Id],
			PublishedAt:       published[v.Id],
			DurationSeconds:   dur,
			CaptionsAvailable: v.ContentDetails.Caption == "true",
		})
	}
	return videos, nil
}

// ToParsedEpisode projects a Video into the feed package's
// shared ParsedEpisode shape so the repository upsert path is uniform
// across RSS and YouTube sources.
func ToParsedEpisode(v Video) feed.ParsedEpisode {
	return feed.ParsedEpisode{
		GUID:            v.VideoID,
		Title:           v.Title,
		Description:     v.Description,
		PublishedDate:   v.PublishedAt,
		DurationSeconds: v.DurationSeconds,
		Enclosure: feed.ParsedEnclosure{
			URL:  "https://www.youtube.com/watch?v=" + v.VideoID,
			Type: "video/mp4",
		},
	}
}

var iso8601Duration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISO8601Duration converts a YouTube API "PT#H#M#S" duration
// string to whole seconds (spec §4.B).
func ParseISO8601Duration(s string) *int {
	m := iso8601Duration.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	total := hours*3600 + minutes*60 + seconds
	return &total
}
