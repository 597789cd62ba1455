// Package model defines the entities persisted by the repository.
package model

import "time"

// SourceType distinguishes an RSS podcast from a YouTube channel, or
// an audio episode from a YouTube video.
type SourceType string

const (
	SourcePodcastFeed  SourceType = "rss"
	SourceYouTube      SourceType = "youtube"
	SourcePodcastEp    SourceType = "podcast_episode"
	SourceYouTubeVideo SourceType = "youtube_video"
)

// DownloadStatus tracks the audio-acquisition stage.
type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadFailed      DownloadStatus = "failed"
)

// TranscriptStatus tracks the transcription stage.
type TranscriptStatus string

const (
	TranscriptPending           TranscriptStatus = "pending"
	TranscriptProcessing        TranscriptStatus = "processing"
	TranscriptCompleted         TranscriptStatus = "completed"
	TranscriptFailed            TranscriptStatus = "failed"
	TranscriptPermanentlyFailed TranscriptStatus = "permanently_failed"
)

// TranscriptSource records how a transcript was produced.
type TranscriptSource string

const (
	TranscriptSourceYouTubeCaptions TranscriptSource = "youtube_captions"
	TranscriptSourceModel           TranscriptSource = "model"
)

// MetadataStatus tracks the metadata-extraction stage. It shares the
// pending/processing/completed/failed/permanently_failed vocabulary of
// TranscriptStatus but is kept distinct to avoid coupling stage tracks.
type MetadataStatus string

const (
	MetadataPending           MetadataStatus = "pending"
	MetadataProcessing        MetadataStatus = "processing"
	MetadataCompleted         MetadataStatus = "completed"
	MetadataFailed            MetadataStatus = "failed"
	MetadataPermanentlyFailed MetadataStatus = "permanently_failed"
)

// FileSearchStatus tracks the semantic-indexing stage.
type FileSearchStatus string

const (
	FileSearchPending           FileSearchStatus = "pending"
	FileSearchProcessing        FileSearchStatus = "processing"
	FileSearchIndexed           FileSearchStatus = "indexed"
	FileSearchFailed            FileSearchStatus = "failed"
	FileSearchPermanentlyFailed FileSearchStatus = "permanently_failed"
)

// DescriptionIndex is the podcast-level analogue of the episode
// file_search track, applied to the podcast's description text.
type DescriptionIndex struct {
	Status       FileSearchStatus
	Error        string
	ResourceName string
	DisplayName  string
	UploadedAt   *time.Time
}

// Podcast is a subscribable source: an RSS feed or a YouTube channel.
type Podcast struct {
	ID               string
	SourceType       SourceType
	FeedURL          string
	WebsiteURL       string
	Title            string
	Description      string
	ImageURL         string
	Author           string
	Language         string
	LocalDirectory   string
	LastChecked      *time.Time
	LastNewEpisode   *time.Time
	CheckFrequencyHr int

	// YouTube-only fields.
	ChannelID string
	PlaylistID string
	Handle    string

	DescriptionIndex DescriptionIndex

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Enclosure is the audio reference carried by a feed entry.
type Enclosure struct {
	URL    string
	Type   string
	Length int64
}

// EmailContent is the closed schema the metadata extractor's AI call
// must return for digest rendering (spec §4.E, §4.J).
type EmailContent struct {
	PodcastType     string         `json:"podcast_type"`
	TeaserSummary   string         `json:"teaser_summary"`
	KeyTakeaways    []string       `json:"key_takeaways"`
	HighlightMoment string         `json:"highlight_moment,omitempty"`
	StorySummaries  []StorySummary `json:"story_summaries,omitempty"`
}

type StorySummary struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
}

const (
	EmailPodcastTypeNews      = "news"
	EmailPodcastTypeInterview = "interview"
	EmailPodcastTypeGeneral   = "general"
)

// DownloadTrack is the episode's audio-acquisition status track.
type DownloadTrack struct {
	Status        DownloadStatus
	Error         string
	DownloadedAt  *time.Time
	LocalFilePath string
	FileSizeBytes int64
	FileHash      string
}

// TranscriptTrack is the episode's transcription status track.
type TranscriptTrack struct {
	Status          TranscriptStatus
	Error           string
	TranscribedAt   *time.Time
	TranscriptText  string
	TranscriptPath  string // legacy on-disk transcript, for back-compat readers
	TranscriptSource TranscriptSource
	RetryCount      int
}

// MetadataTrack is the episode's metadata-extraction status track.
type MetadataTrack struct {
	Status       MetadataStatus
	Error        string
	AISummary    string
	AIKeywords   []string
	AIHosts      []string
	AIGuests     []string
	AIEmailContent *EmailContent
	MP3Artist    string
	MP3Album     string
	RetryCount   int
}

// FileSearchTrack is the episode's semantic-indexing status track.
type FileSearchTrack struct {
	Status       FileSearchStatus
	Error        string
	ResourceName string
	DisplayName  string
	UploadedAt   *time.Time
	RetryCount   int
}

// Episode is one audio or video item belonging to a Podcast.
type Episode struct {
	ID         string
	PodcastID  string
	GUID       string
	SourceType SourceType

	Title           string
	Description     string
	PublishedDate   *time.Time
	DurationSeconds int
	EpisodeNumber   *int
	SeasonNumber    *int

	Enclosure Enclosure

	Download   DownloadTrack
	Transcript TranscriptTrack
	Metadata   MetadataTrack
	FileSearch FileSearchTrack

	// YouTube-only: whether captions were observed available at
	// discovery time. Per spec §9, this flag is not refreshed once
	// set; a failed caption download simply falls back to audio
	// extraction without correcting the flag.
	YouTubeCaptionsAvailable bool
	YouTubeCaptionLanguage   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is an authenticated subscriber.
type User struct {
	ID                  string
	ExternalOAuthID     string
	Email               string
	Name                string
	IsAdmin             bool
	EmailDigestEnabled  bool
	EmailDigestHour     int
	Timezone            string
	LastEmailDigestSent *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserSubscription is the many-to-many edge between User and Podcast;
// it is the only source of truth for "subscribed" (invariant 6).
type UserSubscription struct {
	UserID    string
	PodcastID string
	CreatedAt time.Time
}

// MessageRole distinguishes chat turn authorship.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Citation is a single grounded-generation source attached to an
// assistant ChatMessage.
type Citation struct {
	Index      int    `json:"index"`
	SourceType string `json:"source_type"`
	Title      string `json:"title"`
	Text       string `json:"text"`
	PodcastID  string `json:"podcast_id,omitempty"`
	EpisodeID  string `json:"episode_id,omitempty"`
}

// Conversation is a user-owned chat thread, optionally scoped to a
// podcast or episode.
type Conversation struct {
	ID           string
	UserID       string
	PodcastID    string
	EpisodeID    string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChatMessage is one turn within a Conversation.
type ChatMessage struct {
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	Citations      []Citation
	CreatedAt      time.Time
}
