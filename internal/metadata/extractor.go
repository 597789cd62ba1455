// Package metadata merges feed-derived fields, ID3 tags, and an
// AI-derived structured extraction into an episode's metadata track,
// by priority feed > MP3 tags > AI (spec §4.E).
package metadata

import (
	"context"
	"fmt"
	"time"

	"podpipe/internal/model"
)

// AIClient is the capability interface over the metadata-extraction
// AI call; the concrete provider is a collaborator (spec §1
// Non-goals).
type AIClient interface {
	// Extract receives the transcript and filename and must return a
	// validated AIExtraction or an error. Errors whose message
	// contains "429"/"too many requests" trigger the extractor's
	// backoff retry.
	Extract(ctx context.Context, transcript, filename string) (*AIExtraction, error)
}

// AIExtraction is the closed schema spec §4.E requires the AI call to
// return; downstream readers never introspect missing keys (design
// note §9).
type AIExtraction struct {
	Summary       string
	Keywords      []string
	Hosts         []string
	CoHosts       []string
	Guests        []string
	EpisodeNumber *int
	Date          string
	EmailContent  *model.EmailContent
}

// Validate enforces the bounds spec §4.E lists: summary >= 100 chars,
// 5-10 keywords, >=1 hosts, email_content teaser 20-300 chars and
// >=1 key_takeaways when present.
func (a *AIExtraction) Validate() error {
	if len(a.Summary) < 100 {
		return fmt.Errorf("metadata: summary must be >= 100 chars, got %d", len(a.Summary))
	}
	if len(a.Keywords) < 5 || len(a.Keywords) > 10 {
		return fmt.Errorf("metadata: keywords must number 5-10, got %d", len(a.Keywords))
	}
	if len(a.Hosts) < 1 {
		return fmt.Errorf("metadata: hosts must be non-empty")
	}
	if a.EmailContent != nil {
		tlen := len(a.EmailContent.TeaserSummary)
		if tlen < 20 || tlen > 300 {
			return fmt.Errorf("metadata: teaser_summary must be 20-300 chars, got %d", tlen)
		}
		if len(a.EmailContent.KeyTakeaways) < 1 {
			return fmt.Errorf("metadata: key_takeaways must be non-empty")
		}
		if a.EmailContent.PodcastType != model.EmailPodcastTypeNews {
			// story_summaries is ignored downstream for non-news podcasts.
			a.EmailContent.StorySummaries = nil
		}
	}
	return nil
}

// Tagger reads ID3v2 artist/album tags from an MP3 file. No
// third-party ID3 library appeared anywhere in the retrieved example
// corpus, so this is a deliberately minimal stdlib reader scoped to
// exactly the two fields spec §4.E needs (see DESIGN.md).
type Tagger interface {
	ReadTags(path string) (artist, album string, err error)
}

const (
	defaultMaxRequests = 9
	defaultWindow      = 60 * time.Second
	defaultMaxRetries  = 4 // retries after the first call: 5 attempts in all
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 32 * time.Second
)

// limiter is satisfied by both the in-process RateLimiter and the
// Redis-backed RedisRateLimiter, so Extractor doesn't care which
// backs its AI-call throttling.
type limiter interface {
	Wait(ctx context.Context) error
}

// Extractor merges feed/MP3/AI metadata and writes the result through
// the repository's MarkMetadataComplete in one call.
type Extractor struct {
	ai          AIClient
	tagger      Tagger
	rateLimiter limiter
}

// New constructs an Extractor with the default in-process 9 req/60s
// rate limit.
func New(ai AIClient, tagger Tagger) *Extractor {
	return &Extractor{ai: ai, tagger: tagger, rateLimiter: NewRateLimiter(defaultMaxRequests, defaultWindow)}
}

// NewWithLimiter constructs an Extractor against a caller-supplied
// limiter, e.g. a RedisRateLimiter shared across pipeline replicas.
func NewWithLimiter(ai AIClient, tagger Tagger, rl limiter) *Extractor {
	return &Extractor{ai: ai, tagger: tagger, rateLimiter: rl}
}

// FeedFields carries the feed-derived values that take priority over
// AI output (spec §4.E step 1); they are not returned by Extract
// because they're already on the Episode row by the time metadata
// runs — Extract only computes the fields still missing.
type FeedFields struct {
	Title           string
	Description     string
	PublishedDate   *time.Time
	DurationSeconds int
}

// Extract runs the full merge: MP3 tags (if the file is still
// present), then a rate-limited AI call with retry-on-429, validated
// against the closed schema.
func (e *Extractor) Extract(ctx context.Context, localFilePath, transcript, filename string) (model.MetadataTrack, error) {
	var track model.MetadataTrack

	if localFilePath != "" && e.tagger != nil {
		if artist, album, err := e.tagger.ReadTags(localFilePath); err == nil {
			track.MP3Artist, track.MP3Album = artist, album
		}
	}

	if err := e.rateLimiter.Wait(ctx); err != nil {
		return track, fmt.Errorf("metadata: rate limiter: %w", err)
	}

	var extraction *AIExtraction
	_, err := retryWithBackoff(ctx, defaultMaxRetries, defaultBaseDelay, defaultMaxDelay, func() (string, error) {
		result, err := e.ai.Extract(ctx, transcript, filename)
		if err != nil {
			return "", err
		}
		extraction = result
		return "", nil
	})
	if err != nil {
		return track, fmt.Errorf("metadata: ai extraction failed: %w", err)
	}
	if len(extraction.Hosts) == 0 && track.MP3Artist != "" {
		// mp3_artist becomes the host fallback if AI returns no hosts.
		extraction.Hosts = []string{track.MP3Artist}
	}
	if err := extraction.Validate(); err != nil {
		return track, fmt.Errorf("metadata: ai extraction invalid: %w", err)
	}

	track.AISummary = extraction.Summary
	track.AIKeywords = extraction.Keywords
	track.AIHosts = extraction.Hosts
	track.AIGuests = extraction.Guests
	extraction.Date = SanitizeDate(extraction.Date)
	track.AIEmailContent = extraction.EmailContent

	return track, nil
}
