// Package repository is the sole custodian of pipeline state
// transitions (spec §4.A). It is backed by database/sql over
// modernc.org/sqlite, mirroring the teacher's own use of a pure-Go
// sqlite driver for local structured storage rather than an ORM.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"podpipe/internal/model"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("repository: not found")

// Stage names used by the generic mark_*/reset/retry operations.
const (
	StageDownload   = "download"
	StageTranscript = "transcript"
	StageMetadata   = "metadata"
	StageFileSearch = "file_search"
)

// Repository wraps a *sql.DB opened against a single sqlite file.
type Repository struct {
	db *sql.DB
}

// Open creates (if needed) the schema at dsn and returns a ready
// Repository. dsn is a modernc.org/sqlite data source, e.g.
// "file:/var/lib/podpipe/pipeline.db?_pragma=busy_timeout(5000)".
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline per spec §5
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, primarily for tests that
// want an in-memory database (dsn "file::memory:?cache=shared").
func NewWithDB(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Close() error { return r.db.Close() }

func nowUTC() time.Time { return time.Now().UTC() }

func newID() string { return uuid.New().String() }

// withTx runs fn inside a short-lived transaction, committing on
// success and rolling back on any error (spec §4.A concurrency
// contract: every operation commits atomically or rolls back).
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("repository: rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: commit: %w", err)
	}
	return nil
}

// --- Podcast operations ---------------------------------------------------

// CreatePodcast inserts a new podcast row, generating its id.
func (r *Repository) CreatePodcast(ctx context.Context, p *model.Podcast) (string, error) {
	p.ID = newID()
	now := nowUTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.SourceType == "" {
		p.SourceType = model.SourcePodcastFeed
	}
	if p.CheckFrequencyHr == 0 {
		p.CheckFrequencyHr = 24
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO podcasts
			(id, source_type, feed_url, website_url, title, description, image_url,
			 author, language, local_directory, check_frequency_hours,
			 channel_id, playlist_id, handle, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.ID, p.SourceType, p.FeedURL, p.WebsiteURL, p.Title, p.Description, p.ImageURL,
			p.Author, p.Language, p.LocalDirectory, p.CheckFrequencyHr,
			p.ChannelID, p.PlaylistID, p.Handle, p.CreatedAt, p.UpdatedAt)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("repository: create podcast: %w", err)
	}
	return p.ID, nil
}

// GetPodcastByFeedURL returns the podcast with the given feed URL, or
// ErrNotFound. It is the primary upsert key used by add/sync.
func (r *Repository) GetPodcastByFeedURL(ctx context.Context, feedURL string) (*model.Podcast, error) {
	return r.scanOnePodcast(ctx, `SELECT `+podcastCols+` FROM podcasts WHERE feed_url = ?`, feedURL)
}

// GetPodcast returns the podcast with the given id, or ErrNotFound.
func (r *Repository) GetPodcast(ctx context.Context, id string) (*model.Podcast, error) {
	return r.scanOnePodcast(ctx, `SELECT `+podcastCols+` FROM podcasts WHERE id = ?`, id)
}

// UpdatePodcast persists mutable feed-derived fields and bumps
// last_checked/last_new_episode when applicable. last_new_episode only
// advances (invariant 5): callers pass the candidate and the
// repository takes the max.
func (r *Repository) UpdatePodcast(ctx context.Context, p *model.Podcast) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var existingNew sql.NullTime
		if err := tx.QueryRowContext(ctx, `SELECT last_new_episode FROM podcasts WHERE id = ?`, p.ID).Scan(&existingNew); err != nil {
			return err
		}
		newEpisode := p.LastNewEpisode
		if existingNew.Valid && newEpisode != nil && !newEpisode.After(existingNew.Time) {
			t := existingNew.Time
			newEpisode = &t
		} else if existingNew.Valid && newEpisode == nil {
			t := existingNew.Time
			newEpisode = &t
		}
		_, err := tx.ExecContext(ctx, `UPDATE podcasts SET
			title=?, description=?, image_url=?, author=?, language=?,
			website_url=?, last_checked=?, last_new_episode=?,
			channel_id=?, playlist_id=?, updated_at=?
			WHERE id=?`,
			p.Title, p.Description, p.ImageURL, p.Author, p.Language,
			p.WebsiteURL, p.LastChecked, newEpisode,
			p.ChannelID, p.PlaylistID, nowUTC(), p.ID)
		return err
	})
}

// ListPodcasts returns up to limit podcasts (0 = unlimited), newest
// first by creation order.
func (r *Repository) ListPodcasts(ctx context.Context, limit int) ([]*model.Podcast, error) {
	q := `SELECT ` + podcastCols + ` FROM podcasts ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Podcast
	for rows.Next() {
		p, err := scanPodcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const podcastCols = `id, source_type, feed_url, website_url, title, description, image_url,
	author, language, local_directory, last_checked, last_new_episode, check_frequency_hours,
	channel_id, playlist_id, handle,
	description_status, description_error, description_resource_name, description_display_name, description_uploaded_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPodcast(rs rowScanner) (*model.Podcast, error) {
	var p model.Podcast
	var lastChecked, lastNew, descUploaded sql.NullTime
	var websiteURL, descr, imageURL, author, language, localDir, channelID, playlistID, handle sql.NullString
	var descError, descResourceName, descDisplayName sql.NullString
	if err := rs.Scan(&p.ID, &p.SourceType, &p.FeedURL, &websiteURL, &p.Title, &descr, &imageURL,
		&author, &language, &localDir, &lastChecked, &lastNew, &p.CheckFrequencyHr,
		&channelID, &playlistID, &handle,
		&p.DescriptionIndex.Status, &descError, &descResourceName, &descDisplayName, &descUploaded,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.WebsiteURL, p.Description, p.ImageURL = websiteURL.String, descr.String, imageURL.String
	p.Author, p.Language, p.LocalDirectory = author.String, language.String, localDir.String
	p.ChannelID, p.PlaylistID, p.Handle = channelID.String, playlistID.String, handle.String
	p.DescriptionIndex.Error = descError.String
	p.DescriptionIndex.ResourceName = descResourceName.String
	p.DescriptionIndex.DisplayName = descDisplayName.String
	if lastChecked.Valid {
		p.LastChecked = &lastChecked.Time
	}
	if lastNew.Valid {
		p.LastNewEpisode = &lastNew.Time
	}
	if descUploaded.Valid {
		p.DescriptionIndex.UploadedAt = &descUploaded.Time
	}
	return &p, nil
}

func (r *Repository) scanOnePodcast(ctx context.Context, query string, args ...any) (*model.Podcast, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	p, err := scanPodcast(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// --- Episode operations ----------------------------------------------------

// CreateEpisode inserts a new episode row, generating its id.
func (r *Repository) CreateEpisode(ctx context.Context, e *model.Episode) (string, error) {
	e.ID = newID()
	now := nowUTC()
	e.CreatedAt, e.UpdatedAt = now, now
	if e.SourceType == "" {
		e.SourceType = model.SourcePodcastEp
	}
	if e.Download.Status == "" {
		e.Download.Status = model.DownloadPending
	}
	if e.Transcript.Status == "" {
		e.Transcript.Status = model.TranscriptPending
	}
	if e.Metadata.Status == "" {
		e.Metadata.Status = model.MetadataPending
	}
	if e.FileSearch.Status == "" {
		e.FileSearch.Status = model.FileSearchPending
	}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO episodes
			(id, podcast_id, guid, source_type, title, description, published_date,
			 duration_seconds, episode_number, season_number,
			 enclosure_url, enclosure_type, enclosure_length,
			 download_status, transcript_status, metadata_status, file_search_status,
			 youtube_captions_available, youtube_caption_language,
			 created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			e.ID, e.PodcastID, e.GUID, e.SourceType, e.Title, e.Description, e.PublishedDate,
			e.DurationSeconds, e.EpisodeNumber, e.SeasonNumber,
			e.Enclosure.URL, e.Enclosure.Type, e.Enclosure.Length,
			e.Download.Status, e.Transcript.Status, e.Metadata.Status, e.FileSearch.Status,
			boolToInt(e.YouTubeCaptionsAvailable), e.YouTubeCaptionLanguage,
			e.CreatedAt, e.UpdatedAt)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("repository: create episode: %w", err)
	}
	return e.ID, nil
}

// GetOrCreateEpisode upserts on (podcast_id, guid): if a matching
// episode exists it is returned unchanged, otherwise e is inserted.
// This is the idempotent entry point feed sync calls for every item.
func (r *Repository) GetOrCreateEpisode(ctx context.Context, e *model.Episode) (*model.Episode, bool, error) {
	existing, err := r.GetEpisodeByGUID(ctx, e.PodcastID, e.GUID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if _, err := r.CreateEpisode(ctx, e); err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (r *Repository) GetEpisodeByGUID(ctx context.Context, podcastID, guid string) (*model.Episode, error) {
	return r.scanOneEpisode(ctx, `SELECT `+episodeCols+` FROM episodes WHERE podcast_id = ? AND guid = ?`, podcastID, guid)
}

func (r *Repository) GetEpisode(ctx context.Context, id string) (*model.Episode, error) {
	return r.scanOneEpisode(ctx, `SELECT `+episodeCols+` FROM episodes WHERE id = ?`, id)
}

// GetEpisodeByFileSearchDisplayName resolves a grounding citation's
// title back to an Episode (spec §4.I).
func (r *Repository) GetEpisodeByFileSearchDisplayName(ctx context.Context, displayName string) (*model.Episode, error) {
	return r.scanOneEpisode(ctx, `SELECT `+episodeCols+` FROM episodes WHERE display_name = ?`, displayName)
}

// GetPodcastByDescriptionDisplayName resolves a grounding citation's
// title back to a Podcast (spec §4.I).
func (r *Repository) GetPodcastByDescriptionDisplayName(ctx context.Context, displayName string) (*model.Podcast, error) {
	return r.scanOnePodcast(ctx, `SELECT `+podcastCols+` FROM podcasts WHERE description_display_name = ?`, displayName)
}

const episodeCols = `id, podcast_id, guid, source_type, title, description, published_date,
	duration_seconds, episode_number, season_number,
	enclosure_url, enclosure_type, enclosure_length,
	download_status, download_error, downloaded_at, local_file_path, file_size_bytes, file_hash,
	transcript_status, transcript_error, transcribed_at, transcript_text, transcript_path, transcript_source, transcript_retry_count,
	metadata_status, metadata_error, ai_summary, ai_keywords, ai_hosts, ai_guests, ai_email_content, mp3_artist, mp3_album, metadata_retry_count,
	file_search_status, file_search_error, resource_name, display_name, uploaded_at, file_search_retry_count,
	youtube_captions_available, youtube_caption_language,
	created_at, updated_at`

func scanEpisode(rs rowScanner) (*model.Episode, error) {
	var e model.Episode
	var descr sql.NullString
	var published, downloadedAt, transcribedAt, uploadedAt sql.NullTime
	var episodeNumber, seasonNumber sql.NullInt64
	var encURL, encType sql.NullString
	var encLength sql.NullInt64
	var downloadErr, localPath, fileHash sql.NullString
	var fileSize sql.NullInt64
	var transcriptErr, transcriptText, transcriptPath, transcriptSource sql.NullString
	var metadataErr, aiSummary, aiKeywords, aiHosts, aiGuests, aiEmailContent, mp3Artist, mp3Album sql.NullString
	var fsErr, resourceName, displayName sql.NullString
	var captionLang sql.NullString
	var captionsAvail int
	if err := rs.Scan(&e.ID, &e.PodcastID, &e.GUID, &e.SourceType, &e.Title, &descr, &published,
		&e.DurationSeconds, &episodeNumber, &seasonNumber,
		&encURL, &encType, &encLength,
		&e.Download.Status, &downloadErr, &downloadedAt, &localPath, &fileSize, &fileHash,
		&e.Transcript.Status, &transcriptErr, &transcribedAt, &transcriptText, &transcriptPath, &transcriptSource, &e.Transcript.RetryCount,
		&e.Metadata.Status, &metadataErr, &aiSummary, &aiKeywords, &aiHosts, &aiGuests, &aiEmailContent, &mp3Artist, &mp3Album, &e.Metadata.RetryCount,
		&e.FileSearch.Status, &fsErr, &resourceName, &displayName, &uploadedAt, &e.FileSearch.RetryCount,
		&captionsAvail, &captionLang,
		&e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Description = descr.String
	if published.Valid {
		e.PublishedDate = &published.Time
	}
	if episodeNumber.Valid {
		n := int(episodeNumber.Int64)
		e.EpisodeNumber = &n
	}
	if seasonNumber.Valid {
		n := int(seasonNumber.Int64)
		e.SeasonNumber = &n
	}
	e.Enclosure = model.Enclosure{URL: encURL.String, Type: encType.String, Length: encLength.Int64}
	e.Download.Error, e.Download.LocalFilePath, e.Download.FileHash = downloadErr.String, localPath.String, fileHash.String
	e.Download.FileSizeBytes = fileSize.Int64
	if downloadedAt.Valid {
		e.Download.DownloadedAt = &downloadedAt.Time
	}
	e.Transcript.Error, e.Transcript.TranscriptText = transcriptErr.String, transcriptText.String
	e.Transcript.TranscriptPath = transcriptPath.String
	e.Transcript.TranscriptSource = model.TranscriptSource(transcriptSource.String)
	if transcribedAt.Valid {
		e.Transcript.TranscribedAt = &transcribedAt.Time
	}
	e.Metadata.Error, e.Metadata.MP3Artist, e.Metadata.MP3Album = metadataErr.String, mp3Artist.String, mp3Album.String
	e.Metadata.AISummary = aiSummary.String
	e.Metadata.AIKeywords = splitCSV(aiKeywords.String)
	e.Metadata.AIHosts = splitCSV(aiHosts.String)
	e.Metadata.AIGuests = splitCSV(aiGuests.String)
	if aiEmailContent.Valid && aiEmailContent.String != "" {
		var ec model.EmailContent
		if err := json.Unmarshal([]byte(aiEmailContent.String), &ec); err == nil {
			e.Metadata.AIEmailContent = &ec
		}
	}
	e.FileSearch.Error, e.FileSearch.ResourceName, e.FileSearch.DisplayName = fsErr.String, resourceName.String, displayName.String
	if uploadedAt.Valid {
		e.FileSearch.UploadedAt = &uploadedAt.Time
	}
	e.YouTubeCaptionsAvailable = captionsAvail != 0
	e.YouTubeCaptionLanguage = captionLang.String
	return &e, nil
}

func (r *Repository) scanOneEpisode(ctx context.Context, query string, args ...any) (*model.Episode, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	e, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Repository) queryEpisodes(ctx context.Context, query string, args ...any) ([]*model.Episode, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinCSV(xs []string) string { return strings.Join(xs, ",") }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Stage transitions -------------------------------------------------

// MarkDownloadStarted sets download_status=downloading and clears the
// error field.
func (r *Repository) MarkDownloadStarted(ctx context.Context, episodeID string) error {
	return r.exec(ctx, `UPDATE episodes SET download_status=?, download_error=NULL, updated_at=? WHERE id=?`,
		model.DownloadDownloading, nowUTC(), episodeID)
}

// MarkDownloadComplete records a successful download.
func (r *Repository) MarkDownloadComplete(ctx context.Context, episodeID, localPath string, sizeBytes int64, hash string) error {
	return r.exec(ctx, `UPDATE episodes SET download_status=?, downloaded_at=?, local_file_path=?,
		file_size_bytes=?, file_hash=?, download_error=NULL, updated_at=? WHERE id=?`,
		model.DownloadCompleted, nowUTC(), localPath, sizeBytes, hash, nowUTC(), episodeID)
}

func (r *Repository) MarkDownloadFailed(ctx context.Context, episodeID, errMsg string) error {
	return r.exec(ctx, `UPDATE episodes SET download_status=?, download_error=?, updated_at=? WHERE id=?`,
		model.DownloadFailed, errMsg, nowUTC(), episodeID)
}

func (r *Repository) MarkTranscriptStarted(ctx context.Context, episodeID string) error {
	return r.exec(ctx, `UPDATE episodes SET transcript_status=?, transcript_error=NULL, updated_at=? WHERE id=?`,
		model.TranscriptProcessing, nowUTC(), episodeID)
}

func (r *Repository) MarkTranscriptComplete(ctx context.Context, episodeID, text string, source model.TranscriptSource) error {
	return r.exec(ctx, `UPDATE episodes SET transcript_status=?, transcribed_at=?, transcript_text=?,
		transcript_source=?, transcript_error=NULL, updated_at=? WHERE id=?`,
		model.TranscriptCompleted, nowUTC(), text, source, nowUTC(), episodeID)
}

// MarkDownloadAndTranscriptComplete is the one-step transition used by
// the YouTube-captions short-circuit path (spec §4.D).
func (r *Repository) MarkDownloadAndTranscriptComplete(ctx context.Context, episodeID, text string) error {
	now := nowUTC()
	return r.exec(ctx, `UPDATE episodes SET
		download_status=?, downloaded_at=?, download_error=NULL,
		transcript_status=?, transcribed_at=?, transcript_text=?, transcript_source=?, transcript_error=NULL,
		updated_at=? WHERE id=?`,
		model.DownloadCompleted, now,
		model.TranscriptCompleted, now, text, model.TranscriptSourceYouTubeCaptions,
		now, episodeID)
}

func (r *Repository) MarkTranscriptFailed(ctx context.Context, episodeID, errMsg string) error {
	return r.exec(ctx, `UPDATE episodes SET transcript_status=?, transcript_error=?, updated_at=? WHERE id=?`,
		model.TranscriptFailed, errMsg, nowUTC(), episodeID)
}

func (r *Repository) MarkMetadataStarted(ctx context.Context, episodeID string) error {
	return r.exec(ctx, `UPDATE episodes SET metadata_status=?, metadata_error=NULL, updated_at=? WHERE id=?`,
		model.MetadataProcessing, nowUTC(), episodeID)
}

// MarkMetadataComplete writes every extracted field in one call
// (spec §4.E: "writes ... to the Episode in one call").
func (r *Repository) MarkMetadataComplete(ctx context.Context, episodeID string, m model.MetadataTrack) error {
	var emailJSON []byte
	if m.AIEmailContent != nil {
		b, err := json.Marshal(m.AIEmailContent)
		if err != nil {
			return fmt.Errorf("repository: marshal email content: %w", err)
		}
		emailJSON = b
	}
	return r.exec(ctx, `UPDATE episodes SET metadata_status=?, ai_summary=?, ai_keywords=?, ai_hosts=?, ai_guests=?,
		ai_email_content=?, mp3_artist=?, mp3_album=?, metadata_error=NULL, updated_at=? WHERE id=?`,
		model.MetadataCompleted, m.AISummary, joinCSV(m.AIKeywords), joinCSV(m.AIHosts), joinCSV(m.AIGuests),
		string(emailJSON), m.MP3Artist, m.MP3Album, nowUTC(), episodeID)
}

func (r *Repository) MarkMetadataFailed(ctx context.Context, episodeID, errMsg string) error {
	return r.exec(ctx, `UPDATE episodes SET metadata_status=?, metadata_error=?, updated_at=? WHERE id=?`,
		model.MetadataFailed, errMsg, nowUTC(), episodeID)
}

func (r *Repository) MarkIndexingStarted(ctx context.Context, episodeID string) error {
	return r.exec(ctx, `UPDATE episodes SET file_search_status=?, file_search_error=NULL, updated_at=? WHERE id=?`,
		model.FileSearchProcessing, nowUTC(), episodeID)
}

func (r *Repository) MarkIndexingComplete(ctx context.Context, episodeID, resourceName, displayName string) error {
	return r.exec(ctx, `UPDATE episodes SET file_search_status=?, resource_name=?, display_name=?, uploaded_at=?,
		file_search_error=NULL, updated_at=? WHERE id=?`,
		model.FileSearchIndexed, resourceName, displayName, nowUTC(), nowUTC(), episodeID)
}

func (r *Repository) MarkIndexingFailed(ctx context.Context, episodeID, errMsg string) error {
	return r.exec(ctx, `UPDATE episodes SET file_search_status=?, file_search_error=?, updated_at=? WHERE id=?`,
		model.FileSearchFailed, errMsg, nowUTC(), episodeID)
}

// MarkAudioCleanedUp clears local_file_path after the cleanup stage
// deletes the on-disk file.
func (r *Repository) MarkAudioCleanedUp(ctx context.Context, episodeID string) error {
	return r.exec(ctx, `UPDATE episodes SET local_file_path=NULL, updated_at=? WHERE id=?`, nowUTC(), episodeID)
}

// stageColumn maps a stage name to its status/retry column pair.
func stageColumns(stage string) (statusCol, errCol, retryCol string, err error) {
	switch stage {
	case StageDownload:
		return "download_status", "download_error", "", nil
	case StageTranscript:
		return "transcript_status", "transcript_error", "transcript_retry_count", nil
	case StageMetadata:
		return "metadata_status", "metadata_error", "metadata_retry_count", nil
	case StageFileSearch:
		return "file_search_status", "file_search_error", "file_search_retry_count", nil
	default:
		return "", "", "", fmt.Errorf("repository: unknown stage %q", stage)
	}
}

func permanentStatus(stage string) string {
	if stage == StageDownload {
		return string(model.DownloadFailed) // download has no permanently_failed state in spec §3
	}
	return "permanently_failed"
}

// ResetEpisodeForRetry flips a failed stage back to pending.
func (r *Repository) ResetEpisodeForRetry(ctx context.Context, episodeID, stage string) error {
	statusCol, errCol, _, err := stageColumns(stage)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE episodes SET %s=?, %s=NULL, updated_at=? WHERE id=?`, statusCol, errCol)
	return r.exec(ctx, q, "pending", nowUTC(), episodeID)
}

// IncrementRetryCount increments the stage's retry counter and
// returns the new value.
func (r *Repository) IncrementRetryCount(ctx context.Context, episodeID, stage string) (int, error) {
	_, _, retryCol, err := stageColumns(stage)
	if err != nil {
		return 0, err
	}
	if retryCol == "" {
		return 0, fmt.Errorf("repository: stage %q has no retry counter", stage)
	}
	var newCount int
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE episodes SET %s = %s + 1, updated_at=? WHERE id=?`, retryCol, retryCol), nowUTC(), episodeID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM episodes WHERE id=?`, retryCol), episodeID).Scan(&newCount)
	})
	if err != nil {
		return 0, err
	}
	return newCount, nil
}

// MarkPermanentlyFailed is terminal: the stage will not be
// auto-retried again (invariant 4).
func (r *Repository) MarkPermanentlyFailed(ctx context.Context, episodeID, stage, errMsg string) error {
	statusCol, errCol, _, err := stageColumns(stage)
	if err != nil {
		return err
	}
	q := fmt.Sprintf(`UPDATE episodes SET %s=?, %s=? , updated_at=? WHERE id=?`, statusCol, errCol)
	return r.exec(ctx, q, permanentStatus(stage), errMsg, nowUTC(), episodeID)
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
}

// --- Work-selection queries --------------------------------------------

func (r *Repository) GetEpisodesPendingDownload(ctx context.Context, limit int) ([]*model.Episode, error) {
	return r.queryEpisodes(ctx, `SELECT `+episodeCols+` FROM episodes WHERE download_status=?
		ORDER BY published_date DESC, created_at ASC LIMIT ?`, model.DownloadPending, limit)
}

func (r *Repository) GetDownloadBufferCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes WHERE download_status=? AND transcript_status=?`,
		model.DownloadCompleted, model.TranscriptPending).Scan(&n)
	return n, err
}

// GetNextForTranscription returns one episode ready for the
// transcriber, or ErrNotFound if none is pending.
func (r *Repository) GetNextForTranscription(ctx context.Context) (*model.Episode, error) {
	return r.scanOneEpisode(ctx, `SELECT `+episodeCols+` FROM episodes WHERE download_status=? AND transcript_status=?
		ORDER BY published_date DESC, created_at ASC LIMIT 1`, model.DownloadCompleted, model.TranscriptPending)
}

func (r *Repository) GetEpisodesPendingMetadata(ctx context.Context, limit int) ([]*model.Episode, error) {
	return r.queryEpisodes(ctx, `SELECT `+episodeCols+` FROM episodes WHERE transcript_status=? AND metadata_status=?
		ORDER BY published_date DESC, created_at ASC LIMIT ?`, model.TranscriptCompleted, model.MetadataPending, limit)
}

func (r *Repository) GetEpisodesPendingIndexing(ctx context.Context, limit int) ([]*model.Episode, error) {
	return r.queryEpisodes(ctx, `SELECT `+episodeCols+` FROM episodes WHERE metadata_status=? AND file_search_status=?
		ORDER BY published_date DESC, created_at ASC LIMIT ?`, model.MetadataCompleted, model.FileSearchPending, limit)
}

func (r *Repository) GetEpisodesReadyForCleanup(ctx context.Context, limit int) ([]*model.Episode, error) {
	return r.queryEpisodes(ctx, `SELECT `+episodeCols+` FROM episodes
		WHERE file_search_status=? AND local_file_path IS NOT NULL AND local_file_path != ''
		ORDER BY published_date DESC, created_at ASC LIMIT ?`, model.FileSearchIndexed, limit)
}

// GetNextPendingPostProcessing returns one transcribed episode still
// needing metadata or indexing, for the PostProcessor chain.
func (r *Repository) GetNextPendingPostProcessing(ctx context.Context) (*model.Episode, error) {
	return r.scanOneEpisode(ctx, `SELECT `+episodeCols+` FROM episodes
		WHERE transcript_status=? AND (metadata_status=? OR file_search_status=?)
		ORDER BY published_date DESC, created_at ASC LIMIT 1`,
		model.TranscriptCompleted, model.MetadataPending, model.FileSearchPending)
}

// GetNewEpisodesForUserSince returns episodes in podcasts the user
// subscribes to, published after since, with metadata already
// extracted (used by both DigestWorker and ChatSearch).
func (r *Repository) GetNewEpisodesForUserSince(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Episode, error) {
	return r.queryEpisodes(ctx, `SELECT `+prefixCols("e.", episodeCols)+` FROM episodes e
		JOIN user_subscriptions us ON us.podcast_id = e.podcast_id
		WHERE us.user_id = ? AND e.metadata_status = ? AND e.published_date > ?
		ORDER BY e.published_date DESC LIMIT ?`, userID, model.MetadataCompleted, since, limit)
}

func prefixCols(prefix, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = prefix + p
	}
	return strings.Join(parts, ", ")
}

// GetUsersForEmailDigest returns users opted into digests who are
// past the 20-hour cooldown (spec §4.A).
func (r *Repository) GetUsersForEmailDigest(ctx context.Context) ([]*model.User, error) {
	cutoff := nowUTC().Add(-20 * time.Hour)
	rows, err := r.db.QueryContext(ctx, `SELECT `+userCols+` FROM users
		WHERE email_digest_enabled = 1 AND (last_email_digest_sent IS NULL OR last_email_digest_sent <= ?)`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) MarkEmailDigestSent(ctx context.Context, userID string) error {
	return r.exec(ctx, `UPDATE users SET last_email_digest_sent=?, updated_at=? WHERE id=?`, nowUTC(), nowUTC(), userID)
}

// --- User / subscription operations -------------------------------------

const userCols = `id, external_oauth_id, email, name, is_admin, email_digest_enabled,
	email_digest_hour, timezone, last_email_digest_sent, created_at, updated_at`

func scanUser(rs rowScanner) (*model.User, error) {
	var u model.User
	var name sql.NullString
	var isAdmin, digestEnabled int
	var lastSent sql.NullTime
	if err := rs.Scan(&u.ID, &u.ExternalOAuthID, &u.Email, &name, &isAdmin, &digestEnabled,
		&u.EmailDigestHour, &u.Timezone, &lastSent, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Name = name.String
	u.IsAdmin, u.EmailDigestEnabled = isAdmin != 0, digestEnabled != 0
	if lastSent.Valid {
		u.LastEmailDigestSent = &lastSent.Time
	}
	return &u, nil
}

func (r *Repository) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// GetUserSubscriptions returns the podcasts the given user subscribes
// to (invariant 6: the only source of subscription truth).
func (r *Repository) GetUserSubscriptions(ctx context.Context, userID string) ([]*model.Podcast, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+prefixCols("p.", podcastCols)+` FROM podcasts p
		JOIN user_subscriptions us ON us.podcast_id = p.id WHERE us.user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Podcast
	for rows.Next() {
		p, err := scanPodcast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Subscribe(ctx context.Context, userID, podcastID string) error {
	return r.exec(ctx, `INSERT OR IGNORE INTO user_subscriptions (user_id, podcast_id, created_at) VALUES (?,?,?)`,
		userID, podcastID, nowUTC())
}

// --- Conversation / chat operations -------------------------------------

func (r *Repository) CreateConversation(ctx context.Context, c *model.Conversation) (string, error) {
	c.ID = newID()
	now := nowUTC()
	c.CreatedAt, c.UpdatedAt = now, now
	err := r.exec(ctx, `INSERT INTO conversations (id, user_id, podcast_id, episode_id, message_count, created_at, updated_at)
		VALUES (?,?,NULLIF(?,''),NULLIF(?,''),0,?,?)`, c.ID, c.UserID, c.PodcastID, c.EpisodeID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// AppendMessage inserts a chat message and maintains the
// conversation's cached message_count (§7 supplemented feature).
func (r *Repository) AppendMessage(ctx context.Context, m *model.ChatMessage) (string, error) {
	m.ID = newID()
	m.CreatedAt = nowUTC()
	citationsJSON, err := json.Marshal(m.Citations)
	if err != nil {
		return "", fmt.Errorf("repository: marshal citations: %w", err)
	}
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_messages (id, conversation_id, role, content, citations, created_at)
			VALUES (?,?,?,?,?,?)`, m.ID, m.ConversationID, m.Role, m.Content, string(citationsJSON), m.CreatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE conversations SET message_count = message_count + 1, updated_at=? WHERE id=?`,
			nowUTC(), m.ConversationID)
		return err
	})
	if err != nil {
		return "", err
	}
	return m.ID, nil
}
