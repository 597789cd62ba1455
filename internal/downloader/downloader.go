// Package downloader concurrently fetches podcast audio over HTTP,
// hashes it, and sanitizes its on-disk filename (spec §4.C). The
// worker-pool shape follows the teacher's channel-based
// downloadWorker/ffmpegWorker pattern in internal/processor/processor.go,
// generalized from a fixed two-stage pipeline to a single bounded pool.
package downloader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"podpipe/internal/feed"
	"podpipe/internal/model"
)

const (
	userAgent      = "PodPipe/1.0 (+https://github.com/podpipe/podpipe)"
	chunkSize      = 8192
	defaultTimeout = 300 * time.Second
	maxRetries     = 3
)

var retryableStatus = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// Result is the outcome of downloading a single episode.
type Result struct {
	EpisodeID string
	Success   bool
	LocalPath string
	FileSize  int64
	FileHash  string
	Error     error
}

// EpisodeRef is the minimal episode shape the downloader needs; it
// avoids importing the repository package, keeping downloader
// testable against fakes.
type EpisodeRef struct {
	ID            string
	Title         string
	EpisodeNumber *int
	Enclosure     model.Enclosure
	PodcastDir    string // sanitized per-podcast subdirectory name
}

// Repository is the narrow slice of *repository.Repository the
// downloader calls, mirroring the teacher's StorageDeleter-style
// narrow interface DI in internal/processor/processor.go.
type Repository interface {
	MarkDownloadStarted(ctx context.Context, episodeID string) error
	MarkDownloadComplete(ctx context.Context, episodeID, localPath string, sizeBytes int64, hash string) error
	MarkDownloadFailed(ctx context.Context, episodeID, errMsg string) error
}

// Downloader owns the HTTP client and worker count used for batch
// downloads.
type Downloader struct {
	client    *http.Client
	baseDir   string
	workers   int
	repo      Repository
}

// New constructs a Downloader writing files under baseDir with a pool
// of workers concurrent fetches.
func New(repo Repository, baseDir string, workers int) *Downloader {
	if workers <= 0 {
		workers = 10
	}
	return &Downloader{
		client:  &http.Client{Timeout: defaultTimeout},
		baseDir: baseDir,
		workers: workers,
		repo:    repo,
	}
}

// NewWithClient allows tests to inject a fake http.Client via
// http.Client{Transport: fakeRoundTripper}.
func NewWithClient(repo Repository, baseDir string, workers int, client *http.Client) *Downloader {
	d := New(repo, baseDir, workers)
	d.client = client
	return d
}

// DownloadBatch dispatches episodes to a bounded worker pool and
// blocks until every job completes, returning per-episode results in
// input order (the aggregate {downloaded, failed, results} contract
// from spec §9).
func (d *Downloader) DownloadBatch(ctx context.Context, episodes []EpisodeRef) []Result {
	type indexed struct {
		idx int
		ep  EpisodeRef
	}
	jobs := make(chan indexed, len(episodes))
	for i, ep := range episodes {
		jobs <- indexed{idx: i, ep: ep}
	}
	close(jobs)

	results := make([]Result, len(episodes))
	workers := d.workers
	if workers > len(episodes) {
		workers = len(episodes)
	}
	if workers == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-jobs:
					if !ok {
						return
					}
					results[job.idx] = d.downloadOne(ctx, job.ep)
				}
			}
		}()
	}
	wg.Wait()
	return results
}

// downloadOne performs the full per-episode contract: mark started,
// stream the file, hash it, mark complete or failed.
func (d *Downloader) downloadOne(ctx context.Context, ep EpisodeRef) Result {
	if d.repo != nil {
		if err := d.repo.MarkDownloadStarted(ctx, ep.ID); err != nil {
			slog.Error("downloader: mark started failed", "episode_id", ep.ID, "error", err)
		}
	}

	dir := filepath.Join(d.baseDir, ep.PodcastDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return d.fail(ctx, ep, fmt.Errorf("downloader: mkdir: %w", err))
	}

	filename := GenerateFilename(ep.Title, ep.EpisodeNumber, ep.Enclosure)
	destPath := filepath.Join(dir, filename)

	size, hash, err := d.fetchWithRetry(ctx, ep.Enclosure.URL, destPath)
	if err != nil {
		os.Remove(destPath)
		return d.fail(ctx, ep, err)
	}

	if d.repo != nil {
		if err := d.repo.MarkDownloadComplete(ctx, ep.ID, destPath, size, hash); err != nil {
			slog.Error("downloader: mark complete failed", "episode_id", ep.ID, "error", err)
		}
	}
	return Result{EpisodeID: ep.ID, Success: true, LocalPath: destPath, FileSize: size, FileHash: hash}
}

func (d *Downloader) fail(ctx context.Context, ep EpisodeRef, err error) Result {
	if d.repo != nil {
		if mErr := d.repo.MarkDownloadFailed(ctx, ep.ID, err.Error()); mErr != nil {
			slog.Error("downloader: mark failed failed", "episode_id", ep.ID, "error", mErr)
		}
	}
	return Result{EpisodeID: ep.ID, Success: false, Error: err}
}

// fetchWithRetry streams url to destPath with exponential backoff on
// retryable status codes, hashing as it writes.
func (d *Downloader) fetchWithRetry(ctx context.Context, url, destPath string) (size int64, hash string, err error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return 0, "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		size, hash, err = d.fetchOnce(ctx, url, destPath)
		if err == nil {
			return size, hash, nil
		}
		lastErr = err
		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return 0, "", err
		}
	}
	return 0, "", fmt.Errorf("downloader: exhausted retries: %w", lastErr)
}

type retryableError struct{ status int }

func (e *retryableError) Error() string { return fmt.Sprintf("retryable status %d", e.status) }

func (d *Downloader) fetchOnce(ctx context.Context, url, destPath string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("downloader: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("downloader: request failed: %w", err)
	}
	defer resp.Body.Close()

	if retryableStatus[resp.StatusCode] {
		return 0, "", &retryableError{status: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		return 0, "", fmt.Errorf("downloader: permanent status %d for %s", resp.StatusCode, url)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, "", fmt.Errorf("downloader: create file: %w", err)
	}
	defer out.Close()

	hasher := sha256.New()
	writer := io.MultiWriter(out, hasher)
	written, err := io.CopyBuffer(writer, resp.Body, make([]byte, chunkSize))
	if err != nil {
		return 0, "", fmt.Errorf("downloader: stream body: %w", err)
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

var (
	illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	runsRe       = regexp.MustCompile(`[\s_]+`)
)

// SanitizeFilename implements spec §4.C / §8 property 7: the result
// contains none of <>:"/\|?*, has length <= 200, and never starts or
// ends with '.' or whitespace.
func SanitizeFilename(s string) string {
	s = illegalChars.ReplaceAllString(s, "")
	s = runsRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, " .")
	if s == "" {
		s = "episode"
	}
	if len(s) > 200 {
		s = s[:200]
	}
	s = strings.Trim(s, " .")
	return s
}

// CleanupRepository is the narrow slice of *repository.Repository
// needed by CleanupProcessed.
type CleanupRepository interface {
	GetEpisodesReadyForCleanup(ctx context.Context, limit int) ([]*model.Episode, error)
	MarkAudioCleanedUp(ctx context.Context, episodeID string) error
}

// AudioArchiver is an optional remote sink cleanup archives audio to
// before the local file is removed. A nil AudioArchiver skips
// archival entirely; cleanup then behaves exactly as before this
// capability existed.
type AudioArchiver interface {
	Archive(ctx context.Context, localPath, key string) error
}

// CleanupProcessed deletes on-disk audio for episodes that have
// finished indexing, clearing local_file_path (spec §4.C). It mirrors
// the original project's cleanup_processed_episodes. When archiver is
// non-nil, each file is archived before it is removed locally; an
// archive failure skips that episode's cleanup rather than losing the
// only copy of the audio.
func CleanupProcessed(ctx context.Context, repo CleanupRepository, archiver AudioArchiver, limit int) (cleaned int, err error) {
	episodes, err := repo.GetEpisodesReadyForCleanup(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("downloader: list cleanup candidates: %w", err)
	}
	for _, ep := range episodes {
		if ep.Download.LocalFilePath != "" {
			if archiver != nil {
				key := filepath.Base(ep.Download.LocalFilePath)
				if err := archiver.Archive(ctx, ep.Download.LocalFilePath, key); err != nil {
					slog.Error("downloader: archive before cleanup failed", "episode_id", ep.ID, "error", err)
					continue
				}
			}
			if rmErr := os.Remove(ep.Download.LocalFilePath); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Error("downloader: cleanup remove failed", "episode_id", ep.ID, "error", rmErr)
				continue
			}
		}
		if err := repo.MarkAudioCleanedUp(ctx, ep.ID); err != nil {
			slog.Error("downloader: mark cleaned up failed", "episode_id", ep.ID, "error", err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

// GenerateFilename builds "<sanitized title>[.ext]" with an
// "E<number>_" prefix when an episode number is known, capped at 200
// characters total (spec §4.C).
func GenerateFilename(title string, episodeNumber *int, enc model.Enclosure) string {
	ext := feed.GuessExtension(feed.ParsedEnclosure{URL: enc.URL, Type: enc.Type})
	base := SanitizeFilename(title)
	if episodeNumber != nil {
		base = "E" + strconv.Itoa(*episodeNumber) + "_" + base
	}
	if len(base)+len(ext) > 200 {
		base = base[:200-len(ext)]
	}
	return base + ext
}
