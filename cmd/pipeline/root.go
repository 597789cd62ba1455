package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"podpipe/internal/archiver"
	"podpipe/internal/collaborators"
	"podpipe/internal/config"
	"podpipe/internal/digest"
	"podpipe/internal/downloader"
	"podpipe/internal/feedsync"
	"podpipe/internal/indexer"
	"podpipe/internal/mailer"
	"podpipe/internal/metadata"
	"podpipe/internal/orchestrator"
	"podpipe/internal/postprocess"
	"podpipe/internal/repository"
	"podpipe/internal/transcriber"
)

var dbDSN string

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Operate the podcast/YouTube ingestion pipeline",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db", "", "sqlite DSN (default: PIPELINE_DATABASE_DSN env var)")
	rootCmd.AddCommand(importOPMLCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(pipelineRunCmd)
	rootCmd.AddCommand(digestCmd)
}

// openRepo opens the repository at --db (falling back to the
// PIPELINE_DATABASE_DSN-derived default) and returns it along with a
// cleanup func.
func openRepo(ctx context.Context) (*repository.Repository, func(), error) {
	dsn := dbDSN
	if dsn == "" {
		dsn = config.DatabaseDSN
	}
	repo, err := repository.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, func() { repo.Close() }, nil
}

// buildArchiver returns the configured S3 audio archiver, or nil when
// PIPELINE_ARCHIVE_BACKEND isn't "s3" (the default).
func buildArchiver(ctx context.Context) (*archiver.S3Archiver, error) {
	return archiver.FromConfig(ctx, config.ArchiveBackend, config.S3Region, config.S3Bucket,
		config.S3AccessKey, config.S3SecretKey, config.S3EndpointURL)
}

// buildOrchestratorDeps wires the full pipeline from a Repository,
// using the unconfigured stand-ins for the AI/ML collaborators the
// spec scopes out (spec §1 Non-goals). Operators compile in real
// providers at this same seam.
func buildOrchestratorDeps(repo *repository.Repository, cfg *config.PipelineConfig) (*orchestrator.Orchestrator, error) {
	dl := downloader.New(repo, config.AudioBaseDir, cfg.DownloadWorkers)

	tr := transcriber.New(&collaborators.UnconfiguredModel{}, "en")

	var extractor *metadata.Extractor
	if config.RateLimiterBackend == "redis" {
		rc := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", config.ValkeyHost, config.ValkeyPort)})
		rl := metadata.NewRedisRateLimiter(rc, "podpipe:metadata:ratelimit", 9, 60*time.Second)
		extractor = metadata.NewWithLimiter(collaborators.UnconfiguredAIClient{}, metadata.ID3v2Tagger{}, rl)
	} else {
		extractor = metadata.New(collaborators.UnconfiguredAIClient{}, metadata.ID3v2Tagger{})
	}
	idx := indexer.New(collaborators.UnconfiguredDocumentStore{}, config.GroundedStoreDisplayName)
	stages := postprocess.BuildChain(extractor, idx, repo)
	pp := postprocess.New(repo, stages, postprocess.WithMaxRetries(cfg.MaxRetries))

	syncer := feedsync.New(repo, nil, nil)

	mail := mailer.NoopMailer{}
	dig := digest.New(repo, mail, config.WebBaseURL)

	var orchRepo orchestrator.Repository = repo
	if config.RateLimiterBackend == "redis" {
		rc := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%d", config.ValkeyHost, config.ValkeyPort)})
		orchRepo = orchestrator.WithBufferCountCache(orchRepo, rc, 5*time.Second)
	}

	return orchestrator.New(orchRepo, cfg, dl, tr, pp, syncer, dig), nil
}
