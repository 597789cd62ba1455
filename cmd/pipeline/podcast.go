package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"podpipe/internal/feed"
	"podpipe/internal/feedsync"
	"podpipe/internal/model"
	"podpipe/internal/repository"
)

var addCmd = &cobra.Command{
	Use:   "add <feed_url>",
	Short: "Add a podcast feed, fetching it to seed title/metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	feedURL := args[0]
	ctx := context.Background()
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	if existing, err := repo.GetPodcastByFeedURL(ctx, feedURL); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "already subscribed: %s (%s)\n", existing.Title, existing.ID)
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up feed: %w", err)
	}

	parsed, err := feed.ParseURL(http.DefaultClient, feedURL)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}

	id, err := repo.CreatePodcast(ctx, &model.Podcast{
		SourceType:  model.SourcePodcastFeed,
		FeedURL:     feedURL,
		Title:       parsed.Title,
		Description: parsed.Description,
		WebsiteURL:  parsed.WebsiteURL,
		ImageURL:    parsed.ImageURL,
		Author:      parsed.Author,
		Language:    parsed.Language,
	})
	if err != nil {
		return fmt.Errorf("create podcast: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "added %q (%s), %d episodes in feed\n", parsed.Title, id, len(parsed.Episodes))
	return nil
}

var syncPodcastID string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh feeds/channels and upsert new episodes",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncPodcastID, "podcast-id", "", "sync only this podcast (default: all)")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	syncer := feedsync.New(repo, nil, nil)
	if syncPodcastID != "" {
		if err := syncer.SyncOne(ctx, syncPodcastID); err != nil {
			return fmt.Errorf("sync %s: %w", syncPodcastID, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "synced", syncPodcastID)
		return nil
	}

	if err := syncer.SyncAll(ctx); err != nil {
		return fmt.Errorf("sync all: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "sync complete")
	return nil
}

var (
	listAll   bool
	listLimit int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscribed podcasts",
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listAll, "all", false, "list every podcast (default: limit applies)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum podcasts to list")
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	limit := listLimit
	if listAll {
		limit = 0
	}
	podcasts, err := repo.ListPodcasts(ctx, limit)
	if err != nil {
		return fmt.Errorf("list podcasts: %w", err)
	}
	for _, p := range podcasts {
		lastChecked := "never"
		if p.LastChecked != nil {
			lastChecked = p.LastChecked.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s  %-40s  last checked: %s\n", p.ID, p.SourceType, p.Title, lastChecked)
	}
	return nil
}

var statusPodcastID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline-wide stage counts",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusPodcastID, "podcast-id", "", "print this podcast's title above the counts (the counts are not filtered by podcast)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	if statusPodcastID != "" {
		p, err := repo.GetPodcast(ctx, statusPodcastID)
		if err != nil {
			return fmt.Errorf("get podcast: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", p.Title, p.ID)
	}

	bufferCount, err := repo.GetDownloadBufferCount(ctx)
	if err != nil {
		return fmt.Errorf("get download buffer count: %w", err)
	}
	pendingDownload, err := repo.GetEpisodesPendingDownload(ctx, 0)
	if err != nil {
		return fmt.Errorf("get episodes pending download: %w", err)
	}
	pendingMetadata, err := repo.GetEpisodesPendingMetadata(ctx, 0)
	if err != nil {
		return fmt.Errorf("get episodes pending metadata: %w", err)
	}
	pendingIndexing, err := repo.GetEpisodesPendingIndexing(ctx, 0)
	if err != nil {
		return fmt.Errorf("get episodes pending indexing: %w", err)
	}
	readyForCleanup, err := repo.GetEpisodesReadyForCleanup(ctx, 0)
	if err != nil {
		return fmt.Errorf("get episodes ready for cleanup: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "download buffer (downloaded, not transcribed): %d\n", bufferCount)
	fmt.Fprintf(cmd.OutOrStdout(), "pending download: %d\n", len(pendingDownload))
	fmt.Fprintf(cmd.OutOrStdout(), "pending metadata: %d\n", len(pendingMetadata))
	fmt.Fprintf(cmd.OutOrStdout(), "pending indexing: %d\n", len(pendingIndexing))
	fmt.Fprintf(cmd.OutOrStdout(), "ready for cleanup: %d\n", len(readyForCleanup))
	return nil
}
