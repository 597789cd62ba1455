package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"podpipe/internal/feed"
	"podpipe/internal/model"
)

var (
	opmlDryRun        bool
	opmlUpdateExisting bool
)

var importOPMLCmd = &cobra.Command{
	Use:   "import-opml <path>",
	Short: "Import podcast subscriptions from an OPML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportOPML,
}

func init() {
	importOPMLCmd.Flags().BoolVar(&opmlDryRun, "dry-run", false, "parse and report without writing rows")
	importOPMLCmd.Flags().BoolVar(&opmlUpdateExisting, "update-existing", false, "update already-subscribed feeds instead of skipping them")
}

func runImportOPML(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	report, err := feed.ParseOPML(data)
	if err != nil {
		return fmt.Errorf("parse opml: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "parsed %d outlines, %d feeds, %d skipped (no url)\n",
		report.TotalOutlines, len(report.Feeds), report.SkippedNoURL)

	if opmlDryRun {
		for _, f := range report.Feeds {
			fmt.Fprintf(cmd.OutOrStdout(), "  would import: %s (%s)\n", f.Title, f.FeedURL)
		}
		return nil
	}

	ctx := context.Background()
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	var created, skipped, updated int
	for _, f := range report.Feeds {
		existing, err := repo.GetPodcastByFeedURL(ctx, f.FeedURL)
		if err == nil {
			if opmlUpdateExisting {
				existing.Title = f.Title
				if err := repo.UpdatePodcast(ctx, existing); err != nil {
					return fmt.Errorf("update %s: %w", f.FeedURL, err)
				}
				updated++
			} else {
				skipped++
			}
			continue
		}

		if _, err := repo.CreatePodcast(ctx, &model.Podcast{
			SourceType: model.SourcePodcastFeed,
			FeedURL:    f.FeedURL,
			Title:      f.Title,
		}); err != nil {
			return fmt.Errorf("create podcast for %s: %w", f.FeedURL, err)
		}
		created++
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %d, updated %d, skipped %d\n", created, updated, skipped)
	return nil
}
