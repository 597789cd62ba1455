package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"podpipe/internal/config"
	"podpipe/internal/downloader"
)

var (
	downloadLimit      int
	downloadConcurrent int
	downloadAsync      bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download pending episode audio",
	RunE:  runDownload,
}

func init() {
	downloadCmd.Flags().IntVar(&downloadLimit, "limit", 10, "maximum episodes to download in this batch")
	downloadCmd.Flags().IntVar(&downloadConcurrent, "concurrent", 5, "concurrent downloads")
	downloadCmd.Flags().BoolVar(&downloadAsync, "async", false, "suppress per-episode progress output")
}

// runDownload always waits for the batch to finish before returning
// (spec §6: download's exit-0 condition is "batch complete" whether
// or not --async is set); --async only quiets per-episode output for
// scripted/cron use.
func runDownload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	dl := downloader.New(repo, config.AudioBaseDir, downloadConcurrent)

	episodes, err := repo.GetEpisodesPendingDownload(ctx, downloadLimit)
	if err != nil {
		return fmt.Errorf("list pending episodes: %w", err)
	}
	if len(episodes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "nothing pending")
		return nil
	}

	refs := make([]downloader.EpisodeRef, len(episodes))
	for i, ep := range episodes {
		refs[i] = downloader.EpisodeRef{
			ID:            ep.ID,
			Title:         ep.Title,
			EpisodeNumber: ep.EpisodeNumber,
			Enclosure:     ep.Enclosure,
			PodcastDir:    ep.PodcastID,
		}
	}

	results := dl.DownloadBatch(ctx, refs)
	var downloaded, failed int
	for _, r := range results {
		if r.Success {
			downloaded++
			continue
		}
		failed++
		if !downloadAsync {
			fmt.Fprintf(cmd.ErrOrStderr(), "failed %s: %v\n", r.EpisodeID, r.Error)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d, failed %d\n", downloaded, failed)
	return nil
}
