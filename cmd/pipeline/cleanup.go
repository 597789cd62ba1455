package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"podpipe/internal/downloader"
)

var (
	cleanupDryRun bool
	cleanupLimit  int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete on-disk audio for fully-indexed episodes",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report candidates without deleting")
	cleanupCmd.Flags().IntVar(&cleanupLimit, "limit", 0, "maximum episodes to clean up (0 = unlimited)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	if cleanupDryRun {
		episodes, err := repo.GetEpisodesReadyForCleanup(ctx, cleanupLimit)
		if err != nil {
			return fmt.Errorf("list cleanup candidates: %w", err)
		}
		for _, ep := range episodes {
			fmt.Fprintf(cmd.OutOrStdout(), "would remove: %s (%s)\n", ep.Download.LocalFilePath, ep.ID)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d candidates\n", len(episodes))
		return nil
	}

	arch, err := buildArchiver(ctx)
	if err != nil {
		return fmt.Errorf("build archiver: %w", err)
	}
	var archiverArg downloader.AudioArchiver
	if arch != nil {
		archiverArg = arch
	}

	cleaned, err := downloader.CleanupProcessed(ctx, repo, archiverArg, cleanupLimit)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleaned up %d episodes\n", cleaned)
	return nil
}
