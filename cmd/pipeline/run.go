package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"podpipe/internal/config"
)

var pipelineRunCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the long-lived ingestion pipeline until signaled to stop",
	RunE:  runPipeline,
}

// runPipeline starts the orchestrator's main loop and blocks until
// SIGINT/SIGTERM, then lets its own shutdown sequence drain
// in-flight work (spec §5).
func runPipeline(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, closeRepo, err := openRepo(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	orch, err := buildOrchestratorDeps(repo, cfg)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("pipeline: received shutdown signal", "signal", sig)
		orch.Stop()
		cancel()
	}()

	slog.Info("pipeline: starting",
		"sync_interval_seconds", cfg.SyncIntervalSeconds,
		"download_workers", cfg.DownloadWorkers,
		"post_processing_workers", cfg.PostProcessingWorkers)

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("pipeline run: %w", err)
	}

	stats := orch.Stats()
	slog.Info("pipeline: stopped", "episodes_transcribed", stats.EpisodesTranscribed,
		"transcription_permanent_failures", stats.TranscriptionPermanentFailures)
	return nil
}
