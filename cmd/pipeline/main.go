// Command pipeline is the operator CLI for the podcast/YouTube
// ingestion pipeline (spec §6): OPML import, feed/channel management,
// manual download/sync/cleanup, and the long-running worker loop.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

func main() {
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(jsonHandler))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
