package postprocess

import (
	"context"
	"fmt"
	"os"
	"time"

	"podpipe/internal/indexer"
	"podpipe/internal/model"
	"podpipe/internal/repository"
)

// BuildChain assembles the standard metadata -> indexing -> cleanup
// chain (spec §4.G) from the concrete stage collaborators.
func BuildChain(extractor MetadataExtractor, idx Indexer, repo Repository) []Stage {
	return []Stage{
		metadataStage(extractor, repo),
		indexingStage(idx, repo),
		cleanupStage(repo),
	}
}

func metadataStage(extractor MetadataExtractor, repo Repository) Stage {
	return Stage{
		Name: repository.StageMetadata,
		Precondition: func(ep *model.Episode) bool {
			return ep.Transcript.Status == model.TranscriptCompleted && ep.Metadata.Status == model.MetadataPending
		},
		Run: func(ctx context.Context, ep *model.Episode) error {
			if err := repo.MarkMetadataStarted(ctx, ep.ID); err != nil {
				return fmt.Errorf("postprocess: mark metadata started: %w", err)
			}
			track, err := extractor.Extract(ctx, ep.Download.LocalFilePath, ep.Transcript.TranscriptText, ep.Title)
			if err != nil {
				return err
			}
			return repo.MarkMetadataComplete(ctx, ep.ID, track)
		},
	}
}

func indexingStage(idx Indexer, repo Repository) Stage {
	return Stage{
		Name: repository.StageFileSearch,
		Precondition: func(ep *model.Episode) bool {
			return ep.Metadata.Status == model.MetadataCompleted && ep.FileSearch.Status == model.FileSearchPending
		},
		Run: func(ctx context.Context, ep *model.Episode) error {
			if err := repo.MarkIndexingStarted(ctx, ep.ID); err != nil {
				return fmt.Errorf("postprocess: mark indexing started: %w", err)
			}
			displayName := ep.ID + "_transcription.txt"
			tags := indexer.Tags{
				Episode:     ep.Title,
				ReleaseDate: formatDate(ep.PublishedDate),
				Hosts:       ep.Metadata.AIHosts,
				Guests:      ep.Metadata.AIGuests,
				Keywords:    ep.Metadata.AIKeywords,
				Summary:     ep.Metadata.AISummary,
			}
			resourceName, err := idx.UploadTranscript(ctx, ep.Transcript.TranscriptText, displayName, tags, true)
			if err != nil {
				return err
			}
			return repo.MarkIndexingComplete(ctx, ep.ID, resourceName, displayName)
		},
	}
}

func cleanupStage(repo Repository) Stage {
	return Stage{
		Name: "cleanup",
		Precondition: func(ep *model.Episode) bool {
			return ep.FileSearch.Status == model.FileSearchIndexed && ep.Download.LocalFilePath != ""
		},
		Run: func(ctx context.Context, ep *model.Episode) error {
			if err := os.Remove(ep.Download.LocalFilePath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("postprocess: remove audio file: %w", err)
			}
			return repo.MarkAudioCleanedUp(ctx, ep.ID)
		},
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
