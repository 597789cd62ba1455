// Package chatsearch implements the scoped retrieval tool surface the
// chat layer calls into (spec §4.I). Only the interface boundary is
// specified here; the grounded-generation provider itself is a
// collaborator (spec §1 Non-goals).
package chatsearch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"podpipe/internal/model"
	"podpipe/internal/repository"
)

// Scope captures the chat turn's retrieval boundary (spec §4.I).
// Precedence, most specific first: episode > podcast > subscribed-only
// > global.
type Scope struct {
	UserID         string
	PodcastID      string
	EpisodeID      string
	SubscribedOnly bool
}

// Repository is the narrow read surface chatsearch needs.
type Repository interface {
	GetUserSubscriptions(ctx context.Context, userID string) ([]*model.Podcast, error)
	GetPodcast(ctx context.Context, id string) (*model.Podcast, error)
	GetEpisode(ctx context.Context, id string) (*model.Episode, error)
	GetEpisodeByFileSearchDisplayName(ctx context.Context, displayName string) (*model.Episode, error)
	GetPodcastByDescriptionDisplayName(ctx context.Context, displayName string) (*model.Podcast, error)
}

// GroundedGenerator is the capability interface over the external
// retrieval/generation backend the tools query.
type GroundedGenerator interface {
	Search(ctx context.Context, query, filter string) (*GroundedResponse, error)
}

// GroundedResponse mirrors the shape spec §4.I's citation extraction
// reads: candidates[0].grounding_metadata.grounding_chunks[*].retrieved_context.
type GroundedResponse struct {
	ResponseText string
	Chunks       []GroundingChunk
}

type GroundingChunk struct {
	Title string
	Text  string
}

// Citation is the structured citation payload the chat layer returns
// to the client.
type Citation struct {
	Index      int
	SourceType string // "transcript" or "description"
	Title      string
	Text       string
	PodcastID  string
	EpisodeID  string
}

// ToolResult is the structured error-tolerant payload chat tools
// return (spec §7: "chat tools return structured error payloads
// without raising").
type ToolResult struct {
	ResponseText string
	Citations    []Citation
	Error        string
}

var errNoQuery = errors.New("chatsearch: query must not be empty")

// sanitizeQuery trims whitespace and escapes quotes before the query
// is interpolated into a filter literal (spec §4.I).
func sanitizeQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", errNoQuery
	}
	return strings.ReplaceAll(q, `"`, `\"`), nil
}

// buildScopeFilter renders the scope's metadata-filter fragment,
// honoring episode > podcast > subscribed-only > global precedence.
func buildScopeFilter(ctx context.Context, repo Repository, scope Scope) (string, error) {
	switch {
	case scope.EpisodeID != "":
		ep, err := repo.GetEpisode(ctx, scope.EpisodeID)
		if err != nil {
			return "", fmt.Errorf("chatsearch: resolve episode scope: %w", err)
		}
		return fmt.Sprintf(`podcast="%s" AND episode="%s"`, escape(ep.PodcastID), escape(ep.ID)), nil
	case scope.PodcastID != "":
		return fmt.Sprintf(`podcast="%s"`, escape(scope.PodcastID)), nil
	case scope.SubscribedOnly:
		subs, err := repo.GetUserSubscriptions(ctx, scope.UserID)
		if err != nil {
			return "", fmt.Errorf("chatsearch: resolve subscriptions: %w", err)
		}
		if len(subs) == 0 {
			return `podcast="__none__"`, nil // no subscriptions: a filter that matches nothing
		}
		terms := make([]string, len(subs))
		for i, p := range subs {
			terms[i] = fmt.Sprintf(`podcast="%s"`, escape(p.ID))
		}
		return "(" + strings.Join(terms, " OR ") + ")", nil
	default:
		return "", nil // global: no scope restriction
	}
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// SearchTranscripts implements spec §4.I's search_transcripts tool.
func SearchTranscripts(ctx context.Context, gen GroundedGenerator, repo Repository, scope Scope, query string) ToolResult {
	return runSearch(ctx, gen, repo, scope, query, "transcript")
}

// SearchPodcastDescriptions implements spec §4.I's
// search_podcast_descriptions tool.
func SearchPodcastDescriptions(ctx context.Context, gen GroundedGenerator, repo Repository, scope Scope, query string) ToolResult {
	return runSearch(ctx, gen, repo, scope, query, "description")
}

func runSearch(ctx context.Context, gen GroundedGenerator, repo Repository, scope Scope, query, docType string) ToolResult {
	q, err := sanitizeQuery(query)
	if err != nil {
		return ToolResult{Error: err.Error()}
	}
	scopeFilter, err := buildScopeFilter(ctx, repo, scope)
	if err != nil {
		return ToolResult{Error: err.Error()}
	}
	filter := fmt.Sprintf(`type="%s"`, docType)
	if scopeFilter != "" {
		filter += " AND " + scopeFilter
	}

	resp, err := gen.Search(ctx, q, filter)
	if err != nil {
		return ToolResult{Error: fmt.Sprintf("chatsearch: search failed: %v", err)}
	}

	citations := extractCitations(ctx, repo, resp.Chunks, docType)
	return ToolResult{ResponseText: resp.ResponseText, Citations: citations}
}

// extractCitations deduplicates grounding_chunks by title and resolves
// each surviving title to an Episode or Podcast; unresolved titles are
// dropped (spec §4.I, scenario S5).
func extractCitations(ctx context.Context, repo Repository, chunks []GroundingChunk, docType string) []Citation {
	seenTitles := make(map[string]bool)
	var citations []Citation
	idx := 0
	for _, chunk := range chunks {
		if seenTitles[chunk.Title] {
			continue
		}
		seenTitles[chunk.Title] = true

		var podcastID, episodeID string
		resolved := false
		if docType == "transcript" {
			if ep, err := repo.GetEpisodeByFileSearchDisplayName(ctx, chunk.Title); err == nil {
				episodeID = ep.ID
				podcastID = ep.PodcastID
				resolved = true
			}
		} else {
			if p, err := repo.GetPodcastByDescriptionDisplayName(ctx, chunk.Title); err == nil {
				podcastID = p.ID
				resolved = true
			}
		}
		if !resolved {
			continue
		}

		idx++
		citations = append(citations, Citation{
			Index:      idx,
			SourceType: docType,
			Title:      chunk.Title,
			Text:       chunk.Text,
			PodcastID:  podcastID,
			EpisodeID:  episodeID,
		})
	}
	return citations
}

// GetUserSubscriptions implements the direct-read tool of the same
// name (spec §4.I).
func GetUserSubscriptions(ctx context.Context, repo Repository, userID string) ([]*model.Podcast, error) {
	return repo.GetUserSubscriptions(ctx, userID)
}

// GetPodcastInfo implements get_podcast_info, projecting only
// chat-safe fields.
func GetPodcastInfo(ctx context.Context, repo Repository, podcastID string) (*model.Podcast, error) {
	p, err := repo.GetPodcast(ctx, podcastID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("chatsearch: get podcast info: %w", err)
	}
	return p, nil
}

// GetEpisodeInfo implements get_episode_info.
func GetEpisodeInfo(ctx context.Context, repo Repository, episodeID string) (*model.Episode, error) {
	ep, err := repo.GetEpisode(ctx, episodeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("chatsearch: get episode info: %w", err)
	}
	return ep, nil
}
