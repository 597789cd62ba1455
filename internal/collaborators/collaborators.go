// Package collaborators holds "unconfigured" stand-ins for the
// external AI/ML providers the pipeline treats as collaborators
// (spec §1 Non-goals: transcription model, metadata-extraction AI
// call, grounded-generation document store and retrieval). Each type
// here satisfies its package's capability interface and fails loudly
// at call time, the same "safe default, not a silent no-op" contract
// mailer.NoopMailer uses for IsConfigured()/Send. Deployments wire a
// real provider (a local Whisper binary, the Gemini API, a vector
// store client, etc.) in place of these at the composition root.
package collaborators

import (
	"context"
	"errors"

	"podpipe/internal/chatsearch"
	"podpipe/internal/metadata"
)

var errUnconfigured = errors.New("collaborators: no provider configured")

// UnconfiguredModel loads and unloads without error but fails every
// TranscribeFile call; it lets the orchestrator's load/unload/transcribe
// lifecycle run end to end in environments that have not wired a real
// transcription engine.
type UnconfiguredModel struct{ loaded bool }

func (m *UnconfiguredModel) LoadModel(ctx context.Context) error {
	m.loaded = true
	return nil
}
func (m *UnconfiguredModel) UnloadModel(ctx context.Context) error {
	m.loaded = false
	return nil
}
func (m *UnconfiguredModel) IsLoaded() bool { return m.loaded }
func (m *UnconfiguredModel) TranscribeFile(ctx context.Context, path, language string) (string, error) {
	return "", errUnconfigured
}

// UnconfiguredCaptionFetcher always fails, forcing the transcriber's
// fallback to the audio model path.
type UnconfiguredCaptionFetcher struct{}

func (UnconfiguredCaptionFetcher) FetchCaptions(ctx context.Context, videoID, language string) (string, error) {
	return "", errUnconfigured
}

// UnconfiguredAIClient always fails, which the postprocess chain
// surfaces through its normal retry/permanent-fail path.
type UnconfiguredAIClient struct{}

func (UnconfiguredAIClient) Extract(ctx context.Context, transcript, filename string) (*metadata.AIExtraction, error) {
	return nil, errUnconfigured
}

// UnconfiguredDocumentStore always fails the indexing stage the same
// way.
type UnconfiguredDocumentStore struct{}

func (UnconfiguredDocumentStore) CreateOrGetStore(ctx context.Context, storeDisplayName string) (string, error) {
	return "", errUnconfigured
}
func (UnconfiguredDocumentStore) UploadText(ctx context.Context, storeName, text, displayName string, tags map[string]string) (string, error) {
	return "", errUnconfigured
}
func (UnconfiguredDocumentStore) PollOperation(ctx context.Context, operationName string) (bool, string, error) {
	return false, "", errUnconfigured
}

// UnconfiguredGroundedGenerator always fails; chatsearch surfaces the
// error in ToolResult.Error rather than panicking.
type UnconfiguredGroundedGenerator struct{}

func (UnconfiguredGroundedGenerator) Search(ctx context.Context, query, filter string) (*chatsearch.GroundedResponse, error) {
	return nil, errUnconfigured
}
