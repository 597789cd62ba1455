package transcriber

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type fakeModel struct {
	loaded bool
	text   string
	err    error
}

func (f *fakeModel) LoadModel(ctx context.Context) error   { f.loaded = true; return nil }
func (f *fakeModel) UnloadModel(ctx context.Context) error { f.loaded = false; return nil }
func (f *fakeModel) IsLoaded() bool                        { return f.loaded }
func (f *fakeModel) TranscribeFile(ctx context.Context, path, language string) (string, error) {
	return f.text, f.err
}

func TestTranscribeSingleIsIdempotentOnExistingText(t *testing.T) {
	tr := New(&fakeModel{text: "should not be called"}, "")
	got, err := tr.TranscribeSingle(context.Background(), Episode{TranscriptText: "already here"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "already here" {
		t.Errorf("got %q, want existing transcript text", got)
	}
}

func TestTranscribeSingleReadsLegacyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy_transcription.txt")
	if err := os.WriteFile(path, []byte("legacy text"), 0o644); err != nil {
		t.Fatal(err)
	}
	tr := New(&fakeModel{text: "should not be called"}, "")
	got, err := tr.TranscribeSingle(context.Background(), Episode{LegacyTranscriptPath: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "legacy text" {
		t.Errorf("got %q, want legacy file content", got)
	}
}

func TestTranscribeSingleMissingAudioReturnsErrAudioNotFound(t *testing.T) {
	tr := New(&fakeModel{}, "")
	_, err := tr.TranscribeSingle(context.Background(), Episode{LocalFilePath: "/does/not/exist.mp3"})
	if !errors.Is(err, ErrAudioNotFound) {
		t.Errorf("err = %v, want ErrAudioNotFound", err)
	}
}

func TestTranscribeSingleCallsModelForFreshAudio(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp3")
	os.WriteFile(path, []byte("fake audio"), 0o644)
	tr := New(&fakeModel{text: "  model output  "}, "")
	got, err := tr.TranscribeSingle(context.Background(), Episode{LocalFilePath: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "model output" {
		t.Errorf("got %q, want trimmed model output", got)
	}
}

type fakeCaptionFetcher struct {
	text string
	err  error
}

func (f *fakeCaptionFetcher) FetchCaptions(ctx context.Context, videoID, language string) (string, error) {
	return f.text, f.err
}

func TestTryYouTubeCaptionsSkipsWhenUnavailable(t *testing.T) {
	res, err := TryYouTubeCaptions(context.Background(), &fakeCaptionFetcher{text: "x"}, "vid1", Episode{YouTubeCaptionsAvailable: false})
	if err != nil || res != nil {
		t.Errorf("expected nil, nil when captions unavailable; got %v, %v", res, err)
	}
}

func TestTryYouTubeCaptionsSucceeds(t *testing.T) {
	res, err := TryYouTubeCaptions(context.Background(), &fakeCaptionFetcher{text: "captions here"}, "vid1", Episode{YouTubeCaptionsAvailable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TranscriptText != "captions here" {
		t.Errorf("got %q", res.TranscriptText)
	}
}
