package metadata

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"podpipe/internal/model"
)

func TestSanitizeDate(t *testing.T) {
	cases := map[string]string{
		"2024-05-01": "2024-05-01",
		"2024":       "2024",
		"1999-01-01": "",
		"not-a-date": "",
		"":           "",
	}
	for in, want := range cases {
		if got := SanitizeDate(in); got != want {
			t.Errorf("SanitizeDate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	fixed := time.Now()
	rl.now = func() time.Time { return fixed }

	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if err := rl.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	wait, ok := rl.reserve()
	if ok {
		t.Fatal("expected third reservation to be denied within the window")
	}
	if wait <= 0 {
		t.Errorf("expected positive wait duration, got %v", wait)
	}
}

func TestRetryWithBackoffRetriesOnRateLimit(t *testing.T) {
	attempts := 0
	_, err := retryWithBackoff(context.Background(), 2, time.Millisecond, 4*time.Millisecond, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("429 too many requests")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoffDoesNotRetryNonRateLimitErrors(t *testing.T) {
	attempts := 0
	_, err := retryWithBackoff(context.Background(), 3, time.Millisecond, time.Millisecond, func() (string, error) {
		attempts++
		return "", errors.New("permanent failure")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry for non-rate-limit errors)", attempts)
	}
}

func TestAIExtractionValidateRejectsShortSummary(t *testing.T) {
	a := &AIExtraction{Summary: "too short", Keywords: make([]string, 5), Hosts: []string{"h"}}
	if err := a.Validate(); err == nil {
		t.Fatal("expected validation error for short summary")
	}
}

func TestAIExtractionValidateDropsStoriesForNonNews(t *testing.T) {
	a := &AIExtraction{
		Summary:  strings.Repeat("x", 120),
		Keywords: []string{"a", "b", "c", "d", "e"},
		Hosts:    []string{"host"},
		EmailContent: &model.EmailContent{
			PodcastType:    model.EmailPodcastTypeGeneral,
			TeaserSummary:  strings.Repeat("y", 25),
			KeyTakeaways:   []string{"t1"},
			StorySummaries: []model.StorySummary{{Headline: "h", Summary: "s"}},
		},
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.EmailContent.StorySummaries != nil {
		t.Error("expected story_summaries to be dropped for non-news podcast_type")
	}
}

type fakeAI struct {
	extraction *AIExtraction
	err        error
}

func (f *fakeAI) Extract(ctx context.Context, transcript, filename string) (*AIExtraction, error) {
	return f.extraction, f.err
}

type fakeTagger struct{}

func (fakeTagger) ReadTags(path string) (string, string, error) {
	return "Host Artist", "Album", nil
}

func TestExtractorMergesMP3HostFallback(t *testing.T) {
	ai := &fakeAI{extraction: &AIExtraction{
		Summary:  strings.Repeat("z", 120),
		Keywords: []string{"a", "b", "c", "d", "e"},
		Hosts:    nil,
	}}
	e := New(ai, fakeTagger{})
	e.rateLimiter = NewRateLimiter(1000, time.Second)
	track, err := e.Extract(context.Background(), "ep.mp3", "transcript text", "file.mp3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(track.AIHosts) != 1 || track.AIHosts[0] != "Host Artist" {
		t.Errorf("expected mp3_artist host fallback, got %v", track.AIHosts)
	}
}
