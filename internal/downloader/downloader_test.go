package downloader

import (
	"strings"
	"testing"

	"podpipe/internal/model"
)

func TestSanitizeFilenameProperty(t *testing.T) {
	// Scenario §8 property 7.
	inputs := []string{
		`weird<>:"/\|?*name`,
		"   leading and trailing space   ",
		"...dots...",
		strings.Repeat("x", 500),
		"",
		"normal_episode title",
	}
	illegal := `<>:"/\|?*`
	for _, in := range inputs {
		out := SanitizeFilename(in)
		for _, c := range illegal {
			if strings.ContainsRune(out, c) {
				t.Errorf("SanitizeFilename(%q) = %q contains illegal char %q", in, out, c)
			}
		}
		if len(out) > 200 {
			t.Errorf("SanitizeFilename(%q) length %d > 200", in, len(out))
		}
		if strings.HasPrefix(out, ".") || strings.HasSuffix(out, ".") ||
			strings.HasPrefix(out, " ") || strings.HasSuffix(out, " ") {
			t.Errorf("SanitizeFilename(%q) = %q starts/ends with dot or space", in, out)
		}
	}
}

func TestGenerateFilenamePrefixesEpisodeNumber(t *testing.T) {
	n := 12
	got := GenerateFilename("My Episode", &n, model.Enclosure{URL: "https://x/a.mp3", Type: "audio/mpeg"})
	if got != "E12_My_Episode.mp3" {
		t.Errorf("GenerateFilename = %q", got)
	}
}

func TestGenerateFilenameExtensionFromMimeFallback(t *testing.T) {
	got := GenerateFilename("Ep", nil, model.Enclosure{URL: "https://x/a", Type: "audio/mp4"})
	if !strings.HasSuffix(got, ".m4a") {
		t.Errorf("GenerateFilename = %q, want .m4a suffix", got)
	}
}
