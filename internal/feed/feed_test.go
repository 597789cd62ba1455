package feed

import "testing"

func TestParseDuration(t *testing.T) {
	// Scenario S2.
	cases := []struct {
		in   string
		want *int
	}{
		{"3600", intPtr(3600)},
		{"60:00", intPtr(3600)},
		{"1:00:00", intPtr(3600)},
		{"invalid", nil},
		{"", nil},
	}
	for _, c := range cases {
		got := parseDuration(c.in)
		if (got == nil) != (c.want == nil) {
			t.Errorf("parseDuration(%q) = %v, want %v", c.in, got, c.want)
			continue
		}
		if got != nil && *got != *c.want {
			t.Errorf("parseDuration(%q) = %d, want %d", c.in, *got, *c.want)
		}
	}
}

func intPtr(n int) *int { return &n }

func TestIsAudioType(t *testing.T) {
	cases := []struct {
		mime, url string
		want      bool
	}{
		{"audio/mpeg", "https://x/ep.mp3", true},
		{"application/octet-stream", "https://x/ep.mp3", true},
		{"application/octet-stream", "https://x/ep.pdf", false},
		{"text/html", "https://x/ep.html", false},
		{"", "https://x/ep.m4a", true},
	}
	for _, c := range cases {
		if got := isAudioType(c.mime, c.url); got != c.want {
			t.Errorf("isAudioType(%q, %q) = %v, want %v", c.mime, c.url, got, c.want)
		}
	}
}

func TestParseBytesSkipsEntriesWithoutAudioEnclosure(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<rss version="2.0">
<channel>
<title>Test &amp; Feed</title>
<item><title>Audio Ep</title><guid>g1</guid><enclosure url="https://x/a.mp3" type="audio/mpeg" length="100"/></item>
<item><title>No Audio</title><guid>g2</guid></item>
</channel>
</rss>`
	p, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if p.Title != "Test & Feed" {
		t.Errorf("title = %q, want decoded entity", p.Title)
	}
	if len(p.Episodes) != 1 {
		t.Fatalf("len(Episodes) = %d, want 1", len(p.Episodes))
	}
	if p.Episodes[0].GUID != "g1" {
		t.Errorf("GUID = %q, want g1", p.Episodes[0].GUID)
	}
}

func TestGUIDFallsBackToEnclosureURL(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<rss version="2.0"><channel><item>
<title>No GUID</title>
<enclosure url="https://x/b.mp3" type="audio/mpeg" length="1"/>
</item></channel></rss>`
	p, err := ParseBytes([]byte(doc))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if p.Episodes[0].GUID != "https://x/b.mp3" {
		t.Errorf("GUID = %q, want enclosure URL fallback", p.Episodes[0].GUID)
	}
}

func TestRewriteFeedScheme(t *testing.T) {
	if got := rewriteFeedScheme("feed://example.com/a.xml"); got != "https://example.com/a.xml" {
		t.Errorf("rewriteFeedScheme = %q", got)
	}
}
