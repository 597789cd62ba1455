package feed

import "testing"

func TestParseOPMLScenarioS1(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<opml version="2.0">
<body>
<outline text="F1" xmlUrl="https://a.example/feed.xml"/>
<outline text="Tech">
  <outline text="F2" xmlUrl="https://b.example/feed.xml"/>
</outline>
<outline text="F3" xmlUrl="https://c.example/feed.xml"/>
</body>
</opml>`
	report, err := ParseOPML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseOPML: %v", err)
	}
	if report.TotalOutlines != 4 {
		t.Errorf("TotalOutlines = %d, want 4", report.TotalOutlines)
	}
	if report.SkippedNoURL != 1 {
		t.Errorf("SkippedNoURL = %d, want 1", report.SkippedNoURL)
	}
	if len(report.Feeds) != 3 {
		t.Fatalf("len(Feeds) = %d, want 3", len(report.Feeds))
	}
	if report.Feeds[1].Category != "Tech" {
		t.Errorf("Feeds[1].Category = %q, want Tech", report.Feeds[1].Category)
	}
}

func TestParseOPMLRejectsDisallowedSchemes(t *testing.T) {
	const doc = `<opml version="2.0"><body>
	<outline text="bad" xmlUrl="ftp://example.com/feed.xml"/>
	</body></opml>`
	report, err := ParseOPML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseOPML: %v", err)
	}
	if len(report.Feeds) != 0 || report.SkippedNoURL != 1 {
		t.Errorf("expected disallowed scheme to be skipped, got feeds=%d skipped=%d", len(report.Feeds), report.SkippedNoURL)
	}
}

func TestParseOPMLRewritesFeedScheme(t *testing.T) {
	const doc = `<opml version="2.0"><body>
	<outline text="f" xmlUrl="feed://example.com/feed.xml"/>
	</body></opml>`
	report, err := ParseOPML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseOPML: %v", err)
	}
	if len(report.Feeds) != 1 || report.Feeds[0].FeedURL != "https://example.com/feed.xml" {
		t.Errorf("feed:// not rewritten: %+v", report.Feeds)
	}
}
