package feed

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// opmlDoc is the minimal OPML 2.0 wire shape needed for import.
type opmlDoc struct {
	XMLName xml.Name    `xml:"opml"`
	Body    opmlBody    `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	Text     string        `xml:"text,attr"`
	Title    string        `xml:"title,attr"`
	Name     string        `xml:"name,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	XMLURL2  string        `xml:"xmlurl,attr"`
	URL      string        `xml:"url,attr"`
	FeedURL  string        `xml:"feedUrl,attr"`
	FeedURL2 string        `xml:"feedurl,attr"`
	Children []opmlOutline `xml:"outline"`
}

func (o opmlOutline) resolveURL() string {
	return firstNonEmpty(o.XMLURL, o.XMLURL2, o.URL, o.FeedURL, o.FeedURL2)
}

func (o opmlOutline) resolveTitle() string {
	return firstNonEmpty(o.Title, o.Text, o.Name)
}

var allowedOPMLSchemes = map[string]bool{"http": true, "https": true, "feed": true}

// OPMLFeed is one resolved feed entry from an OPML import, with its
// enclosing category name (if the outline was nested under a
// URL-less parent outline).
type OPMLFeed struct {
	FeedURL  string
	Title    string
	Category string
}

// OPMLImportReport summarizes ParseOPML's walk (spec §8, scenario S1).
type OPMLImportReport struct {
	TotalOutlines int
	Feeds         []OPMLFeed
	SkippedNoURL  int
}

// ParseOPML walks an OPML document. Nested outlines with no URL
// attribute become a category name applied to their children (spec
// §6); only http/https/feed schemes are accepted, feed:// is rewritten
// to https://, and anything else is rejected outright.
func ParseOPML(data []byte) (*OPMLImportReport, error) {
	var doc opmlDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse opml: %w", err)
	}
	report := &OPMLImportReport{}
	walkOPML(doc.Body.Outlines, "", report)
	return report, nil
}

func walkOPML(outlines []opmlOutline, category string, report *OPMLImportReport) {
	for _, o := range outlines {
		report.TotalOutlines++
		url := o.resolveURL()
		if url == "" {
			// Category outline: apply its title to children instead of
			// counting it as a feed. The outline itself still has no
			// URL, so it counts toward skipped_no_url even though its
			// children are walked and may resolve to feeds.
			report.SkippedNoURL++
			childCategory := o.resolveTitle()
			if childCategory == "" {
				childCategory = category
			}
			if len(o.Children) > 0 {
				walkOPML(o.Children, childCategory, report)
			}
			continue
		}
		scheme := urlScheme(url)
		if !allowedOPMLSchemes[scheme] {
			report.SkippedNoURL++
			continue
		}
		url = rewriteFeedScheme(url)
		report.Feeds = append(report.Feeds, OPMLFeed{
			FeedURL:  url,
			Title:    o.resolveTitle(),
			Category: category,
		})
		if len(o.Children) > 0 {
			walkOPML(o.Children, category, report)
		}
	}
}

func urlScheme(u string) string {
	idx := strings.Index(u, "://")
	if idx == -1 {
		return ""
	}
	return strings.ToLower(u[:idx])
}
