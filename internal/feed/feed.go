// Package feed parses RSS 2.0 podcast feeds into ParsedPodcast/
// ParsedEpisode records (spec §4.B). It is a pure adapter: bytes/URL
// in, parsed structs out; persistence is the Repository's job.
package feed

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	userAgent      = "PodPipe/1.0 (+https://github.com/podpipe/podpipe)"
	requestTimeout = 30 * time.Second
)

var audioExtensions = map[string]bool{
	"mp3": true, "m4a": true, "mp4": true, "ogg": true, "opus": true, "wav": true, "aac": true,
}

var mimeExtension = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/mp4":   ".m4a",
	"audio/x-m4a": ".m4a",
	"audio/aac":   ".aac",
	"audio/ogg":   ".ogg",
	"audio/opus":  ".opus",
	"audio/wav":   ".wav",
}

// ParsedEnclosure mirrors model.Enclosure without importing the
// repository-facing model package, keeping this package a pure parser.
type ParsedEnclosure struct {
	URL    string
	Type   string
	Length int64
}

// ParsedEpisode is one <item> extracted from a feed.
type ParsedEpisode struct {
	GUID            string
	Title           string
	Description     string
	PublishedDate   *time.Time
	DurationSeconds *int
	EpisodeNumber   *int
	SeasonNumber    *int
	Explicit        *bool
	Enclosure       ParsedEnclosure
}

// ParsedPodcast is the result of parsing an entire feed.
type ParsedPodcast struct {
	FeedURL     string
	Title       string
	Description string
	WebsiteURL  string
	ImageURL    string
	Author      string
	Language    string
	Episodes    []ParsedEpisode
}

// --- XML wire shapes (encoding/xml struct tags, teacher style) ---------

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	Link        string    `xml:"link"`
	Language    string    `xml:"language"`
	Author      string    `xml:"author"`
	ItunesAuthor string   `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd author"`
	Image       rssImage  `xml:"image"`
	ItunesImage itunesImg `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd image"`
	Items       []rssItem `xml:"item"`
}

type rssImage struct {
	URL string `xml:"url"`
}

type itunesImg struct {
	Href string `xml:"href,attr"`
}

type rssItem struct {
	Title       string        `xml:"title"`
	Description string        `xml:"description"`
	GUID        rssGUID       `xml:"guid"`
	PubDate     string        `xml:"pubDate"`
	Duration    string        `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd duration"`
	Episode     string        `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd episode"`
	Season      string        `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd season"`
	Explicit    string        `xml:"http://www.itunes.com/dtds/podcast-1.0.dtd explicit"`
	Enclosure   rssEnclosure  `xml:"enclosure"`
}

type rssGUID struct {
	Value string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

// ParseURL rewrites feed:// to https://, fetches, and delegates to
// ParseBytes.
func ParseURL(client *http.Client, feedURL string) (*ParsedPodcast, error) {
	feedURL = rewriteFeedScheme(feedURL)
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	req, err := http.NewRequest(http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed: fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed: %s returned status %d", feedURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: read body: %w", err)
	}
	p, err := ParseBytes(body)
	if err != nil {
		return nil, err
	}
	p.FeedURL = feedURL
	return p, nil
}

func rewriteFeedScheme(u string) string {
	if strings.HasPrefix(u, "feed://") {
		return "https://" + strings.TrimPrefix(u, "feed://")
	}
	return u
}

// ParseBytes parses raw feed XML into a ParsedPodcast, skipping
// entries with no usable audio enclosure.
func ParseBytes(data []byte) (*ParsedPodcast, error) {
	var doc rssDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("feed: parse xml: %w", err)
	}
	ch := doc.Channel
	p := &ParsedPodcast{
		Title:       cleanText(ch.Title),
		Description: cleanText(ch.Description),
		WebsiteURL:  ch.Link,
		Language:    ch.Language,
		Author:      firstNonEmpty(ch.ItunesAuthor, ch.Author),
		ImageURL:    firstNonEmpty(ch.ItunesImage.Href, ch.Image.URL),
	}
	for _, item := range ch.Items {
		enc, ok := extractEnclosure(item.Enclosure)
		if !ok {
			continue
		}
		ep := ParsedEpisode{
			Title:       cleanText(item.Title),
			Description: cleanText(item.Description),
			Enclosure:   enc,
		}
		ep.GUID = firstNonEmpty(item.GUID.Value, enc.URL)
		ep.PublishedDate = parsePubDate(item.PubDate)
		ep.DurationSeconds = parseDuration(item.Duration)
		ep.EpisodeNumber = parseIntPtr(item.Episode)
		ep.SeasonNumber = parseIntPtr(item.Season)
		ep.Explicit = parseExplicit(item.Explicit)
		p.Episodes = append(p.Episodes, ep)
	}
	return p, nil
}

func extractEnclosure(enc rssEnclosure) (ParsedEnclosure, bool) {
	if enc.URL == "" {
		return ParsedEnclosure{}, false
	}
	if !isAudioType(enc.Type, enc.URL) {
		return ParsedEnclosure{}, false
	}
	length, _ := strconv.ParseInt(enc.Length, 10, 64)
	return ParsedEnclosure{URL: enc.URL, Type: enc.Type, Length: length}, true
}

// isAudioType implements spec §4.B's enclosure filter: MIME prefix
// "audio/" OR URL extension in the known set; application/octet-stream
// defers to the extension instead of rejecting outright.
func isAudioType(mimeType, url string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(mimeType, "audio/") {
		return true
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		return audioExtensions[extractExtension(url)]
	}
	return audioExtensions[extractExtension(url)]
}

func extractExtension(url string) string {
	url = strings.Split(url, "?")[0]
	idx := strings.LastIndex(url, ".")
	if idx == -1 {
		return ""
	}
	return strings.ToLower(url[idx+1:])
}

// GuessExtension derives a file extension the same way the downloader
// will need to: URL extension first, MIME type fallback, default .mp3.
func GuessExtension(enc ParsedEnclosure) string {
	if ext := extractExtension(enc.URL); audioExtensions[ext] {
		return "." + ext
	}
	if ext, ok := mimeExtension[strings.ToLower(enc.Type)]; ok {
		return ext
	}
	return ".mp3"
}

var explicitTrue = map[string]bool{"yes": true, "true": true, "explicit": true}
var explicitFalse = map[string]bool{"no": true, "false": true, "clean": true}

func parseExplicit(s string) *bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if explicitTrue[s] {
		v := true
		return &v
	}
	if explicitFalse[s] {
		v := false
		return &v
	}
	return nil
}

// parseDuration accepts integer seconds, MM:SS, or HH:MM:SS (spec
// §4.B, scenario S2).
func parseDuration(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return &n
	}
	parts := strings.Split(s, ":")
	var total int
	switch len(parts) {
	case 2:
		m, err1 := strconv.Atoi(parts[0])
		sec, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return nil
		}
		total = m*60 + sec
	case 3:
		h, err1 := strconv.Atoi(parts[0])
		m, err2 := strconv.Atoi(parts[1])
		sec, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return nil
		}
		total = h*3600 + m*60 + sec
	default:
		return nil
	}
	return &total
}

func parseIntPtr(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

var pubDateLayouts = []string{
	time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339,
}

func parsePubDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

var (
	tagRe  = regexp.MustCompile(`<[^>]+>`)
	wsRe   = regexp.MustCompile(`\s+`)
)

var htmlEntities = []struct{ from, to string }{
	{"&amp;", "&"}, {"&lt;", "<"}, {"&gt;", ">"}, {"&quot;", `"`}, {"&#39;", "'"}, {"&nbsp;", " "},
}

// cleanText strips HTML tags, decodes the named entities spec §4.B
// lists, and collapses whitespace.
func cleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	for _, e := range htmlEntities {
		s = strings.ReplaceAll(s, e.from, e.to)
	}
	s = wsRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
