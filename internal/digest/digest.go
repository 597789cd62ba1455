// Package digest assembles and sends per-user daily email digests on
// a timezone-aware schedule (spec §4.J).
package digest

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	"podpipe/internal/mailer"
	"podpipe/internal/model"
)

const (
	maxEpisodesPerDigest  = 20
	maxKeyTakeaways       = 5
	maxStoryItems         = 7
	minTeaserLength       = 20
	fallbackSummaryLength = 300
	digestCooldown        = 20 * time.Hour
	defaultTimezone        = "UTC"
)

// Repository is the narrow slice of repository reads/writes the
// DigestWorker needs.
type Repository interface {
	GetUsersForEmailDigest(ctx context.Context) ([]*model.User, error)
	GetNewEpisodesForUserSince(ctx context.Context, userID string, since time.Time, limit int) ([]*model.Episode, error)
	GetPodcast(ctx context.Context, id string) (*model.Podcast, error)
	MarkEmailDigestSent(ctx context.Context, userID string) error
}

// Worker assembles and sends digests (spec §4.J).
type Worker struct {
	repo    Repository
	mail    mailer.Mailer
	webBase string
	now     func() time.Time
}

// New constructs a Worker. webBaseURL backs episode links, falling
// back to the enclosure URL when unset (spec §6).
func New(repo Repository, mail mailer.Mailer, webBaseURL string) *Worker {
	return &Worker{repo: repo, mail: mail, webBase: webBaseURL, now: time.Now}
}

// RunDigests runs one pass: for every eligible user, assemble and send
// a digest, marking it sent even when there are zero new episodes
// (spec §4.J: "avoid rechecking the same hour").
func (w *Worker) RunDigests(ctx context.Context) error {
	if !w.mail.IsConfigured() {
		slog.Info("digest: mailer not configured, skipping run")
		return nil
	}

	users, err := w.repo.GetUsersForEmailDigest(ctx)
	if err != nil {
		return fmt.Errorf("digest: get users for email digest: %w", err)
	}

	now := w.now()
	for _, u := range users {
		if !w.eligibleNow(u, now) {
			continue
		}
		if err := w.sendOne(ctx, u, now); err != nil {
			slog.Error("digest: send failed", "user_id", u.ID, "error", err)
			continue
		}
	}
	return nil
}

// eligibleNow implements spec §4.J's eligibility predicate: opted in,
// cooldown satisfied, and the user's local hour matches their
// configured delivery hour (scenario S4).
func (w *Worker) eligibleNow(u *model.User, now time.Time) bool {
	if !u.EmailDigestEnabled {
		return false
	}
	if u.LastEmailDigestSent != nil && now.Sub(*u.LastEmailDigestSent) < digestCooldown {
		return false
	}
	// The repository persists the default delivery hour (8) on user
	// creation, so EmailDigestHour is always meaningful here.
	return localHour(u, now) == u.EmailDigestHour
}

// localHour resolves now to the user's IANA timezone, defaulting to
// UTC with a logged warning on an invalid zone (spec §9: "use an
// IANA-aware time library; default missing or invalid zones to UTC
// with a warning; do not derive local hour by manual offset
// arithmetic").
func localHour(u *model.User, now time.Time) int {
	tz := u.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		slog.Warn("digest: invalid timezone, defaulting to UTC", "user_id", u.ID, "timezone", tz, "error", err)
		loc = time.UTC
	}
	return now.In(loc).Hour()
}

// sendOne fetches new episodes, renders, sends, and records
// last_email_digest_sent.
func (w *Worker) sendOne(ctx context.Context, u *model.User, now time.Time) error {
	since := now.Add(-24 * time.Hour)
	episodes, err := w.repo.GetNewEpisodesForUserSince(ctx, u.ID, since, maxEpisodesPerDigest)
	if err != nil {
		return fmt.Errorf("get new episodes: %w", err)
	}

	groups, err := w.groupByPodcast(ctx, episodes)
	if err != nil {
		return fmt.Errorf("group episodes: %w", err)
	}

	msg, err := w.render(u, groups)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}

	if err := w.mail.Send(ctx, msg); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return w.repo.MarkEmailDigestSent(ctx, u.ID)
}

// SendTestDigest renders and sends one user's digest immediately,
// bypassing the eligibility and cooldown checks. It exists for the
// CLI's debug "digest test-send" command and does not mark the digest
// sent, so it never interferes with the next scheduled run.
func (w *Worker) SendTestDigest(ctx context.Context, u *model.User) error {
	if !w.mail.IsConfigured() {
		return fmt.Errorf("digest: mailer not configured")
	}
	since := w.now().Add(-24 * time.Hour)
	episodes, err := w.repo.GetNewEpisodesForUserSince(ctx, u.ID, since, maxEpisodesPerDigest)
	if err != nil {
		return fmt.Errorf("get new episodes: %w", err)
	}
	groups, err := w.groupByPodcast(ctx, episodes)
	if err != nil {
		return fmt.Errorf("group episodes: %w", err)
	}
	msg, err := w.render(u, groups)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return w.mail.Send(ctx, msg)
}

// PodcastGroup is one podcast's section of the rendered digest.
type PodcastGroup struct {
	PodcastTitle string
	Episodes     []EpisodeItem
}

// EpisodeItem is one rendered episode row.
type EpisodeItem struct {
	Title        string
	Link         string
	Teaser       string
	KeyTakeaways []string
	Highlight    string
	StoryItems   []model.StorySummary
}

func (w *Worker) groupByPodcast(ctx context.Context, episodes []*model.Episode) ([]PodcastGroup, error) {
	podcastTitles := make(map[string]string)
	order := make([]string, 0)
	byPodcast := make(map[string][]EpisodeItem)

	for _, ep := range episodes {
		title, ok := podcastTitles[ep.PodcastID]
		if !ok {
			p, err := w.repo.GetPodcast(ctx, ep.PodcastID)
			if err != nil {
				return nil, err
			}
			title = p.Title
			podcastTitles[ep.PodcastID] = title
			order = append(order, ep.PodcastID)
		}
		byPodcast[ep.PodcastID] = append(byPodcast[ep.PodcastID], renderEpisodeItem(w.webBase, ep))
	}

	groups := make([]PodcastGroup, 0, len(order))
	for _, pid := range order {
		groups = append(groups, PodcastGroup{PodcastTitle: podcastTitles[pid], Episodes: byPodcast[pid]})
	}
	return groups, nil
}

// renderEpisodeItem applies the teaser/takeaways/highlight/story-item
// rendering rules (spec §4.J).
func renderEpisodeItem(webBase string, ep *model.Episode) EpisodeItem {
	item := EpisodeItem{
		Title: ep.Title,
		Link:  episodeLink(webBase, ep),
	}

	content := ep.Metadata.AIEmailContent
	if content == nil {
		item.Teaser = truncate(ep.Metadata.AISummary, fallbackSummaryLength)
		return item
	}

	item.Teaser = content.TeaserSummary
	if len(item.Teaser) < minTeaserLength {
		item.Teaser = truncate(ep.Metadata.AISummary, fallbackSummaryLength)
	}
	item.KeyTakeaways = capStrings(content.KeyTakeaways, maxKeyTakeaways)
	item.Highlight = content.HighlightMoment

	if content.PodcastType == model.EmailPodcastTypeNews {
		item.StoryItems = capStories(content.StorySummaries, maxStoryItems)
	}
	return item
}

func episodeLink(webBase string, ep *model.Episode) string {
	if webBase != "" {
		return strings.TrimRight(webBase, "/") + "/episodes/" + ep.ID
	}
	return sanitizeScheme(ep.Enclosure.URL)
}

// sanitizeScheme falls back to the enclosure URL restricted to
// http/https (spec §6).
func sanitizeScheme(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func capStrings(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func capStories(items []model.StorySummary, n int) []model.StorySummary {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

const htmlTemplateSrc = `
<html><body>
{{range .Groups}}
<h2>{{.PodcastTitle}}</h2>
{{range .Episodes}}
<div>
  <h3><a href="{{.Link}}">{{.Title}}</a></h3>
  <p>{{.Teaser}}</p>
  {{if .KeyTakeaways}}<ul>{{range .KeyTakeaways}}<li>{{.}}</li>{{end}}</ul>{{end}}
  {{if .Highlight}}<p><em>{{.Highlight}}</em></p>{{end}}
  {{if .StoryItems}}<ul>{{range .StoryItems}}<li><strong>{{.Headline}}</strong>: {{.Summary}}</li>{{end}}</ul>{{end}}
</div>
{{end}}
{{end}}
</body></html>`

var htmlTmpl = template.Must(template.New("digest").Parse(htmlTemplateSrc))

type renderData struct {
	Groups []PodcastGroup
}

// render builds the dual HTML/plain-text message; html/template
// HTML-escapes all interpolated text automatically (spec §4.J: "all
// user-controlled text is HTML-escaped").
func (w *Worker) render(u *model.User, groups []PodcastGroup) (mailer.Message, error) {
	total := 0
	for _, g := range groups {
		total += len(g.Episodes)
	}

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, renderData{Groups: groups}); err != nil {
		return mailer.Message{}, fmt.Errorf("execute html template: %w", err)
	}

	var textBuf bytes.Buffer
	for _, g := range groups {
		fmt.Fprintf(&textBuf, "%s\n", g.PodcastTitle)
		for _, ep := range g.Episodes {
			fmt.Fprintf(&textBuf, "  - %s: %s\n", ep.Title, ep.Teaser)
			for _, kt := range ep.KeyTakeaways {
				fmt.Fprintf(&textBuf, "      * %s\n", kt)
			}
		}
	}

	plural := "s"
	if total == 1 {
		plural = ""
	}
	subject := fmt.Sprintf("Your Daily Podcast Digest - %d new episode%s", total, plural)

	return mailer.Message{
		ToEmail:  u.Email,
		Subject:  subject,
		HTMLBody: htmlBuf.String(),
		TextBody: textBuf.String(),
	}, nil
}
