package fedi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
)

// Mastodon talks to a Mastodon-compatible server.
type Mastodon struct {
	http   httpClient
	domain string
	feed   *TagFeed
	logger logging.Logger
}

// NewMastodon creates a Mastodon client. With RSSFallback set, a failing tag
// timeline call falls back to the public tag RSS feed.
func NewMastodon(domain string, opts Options) *Mastodon {
	opts = opts.withDefaults()
	m := &Mastodon{
		http:   newHTTPClient(domain, opts),
		domain: domain,
		logger: opts.Logger,
	}
	if opts.RSSFallback {
		m.feed = NewTagFeed(opts)
	}
	return m
}

func (m *Mastodon) Domain() string { return m.domain }
func (m *Mastodon) Stack() Stack   { return StackMastodon }

type mastoTag struct {
	Name    string `json:"name"`
	History []struct {
		Uses flexInt `json:"uses"`
	} `json:"history"`
}

// Trends returns trending tags scored by the sum of their daily uses.
func (m *Mastodon) Trends(ctx context.Context, limit int) ([]TrendTag, error) {
	var raw []mastoTag
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := m.http.getJSON(ctx, "/api/v1/trends/tags", q, &raw); err != nil {
		return nil, fmt.Errorf("mastodon trends %s: %w", m.domain, err)
	}

	tags := make([]TrendTag, 0, len(raw))
	for _, item := range raw {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		score := 0
		for _, h := range item.History {
			score += int(h.Uses)
		}
		if score <= 0 {
			score = 1
		}
		tags = append(tags, TrendTag{Name: name, Count: score})
	}
	return tags, nil
}

type mastoStatus struct {
	ID          string    `json:"id"`
	URI         string    `json:"uri"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
	Sensitive   bool      `json:"sensitive"`
	SpoilerText string    `json:"spoiler_text"`
	Content     string    `json:"content"`
	Tags        []struct {
		Name string `json:"name"`
	} `json:"tags"`
	Media      []mastoMedia `json:"media_attachments"`
	Favourites flexInt      `json:"favourites_count"`
	Reblogs    flexInt      `json:"reblogs_count"`
	Replies    flexInt      `json:"replies_count"`
}

type mastoMedia struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	RemoteURL   string `json:"remote_url"`
	PreviewURL  string `json:"preview_url"`
	Description string `json:"description"`
}

// TagTimeline returns recent public statuses for a hashtag.
func (m *Mastodon) TagTimeline(ctx context.Context, tag string, limit int) ([]Post, error) {
	tag = NormalizeTag(tag)
	var raw []mastoStatus
	path := "/api/v1/timelines/tag/" + url.PathEscape(tag)
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := m.http.getJSON(ctx, path, q, &raw); err != nil {
		if m.feed == nil {
			return nil, fmt.Errorf("mastodon timeline %s #%s: %w", m.domain, tag, err)
		}
		m.logger.WithError(err).WithField("domain", m.domain).Debug("tag timeline failed, trying rss")
		return m.feed.Fetch(ctx, m.http.base, m.domain, tag, limit)
	}

	posts := make([]Post, 0, len(raw))
	for _, s := range raw {
		posts = append(posts, m.toPost(s))
	}
	return posts, nil
}

func (m *Mastodon) toPost(s mastoStatus) Post {
	p := Post{
		Domain:         m.domain,
		ID:             s.ID,
		URI:            s.URI,
		URL:            s.URL,
		Origin:         hostOf(s.URL, m.domain),
		Sensitive:      s.Sensitive,
		ContentWarning: strings.TrimSpace(s.SpoilerText),
		Text:           plainText(s.Content),
		CreatedAt:      s.CreatedAt,
		Engagement:     int(s.Favourites) + 2*int(s.Reblogs) + int(s.Replies),
	}
	for _, t := range s.Tags {
		p.Tags = append(p.Tags, NormalizeTag(t.Name))
	}
	p.MediaURL, p.MediaAlt = pickMastodonImage(s.Media)
	return p
}

// pickMastodonImage returns the first image attachment, preferring the origin copy.
func pickMastodonImage(media []mastoMedia) (string, string) {
	for _, a := range media {
		if !strings.EqualFold(a.Type, "image") {
			continue
		}
		u := firstNonEmpty(a.RemoteURL, a.URL, a.PreviewURL)
		if u != "" {
			return u, a.Description
		}
	}
	return "", ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
