package fedi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
)

// Misskey talks to a Misskey or Sharkey server.
type Misskey struct {
	http   httpClient
	domain string
	logger logging.Logger
}

// NewMisskey creates a Misskey/Sharkey client.
func NewMisskey(domain string, opts Options) *Misskey {
	opts = opts.withDefaults()
	return &Misskey{
		http:   newHTTPClient(domain, opts),
		domain: domain,
		logger: opts.Logger,
	}
}

func (m *Misskey) Domain() string { return m.domain }
func (m *Misskey) Stack() Stack   { return StackMisskey }

// Trends returns trending tags. Some forks only accept GET, others only POST.
func (m *Misskey) Trends(ctx context.Context, limit int) ([]TrendTag, error) {
	var raw []json.RawMessage
	err := m.http.getJSON(ctx, "/api/hashtags/trend", nil, &raw)
	if err != nil {
		raw = nil
		if perr := m.http.postJSON(ctx, "/api/hashtags/trend", map[string]any{"limit": limit}, &raw); perr != nil {
			return nil, fmt.Errorf("misskey trends %s: %w", m.domain, perr)
		}
	}

	tags := parseMisskeyTrends(raw)
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}

type misskeyTrend struct {
	Tag        string    `json:"tag"`
	Name       string    `json:"name"`
	Hashtag    string    `json:"hashtag"`
	Count      *flexInt  `json:"count"`
	Chart      []flexInt `json:"chart"`
	UsersCount flexInt   `json:"usersCount"`
}

func parseMisskeyTrends(raw []json.RawMessage) []TrendTag {
	tags := make([]TrendTag, 0, len(raw))
	for _, item := range raw {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			if name = strings.TrimSpace(name); name != "" {
				tags = append(tags, TrendTag{Name: name, Count: 1})
			}
			continue
		}

		var t misskeyTrend
		if err := json.Unmarshal(item, &t); err != nil {
			continue
		}
		name = strings.TrimSpace(firstNonEmpty(t.Tag, t.Name, t.Hashtag))
		if name == "" {
			continue
		}
		score := 0
		switch {
		case t.Count != nil:
			score = int(*t.Count)
		case len(t.Chart) > 0:
			for _, v := range t.Chart {
				score += int(v)
			}
		default:
			score = int(t.UsersCount)
		}
		if score <= 0 {
			score = 1
		}
		tags = append(tags, TrendTag{Name: name, Count: score})
	}
	return tags
}

type misskeyNote struct {
	ID           string             `json:"id"`
	URI          string             `json:"uri"`
	URL          string             `json:"url"`
	CreatedAt    time.Time          `json:"createdAt"`
	CW           *string            `json:"cw"`
	Text         *string            `json:"text"`
	Tags         []string           `json:"tags"`
	Files        []misskeyFile      `json:"files"`
	RenoteCount  flexInt            `json:"renoteCount"`
	RepliesCount flexInt            `json:"repliesCount"`
	Reactions    map[string]flexInt `json:"reactions"`
}

type misskeyFile struct {
	Type         string `json:"type"`
	ContentType  string `json:"contentType"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	IsSensitive  bool   `json:"isSensitive"`
	Comment      string `json:"comment"`
	Name         string `json:"name"`
}

// TagTimeline returns recent notes for a hashtag, falling back to full-text search
// on servers without search-by-tag.
func (m *Misskey) TagTimeline(ctx context.Context, tag string, limit int) ([]Post, error) {
	tag = NormalizeTag(tag)
	var raw []misskeyNote
	err := m.http.postJSON(ctx, "/api/notes/search-by-tag", map[string]any{"tag": tag, "limit": limit}, &raw)
	if err != nil {
		m.logger.WithError(err).WithField("domain", m.domain).Debug("search-by-tag failed, trying notes/search")
		raw = nil
		if serr := m.http.postJSON(ctx, "/api/notes/search", map[string]any{"query": "#" + tag, "limit": limit}, &raw); serr != nil {
			return nil, fmt.Errorf("misskey timeline %s #%s: %w", m.domain, tag, serr)
		}
	}

	posts := make([]Post, 0, len(raw))
	for _, n := range raw {
		posts = append(posts, m.toPost(n))
	}
	return posts, nil
}

func (m *Misskey) toPost(n misskeyNote) Post {
	// Local notes carry no uri; their ActivityPub id is <base>/notes/<id>,
	// which is what other servers report for the federated copy.
	uri := n.URI
	if uri == "" {
		uri = m.http.base + "/notes/" + n.ID
	}
	link := firstNonEmpty(n.URL, uri)
	p := Post{
		Domain:    m.domain,
		ID:        n.ID,
		URI:       uri,
		URL:       link,
		Origin:    hostOf(link, m.domain),
		CreatedAt: n.CreatedAt,
	}
	if n.CW != nil {
		p.ContentWarning = strings.TrimSpace(*n.CW)
	}
	if n.Text != nil {
		p.Text = *n.Text
	}
	for _, t := range n.Tags {
		p.Tags = append(p.Tags, NormalizeTag(t))
	}
	for _, f := range n.Files {
		if f.IsSensitive {
			p.Sensitive = true
		}
	}

	reactions := 0
	for _, v := range n.Reactions {
		reactions += int(v)
	}
	p.Engagement = reactions + 2*int(n.RenoteCount) + int(n.RepliesCount)
	p.MediaURL, p.MediaAlt = pickMisskeyImage(n.Files)
	return p
}

// pickMisskeyImage returns the first non-sensitive image file.
func pickMisskeyImage(files []misskeyFile) (string, string) {
	for _, f := range files {
		if f.IsSensitive {
			continue
		}
		ctype := strings.ToLower(firstNonEmpty(f.Type, f.ContentType))
		if !strings.HasPrefix(ctype, "image/") {
			continue
		}
		if u := firstNonEmpty(f.URL, f.ThumbnailURL); u != "" {
			return u, firstNonEmpty(f.Comment, f.Name)
		}
	}
	return "", ""
}
