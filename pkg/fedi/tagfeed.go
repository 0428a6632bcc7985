package fedi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

// TagFeed reads Mastodon's public /tags/<tag>.rss feed. It carries media but no
// engagement counters, so posts from it rank only on consensus.
type TagFeed struct {
	client    *http.Client
	parser    *gofeed.Parser
	userAgent string
}

// NewTagFeed creates a tag RSS reader.
func NewTagFeed(opts Options) *TagFeed {
	opts = opts.withDefaults()
	return &TagFeed{
		client:    opts.Client,
		parser:    gofeed.NewParser(),
		userAgent: opts.UserAgent,
	}
}

// Fetch returns up to limit posts from the tag feed at base (scheme://domain).
func (f *TagFeed) Fetch(ctx context.Context, base, domain, tag string, limit int) ([]Post, error) {
	feedURL := base + "/tags/" + url.PathEscape(NormalizeTag(tag)) + ".rss"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request %s: %w", feedURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", feedURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", feedURL, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", feedURL, err)
	}

	var posts []Post
	for _, entry := range parsed.Items {
		if limit > 0 && len(posts) >= limit {
			break
		}
		posts = append(posts, feedItemToPost(domain, entry))
	}
	return posts, nil
}

func feedItemToPost(domain string, entry *gofeed.Item) Post {
	link := firstNonEmpty(entry.Link, entry.GUID)
	p := Post{
		Domain: domain,
		ID:     firstNonEmpty(entry.GUID, entry.Link),
		URI:    link,
		URL:    link,
		Origin: hostOf(link, domain),
		Text:   plainText(entry.Description),
	}
	if entry.PublishedParsed != nil {
		p.CreatedAt = entry.PublishedParsed.UTC()
	} else {
		p.CreatedAt = time.Now().UTC()
	}
	for _, c := range entry.Categories {
		p.Tags = append(p.Tags, NormalizeTag(c))
	}

	for _, mc := range mediaContent(entry.Extensions) {
		medium := strings.ToLower(mc.Attrs["medium"])
		ctype := strings.ToLower(mc.Attrs["type"])
		if medium != "image" && !strings.HasPrefix(ctype, "image/") {
			continue
		}
		for _, rating := range mc.Children["rating"] {
			if strings.TrimSpace(strings.ToLower(rating.Value)) != "nonadult" {
				p.Sensitive = true
			}
		}
		if p.MediaURL == "" && mc.Attrs["url"] != "" {
			p.MediaURL = mc.Attrs["url"]
			for _, d := range mc.Children["description"] {
				p.MediaAlt = strings.TrimSpace(d.Value)
			}
		}
	}

	if p.MediaURL == "" {
		for _, enc := range entry.Enclosures {
			if strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
				p.MediaURL = enc.URL
				break
			}
		}
	}
	return p
}

func mediaContent(exts ext.Extensions) []ext.Extension {
	if exts == nil {
		return nil
	}
	media, ok := exts["media"]
	if !ok {
		return nil
	}
	return media["content"]
}
