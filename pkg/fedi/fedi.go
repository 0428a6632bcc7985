package fedi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
)

// Stack identifies which server API family a domain speaks.
type Stack string

const (
	StackMastodon Stack = "mastodon"
	StackMisskey  Stack = "misskey"
	StackUnknown  Stack = "unknown"
)

// TrendTag is one entry of a server's trending hashtag list.
type TrendTag struct {
	Name  string `json:"tag"`
	Count int    `json:"score"`
}

// Post is a public post carrying a hashtag, reduced to what image selection needs.
type Post struct {
	Domain         string    `json:"domain"`
	ID             string    `json:"id"`
	URI            string    `json:"uri,omitempty"`
	URL            string    `json:"url,omitempty"`
	Origin         string    `json:"origin"`
	MediaURL       string    `json:"media_url,omitempty"`
	MediaAlt       string    `json:"media_alt,omitempty"`
	Engagement     int       `json:"engagement"`
	Sensitive      bool      `json:"sensitive"`
	ContentWarning string    `json:"content_warning,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	Text           string    `json:"text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasMedia reports whether the post carries a usable image.
func (p Post) HasMedia() bool { return p.MediaURL != "" }

// Server is the read-only surface every bubble server exposes.
type Server interface {
	Domain() string
	Stack() Stack
	Trends(ctx context.Context, limit int) ([]TrendTag, error)
	TagTimeline(ctx context.Context, tag string, limit int) ([]Post, error)
}

// Options configures the HTTP side of server clients.
type Options struct {
	Timeout     time.Duration
	UserAgent   string
	Scheme      string // "https" unless testing against plain HTTP
	RSSFallback bool
	Logger      logging.Logger
	Client      *http.Client
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "BubbleAds/1.0"
	}
	if o.Scheme == "" {
		o.Scheme = "https"
	}
	if o.Client == nil {
		o.Client = &http.Client{Timeout: o.Timeout}
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

// NewServer builds a client for a domain of a known stack.
func NewServer(stack Stack, domain string, opts Options) (Server, error) {
	switch stack {
	case StackMastodon:
		return NewMastodon(domain, opts), nil
	case StackMisskey:
		return NewMisskey(domain, opts), nil
	}
	return nil, &UnsupportedError{Domain: domain}
}

// NormalizeTag lowercases a tag and strips surrounding space and leading '#'.
func NormalizeTag(tag string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(tag), "#"))
}
