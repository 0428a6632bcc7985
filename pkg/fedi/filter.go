package fedi

import (
	"regexp"
	"strings"
)

// DefaultDenylist is the base set of terms that mark a tag or post as unsafe.
var DefaultDenylist = []string{"nsfw", "18+", "lewd", "porn", "adult"}

// Filter is a best-effort unsafe-content check. It errs on the side of excluding.
type Filter struct {
	tags    map[string]bool
	pattern *regexp.Regexp
}

// NewFilter creates a filter with the default denylist plus extras.
func NewFilter(extra []string) *Filter {
	terms := make([]string, 0, len(DefaultDenylist)+len(extra))
	tags := make(map[string]bool)
	for _, t := range append(append([]string{}, DefaultDenylist...), extra...) {
		t = NormalizeTag(t)
		if t == "" || tags[t] {
			continue
		}
		tags[t] = true
		terms = append(terms, regexp.QuoteMeta(t))
	}

	// RE2 has no lookbehind, so word boundaries are spelled out.
	pattern := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])#?(?:` + strings.Join(terms, "|") + `)(?:$|[^\p{L}\p{N}_])`)
	return &Filter{tags: tags, pattern: pattern}
}

// TagAllowed reports whether a hashtag may be advertised at all.
func (f *Filter) TagAllowed(tag string) bool {
	return !f.tags[NormalizeTag(tag)]
}

// TextUnsafe reports whether free text mentions a denylisted term.
func (f *Filter) TextUnsafe(text string) bool {
	if text == "" {
		return false
	}
	return f.pattern.MatchString(text)
}

// Check returns "" for a safe post, otherwise the reason it was excluded.
func (f *Filter) Check(p Post) string {
	switch {
	case p.Sensitive:
		return "sensitive media"
	case p.ContentWarning != "":
		return "content warning"
	}
	for _, t := range p.Tags {
		if !f.TagAllowed(t) {
			return "unsafe tag"
		}
	}
	if f.TextUnsafe(p.Text) || f.TextUnsafe(p.MediaAlt) {
		return "unsafe keyword"
	}
	return ""
}

// Safe reports whether a post passes every check.
func (f *Filter) Safe(p Post) bool {
	return f.Check(p) == ""
}
