package images

import (
	"regexp"
	"strings"
	"time"
)

var unsafeName = regexp.MustCompile(`[^a-z0-9._-]+`)

// SanitizeTag makes a tag or domain safe to embed in a file name.
func SanitizeTag(s string) string {
	s = unsafeName.ReplaceAllString(strings.ToLower(strings.TrimLeft(strings.TrimSpace(s), "#")), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "tag"
	}
	return s
}

// FileName builds "<YYYY-MM-DD>_<tag>_<origin><ext>".
func FileName(day time.Time, tag, origin, ext string) string {
	return day.UTC().Format("2006-01-02") + "_" + SanitizeTag(tag) + "_" + SanitizeTag(origin) + ext
}
