package ads

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/artifact"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
)

const (
	memoSep     = " • "
	titleSuffix = " — featured"
)

// Title is the deterministic title used to create and to find a tag's ad.
func Title(prefix, tag string) string {
	return prefix + fedi.NormalizeTag(tag) + titleSuffix
}

// Memo builds the attribution memo. The uploaded= stamp records when the
// image shown by the ad was uploaded.
func Memo(now time.Time, rec artifact.UploadRecord, durationDays int, uploaded time.Time) string {
	parts := []string{
		"Auto " + now.UTC().Format("2006-01-02"),
		fmt.Sprintf("consensus=%d", rec.Consensus),
		fmt.Sprintf("engagement=%d", rec.Engagement),
		fmt.Sprintf("score=%.3f", rec.Score),
		fmt.Sprintf("duration=%dd", durationDays),
	}
	if rec.SourceDomain != "" {
		parts = append(parts, "via="+rec.SourceDomain)
	}
	parts = append(parts, "uploaded="+uploaded.UTC().Format(time.RFC3339))
	return strings.Join(parts, memoSep)
}

var uploadedStamp = regexp.MustCompile(`uploaded=(\S+)`)

// UploadedAt extracts the uploaded= stamp from a memo. ok is false when the
// memo carries none or it does not parse.
func UploadedAt(memo string) (time.Time, bool) {
	m := uploadedStamp.FindStringSubmatch(memo)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Override replaces defaults for one tag.
type Override struct {
	Priority  *int   `json:"priority,omitempty"`
	TargetURL string `json:"targetUrl,omitempty"`
}

// LoadOverrides reads {tag: {priority, targetUrl}}. A missing file means no
// overrides. Tag keys are normalized.
func LoadOverrides(path string) (map[string]Override, error) {
	out := make(map[string]Override)
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read overrides %s: %w", path, err)
	}

	var raw map[string]Override
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode overrides %s: %w", path, err)
	}
	for tag, ov := range raw {
		out[fedi.NormalizeTag(tag)] = ov
	}
	return out, nil
}
