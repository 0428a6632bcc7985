package artifact

import (
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/trend"
)

// TrendsReport is the audit record of one aggregation run.
type TrendsReport struct {
	GeneratedAt   time.Time                  `json:"generated_at"`
	Domains       []string                   `json:"domains"`
	DomainStacks  map[string]fedi.Stack      `json:"domain_stacks"`
	PerDomain     map[string][]fedi.TrendTag `json:"per_domain"`
	FailedDomains map[string]string          `json:"failed_domains,omitempty"`
	Merged        []trend.Merged             `json:"merged"`
	Selected      []string                   `json:"selected"`
}

// SelectedTag is one tag chosen for advertising, with the popularity that
// later drives its display ratio.
type SelectedTag struct {
	Tag         string  `json:"tag"`
	Score       float64 `json:"score"`
	SourceCount int     `json:"source_count"`
}

// SelectedTags is the stage one to stage two hand-off.
type SelectedTags struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Tags        []SelectedTag `json:"tags"`
}

// NewSelectedTags converts merged ranking entries into the hand-off form.
func NewSelectedTags(merged []trend.Merged, now time.Time) SelectedTags {
	out := SelectedTags{GeneratedAt: now, Tags: make([]SelectedTag, 0, len(merged))}
	for _, m := range merged {
		out.Tags = append(out.Tags, SelectedTag{Tag: m.Tag, Score: m.Score, SourceCount: m.SourceCount})
	}
	return out
}

// UploadRecord describes the image chosen and stored for one tag.
type UploadRecord struct {
	Tag          string    `json:"tag"`
	Score        float64   `json:"score"`
	SourceDomain string    `json:"source_domain"`
	SourcePostID string    `json:"source_post_id"`
	SourceURL    string    `json:"source_url,omitempty"`
	MediaURL     string    `json:"media_url"`
	Consensus    int       `json:"consensus"`
	Engagement   int       `json:"engagement"`
	SHA256       string    `json:"sha256"`
	FileName     string    `json:"file_name"`
	DriveFileID  string    `json:"drive_file_id"`
	DriveURL     string    `json:"drive_url"`
	Action       string    `json:"action"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Upload actions recorded in the manifest.
const (
	ActionUploaded = "uploaded"
	ActionReused   = "reused"
	ActionRenamed  = "renamed"
)

// SkippedTag records a tag that produced no usable image. Not an error.
type SkippedTag struct {
	Tag    string `json:"tag"`
	Reason string `json:"reason"`
}

// FailedTag records a tag whose transfer failed this run.
type FailedTag struct {
	Tag   string `json:"tag"`
	Error string `json:"error"`
}

// Manifest is the stage two to stage three hand-off.
type Manifest struct {
	GeneratedAt time.Time      `json:"generated_at"`
	DedupMode   string         `json:"dedup_mode"`
	Results     []UploadRecord `json:"results"`
	Skipped     []SkippedTag   `json:"skipped"`
	Failed      []FailedTag    `json:"failed"`
}

// AdResult is the outcome of upserting one tag's advertisement.
type AdResult struct {
	Tag      string         `json:"tag"`
	Action   string         `json:"action"`
	AdID     string         `json:"ad_id,omitempty"`
	Title    string         `json:"title"`
	Ratio    int            `json:"ratio"`
	Attempts int            `json:"attempts,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Ad actions recorded in the report.
const (
	AdCreated = "created"
	AdUpdated = "updated"
	AdFailed  = "failed"
	AdExpired = "expired"
)

// AdReport summarizes one upsert run.
type AdReport struct {
	GeneratedAt time.Time  `json:"generated_at"`
	DryRun      bool       `json:"dry_run"`
	Created     int        `json:"created"`
	Updated     int        `json:"updated"`
	Failed      int        `json:"failed"`
	Expired     int        `json:"expired"`
	Results     []AdResult `json:"results"`
}

// Add appends a result and bumps the matching counter.
func (r *AdReport) Add(res AdResult) {
	switch res.Action {
	case AdCreated:
		r.Created++
	case AdUpdated:
		r.Updated++
	case AdFailed:
		r.Failed++
	case AdExpired:
		r.Expired++
	}
	r.Results = append(r.Results, res)
}
