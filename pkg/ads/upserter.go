package ads

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/artifact"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/sharkey"
)

// Backend is the advertisement API.
type Backend interface {
	ListAds(ctx context.Context) ([]sharkey.Ad, error)
	CreateAd(ctx context.Context, payload map[string]any) (sharkey.Ad, error)
	UpdateAd(ctx context.Context, payload map[string]any) error
}

// Options configures an Upserter.
type Options struct {
	BaseURL      string
	TitlePrefix  string
	Place        string
	Priority     int
	DurationDays int
	Ratio        RatioRange
	Overrides    map[string]Override
	DryRun       bool
	CleanupStale bool
	Now          func() time.Time
	Logger       logging.Logger
}

// Upserter keeps exactly one advertisement per uploaded tag.
type Upserter struct {
	backend Backend
	opts    Options
	logger  logging.Logger
}

// NewUpserter creates an upserter. Zero options fall back to defaults.
func NewUpserter(backend Backend, opts Options) *Upserter {
	if opts.TitlePrefix == "" {
		opts.TitlePrefix = "[TagAd] #"
	}
	if opts.Priority <= 0 {
		opts.Priority = 50
	}
	if opts.DurationDays <= 0 {
		opts.DurationDays = 7
	}
	if opts.Ratio.Scale <= 0 {
		opts.Ratio.Scale = 100
	}
	if opts.Ratio.Max <= 0 {
		opts.Ratio.Min, opts.Ratio.Max = 0.4, 1.0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Upserter{backend: backend, opts: opts, logger: logging.OrDiscard(opts.Logger)}
}

// run holds the state shared by every tag of one Run: the learned encodings
// and the window they write.
type run struct {
	schema Schema
	window *Window
	chains Chains
	now    time.Time
}

// Run upserts one ad per manifest result. Only a failure to list existing
// ads aborts; per-tag failures are counted in the report.
func (u *Upserter) Run(ctx context.Context, manifest *artifact.Manifest) (*artifact.AdReport, error) {
	now := u.opts.Now().UTC()
	report := &artifact.AdReport{GeneratedAt: now, DryRun: u.opts.DryRun, Results: []artifact.AdResult{}}

	existing, err := u.backend.ListAds(ctx)
	if err != nil {
		return nil, fmt.Errorf("list existing ads: %w", err)
	}

	r := &run{
		schema: ProbeSchema(existing, u.opts.Place),
		window: &Window{Start: now, End: now.Add(time.Duration(u.opts.DurationDays) * 24 * time.Hour)},
		now:    now,
	}
	r.chains = Chains{DateChain(r.schema.StartKey, r.schema.EndKey, r.window), DayOfWeekChain()}
	u.logger.WithFields(logging.Fields{
		"ratio":     r.schema.HasRatio,
		"place":     r.schema.Place,
		"start_key": r.schema.StartKey,
		"end_key":   r.schema.EndKey,
		"existing":  len(existing),
	}).Info("probed ad schema")

	records := latestPerTag(manifest.Results)
	ratios := u.opts.Ratio.Ratios(popularity(records))

	active := make(map[string]bool)
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("ads run: %w", err)
		}
		title := Title(u.opts.TitlePrefix, rec.Tag)
		active[title] = true
		res := u.upsert(ctx, r, rec, title, ratios[rec.Tag], existing)
		report.Add(res)
	}

	if u.opts.CleanupStale {
		for _, ad := range existing {
			if res, ok := u.expire(ctx, r, ad, active); ok {
				report.Add(res)
			}
		}
	}

	u.logger.WithFields(logging.Fields{
		"created": report.Created,
		"updated": report.Updated,
		"failed":  report.Failed,
		"expired": report.Expired,
		"dry_run": report.DryRun,
	}).Info("ads run finished")
	return report, nil
}

func (u *Upserter) upsert(ctx context.Context, r *run, rec artifact.UploadRecord, title string, ratio int, existing []sharkey.Ad) artifact.AdResult {
	log := u.logger.WithFields(logging.Fields{"tag": rec.Tag, "title": title})
	res := artifact.AdResult{Tag: rec.Tag, Title: title, Ratio: ratio}

	target := u.opts.BaseURL + "/tags/" + rec.Tag
	priority := u.opts.Priority
	if ov, ok := u.opts.Overrides[rec.Tag]; ok {
		if ov.Priority != nil {
			priority = *ov.Priority
		}
		if ov.TargetURL != "" {
			target = ov.TargetURL
		}
	}

	imageURL, uploaded := rec.DriveURL, rec.UploadedAt
	found := findAd(existing, title, target)
	if found != nil {
		if stamp, ok := UploadedAt(found.Memo()); ok && !rec.UploadedAt.Truncate(time.Second).After(stamp) {
			if old, _ := found["imageUrl"].(string); old != "" {
				imageURL, uploaded = old, stamp
				log.Debug("stored image is as new or newer, keeping it")
			}
		}
	}

	base := map[string]any{
		"title":    title,
		"memo":     Memo(r.now, rec, u.opts.DurationDays, uploaded),
		"imageUrl": imageURL,
		"url":      target,
		"place":    r.schema.Place,
		"priority": strconv.Itoa(priority),
	}
	if r.schema.HasRatio {
		base["ratio"] = ratio
	}

	op := artifact.AdCreated
	if found != nil {
		op = artifact.AdUpdated
		base["id"] = found.ID()
		res.AdID = found.ID()
	}

	payload, ad, attempts, err := u.submit(ctx, r, op, base)
	res.Attempts = attempts
	if u.opts.DryRun {
		res.Payload = payload
	}
	if err != nil {
		res.Action = artifact.AdFailed
		res.Error = err.Error()
		log.WithError(err).Warn("ad upsert failed")
		return res
	}

	res.Action = op
	if ad != nil && ad.ID() != "" {
		res.AdID = ad.ID()
	}
	log.WithFields(logging.Fields{"action": op, "ratio": ratio, "attempts": attempts, "dry_run": u.opts.DryRun}).Info("ad upserted")
	return res
}

// submit sends base with the current encodings, advancing only the chain a
// validation error names. Each retry consumes one encoding, so the loop is
// bounded by the chains' lengths. The returned error is the server's last
// answer unchanged.
func (u *Upserter) submit(ctx context.Context, r *run, op string, base map[string]any) (map[string]any, sharkey.Ad, int, error) {
	attempts := 0
	for {
		payload := make(map[string]any, len(base)+4)
		for k, v := range base {
			payload[k] = v
		}
		r.chains.Apply(payload)

		if u.opts.DryRun {
			u.logger.WithFields(logging.Fields{"op": op, "payload": payload}).Info("dry run, not sending")
			return payload, nil, 0, nil
		}

		attempts++
		var (
			ad  sharkey.Ad
			err error
		)
		if op == artifact.AdCreated {
			ad, err = u.backend.CreateAd(ctx, payload)
		} else {
			err = u.backend.UpdateAd(ctx, payload)
		}
		if err == nil {
			return payload, ad, attempts, nil
		}

		chain := r.chains.Attribute(err)
		if chain == nil {
			return payload, nil, attempts, err
		}
		rejected := chain.Current().Name
		if !chain.Advance() {
			return payload, nil, attempts, fmt.Errorf("%s encodings exhausted: %w", chain.Name, err)
		}
		u.logger.WithFields(logging.Fields{
			"field":    chain.Name,
			"rejected": rejected,
			"next":     chain.Current().Name,
		}).Info("server rejected encoding, retrying")
	}
}

// expire ends an ad this pipeline created earlier whose tag is no longer advertised.
func (u *Upserter) expire(ctx context.Context, r *run, ad sharkey.Ad, active map[string]bool) (artifact.AdResult, bool) {
	title := ad.Title()
	if !strings.HasPrefix(title, u.opts.TitlePrefix) || active[title] || ad.ID() == "" {
		return artifact.AdResult{}, false
	}
	if end, ok := adTime(ad[r.schema.EndKey]); ok && !end.After(r.now) {
		return artifact.AdResult{}, false
	}

	res := artifact.AdResult{
		Tag:   fedi.NormalizeTag(strings.TrimSuffix(strings.TrimPrefix(title, u.opts.TitlePrefix), titleSuffix)),
		Title: title,
		AdID:  ad.ID(),
	}

	base := make(map[string]any)
	for _, k := range []string{"id", "title", "memo", "url", "imageUrl", "place", "priority", "ratio"} {
		if v, ok := ad[k]; ok {
			base[k] = v
		}
	}
	if p, ok := base["priority"].(float64); ok {
		base["priority"] = strconv.Itoa(int(p))
	}

	// Expiring reuses the learned encodings with a window that closes now.
	start, ok := adTime(ad[r.schema.StartKey])
	if !ok || start.After(r.now) {
		start = r.now
	}
	saved := *r.window
	*r.window = Window{Start: start, End: r.now}
	payload, _, attempts, err := u.submit(ctx, r, artifact.AdUpdated, base)
	*r.window = saved

	res.Attempts = attempts
	if u.opts.DryRun {
		res.Payload = payload
	}
	if err != nil {
		res.Action = artifact.AdFailed
		res.Error = err.Error()
		u.logger.WithError(err).WithField("title", title).Warn("expiring stale ad failed")
		return res, true
	}
	res.Action = artifact.AdExpired
	u.logger.WithField("title", title).Info("expired stale ad")
	return res, true
}

// findAd locates a tag's ad by exact title. Servers whose ads carry no
// title fall back to the target URL.
func findAd(existing []sharkey.Ad, title, target string) sharkey.Ad {
	for _, ad := range existing {
		if ad.Title() == title {
			return ad
		}
	}
	for _, ad := range existing {
		if _, hasTitle := ad["title"]; !hasTitle && ad.URL() == target {
			return ad
		}
	}
	return nil
}

// latestPerTag keeps one record per tag, the most recently uploaded, in
// first-seen order.
func latestPerTag(results []artifact.UploadRecord) []artifact.UploadRecord {
	pos := make(map[string]int)
	var out []artifact.UploadRecord
	for _, rec := range results {
		rec.Tag = fedi.NormalizeTag(rec.Tag)
		if rec.Tag == "" || rec.DriveURL == "" {
			continue
		}
		if i, ok := pos[rec.Tag]; ok {
			if rec.UploadedAt.After(out[i].UploadedAt) {
				out[i] = rec
			}
			continue
		}
		pos[rec.Tag] = len(out)
		out = append(out, rec)
	}
	return out
}

// popularity is the merged trend score of each tag, or engagement when no
// record carries a score.
func popularity(records []artifact.UploadRecord) map[string]float64 {
	useScore := false
	for _, rec := range records {
		if rec.Score > 0 {
			useScore = true
			break
		}
	}
	out := make(map[string]float64, len(records))
	for _, rec := range records {
		if useScore {
			out[rec.Tag] = rec.Score
		} else {
			out[rec.Tag] = float64(rec.Engagement)
		}
	}
	return out
}

// adTime reads a date the server returned as ISO-8601 or epoch milliseconds.
func adTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	case float64:
		return time.UnixMilli(int64(t)).UTC(), true
	}
	return time.Time{}, false
}
