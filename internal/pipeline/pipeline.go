// Package pipeline runs the three stages in order, persists their hand-off
// artifacts, records each run and reports it to the alert destinations.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/artifact"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/store"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/alert"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/trend"
)

// Stage names, as recorded in the run history.
const (
	StageTrends  = "trends"
	StageUploads = "uploads"
	StageAds     = "ads"
)

// ErrNoOutput is returned when a stage had input but produced nothing usable.
var ErrNoOutput = errors.New("stage produced no usable output")

// TrendCollector polls the bubble.
type TrendCollector interface {
	Collect(ctx context.Context, domains []string) (*trend.Collection, error)
}

// ImageUploader turns selected tags into stored images.
type ImageUploader interface {
	Run(ctx context.Context, tags []artifact.SelectedTag, domains []string, idx *artifact.DedupeIndex) (*artifact.Manifest, error)
}

// AdUpserter turns stored images into advertisements.
type AdUpserter interface {
	Run(ctx context.Context, manifest *artifact.Manifest) (*artifact.AdReport, error)
}

// StackSeeder accepts server stacks detected by an earlier stage.
type StackSeeder interface {
	Seed(domain string, stack fedi.Stack)
}

// Chooser picks the tags to advertise from a merged ranking.
type Chooser func(merged []trend.Merged) ([]trend.Merged, error)

// TopN chooses the first n entries.
func TopN(n int) Chooser {
	return func(merged []trend.Merged) ([]trend.Merged, error) {
		return trend.Select(merged, n), nil
	}
}

// Runner wires the stages together. Collector, Uploader and Ads are only
// needed by the stages that use them; Stacks, Store and Alerts are optional.
type Runner struct {
	Collector TrendCollector
	Filter    *fedi.Filter
	Uploader  ImageUploader
	Stacks    StackSeeder
	Ads       AdUpserter
	Store     store.Store
	Alerts    *alert.Manager
	Paths     artifact.Paths
	Domains   []string
	Choose    Chooser
	Now       func() time.Time
	Logger    logging.Logger
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Runner) log() logging.Logger { return logging.OrDiscard(r.Logger) }

// outcome is what a stage hands to track.
type outcome struct {
	counts   map[string]int
	failures []string
}

// track records the run in the store and broadcasts its summary. Bookkeeping
// failures are logged and never change the stage result.
func (r *Runner) track(ctx context.Context, stage string, fn func() (outcome, error)) error {
	log := r.log().WithField("stage", stage)

	var runID int64
	if r.Store != nil {
		id, err := r.Store.StartRun(ctx, stage)
		if err != nil {
			log.WithError(err).Warn("could not record run start")
		}
		runID = id
	}

	out, err := fn()

	if r.Store != nil && runID != 0 {
		if ferr := r.Store.FinishRun(ctx, runID, out.counts, err); ferr != nil {
			log.WithError(ferr).Warn("could not record run result")
		}
	}

	n := &alert.Notification{
		Stage:    stage,
		Title:    "bubbleads " + stage,
		OK:       err == nil && len(out.failures) == 0,
		Counts:   out.counts,
		Failures: out.failures,
		At:       r.now(),
	}
	if err != nil {
		n.Error = err.Error()
	}
	if aerr := r.Alerts.Broadcast(ctx, n); aerr != nil {
		log.WithError(aerr).Warn("alert delivery failed")
	}

	if err != nil {
		log.WithError(err).Error("stage failed")
		return fmt.Errorf("%s stage: %w", stage, err)
	}
	log.WithFields(toFields(out.counts)).Info("stage finished")
	return nil
}

func toFields(counts map[string]int) logging.Fields {
	out := make(logging.Fields, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}

// RunTrends aggregates the bubble, writes the trends report and the selected
// tags, and snapshots the ranking into the store.
func (r *Runner) RunTrends(ctx context.Context) (*artifact.TrendsReport, error) {
	var report *artifact.TrendsReport
	err := r.track(ctx, StageTrends, func() (outcome, error) {
		now := r.now()
		coll, err := r.Collector.Collect(ctx, r.Domains)
		if err != nil {
			return outcome{counts: map[string]int{"failed_domains": failedCount(coll)}}, err
		}

		merged := trend.Merge(coll.Domains, r.Filter)
		choose := r.Choose
		if choose == nil {
			choose = TopN(10)
		}
		selected, err := choose(merged)
		if err != nil {
			return outcome{}, fmt.Errorf("select tags: %w", err)
		}

		report = &artifact.TrendsReport{
			GeneratedAt:   now,
			Domains:       r.Domains,
			DomainStacks:  make(map[string]fedi.Stack, len(coll.Domains)),
			PerDomain:     make(map[string][]fedi.TrendTag, len(coll.Domains)),
			FailedDomains: coll.Failed,
			Merged:        merged,
			Selected:      make([]string, 0, len(selected)),
		}
		for _, dt := range coll.Domains {
			report.DomainStacks[dt.Domain] = dt.Stack
			report.PerDomain[dt.Domain] = dt.Tags
		}
		for _, m := range selected {
			report.Selected = append(report.Selected, m.Tag)
		}

		if err := artifact.WriteJSON(r.Paths.Trends(), report); err != nil {
			return outcome{}, err
		}
		if err := artifact.WriteJSON(r.Paths.Selected(), artifact.NewSelectedTags(selected, now)); err != nil {
			return outcome{}, err
		}
		if r.Store != nil {
			if err := r.Store.AddTrendSnapshots(ctx, now, merged); err != nil {
				r.log().WithError(err).Warn("could not store trend snapshot")
			}
		}

		var failures []string
		for d, msg := range coll.Failed {
			failures = append(failures, d+": "+msg)
		}
		sort.Strings(failures)
		return outcome{
			counts: map[string]int{
				"domains":        len(coll.Domains),
				"failed_domains": len(coll.Failed),
				"merged":         len(merged),
				"selected":       len(selected),
			},
			failures: failures,
		}, nil
	})
	return report, err
}

func failedCount(c *trend.Collection) int {
	if c == nil {
		return 0
	}
	return len(c.Failed)
}

// RunUploads reads the selected tags, stores one image per tag and writes
// the manifest. The dedupe index is saved even when the run is cut short.
func (r *Runner) RunUploads(ctx context.Context) (*artifact.Manifest, error) {
	var manifest *artifact.Manifest
	err := r.track(ctx, StageUploads, func() (outcome, error) {
		var selected artifact.SelectedTags
		if err := artifact.ReadJSON(r.Paths.Selected(), &selected); err != nil {
			return outcome{}, fmt.Errorf("read selected tags: %w", err)
		}
		idx, err := artifact.LoadIndex(r.Paths.Index())
		if err != nil {
			return outcome{}, err
		}

		r.seedStacks()

		m, runErr := r.Uploader.Run(ctx, selected.Tags, r.Domains, idx)
		if err := idx.Save(r.Paths.Index()); err != nil {
			return outcome{}, err
		}
		if m == nil {
			return outcome{}, runErr
		}
		manifest = m
		if err := artifact.WriteJSON(r.Paths.Manifest(), m); err != nil {
			return outcome{}, err
		}

		out := outcome{counts: map[string]int{
			"selected": len(selected.Tags),
			"uploaded": len(m.Results),
			"skipped":  len(m.Skipped),
			"failed":   len(m.Failed),
			"indexed":  idx.Len(),
		}}
		for _, f := range m.Failed {
			out.failures = append(out.failures, f.Tag+": "+f.Error)
		}
		if runErr != nil {
			return out, runErr
		}
		if len(selected.Tags) > 0 && len(m.Results) == 0 {
			return out, fmt.Errorf("%d tags, no image stored: %w", len(selected.Tags), ErrNoOutput)
		}
		return out, nil
	})
	return manifest, err
}

// seedStacks hands the stacks recorded in the trends report to the resolver.
// A missing or unreadable report only means the uploads stage probes again.
func (r *Runner) seedStacks() {
	if r.Stacks == nil {
		return
	}
	var report artifact.TrendsReport
	if err := artifact.ReadJSON(r.Paths.Trends(), &report); err != nil {
		r.log().WithError(err).Debug("no trends report, stacks will be probed")
		return
	}
	for domain, stack := range report.DomainStacks {
		r.Stacks.Seed(domain, stack)
	}
}

// RunAds reads the manifest, upserts one ad per tag and writes the report.
func (r *Runner) RunAds(ctx context.Context) (*artifact.AdReport, error) {
	var report *artifact.AdReport
	err := r.track(ctx, StageAds, func() (outcome, error) {
		var m artifact.Manifest
		if err := artifact.ReadJSON(r.Paths.Manifest(), &m); err != nil {
			return outcome{}, fmt.Errorf("read upload manifest: %w", err)
		}

		rep, runErr := r.Ads.Run(ctx, &m)
		if rep == nil {
			return outcome{}, runErr
		}
		report = rep
		if err := artifact.WriteJSON(r.Paths.Report(), rep); err != nil {
			return outcome{}, err
		}

		out := outcome{counts: map[string]int{
			"created": rep.Created,
			"updated": rep.Updated,
			"failed":  rep.Failed,
			"expired": rep.Expired,
		}}
		for _, res := range rep.Results {
			if res.Action == artifact.AdFailed {
				out.failures = append(out.failures, res.Tag+": "+res.Error)
			}
		}
		if runErr != nil {
			return out, runErr
		}
		if rep.Failed > 0 && rep.Created+rep.Updated == 0 {
			return out, fmt.Errorf("%d ads failed, none written: %w", rep.Failed, ErrNoOutput)
		}
		return out, nil
	})
	return report, err
}

// RunAll runs trends, uploads and ads in order, stopping at the first
// stage that fails.
func (r *Runner) RunAll(ctx context.Context) error {
	if _, err := r.RunTrends(ctx); err != nil {
		return err
	}
	if _, err := r.RunUploads(ctx); err != nil {
		return err
	}
	_, err := r.RunAds(ctx)
	return err
}

// Loop runs the whole pipeline now and then every interval until ctx is
// cancelled. A failed pass is logged and the loop waits for the next tick.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := r.log()
	log.Info("pipeline: initial run")
	if err := r.RunAll(ctx); err != nil {
		log.WithError(err).Warn("pipeline pass failed")
	}
	log.WithField("interval", interval.String()).Info("pipeline: scheduled")

	for {
		select {
		case <-ctx.Done():
			log.Info("pipeline: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.RunAll(ctx); err != nil {
				log.WithError(err).Warn("pipeline pass failed")
			}
		}
	}
}
