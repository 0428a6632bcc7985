package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/artifact"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/config"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/pipeline"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/store"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/ads"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/alert"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/images"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/server"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/sharkey"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/trend"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app holds what every command shares.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	db       *store.SQLiteStore
	domains  []string
	filter   *fedi.Filter
	resolver *fedi.Resolver
	throttle *images.Throttle
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	domains, err := cfg.ResolveDomains()
	if err != nil {
		return nil, err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	opts := fedi.Options{
		Timeout:     cfg.Bubble.Timeout(),
		UserAgent:   cfg.Bubble.UserAgent,
		RSSFallback: cfg.Bubble.RSSFallback,
		Logger:      logger,
	}
	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		domains:  domains,
		filter:   fedi.NewFilter(cfg.Filter.ExtraDenylist),
		resolver: fedi.NewResolver(opts, db, cfg.Bubble.CacheTTL()),
		throttle: images.NewThrottle(cfg.Uploads.RequestsPerSecond, cfg.Uploads.Burst, cfg.Uploads.MaxRequestsPerDomain),
	}, nil
}

func (a *app) Close() { a.db.Close() }

func (a *app) client() (*sharkey.Client, error) {
	if err := a.cfg.RequireSharkey(); err != nil {
		return nil, err
	}
	return sharkey.New(a.cfg.Sharkey.BaseURL, a.cfg.Sharkey.Token, sharkey.Options{
		Timeout:   a.cfg.Sharkey.RequestTimeout(),
		Retries:   a.cfg.Uploads.TransferRetries,
		UserAgent: a.cfg.Bubble.UserAgent,
		Logger:    a.logger,
	}), nil
}

func (a *app) gatherer() *images.Gatherer {
	return images.NewGatherer(a.resolver, a.filter, a.throttle, a.cfg.Uploads.StatusScanLimit, a.cfg.Bubble.Workers, a.logger)
}

func (a *app) uploader(client *sharkey.Client, name string) (*images.Uploader, error) {
	if name == "" {
		name = a.cfg.Uploads.DedupMode
	}
	mode, err := images.ParseMode(name)
	if err != nil {
		return nil, err
	}
	dl := images.NewDownloader(images.DownloadOptions{
		Timeout:   a.cfg.Uploads.Timeout(),
		MaxBytes:  a.cfg.Uploads.MaxImageBytes,
		Retries:   a.cfg.Uploads.TransferRetries,
		UserAgent: a.cfg.Bubble.UserAgent,
		Throttle:  a.throttle,
		Logger:    a.logger,
	})
	return images.NewUploader(a.gatherer(), dl, client, images.UploaderOptions{
		Folder: a.cfg.Uploads.Folder,
		Mode:   mode,
		Logger: a.logger,
	}), nil
}

func (a *app) upserter(client *sharkey.Client, dryRun bool) (*ads.Upserter, error) {
	overrides, err := ads.LoadOverrides(a.cfg.Ads.OverridesFile)
	if err != nil {
		return nil, err
	}
	c := a.cfg.Ads
	return ads.NewUpserter(client, ads.Options{
		BaseURL:      client.Base(),
		TitlePrefix:  c.TitlePrefix,
		Place:        c.Place,
		Priority:     c.DefaultPriority,
		DurationDays: c.DurationDays,
		Ratio:        ads.RatioRange{Min: c.RatioMin, Max: c.RatioMax, Scale: c.RatioScale},
		Overrides:    overrides,
		DryRun:       dryRun || c.DryRun,
		CleanupStale: c.CleanupStale,
		Logger:       a.logger,
	}), nil
}

func (a *app) runner() *pipeline.Runner {
	return &pipeline.Runner{
		Collector: trend.NewAggregator(a.resolver, a.cfg.Bubble.LimitPerDomain, a.cfg.Bubble.Workers, a.logger),
		Filter:    a.filter,
		Stacks:    a.resolver,
		Store:     a.db,
		Alerts:    alert.FromConfig(a.cfg.Alerts, a.logger),
		Paths:     artifact.Paths{Dir: a.cfg.Artifacts.Dir},
		Domains:   a.domains,
		Choose:    pipeline.TopN(a.cfg.Bubble.Select),
		Logger:    a.logger,
	}
}

type trendsOptions struct {
	selection      string
	interactive    bool
	limitPerDomain int
	jsonOutput     bool
}

func runTrends(ctx context.Context, opts trendsOptions) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.limitPerDomain > 0 {
		a.cfg.Bubble.LimitPerDomain = opts.limitPerDomain
	}
	r := a.runner()
	n := a.cfg.Bubble.Select
	switch {
	case opts.selection != "":
		expr := opts.selection
		r.Choose = func(merged []trend.Merged) ([]trend.Merged, error) {
			idx, err := trend.ParseSelection(expr, len(merged))
			if err != nil {
				return nil, err
			}
			return trend.Pick(merged, idx), nil
		}
	case opts.interactive:
		r.Choose = func(merged []trend.Merged) ([]trend.Merged, error) {
			return trend.Prompt(os.Stdin, os.Stderr, merged, n)
		}
	}

	report, err := r.RunTrends(ctx)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report.Merged)
	}

	selected := make(map[string]bool, len(report.Selected))
	for _, t := range report.Selected {
		selected[t] = true
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tDOMAINS\tTOTAL\tTAG\tSELECTED")
	for i, m := range report.Merged {
		mark := ""
		if selected[m.Tag] {
			mark = "*"
		}
		fmt.Fprintf(w, "%d\t%.3f\t%d\t%d\t#%s\t%s\n", i+1, m.Score, m.SourceCount, m.Total, m.Tag, mark)
	}
	return w.Flush()
}

func runUploads(ctx context.Context, mode string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.client()
	if err != nil {
		return err
	}
	up, err := a.uploader(client, mode)
	if err != nil {
		return err
	}
	r := a.runner()
	r.Uploader = up

	m, err := r.RunUploads(ctx)
	if m != nil {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TAG\tACTION\tCONSENSUS\tENGAGEMENT\tFILE")
		for _, rec := range m.Results {
			fmt.Fprintf(w, "#%s\t%s\t%d\t%d\t%s\n", rec.Tag, rec.Action, rec.Consensus, rec.Engagement, rec.FileName)
		}
		for _, s := range m.Skipped {
			fmt.Fprintf(w, "#%s\tskipped\t\t\t%s\n", s.Tag, s.Reason)
		}
		for _, f := range m.Failed {
			fmt.Fprintf(w, "#%s\tfailed\t\t\t%s\n", f.Tag, f.Error)
		}
		w.Flush()
	}
	return err
}

func runAds(ctx context.Context, dryRun bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.client()
	if err != nil {
		return err
	}
	up, err := a.upserter(client, dryRun)
	if err != nil {
		return err
	}
	r := a.runner()
	r.Ads = up

	report, err := r.RunAds(ctx)
	if report != nil {
		if report.DryRun {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			if encErr := enc.Encode(report.Results); encErr != nil {
				return encErr
			}
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TAG\tACTION\tRATIO\tATTEMPTS\tAD")
			for _, res := range report.Results {
				detail := res.AdID
				if res.Error != "" {
					detail = res.Error
				}
				fmt.Fprintf(w, "#%s\t%s\t%d\t%d\t%s\n", res.Tag, res.Action, res.Ratio, res.Attempts, detail)
			}
			w.Flush()
		}
	}
	return err
}

func runPipeline(ctx context.Context, every string, once bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.client()
	if err != nil {
		return err
	}
	uploader, err := a.uploader(client, "")
	if err != nil {
		return err
	}
	upserter, err := a.upserter(client, false)
	if err != nil {
		return err
	}
	r := a.runner()
	r.Uploader = uploader
	r.Ads = upserter

	if once {
		return r.RunAll(ctx)
	}

	interval := a.cfg.Schedule.ParseInterval()
	if every != "" {
		interval, err = time.ParseDuration(every)
		if err != nil {
			return fmt.Errorf("parse --every: %w", err)
		}
	}
	if err := r.Loop(ctx, interval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runServe(ctx context.Context, port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(a.db, artifact.Paths{Dir: a.cfg.Artifacts.Dir}, a.gatherer(), a.domains, port, a.logger)
	return srv.ListenAndServe(ctx)
}
