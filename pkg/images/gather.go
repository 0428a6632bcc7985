package images

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"golang.org/x/sync/errgroup"
)

// Resolver turns a bubble domain into a server client.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (fedi.Server, error)
}

// Gathered is the candidate pool for one tag.
type Gathered struct {
	Tag           string         `json:"tag"`
	Candidates    []Candidate    `json:"candidates"`
	Scanned       int            `json:"scanned"`
	Excluded      map[string]int `json:"excluded,omitempty"`
	FailedDomains []string       `json:"failed_domains,omitempty"`
}

// Gatherer scans the bubble for posts carrying a tag.
type Gatherer struct {
	resolver  Resolver
	filter    *fedi.Filter
	throttle  *Throttle
	scanLimit int
	workers   int
	logger    logging.Logger
}

// NewGatherer creates a gatherer. filter and throttle may be nil.
func NewGatherer(resolver Resolver, filter *fedi.Filter, throttle *Throttle, scanLimit, workers int, logger logging.Logger) *Gatherer {
	if filter == nil {
		filter = fedi.NewFilter(nil)
	}
	if throttle == nil {
		throttle = NewThrottle(0, 1, 0)
	}
	if scanLimit <= 0 {
		scanLimit = 60
	}
	if workers <= 0 {
		workers = 6
	}
	return &Gatherer{
		resolver:  resolver,
		filter:    filter,
		throttle:  throttle,
		scanLimit: scanLimit,
		workers:   workers,
		logger:    logging.OrDiscard(logger),
	}
}

// Gather queries every domain for recent posts with tag, drops posts without
// an image or failing the safety filter, and ranks what is left. A failing
// domain is logged and skipped.
func (g *Gatherer) Gather(ctx context.Context, tag string, domains []string) (*Gathered, error) {
	tag = fedi.NormalizeTag(tag)
	out := &Gathered{Tag: tag, Excluded: make(map[string]int)}

	var (
		mu    sync.Mutex
		posts []fedi.Post
	)

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for _, domain := range domains {
		eg.Go(func() error {
			found, err := g.scanDomain(egctx, domain, tag)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				g.logger.WithError(err).WithFields(logging.Fields{"domain": domain, "tag": tag}).Warn("tag scan failed")
				out.FailedDomains = append(out.FailedDomains, domain)
				return nil
			}
			out.Scanned += len(found)
			for _, p := range found {
				if !p.HasMedia() {
					continue
				}
				if reason := g.filter.Check(p); reason != "" {
					out.Excluded[reason]++
					continue
				}
				posts = append(posts, p)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("gather #%s: %w", tag, err)
	}

	sort.Strings(out.FailedDomains)
	out.Candidates = Rank(posts)
	g.logger.WithFields(logging.Fields{
		"tag":        tag,
		"scanned":    out.Scanned,
		"candidates": len(out.Candidates),
	}).Info("gathered image candidates")
	return out, nil
}

func (g *Gatherer) scanDomain(ctx context.Context, domain, tag string) ([]fedi.Post, error) {
	srv, err := g.resolver.Resolve(ctx, domain)
	if err != nil {
		return nil, err
	}
	if err := g.throttle.Wait(ctx, domain); err != nil {
		return nil, err
	}
	return srv.TagTimeline(ctx, tag, g.scanLimit)
}
