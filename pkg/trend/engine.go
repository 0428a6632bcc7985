package trend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/pkg/fedi"
	"golang.org/x/sync/errgroup"
)

// ErrAllSourcesFailed is returned when not a single bubble domain answered.
var ErrAllSourcesFailed = errors.New("every bubble domain failed")

// ServerResolver turns a domain into a client for its API family.
type ServerResolver interface {
	Resolve(ctx context.Context, domain string) (fedi.Server, error)
}

// DomainTrends is one domain's trending list at the time it was sampled.
type DomainTrends struct {
	Domain    string          `json:"domain"`
	Stack     fedi.Stack      `json:"stack"`
	Tags      []fedi.TrendTag `json:"tags"`
	SampledAt time.Time       `json:"sampled_at"`
}

// Collection is the raw result of polling the bubble.
type Collection struct {
	Domains []DomainTrends    `json:"domains"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// Aggregator polls every bubble domain for trending tags.
type Aggregator struct {
	resolver ServerResolver
	limit    int
	workers  int
	logger   logging.Logger
}

// NewAggregator creates an aggregator. Zero limit or workers fall back to defaults.
func NewAggregator(resolver ServerResolver, limit, workers int, logger logging.Logger) *Aggregator {
	if limit <= 0 {
		limit = 40
	}
	if workers <= 0 {
		workers = 6
	}
	return &Aggregator{
		resolver: resolver,
		limit:    limit,
		workers:  workers,
		logger:   logging.OrDiscard(logger),
	}
}

// Collect fetches trends from all domains in parallel. A failing domain is
// logged and left out; only a bubble where nobody answered is an error.
func (a *Aggregator) Collect(ctx context.Context, domains []string) (*Collection, error) {
	var (
		mu  sync.Mutex
		out = &Collection{Failed: make(map[string]string)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, domain := range domains {
		g.Go(func() error {
			dt, err := a.collectDomain(gctx, domain)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.WithError(err).WithField("domain", domain).Warn("trend fetch failed")
				out.Failed[domain] = err.Error()
				return nil
			}
			a.logger.WithFields(logging.Fields{"domain": domain, "tags": len(dt.Tags)}).Info("collected trends")
			out.Domains = append(out.Domains, *dt)
			return nil
		})
	}
	// Workers never return errors; Wait only synchronizes.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect trends: %w", err)
	}

	sort.Slice(out.Domains, func(i, j int) bool {
		return out.Domains[i].Domain < out.Domains[j].Domain
	})

	if len(out.Domains) == 0 {
		return out, fmt.Errorf("collect trends from %d domains: %w", len(domains), ErrAllSourcesFailed)
	}
	return out, nil
}

func (a *Aggregator) collectDomain(ctx context.Context, domain string) (*DomainTrends, error) {
	srv, err := a.resolver.Resolve(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", domain, err)
	}
	tags, err := srv.Trends(ctx, a.limit)
	if err != nil {
		return nil, err
	}
	return &DomainTrends{
		Domain:    domain,
		Stack:     srv.Stack(),
		Tags:      tags,
		SampledAt: time.Now().UTC(),
	}, nil
}
