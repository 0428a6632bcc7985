package fedi

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
)

// StackCache remembers detected stacks between runs.
type StackCache interface {
	GetStack(ctx context.Context, domain string, maxAge time.Duration) (Stack, bool, error)
	PutStack(ctx context.Context, domain string, stack Stack) error
}

// Detect probes Mastodon first (public trends endpoint), then Misskey.
func Detect(ctx context.Context, domain string, opts Options) (Stack, error) {
	opts = opts.withDefaults()
	c := newHTTPClient(domain, opts)

	var masto []json.RawMessage
	if err := c.getJSON(ctx, "/api/v1/trends/tags", url.Values{"limit": {"1"}}, &masto); err == nil {
		return StackMastodon, nil
	}

	var misskey []json.RawMessage
	if err := c.postJSON(ctx, "/api/hashtags/trend", map[string]any{}, &misskey); err == nil {
		return StackMisskey, nil
	}
	return StackUnknown, &UnsupportedError{Domain: domain}
}

// Resolver turns domains into Server clients, caching the detected stack.
type Resolver struct {
	opts   Options
	cache  StackCache
	ttl    time.Duration
	logger logging.Logger

	mu    sync.Mutex
	known map[string]Stack
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(opts Options, cache StackCache, ttl time.Duration) *Resolver {
	opts = opts.withDefaults()
	return &Resolver{
		opts:   opts,
		cache:  cache,
		ttl:    ttl,
		logger: opts.Logger,
		known:  make(map[string]Stack),
	}
}

// Seed records a stack learned elsewhere, such as the trends report, so
// Resolve does not probe for it.
func (r *Resolver) Seed(domain string, stack Stack) {
	if stack == StackUnknown || stack == "" {
		return
	}
	r.mu.Lock()
	r.known[domain] = stack
	r.mu.Unlock()
}

// Resolve returns a client for domain, probing only when nothing is cached.
func (r *Resolver) Resolve(ctx context.Context, domain string) (Server, error) {
	r.mu.Lock()
	stack, ok := r.known[domain]
	r.mu.Unlock()

	if !ok && r.cache != nil {
		cached, hit, err := r.cache.GetStack(ctx, domain, r.ttl)
		if err != nil {
			r.logger.WithError(err).WithField("domain", domain).Warn("stack cache read failed")
		} else if hit {
			stack, ok = cached, true
		}
	}

	if !ok {
		detected, err := Detect(ctx, domain, r.opts)
		if err != nil {
			return nil, err
		}
		stack = detected
		if r.cache != nil {
			if err := r.cache.PutStack(ctx, domain, stack); err != nil {
				r.logger.WithError(err).WithField("domain", domain).Warn("stack cache write failed")
			}
		}
		r.logger.WithFields(logging.Fields{"domain": domain, "stack": stack}).Debug("detected server stack")
	}

	r.Seed(domain, stack)
	return NewServer(stack, domain, r.opts)
}
