package images

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// ErrBudgetExhausted is returned once a domain has used its request budget.
var ErrBudgetExhausted = errors.New("request budget exhausted")

// Throttle paces requests per domain and caps how many one run may make.
type Throttle struct {
	limit  rate.Limit
	burst  int
	budget int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	used     map[string]int
}

// NewThrottle allows rps requests per second (burst) per domain and at most
// budget requests per domain in total. rps <= 0 disables pacing and
// budget <= 0 disables the cap.
func NewThrottle(rps float64, burst, budget int) *Throttle {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limit:    limit,
		burst:    burst,
		budget:   budget,
		limiters: make(map[string]*rate.Limiter),
		used:     make(map[string]int),
	}
}

// Wait charges one request to domain and blocks until it may be sent.
func (t *Throttle) Wait(ctx context.Context, domain string) error {
	t.mu.Lock()
	if t.budget > 0 && t.used[domain] >= t.budget {
		t.mu.Unlock()
		return fmt.Errorf("%s: %w", domain, ErrBudgetExhausted)
	}
	t.used[domain]++
	lim, ok := t.limiters[domain]
	if !ok {
		lim = rate.NewLimiter(t.limit, t.burst)
		t.limiters[domain] = lim
	}
	t.mu.Unlock()

	return lim.Wait(ctx)
}

// Used returns how many requests domain has been charged.
func (t *Throttle) Used(domain string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used[domain]
}
