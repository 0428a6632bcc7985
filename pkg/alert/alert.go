// Package alert posts stage run summaries to chat and webhook destinations.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/config"
	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
)

// Notification summarizes one stage run.
type Notification struct {
	Stage    string         `json:"stage"`
	Title    string         `json:"title"`
	OK       bool           `json:"ok"`
	Counts   map[string]int `json:"counts"`
	Failures []string       `json:"failures,omitempty"`
	Error    string         `json:"error,omitempty"`
	At       time.Time      `json:"at"`
}

// CountLine renders the counts as "created=2 failed=1", keys sorted.
func (n *Notification) CountLine() string {
	keys := make([]string, 0, len(n.Counts))
	for k := range n.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, n.Counts[k]))
	}
	return strings.Join(parts, " ")
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
	logger    logging.Logger
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier, logger logging.Logger) *Manager {
	return &Manager{notifiers: notifiers, logger: logging.OrDiscard(logger)}
}

// FromConfig builds a manager with every enabled destination.
func FromConfig(cfg config.AlertsConfig, logger logging.Logger) *Manager {
	var ns []Notifier
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		ns = append(ns, NewSlack(cfg.Slack.WebhookURL))
	}
	if cfg.Discord.Enabled && cfg.Discord.WebhookURL != "" {
		ns = append(ns, NewDiscord(cfg.Discord.WebhookURL))
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		ns = append(ns, NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret))
	}
	return NewManager(ns, logger)
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return m != nil && len(m.notifiers) > 0
}

// Broadcast sends a notification to all registered notifiers.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	if !m.HasNotifiers() {
		return nil
	}
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
			continue
		}
		m.logger.WithFields(logging.Fields{"notifier": notifier.Name(), "stage": n.Stage}).Debug("alert sent")
	}
	return errors.Join(errs...)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return post(ctx, client, url, body, headers)
}

func post(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

const maxListed = 5

func listed(failures []string) []string {
	if len(failures) <= maxListed {
		return failures
	}
	out := append([]string{}, failures[:maxListed]...)
	return append(out, fmt.Sprintf("… and %d more", len(failures)-maxListed))
}

func status(n *Notification) string {
	if n.OK {
		return "✅"
	}
	return "⚠️"
}
