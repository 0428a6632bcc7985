package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	var lines []string
	for _, f := range listed(n.Failures) {
		lines = append(lines, "• "+f)
	}

	desc := fmt.Sprintf("**Stage:** %s | %s", n.Stage, n.CountLine())
	if n.Error != "" {
		desc += "\n**Error:** " + n.Error
	}
	if len(lines) > 0 {
		desc += "\n\n" + strings.Join(lines, "\n")
	}

	color := 0x2EB67D
	if !n.OK {
		color = 0xFF6600
	}
	embed := map[string]any{
		"title":       fmt.Sprintf("%s %s", status(n), n.Title),
		"description": desc,
		"color":       color,
		"timestamp":   n.At.UTC().Format(time.RFC3339),
	}

	if err := postJSON(ctx, d.client, d.webhookURL, map[string]any{"embeds": []map[string]any{embed}}, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}
