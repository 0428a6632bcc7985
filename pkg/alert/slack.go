package alert

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	// Block Kit message.
	text := fmt.Sprintf("*Stage:* %s | %s", n.Stage, n.CountLine())
	if n.Error != "" {
		text += "\n*Error:* " + n.Error
	}
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": fmt.Sprintf("%s %s", status(n), n.Title),
			},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": text},
		},
	}

	if len(n.Failures) > 0 {
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": strings.Join(listed(n.Failures), "\n")},
			},
		})
	}

	if err := postJSON(ctx, s.client, s.webhookURL, map[string]any{"blocks": blocks}, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}
