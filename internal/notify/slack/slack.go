// Package slack posts incident notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/respond/internal/incident"
)

const (
	maxDescriptionLen = 3000
	httpTimeout       = 10 * time.Second
)

// Notifier sends incident notifications to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

var _ incident.Notifier = (*Notifier)(nil)

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Notify posts n to the configured Slack webhook.
func (s *Notifier) Notify(ctx context.Context, n *incident.Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(n))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	s.logger.Info(ctx, "slack notification sent", "type", n.Type, "title", n.Title)
	return nil
}

func buildMessage(n *incident.Notification) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(n),
			{"type": "divider"},
			fieldsBlock(n),
			{"type": "divider"},
			descriptionBlock(n),
			{"type": "divider"},
			contextBlock(n),
		},
	}
}

func headerBlock(n *incident.Notification) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s", tierEmoji(n.Type, n.PriorityTier), n.Title),
		},
	}
}

func fieldsBlock(n *incident.Notification) map[string]any {
	assets := "none"
	if len(n.AffectedAssetIDs) > 0 {
		assets = strings.Join(n.AffectedAssetIDs, ", ")
	}
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Type:* %s", n.Type)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Priority:* %s", n.PriorityTier)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Assets:* %s", assets)},
	}
	if num, ok := n.Metadata["incidentNumber"].(string); ok {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Incident:* %s", num)})
	}
	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func descriptionBlock(n *incident.Notification) map[string]any {
	text := truncate(n.Description, maxDescriptionLen)
	if text == "" {
		text = "_No description._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(n *incident.Notification) map[string]any {
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("respond • %s • %s", n.Type, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func tierEmoji(typ incident.NotificationType, tier incident.Tier) string {
	if typ == incident.NotifySLABreach {
		return "\U0001f6a8" // rotating light
	}
	switch tier {
	case incident.TierP1:
		return "\U0001f534" // red circle
	case incident.TierP2:
		return "\U0001f7e0" // orange circle
	case incident.TierP3:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
