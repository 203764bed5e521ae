// Package webhook posts incident notifications as JSON to a generic HTTP
// endpoint, retrying transient failures with exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/respond/internal/incident"
)

const (
	DefaultSource          = "respond"
	DefaultMaxTries        = 3
	DefaultInitialInterval = time.Second

	httpTimeout = 10 * time.Second
)

// Config configures a Notifier. Zero values take the defaults above.
type Config struct {
	URL             string
	Source          string
	MaxTries        uint
	InitialInterval time.Duration
}

// Notifier delivers notifications to a webhook.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger log.Logger
}

var _ incident.Notifier = (*Notifier)(nil)

// New creates a webhook notifier. If cfg.URL is empty, Notify is a no-op.
func New(cfg Config, logger log.Logger) *Notifier {
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = DefaultMaxTries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultInitialInterval
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: httpTimeout},
		logger: logger,
	}
}

// Notify posts n, retrying 5xx, 429 and transport errors. Other 4xx
// responses fail immediately.
func (w *Notifier) Notify(ctx context.Context, n *incident.Notification) error {
	if w.cfg.URL == "" {
		return nil
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: marshal notification: %w", err)
	}

	attempt := 0
	op := func() (struct{}, error) {
		attempt++
		err := w.post(ctx, body)
		if err != nil {
			w.logger.Warn(ctx, "webhook attempt failed", "attempt", attempt, "error", err)
		}
		return struct{}{}, err
	}

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(w.backOff()),
		backoff.WithMaxTries(w.cfg.MaxTries),
	)
	if err != nil {
		return fmt.Errorf("webhook: delivery failed after %d attempts: %w", attempt, err)
	}
	return nil
}

// backOff doubles from the initial interval without jitter: 1s, 2s, ...
func (w *Notifier) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.InitialInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

func (w *Notifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Alert-Source", w.cfg.Source)

	resp, err := w.client.Do(req) //nolint:gosec // G704: URL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(statusErr)
	}
	return statusErr
}
