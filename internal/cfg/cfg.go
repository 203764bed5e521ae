package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
)

// Config holds the application-specific settings. It satisfies the
// go-core cfg.Registerable and cfg.Validatable interfaces.
type Config struct {
	DrainSeconds           int
	ShutdownBudgetSeconds  int
	APIPort                int
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ClaudeAPIKey           string
	ClaudeModel            string
	PlaybookTimeoutSeconds int
	SlackWebhookURL        string
	WebhookURL             string
	WebhookSource          string
	PubSubProject          string
	PubSubTopic            string
	SweepIntervalSeconds   int
	RunIntervalSeconds     int
	PolicyFile             string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for incident number allocation (empty = database sequence)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", 0, "Redis database index")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude playbook drafter (empty = playbooks disabled)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.PlaybookTimeoutSeconds, "playbook-timeout-seconds", 60, "timeout for one playbook drafting call (1..600)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.WebhookURL, "webhook-url", "", "generic webhook URL for notifications")
	fs.StringVar(&c.WebhookSource, "webhook-source", "respond", "value of the X-Alert-Source header on webhook notifications")
	fs.StringVar(&c.PubSubProject, "pubsub-project", "", "GCP project for Pub/Sub notifications")
	fs.StringVar(&c.PubSubTopic, "pubsub-topic", "", "Pub/Sub topic for notifications")
	fs.IntVar(&c.SweepIntervalSeconds, "sla-sweep-interval-seconds", 300, "seconds between SLA breach sweeps (0 = disabled)")
	fs.IntVar(&c.RunIntervalSeconds, "automation-interval-seconds", 0, "seconds between scheduled automation runs (0 = disabled)")
	fs.StringVar(&c.PolicyFile, "policy-file", "", "YAML file overriding automation thresholds and windows")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("invalid REDIS_DB %d (must be >= 0)", c.RedisDB))
	}

	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.PlaybookTimeoutSeconds <= 0 || c.PlaybookTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid PLAYBOOK_TIMEOUT_SECONDS %d (must be 1..600)", c.PlaybookTimeoutSeconds))
	}

	for name, raw := range map[string]string{"SLACK_WEBHOOK_URL": c.SlackWebhookURL, "WEBHOOK_URL": c.WebhookURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid %s %q (must be an http(s) URL)", name, raw))
		}
	}

	// Pub/Sub needs both halves or neither
	if (c.PubSubProject == "") != (c.PubSubTopic == "") {
		errs = append(errs, errors.New("PUBSUB_PROJECT and PUBSUB_TOPIC must be set together"))
	}

	if c.SweepIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid SLA_SWEEP_INTERVAL_SECONDS %d (must be >= 0)", c.SweepIntervalSeconds))
	}
	if c.RunIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid AUTOMATION_INTERVAL_SECONDS %d (must be >= 0)", c.RunIntervalSeconds))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
