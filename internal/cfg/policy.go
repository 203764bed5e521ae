package cfg

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/respond/internal/incident"
)

// Policy holds the automation defaults an operator may tune without a
// rebuild. Keys missing from the file keep the built-in values.
type Policy struct {
	SeverityThreshold   int           `yaml:"severity_threshold"`
	ConfidenceThreshold int           `yaml:"confidence_threshold"`
	EligibilityWindow   time.Duration `yaml:"eligibility_window"`
	DedupWindow         time.Duration `yaml:"dedup_window"`
	DefaultOwner        string        `yaml:"default_owner"`
	Concurrency         int           `yaml:"concurrency"`
}

// DefaultPolicy returns the built-in automation defaults.
func DefaultPolicy() Policy {
	return Policy{
		SeverityThreshold:   incident.DefaultSeverityThreshold,
		ConfidenceThreshold: incident.DefaultConfidenceThreshold,
		EligibilityWindow:   incident.DefaultTimeWindow,
		DedupWindow:         incident.DefaultDedupWindow,
		DefaultOwner:        incident.DefaultOwner,
		Concurrency:         incident.DefaultConcurrency,
	}
}

// LoadPolicy reads path over the defaults. An empty path returns the
// defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator config
	if err != nil {
		return p, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// Validate checks ranges.
func (p Policy) Validate() error {
	var errs []error
	if p.SeverityThreshold < 1 || p.SeverityThreshold > 5 {
		errs = append(errs, fmt.Errorf("severity_threshold %d (must be 1..5)", p.SeverityThreshold))
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 100 {
		errs = append(errs, fmt.Errorf("confidence_threshold %d (must be 0..100)", p.ConfidenceThreshold))
	}
	if p.EligibilityWindow <= 0 {
		errs = append(errs, fmt.Errorf("eligibility_window %s (must be positive)", p.EligibilityWindow))
	}
	if p.DedupWindow <= 0 {
		errs = append(errs, fmt.Errorf("dedup_window %s (must be positive)", p.DedupWindow))
	}
	if p.DefaultOwner == "" {
		errs = append(errs, errors.New("default_owner must not be empty"))
	}
	if p.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency %d (must be >= 1)", p.Concurrency))
	}
	return errors.Join(errs...)
}

// EngineConfig turns the policy into the incident engine's configuration.
func (p Policy) EngineConfig(playbookTimeout time.Duration) incident.Config {
	return incident.Config{
		Criteria: incident.Criteria{
			SeverityThreshold:   incident.Threshold(p.SeverityThreshold),
			ConfidenceThreshold: incident.Threshold(p.ConfidenceThreshold),
			TimeWindow:          p.EligibilityWindow,
		},
		DedupWindow:     p.DedupWindow,
		Owner:           p.DefaultOwner,
		Concurrency:     p.Concurrency,
		PlaybookTimeout: playbookTimeout,
	}
}
