package cfg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/respond/internal/incident"
	"github.com/linnemanlabs/respond/internal/incident/memstore"
)

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestLoadPolicy_EmptyPathIsDefault(t *testing.T) {
	t.Parallel()

	p, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p != DefaultPolicy() {
		t.Errorf("policy = %+v, want defaults", p)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadPolicy_PartialOverride(t *testing.T) {
	t.Parallel()

	path := writePolicy(t, `
severity_threshold: 3
eligibility_window: 6h
default_owner: IR Lead
`)
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.SeverityThreshold != 3 {
		t.Errorf("SeverityThreshold = %d, want 3", p.SeverityThreshold)
	}
	if p.EligibilityWindow != 6*time.Hour {
		t.Errorf("EligibilityWindow = %v, want 6h", p.EligibilityWindow)
	}
	if p.DefaultOwner != "IR Lead" {
		t.Errorf("DefaultOwner = %q", p.DefaultOwner)
	}
	// untouched keys keep defaults
	if p.ConfidenceThreshold != incident.DefaultConfidenceThreshold {
		t.Errorf("ConfidenceThreshold = %d, want default", p.ConfidenceThreshold)
	}
	if p.DedupWindow != incident.DefaultDedupWindow {
		t.Errorf("DedupWindow = %v, want default", p.DedupWindow)
	}
}

func TestLoadPolicy_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantSub string
	}{
		{"bad yaml", "severity_threshold: [", "parse policy"},
		{"severity out of range", "severity_threshold: 9", "severity_threshold"},
		{"confidence out of range", "confidence_threshold: 101", "confidence_threshold"},
		{"zero concurrency", "concurrency: 0", "concurrency"},
		{"empty owner", `default_owner: ""`, "default_owner"},
		{"negative window", "dedup_window: -1h", "dedup_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadPolicy(writePolicy(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %q, want to contain %q", err, tt.wantSub)
			}
		})
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPolicy_EngineConfig(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	p.Concurrency = 4
	c := p.EngineConfig(30 * time.Second)

	if c.Criteria.SeverityThreshold == nil || *c.Criteria.SeverityThreshold != incident.DefaultSeverityThreshold ||
		c.Criteria.ConfidenceThreshold == nil || *c.Criteria.ConfidenceThreshold != incident.DefaultConfidenceThreshold ||
		c.Criteria.TimeWindow != incident.DefaultTimeWindow {
		t.Errorf("criteria = %+v", c.Criteria)
	}
	if c.Concurrency != 4 || c.PlaybookTimeout != 30*time.Second || c.Owner != incident.DefaultOwner {
		t.Errorf("config = %+v", c)
	}
	if len(c.Criteria.DetectionIDs) != 0 {
		t.Error("engine defaults must not pin detection ids")
	}
}

func TestPolicy_ZeroConfidenceReachesEngine(t *testing.T) {
	t.Parallel()

	p, err := LoadPolicy(writePolicy(t, "confidence_threshold: 0\n"))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p.ConfidenceThreshold != 0 {
		t.Fatalf("ConfidenceThreshold = %d, want 0", p.ConfidenceThreshold)
	}

	store := memstore.New()
	store.PutDetection(&incident.Detection{
		ID:         "d-1",
		Indicator:  "203.0.113.9",
		Severity:   3,
		Confidence: 10,
		LastSeen:   time.Now(),
	})
	svc := incident.NewService(store, nil, nil, nil, p.EngineConfig(time.Second), log.Nop(), incident.Hooks{})

	report, err := svc.Run(context.Background(), incident.Criteria{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Created) != 1 {
		t.Errorf("created = %d, want 1", len(report.Created))
	}
}
