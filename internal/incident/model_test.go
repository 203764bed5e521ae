package incident

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestFingerprint_OrderInvariant(t *testing.T) {
	t.Parallel()

	a := Fingerprint(&Detection{Indicator: "x", TechniqueTags: []string{"T2", "T1"}})
	b := Fingerprint(&Detection{Indicator: "x", TechniqueTags: []string{"T1", "T2"}})
	if a != b {
		t.Fatalf("fingerprints differ: %q vs %q", a, b)
	}
	if a != "x|T1|T2" {
		t.Errorf("fingerprint = %q, want %q", a, "x|T1|T2")
	}
}

func TestFingerprint_DoesNotMutateTags(t *testing.T) {
	t.Parallel()

	d := &Detection{Indicator: "evil.example", TechniqueTags: []string{"T1071", "T1059"}}
	_ = Fingerprint(d)
	if d.TechniqueTags[0] != "T1071" {
		t.Errorf("tags reordered in place: %v", d.TechniqueTags)
	}
}

func TestFingerprint_NoTags(t *testing.T) {
	t.Parallel()

	if got := Fingerprint(&Detection{Indicator: "1.2.3.4"}); got != "1.2.3.4" {
		t.Errorf("fingerprint = %q, want %q", got, "1.2.3.4")
	}
}

func TestEligible(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 24 * time.Hour

	tests := []struct {
		name       string
		severity   int
		confidence int
		lastSeen   time.Time
		want       bool
	}{
		{"at severity bar", 4, 0, now, true},
		{"above severity bar", 5, 90, now, true},
		{"one below with confidence", 3, 70, now, true},
		{"one below without confidence", 3, 69, now, false},
		{"two below with confidence", 2, 100, now, false},
		{"outside window", 5, 100, now.Add(-window - time.Second), false},
		{"at window edge", 5, 100, now.Add(-window), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := &Detection{Severity: tt.severity, Confidence: tt.confidence, LastSeen: tt.lastSeen}
			if got := Eligible(d, 4, 70, window, now); got != tt.want {
				t.Errorf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEligible_RelativeThreshold(t *testing.T) {
	t.Parallel()

	now := time.Now()
	d := &Detection{Severity: 2, Confidence: 80, LastSeen: now}
	if !Eligible(d, 3, 75, time.Hour, now) {
		t.Error("severity one below a custom bar should qualify on confidence")
	}
}

func TestCriteria_WithDefaults(t *testing.T) {
	t.Parallel()

	c := Criteria{ConfidenceThreshold: Threshold(50)}.withDefaults(DefaultCriteria())
	if *c.SeverityThreshold != DefaultSeverityThreshold {
		t.Errorf("SeverityThreshold = %d, want %d", *c.SeverityThreshold, DefaultSeverityThreshold)
	}
	if *c.ConfidenceThreshold != 50 {
		t.Errorf("ConfidenceThreshold = %d, want 50", *c.ConfidenceThreshold)
	}
	if c.TimeWindow != DefaultTimeWindow {
		t.Errorf("TimeWindow = %v, want %v", c.TimeWindow, DefaultTimeWindow)
	}
}

func TestCriteria_WithDefaultsKeepsZero(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       Criteria
		wantSev  int
		wantConf int
	}{
		{"both unset", Criteria{}, DefaultSeverityThreshold, DefaultConfidenceThreshold},
		{"confidence zero", Criteria{ConfidenceThreshold: Threshold(0)}, DefaultSeverityThreshold, 0},
		{"severity zero", Criteria{SeverityThreshold: Threshold(0)}, 0, DefaultConfidenceThreshold},
		{"both zero", Criteria{SeverityThreshold: Threshold(0), ConfidenceThreshold: Threshold(0)}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := tt.in.withDefaults(DefaultCriteria())
			if *c.SeverityThreshold != tt.wantSev {
				t.Errorf("SeverityThreshold = %d, want %d", *c.SeverityThreshold, tt.wantSev)
			}
			if *c.ConfidenceThreshold != tt.wantConf {
				t.Errorf("ConfidenceThreshold = %d, want %d", *c.ConfidenceThreshold, tt.wantConf)
			}
		})
	}
}

func TestPhase_Next(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from   Phase
		want   Phase
		wantOK bool
	}{
		{PhaseOpen, PhaseTriage, true},
		{PhaseTriage, PhaseContainment, true},
		{PhaseContainment, PhaseEradication, true},
		{PhaseEradication, PhaseRecovery, true},
		{PhaseRecovery, PhaseClosed, true},
		{PhaseClosed, "", false},
		{Phase("Bogus"), "", false},
	}
	for _, tt := range tests {
		got, ok := tt.from.Next()
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("%s.Next() = (%q, %v), want (%q, %v)", tt.from, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseTaskPhase(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   TaskPhase
		wantOK bool
	}{
		{"Triage", TaskPhaseTriage, true},
		{"containment", TaskPhaseContainment, true},
		{" ERADICATION ", TaskPhaseEradication, true},
		{"Close", TaskPhaseClose, true},
		{"Closed", "", false},
		{"Open", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseTaskPhase(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseTaskPhase(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	t.Parallel()

	tests := map[int64]string{
		1:     "INC-0001",
		42:    "INC-0042",
		9999:  "INC-9999",
		12345: "INC-12345",
	}
	for n, want := range tests {
		if got := FormatNumber(n); got != want {
			t.Errorf("FormatNumber(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestTransitionError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("advance: %w", &TransitionError{From: PhaseOpen, To: PhaseEradication})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatal("expected errors.Is(err, ErrInvalidTransition)")
	}
	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatal("expected errors.As to find TransitionError")
	}
	if te.From != PhaseOpen || te.To != PhaseEradication {
		t.Errorf("TransitionError = %+v", te)
	}
	if !strings.Contains(err.Error(), "allowed: Triage") {
		t.Errorf("message = %q, want allowed successor", err.Error())
	}
}
