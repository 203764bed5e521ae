package incident

import (
	"testing"
	"time"
)

func TestPriorityTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		severity int
		want     Tier
	}{
		{6, TierP1},
		{5, TierP1},
		{4, TierP2},
		{3, TierP3},
		{2, TierP4},
		{1, TierP4},
		{0, TierP4},
		{-1, TierP4},
	}
	for _, tt := range tests {
		if got := PriorityTier(tt.severity); got != tt.want {
			t.Errorf("PriorityTier(%d) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestSLADeadline(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		tier Tier
		want time.Duration
	}{
		{TierP1, 4 * time.Hour},
		{TierP2, 24 * time.Hour},
		{TierP3, 72 * time.Hour},
		{TierP4, 168 * time.Hour},
		{Tier("P9"), 168 * time.Hour},
	}
	for _, tt := range tests {
		if got := SLADeadline(tt.tier, now).Sub(now); got != tt.want {
			t.Errorf("SLADeadline(%s) offset = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestSeveritySLADeadline(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		severity int
		want     time.Duration
	}{
		{1, 72 * time.Hour},
		{2, 24 * time.Hour},
		{3, 8 * time.Hour},
		{4, 4 * time.Hour},
		{5, 4 * time.Hour},
		{0, 24 * time.Hour},
		{9, 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := SeveritySLADeadline(tt.severity, now).Sub(now); got != tt.want {
			t.Errorf("SeveritySLADeadline(%d) offset = %v, want %v", tt.severity, got, tt.want)
		}
	}
}

func TestBreached(t *testing.T) {
	t.Parallel()

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	before := due.Add(-time.Minute)
	after := due.Add(time.Minute)

	tests := []struct {
		name     string
		phase    Phase
		closedAt *time.Time
		now      time.Time
		want     bool
	}{
		{"open before due", PhaseTriage, nil, before, false},
		{"open at due", PhaseTriage, nil, due, false},
		{"open after due", PhaseContainment, nil, after, true},
		{"closed before due, read later", PhaseClosed, &before, after, false},
		{"closed after due", PhaseClosed, &after, after, true},
		{"closed at due", PhaseClosed, &due, after, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inc := &Incident{Phase: tt.phase, SLADueAt: due, ClosedAt: tt.closedAt}
			if got := Breached(inc, tt.now); got != tt.want {
				t.Errorf("Breached = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRefreshBreach(t *testing.T) {
	t.Parallel()

	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inc := &Incident{Phase: PhaseOpen, SLADueAt: due}

	if refreshBreach(inc, due.Add(-time.Second)) {
		t.Error("refresh before due reported a change")
	}
	if !refreshBreach(inc, due.Add(time.Second)) {
		t.Error("refresh after due reported no change")
	}
	if !inc.SLABreached {
		t.Error("expected SLABreached after refresh")
	}
	if refreshBreach(inc, due.Add(time.Hour)) {
		t.Error("second refresh reported a change")
	}
}
