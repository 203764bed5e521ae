package incident

import "time"

// Tier is an incident priority.
type Tier string

const (
	TierP1 Tier = "P1"
	TierP2 Tier = "P2"
	TierP3 Tier = "P3"
	TierP4 Tier = "P4"
)

// PriorityTier maps a detection severity (1..5) to a priority tier.
func PriorityTier(severity int) Tier {
	switch {
	case severity >= 5:
		return TierP1
	case severity >= 4:
		return TierP2
	case severity >= 3:
		return TierP3
	default:
		return TierP4
	}
}

var tierSLAHours = map[Tier]int{
	TierP1: 4,
	TierP2: 24,
	TierP3: 72,
	TierP4: 168,
}

// SLADeadline returns the tier-keyed deadline measured from now. Unknown
// tiers get the P4 allowance.
func SLADeadline(tier Tier, now time.Time) time.Time {
	h, ok := tierSLAHours[tier]
	if !ok {
		h = tierSLAHours[TierP4]
	}
	return now.Add(time.Duration(h) * time.Hour)
}

// severitySLAHours is the table used at incident creation. It is keyed on
// raw detection severity and intentionally differs from tierSLAHours.
var severitySLAHours = map[int]int{
	1: 72,
	2: 24,
	3: 8,
	4: 4,
	5: 4,
}

const defaultSeveritySLAHours = 24

// SeveritySLADeadline returns the creation-time deadline for a raw
// detection severity. Severities outside 1..5 get 24h.
func SeveritySLADeadline(severity int, now time.Time) time.Time {
	h, ok := severitySLAHours[severity]
	if !ok {
		h = defaultSeveritySLAHours
	}
	return now.Add(time.Duration(h) * time.Hour)
}

// Breached reports whether inc missed its SLA as of now. For closed
// incidents the close time is compared instead of now.
func Breached(inc *Incident, now time.Time) bool {
	if inc.Phase == PhaseClosed {
		return inc.ClosedAt != nil && inc.ClosedAt.After(inc.SLADueAt)
	}
	return now.After(inc.SLADueAt)
}

// refreshBreach recomputes inc.SLABreached and reports whether it changed.
func refreshBreach(inc *Incident, now time.Time) bool {
	b := Breached(inc, now)
	if b == inc.SLABreached {
		return false
	}
	inc.SLABreached = b
	return true
}
