package incident

import "time"

const (
	DefaultSeverityThreshold   = 4
	DefaultConfidenceThreshold = 70
	DefaultTimeWindow          = 24 * time.Hour
	DefaultDedupWindow         = 24 * time.Hour
)

// Criteria selects detections for an automation run. When DetectionIDs is
// non-empty the thresholds are ignored. A nil threshold is unset; zero is a
// real threshold.
type Criteria struct {
	DetectionIDs        []string      `json:"detection_ids,omitempty"`
	SeverityThreshold   *int          `json:"severity_threshold,omitempty"`
	ConfidenceThreshold *int          `json:"confidence_threshold,omitempty"`
	TimeWindow          time.Duration `json:"time_window,omitempty"`
}

// Threshold returns a pointer to v for use in Criteria.
func Threshold(v int) *int {
	return &v
}

// withDefaults fills unset thresholds and a non-positive window from d.
func (c Criteria) withDefaults(d Criteria) Criteria {
	if c.SeverityThreshold == nil {
		c.SeverityThreshold = d.SeverityThreshold
	}
	if c.ConfidenceThreshold == nil {
		c.ConfidenceThreshold = d.ConfidenceThreshold
	}
	if c.TimeWindow <= 0 {
		c.TimeWindow = d.TimeWindow
	}
	return c
}

// DefaultCriteria returns the stock eligibility thresholds.
func DefaultCriteria() Criteria {
	return Criteria{
		SeverityThreshold:   Threshold(DefaultSeverityThreshold),
		ConfidenceThreshold: Threshold(DefaultConfidenceThreshold),
		TimeWindow:          DefaultTimeWindow,
	}
}

// Eligible reports whether d qualifies for automation: seen within the
// window, and either at the severity bar or one below it with enough
// confidence to compensate.
func Eligible(d *Detection, severityThreshold, confidenceThreshold int, window time.Duration, now time.Time) bool {
	if d.LastSeen.Before(now.Add(-window)) {
		return false
	}
	if d.Severity >= severityThreshold {
		return true
	}
	return d.Severity >= severityThreshold-1 && d.Confidence >= confidenceThreshold
}
