package incident

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NotificationType distinguishes the alerts this package emits.
type NotificationType string

const (
	NotifyIncident  NotificationType = "incident"
	NotifySLABreach NotificationType = "sla_breach"
)

// Notification is the payload handed to the outbound alert channel.
type Notification struct {
	Type             NotificationType `json:"type"`
	PriorityTier     Tier             `json:"priorityTier"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	AffectedAssetIDs []string         `json:"affectedAssetIds"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// Notifier delivers notifications. Failures are reported to the caller,
// which logs them and moves on.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

func affectedAssets(inc *Incident) []string {
	if inc.PrimaryAssetID == nil {
		return []string{}
	}
	return []string{*inc.PrimaryAssetID}
}

func newIncidentNotification(inc *Incident, d *Detection, now time.Time) *Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "New %s incident auto-created from detection.\n\n", inc.Tier)
	fmt.Fprintf(&b, "Incident: %s\n", inc.Number)
	fmt.Fprintf(&b, "Severity: %s\n", inc.Tier)
	fmt.Fprintf(&b, "Title: %s\n", inc.Title)
	fmt.Fprintf(&b, "SLA Due: %s\n\n", inc.SLADueAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Triggering indicator: %s\n", d.Indicator)
	fmt.Fprintf(&b, "Confidence: %d%%\n\n", d.Confidence)
	b.WriteString("Action Required: Review and triage immediately.")

	md := map[string]any{
		"incidentId":     inc.ID,
		"incidentNumber": inc.Number,
		"detectionId":    d.ID,
	}
	if d.AssetID != nil {
		md["assetId"] = *d.AssetID
	}

	return &Notification{
		Type:             NotifyIncident,
		PriorityTier:     inc.Tier,
		Title:            fmt.Sprintf("Incident %s Auto-Created", inc.Number),
		Description:      b.String(),
		AffectedAssetIDs: affectedAssets(inc),
		Metadata:         md,
		Timestamp:        now,
	}
}

func newBreachNotification(inc *Incident, now time.Time) *Notification {
	return &Notification{
		Type:         NotifySLABreach,
		PriorityTier: inc.Tier,
		Title:        fmt.Sprintf("SLA BREACH: %s", inc.Number),
		Description: fmt.Sprintf("Incident %s (%s) has exceeded its SLA deadline.\n\nSLA Due: %s\nCurrent Phase: %s\nOwner: %s",
			inc.Number, inc.Title, inc.SLADueAt.Format(time.RFC3339), inc.Phase, inc.Owner),
		AffectedAssetIDs: affectedAssets(inc),
		Metadata: map[string]any{
			"incidentId":     inc.ID,
			"incidentNumber": inc.Number,
			"slaDueAt":       inc.SLADueAt,
		},
		Timestamp: now,
	}
}
