package incident

import (
	"fmt"
	"strings"
	"time"
)

// Phase is an incident's position in its lifecycle.
type Phase string

const (
	PhaseOpen        Phase = "Open"
	PhaseTriage      Phase = "Triage"
	PhaseContainment Phase = "Containment"
	PhaseEradication Phase = "Eradication"
	PhaseRecovery    Phase = "Recovery"
	PhaseClosed      Phase = "Closed"
)

// lifecycle is the fixed advance order. Closed is terminal.
var lifecycle = []Phase{
	PhaseOpen,
	PhaseTriage,
	PhaseContainment,
	PhaseEradication,
	PhaseRecovery,
	PhaseClosed,
}

// Next returns the immediate successor of p, or ok=false when p is Closed
// or not a known phase.
func (p Phase) Next() (Phase, bool) {
	for i, ph := range lifecycle {
		if ph == p && i+1 < len(lifecycle) {
			return lifecycle[i+1], true
		}
	}
	return "", false
}

// Valid reports whether p is one of the lifecycle phases.
func (p Phase) Valid() bool {
	for _, ph := range lifecycle {
		if ph == p {
			return true
		}
	}
	return false
}

// TaskPhase groups playbook tasks. It differs from Phase: there is no Open
// and the final group is Close, not Closed.
type TaskPhase string

const (
	TaskPhaseTriage      TaskPhase = "Triage"
	TaskPhaseContainment TaskPhase = "Containment"
	TaskPhaseEradication TaskPhase = "Eradication"
	TaskPhaseRecovery    TaskPhase = "Recovery"
	TaskPhaseClose       TaskPhase = "Close"
)

// TaskPhases lists the playbook phases in execution order.
var TaskPhases = []TaskPhase{
	TaskPhaseTriage,
	TaskPhaseContainment,
	TaskPhaseEradication,
	TaskPhaseRecovery,
	TaskPhaseClose,
}

// ParseTaskPhase matches s against the known task phases, ignoring case and
// surrounding whitespace.
func ParseTaskPhase(s string) (TaskPhase, bool) {
	s = strings.TrimSpace(s)
	for _, p := range TaskPhases {
		if strings.EqualFold(string(p), s) {
			return p, true
		}
	}
	return "", false
}

// Index returns the position of p in TaskPhases, or len(TaskPhases) when
// unknown so unknown phases sort last.
func (p TaskPhase) Index() int {
	for i, tp := range TaskPhases {
		if tp == p {
			return i
		}
	}
	return len(TaskPhases)
}

// TaskStatus tracks a playbook task.
type TaskStatus string

const (
	TaskOpen    TaskStatus = "Open"
	TaskDone    TaskStatus = "Done"
	TaskSkipped TaskStatus = "Skipped"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskOpen, TaskDone, TaskSkipped:
		return true
	}
	return false
}

// LinkageType records how a detection was attached to an incident.
type LinkageType string

const (
	LinkageAuto   LinkageType = "auto"
	LinkageManual LinkageType = "manual"
)

// Detection is a scored threat observation produced by the external
// detection pipeline. Read-only to this package.
type Detection struct {
	ID            string    `json:"id"`
	Source        string    `json:"source,omitempty"`
	Indicator     string    `json:"indicator"`
	TechniqueTags []string  `json:"technique_tags"`
	Severity      int       `json:"severity"`
	Confidence    int       `json:"confidence"`
	AssetID       *string   `json:"asset_id,omitempty"`
	LastSeen      time.Time `json:"last_seen"`
}

// Asset is the minimal asset view the playbook context needs.
type Asset struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Incident is a tracked security incident.
type Incident struct {
	ID                 string     `json:"id"`
	Number             string     `json:"number"`
	Title              string     `json:"title"`
	Tier               Tier       `json:"priority_tier"`
	Phase              Phase      `json:"phase"`
	Owner              string     `json:"owner"`
	PrimaryAssetID     *string    `json:"primary_asset_id,omitempty"`
	LinkedDetectionIDs []string   `json:"linked_detection_ids"`
	LinkedRiskIDs      []string   `json:"linked_risk_ids"`
	SLADueAt           time.Time  `json:"sla_due_at"`
	SLABreached        bool       `json:"sla_breached"`
	Summary            string     `json:"summary"`
	RootCause          *string    `json:"root_cause,omitempty"`
	LessonsLearned     *string    `json:"lessons_learned,omitempty"`
	Tags               []string   `json:"tags"`
	OpenedAt           time.Time  `json:"opened_at"`
	ClosedAt           *time.Time `json:"closed_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Task is one step of an incident's playbook.
type Task struct {
	ID         string     `json:"id"`
	IncidentID string     `json:"incident_id"`
	Phase      TaskPhase  `json:"phase"`
	Title      string     `json:"title"`
	Assignee   string     `json:"assignee"`
	Sequence   int        `json:"sequence"`
	Status     TaskStatus `json:"status"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
}

// Link associates a detection with exactly one incident, permanently.
type Link struct {
	DetectionID string      `json:"detection_id"`
	IncidentID  string      `json:"incident_id"`
	Type        LinkageType `json:"linkage_type"`
	LinkedAt    time.Time   `json:"linked_at"`
}

// Timeline event types written by this package.
const (
	EventOpened       = "opened"
	EventStatusChange = "status_change"
	EventTaskUpdate   = "task_update"
	EventLinkAdded    = "link_added"
	EventSLABreach    = "sla_breach"
)

// TimelineEvent is one append-only audit entry for an incident.
type TimelineEvent struct {
	IncidentID string         `json:"incident_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Actor      string         `json:"actor"`
	EventType  string         `json:"event_type"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// FormatNumber renders an allocated ordinal as a human incident number.
func FormatNumber(n int64) string {
	return fmt.Sprintf("INC-%04d", n)
}
