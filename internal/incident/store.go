package incident

import (
	"context"
	"time"
)

// Sequencer hands out incident ordinals. Implementations must be atomic
// across concurrent callers and processes: no two calls may return the
// same value.
type Sequencer interface {
	NextIncidentNumber(ctx context.Context) (int64, error)
}

// Candidate is an open incident that may absorb a new detection, together
// with the detections already linked to it.
type Candidate struct {
	IncidentID string
	OpenedAt   time.Time
	Detections []*Detection
}

// Store is the persistence interface for incidents and their satellites.
// Single-record lookups report absence through the bool.
type Store interface {
	Sequencer

	GetDetections(ctx context.Context, ids []string) ([]*Detection, error)
	ListDetectionsSeenSince(ctx context.Context, since time.Time) ([]*Detection, error)
	GetAsset(ctx context.Context, id string) (*Asset, bool, error)

	// GetLink returns the link for a detection, if any.
	GetLink(ctx context.Context, detectionID string) (*Link, bool, error)
	// InsertLink records a link and appends ev. Returns ErrAlreadyLinked if
	// the detection is already linked and ErrIncidentClosed if the incident
	// is Closed when the link is written.
	InsertLink(ctx context.Context, link *Link, ev *TimelineEvent) error
	// ListCorrelationCandidates returns non-closed incidents whose primary
	// asset is assetID and which opened at or after since.
	ListCorrelationCandidates(ctx context.Context, assetID string, since time.Time) ([]*Candidate, error)

	// CreateIncident persists inc and its opened event atomically. Returns
	// ErrNumberAllocationConflict if inc.Number is already taken.
	CreateIncident(ctx context.Context, inc *Incident, opened *TimelineEvent) error
	GetIncident(ctx context.Context, id string) (*Incident, bool, error)
	// UpdateIncident writes inc if the stored phase still equals prevPhase,
	// else returns ErrStalePhase. ev is appended in the same unit when non-nil.
	UpdateIncident(ctx context.Context, inc *Incident, prevPhase Phase, ev *TimelineEvent) error
	// ListBreachCandidates returns non-closed incidents due before now that
	// are not yet flagged as breached.
	ListBreachCandidates(ctx context.Context, now time.Time) ([]*Incident, error)

	// InsertTasks persists tasks as one unit in slice order.
	InsertTasks(ctx context.Context, tasks []*Task) error
	// ListTasks returns an incident's tasks ordered by phase then sequence.
	ListTasks(ctx context.Context, incidentID string) ([]*Task, error)
	GetTask(ctx context.Context, id string) (*Task, bool, error)
	UpdateTask(ctx context.Context, task *Task, ev *TimelineEvent) error

	// ListTimeline returns an incident's events, newest first.
	ListTimeline(ctx context.Context, incidentID string) ([]*TimelineEvent, error)
}
