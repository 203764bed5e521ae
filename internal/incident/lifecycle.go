package incident

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

const (
	// SystemActor is recorded on timeline events the engine writes itself.
	SystemActor = "System"

	// DefaultOwner is assigned to new incidents and ownerless tasks.
	DefaultOwner = "SOC Analyst"
)

// ChangeInfo attributes a phase change on the timeline.
type ChangeInfo struct {
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CloseInput carries the optional closure fields.
type CloseInput struct {
	RootCause      *string `json:"root_cause,omitempty"`
	LessonsLearned *string `json:"lessons_learned,omitempty"`
	ChangeInfo
}

// Manager owns incident creation, numbering, and phase transitions.
type Manager struct {
	store  Store
	seq    Sequencer
	owner  string
	now    func() time.Time
	logger log.Logger
	hooks  Hooks
}

// NewManager creates a Manager. A nil seq allocates numbers through the
// store; an empty owner uses DefaultOwner.
func NewManager(store Store, seq Sequencer, owner string, logger log.Logger, hooks Hooks) *Manager {
	if seq == nil {
		seq = store
	}
	if owner == "" {
		owner = DefaultOwner
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		store:  store,
		seq:    seq,
		owner:  owner,
		now:    time.Now,
		logger: logger,
		hooks:  hooks,
	}
}

// Create opens a new incident for d and writes its opened event in the same
// store transaction.
func (m *Manager) Create(ctx context.Context, d *Detection) (*Incident, error) {
	now := m.now().UTC()

	n, err := m.seq.NextIncidentNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: allocate incident number: %w", ErrIncidentCreationFailed, err)
	}

	source := d.Source
	if source == "" {
		source = "unknown"
	}
	titleSource := d.Source
	if titleSource == "" {
		titleSource = "Security Alert"
	}

	inc := &Incident{
		ID:                 ulid.Make().String(),
		Number:             FormatNumber(n),
		Title:              fmt.Sprintf("%s - %s", titleSource, d.Indicator),
		Tier:               PriorityTier(d.Severity),
		Phase:              PhaseOpen,
		Owner:              m.owner,
		PrimaryAssetID:     cloneString(d.AssetID),
		LinkedDetectionIDs: []string{},
		LinkedRiskIDs:      []string{},
		SLADueAt:           SeveritySLADeadline(d.Severity, now),
		Summary: fmt.Sprintf("Auto-created from detection. Indicator: %s. Confidence: %d%%. Source: %s.",
			Fingerprint(d), d.Confidence, source),
		Tags:      orderedSet(d.TechniqueTags),
		OpenedAt:  now,
		UpdatedAt: now,
	}

	opened := &TimelineEvent{
		IncidentID: inc.ID,
		Timestamp:  now,
		Actor:      SystemActor,
		EventType:  EventOpened,
		Detail: map[string]any{
			"source":      "auto-detection",
			"detectionId": d.ID,
			"severity":    d.Severity,
			"confidence":  d.Confidence,
		},
	}

	if err := m.store.CreateIncident(ctx, inc, opened); err != nil {
		if errors.Is(err, ErrNumberAllocationConflict) {
			return nil, fmt.Errorf("create incident %s: %w", inc.Number, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrIncidentCreationFailed, err)
	}

	m.logger.Info(ctx, "incident created",
		"incident_id", inc.ID,
		"incident_number", inc.Number,
		"detection_id", d.ID,
		"priority_tier", inc.Tier,
		"sla_due_at", inc.SLADueAt,
	)
	if m.hooks.OnIncidentCreated != nil {
		m.hooks.OnIncidentCreated(inc.Tier)
	}
	return inc, nil
}

// Get loads an incident and refreshes its breach flag, persisting the flag
// when it changed.
func (m *Manager) Get(ctx context.Context, id string) (*Incident, error) {
	inc, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if refreshBreach(inc, m.now()) {
		inc.UpdatedAt = m.now().UTC()
		if err := m.store.UpdateIncident(ctx, inc, inc.Phase, nil); err != nil {
			// the read still succeeds; the sweep or the next read retries
			m.logger.Warn(ctx, "failed to persist breach flag",
				"incident_id", id,
				"error", err,
			)
		}
	}
	return inc, nil
}

// Advance moves an incident to target, which must be the immediate
// successor of its current phase.
func (m *Manager) Advance(ctx context.Context, id string, target Phase, info ChangeInfo) (*Incident, error) {
	inc, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	next, ok := inc.Phase.Next()
	if !ok || next != target {
		return nil, &TransitionError{From: inc.Phase, To: target}
	}
	return m.transition(ctx, inc, target, info)
}

// Close moves an incident to Closed from any other phase.
func (m *Manager) Close(ctx context.Context, id string, in CloseInput) (*Incident, error) {
	inc, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inc.Phase == PhaseClosed {
		return nil, &TransitionError{From: inc.Phase, To: PhaseClosed}
	}
	if in.RootCause != nil {
		inc.RootCause = in.RootCause
	}
	if in.LessonsLearned != nil {
		inc.LessonsLearned = in.LessonsLearned
	}
	return m.transition(ctx, inc, PhaseClosed, in.ChangeInfo)
}

func (m *Manager) transition(ctx context.Context, inc *Incident, target Phase, info ChangeInfo) (*Incident, error) {
	now := m.now().UTC()
	prev := inc.Phase

	inc.Phase = target
	inc.UpdatedAt = now
	if target == PhaseClosed {
		inc.ClosedAt = &now
	}
	refreshBreach(inc, now)

	actor := info.Actor
	if actor == "" {
		actor = SystemActor
	}
	ev := &TimelineEvent{
		IncidentID: inc.ID,
		Timestamp:  now,
		Actor:      actor,
		EventType:  EventStatusChange,
		Detail: map[string]any{
			"fromStatus": string(prev),
			"toStatus":   string(target),
			"reason":     info.Reason,
		},
	}

	if err := m.store.UpdateIncident(ctx, inc, prev, ev); err != nil {
		if errors.Is(err, ErrStalePhase) {
			return nil, fmt.Errorf("%w: %w", &TransitionError{From: prev, To: target}, err)
		}
		return nil, fmt.Errorf("update incident %s: %w", inc.ID, err)
	}

	m.logger.Info(ctx, "incident phase changed",
		"incident_id", inc.ID,
		"from", prev,
		"to", target,
		"actor", actor,
	)
	if m.hooks.OnPhaseChange != nil {
		m.hooks.OnPhaseChange(prev, target)
	}
	return inc, nil
}

// Link attaches a detection to an incident and records a link_added event.
func (m *Manager) Link(ctx context.Context, detectionID, incidentID string, typ LinkageType, actor string) (*Link, error) {
	if actor == "" {
		actor = SystemActor
	}
	now := m.now().UTC()
	link := &Link{
		DetectionID: detectionID,
		IncidentID:  incidentID,
		Type:        typ,
		LinkedAt:    now,
	}
	ev := &TimelineEvent{
		IncidentID: incidentID,
		Timestamp:  now,
		Actor:      actor,
		EventType:  EventLinkAdded,
		Detail: map[string]any{
			"detectionId": detectionID,
			"linkageType": string(typ),
		},
	}
	if err := m.store.InsertLink(ctx, link, ev); err != nil {
		return nil, err
	}
	return link, nil
}

// LinkDetection manually links an existing detection to an existing
// incident. A detection that is already linked yields ErrAlreadyLinked.
func (m *Manager) LinkDetection(ctx context.Context, detectionID, incidentID, actor string) (*Link, error) {
	if _, err := m.load(ctx, incidentID); err != nil {
		return nil, err
	}
	dets, err := m.store.GetDetections(ctx, []string{detectionID})
	if err != nil {
		return nil, fmt.Errorf("get detection %s: %w", detectionID, err)
	}
	if len(dets) == 0 {
		return nil, fmt.Errorf("detection %s: %w", detectionID, ErrNotFound)
	}
	link, err := m.Link(ctx, detectionID, incidentID, LinkageManual, actor)
	if err != nil {
		return nil, fmt.Errorf("link detection %s: %w", detectionID, err)
	}
	return link, nil
}

// UpdateTaskStatus sets a task's status and records a task_update event.
func (m *Manager) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, actor string) (*Task, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskStatus, status)
	}
	task, ok, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if task.Status == status {
		return task, nil
	}
	if actor == "" {
		actor = SystemActor
	}

	prev := task.Status
	task.Status = status
	ev := &TimelineEvent{
		IncidentID: task.IncidentID,
		Timestamp:  m.now().UTC(),
		Actor:      actor,
		EventType:  EventTaskUpdate,
		Detail: map[string]any{
			"taskId":     task.ID,
			"title":      task.Title,
			"fromStatus": string(prev),
			"toStatus":   string(status),
		},
	}
	if err := m.store.UpdateTask(ctx, task, ev); err != nil {
		return nil, fmt.Errorf("update task %s: %w", taskID, err)
	}
	return task, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Incident, error) {
	inc, ok, err := m.store.GetIncident(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	return inc, nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// orderedSet drops duplicates while keeping first-seen order.
func orderedSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
