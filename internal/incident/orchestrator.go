package incident

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the number of detection pipelines in flight.
const DefaultConcurrency = 16

// Skip reasons that are not errors.
const (
	ReasonAlreadyLinked = "already linked"
	ReasonNotFound      = "detection not found"
)

// Pipeline outcomes as reported to hooks.
const (
	OutcomeCreated = "created"
	OutcomeLinked  = "linked"
	OutcomeSkipped = "skipped"
)

// CreatedEntry records a new incident and its playbook.
type CreatedEntry struct {
	DetectionID string    `json:"detection_id"`
	Incident    *Incident `json:"incident"`
	Tasks       []*Task   `json:"tasks"`
}

// LinkedEntry records a detection folded into an existing incident.
type LinkedEntry struct {
	DetectionID string `json:"detection_id"`
	IncidentID  string `json:"incident_id"`
}

// SkippedEntry records a detection that produced no change, with why.
type SkippedEntry struct {
	DetectionID string `json:"detection_id"`
	Reason      string `json:"reason"`
}

// RunReport is the per-detection result of an automation run.
type RunReport struct {
	Created []CreatedEntry `json:"created"`
	Linked  []LinkedEntry  `json:"linked"`
	Skipped []SkippedEntry `json:"skipped"`
}

// outcome holds exactly one populated entry.
type outcome struct {
	created *CreatedEntry
	linked  *LinkedEntry
	skipped *SkippedEntry
}

func (o outcome) kind() string {
	switch {
	case o.created != nil:
		return OutcomeCreated
	case o.linked != nil:
		return OutcomeLinked
	default:
		return OutcomeSkipped
	}
}

func skipped(detectionID, reason string) outcome {
	return outcome{skipped: &SkippedEntry{DetectionID: detectionID, Reason: reason}}
}

// Orchestrator runs detections through dedup, creation, playbook drafting,
// linking, and notification.
type Orchestrator struct {
	store       Store
	resolver    *Resolver
	manager     *Manager
	generator   *Generator
	notifier    Notifier
	defaults    Criteria
	concurrency int
	now         func() time.Time
	logger      log.Logger
	hooks       Hooks
}

// NewOrchestrator wires the pipeline stages. A nil notifier disables
// notifications. Zero fields in defaults fall back to DefaultCriteria and a
// non-positive concurrency uses DefaultConcurrency.
func NewOrchestrator(store Store, resolver *Resolver, manager *Manager, generator *Generator, notifier Notifier, defaults Criteria, concurrency int, logger log.Logger, hooks Hooks) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		store:       store,
		resolver:    resolver,
		manager:     manager,
		generator:   generator,
		notifier:    notifier,
		defaults:    defaults.withDefaults(DefaultCriteria()),
		concurrency: concurrency,
		now:         time.Now,
		logger:      logger,
		hooks:       hooks,
	}
}

// Run selects detections per c and processes each one independently. The
// only error it returns is a failure to select detections; everything that
// goes wrong inside a pipeline is reported in the Skipped list.
func (o *Orchestrator) Run(ctx context.Context, c Criteria) (*RunReport, error) {
	ctx, span := tracer.Start(ctx, "incident.Run")
	defer span.End()

	start := time.Now()
	c = c.withDefaults(o.defaults)

	dets, missing, err := o.selectDetections(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select detections failed")
		return nil, fmt.Errorf("select detections: %w", err)
	}
	span.SetAttributes(attribute.Int("respond.run.detections", len(dets)))

	results := make([]outcome, len(dets))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, d := range dets {
		g.Go(func() error {
			results[i] = o.process(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	report := &RunReport{
		Created: []CreatedEntry{},
		Linked:  []LinkedEntry{},
		Skipped: []SkippedEntry{},
	}
	for _, id := range missing {
		report.Skipped = append(report.Skipped, SkippedEntry{DetectionID: id, Reason: ReasonNotFound})
	}
	for _, r := range results {
		switch {
		case r.created != nil:
			report.Created = append(report.Created, *r.created)
		case r.linked != nil:
			report.Linked = append(report.Linked, *r.linked)
		case r.skipped != nil:
			report.Skipped = append(report.Skipped, *r.skipped)
		}
	}

	duration := time.Since(start).Seconds()
	o.logger.Info(ctx, "automation run complete",
		"detections", len(dets),
		"created", len(report.Created),
		"linked", len(report.Linked),
		"skipped", len(report.Skipped),
		"duration", duration,
	)
	if o.hooks.OnRunComplete != nil {
		o.hooks.OnRunComplete(len(report.Created), len(report.Linked), len(report.Skipped), duration)
	}
	return report, nil
}

// selectDetections returns the detections to process and any explicitly
// requested ids that do not exist.
func (o *Orchestrator) selectDetections(ctx context.Context, c Criteria) ([]*Detection, []string, error) {
	if len(c.DetectionIDs) > 0 {
		ids := orderedSet(c.DetectionIDs)
		dets, err := o.store.GetDetections(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
		found := make(map[string]bool, len(dets))
		for _, d := range dets {
			found[d.ID] = true
		}
		var missing []string
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return dets, missing, nil
	}

	now := o.now()
	all, err := o.store.ListDetectionsSeenSince(ctx, now.Add(-c.TimeWindow))
	if err != nil {
		return nil, nil, err
	}
	dets := slices.DeleteFunc(all, func(d *Detection) bool {
		return !Eligible(d, *c.SeverityThreshold, *c.ConfidenceThreshold, c.TimeWindow, now)
	})
	return dets, nil, nil
}

// process runs one detection's pipeline. It never panics and never returns
// an error; failures become skipped outcomes.
func (o *Orchestrator) process(ctx context.Context, d *Detection) (out outcome) {
	ctx, span := tracer.Start(ctx, "incident.Pipeline", trace.WithAttributes(
		attribute.String("respond.detection.id", d.ID),
	))
	defer span.End()

	L := o.logger.With("detection_id", d.ID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panic: %v", r)
			L.Error(ctx, err, "detection pipeline panicked")
			out = skipped(d.ID, err.Error())
		}
		if out.skipped != nil && out.skipped.Reason != ReasonAlreadyLinked {
			span.SetStatus(codes.Error, out.skipped.Reason)
		}
		span.SetAttributes(attribute.String("respond.pipeline.outcome", out.kind()))
		if o.hooks.OnPipeline != nil {
			o.hooks.OnPipeline(out.kind(), time.Since(start).Seconds())
		}
	}()

	dec, err := o.resolver.Resolve(ctx, d)
	if err != nil {
		L.Error(ctx, err, "dedup lookup failed")
		return skipped(d.ID, err.Error())
	}
	if o.hooks.OnDecision != nil {
		o.hooks.OnDecision(dec.Kind())
	}

	switch dec := dec.(type) {
	case AlreadyLinked:
		return skipped(d.ID, ReasonAlreadyLinked)

	case LinkToExisting:
		if _, err := o.manager.Link(ctx, d.ID, dec.IncidentID, LinkageAuto, SystemActor); err != nil {
			if errors.Is(err, ErrAlreadyLinked) {
				return skipped(d.ID, ReasonAlreadyLinked)
			}
			if errors.Is(err, ErrIncidentClosed) {
				// closed after dedup chose it; no open incident absorbs d
				L.Info(ctx, "candidate incident closed before link, opening a new one", "incident_id", dec.IncidentID)
				return o.createIncident(ctx, L, d)
			}
			L.Error(ctx, err, "link to existing incident failed", "incident_id", dec.IncidentID)
			return skipped(d.ID, fmt.Sprintf("link to incident %s: %v", dec.IncidentID, err))
		}
		L.Info(ctx, "detection linked to existing incident", "incident_id", dec.IncidentID)
		return outcome{linked: &LinkedEntry{DetectionID: d.ID, IncidentID: dec.IncidentID}}

	case NewIncident:
		return o.createIncident(ctx, L, d)

	default:
		return skipped(d.ID, fmt.Sprintf("unhandled dedup decision %T", dec))
	}
}

func (o *Orchestrator) createIncident(ctx context.Context, L log.Logger, d *Detection) outcome {
	inc, err := o.manager.Create(ctx, d)
	if err != nil {
		if errors.Is(err, ErrNumberAllocationConflict) {
			L.Error(ctx, err, "incident number allocated twice, sequencer is not atomic")
		} else {
			L.Error(ctx, err, "incident creation failed")
		}
		return skipped(d.ID, err.Error())
	}
	L = L.With("incident_id", inc.ID, "incident_number", inc.Number)

	tasks := o.generator.Generate(ctx, inc, d)

	if _, err := o.manager.Link(ctx, d.ID, inc.ID, LinkageAuto, SystemActor); err != nil {
		// the incident exists but owns no detection; surface it so an
		// operator can link it by hand
		L.Error(ctx, err, "link to new incident failed")
		return skipped(d.ID, fmt.Sprintf("incident %s created but link failed: %v", inc.Number, err))
	}
	inc.LinkedDetectionIDs = []string{d.ID}

	o.notify(ctx, L, newIncidentNotification(inc, d, o.now().UTC()))

	return outcome{created: &CreatedEntry{DetectionID: d.ID, Incident: inc, Tasks: tasks}}
}

func (o *Orchestrator) notify(ctx context.Context, L log.Logger, n *Notification) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.Notify(ctx, n)
	if err != nil {
		L.Error(ctx, fmt.Errorf("%w: %w", ErrNotificationFailed, err), "notification failed", "type", n.Type)
	}
	if o.hooks.OnNotification != nil {
		o.hooks.OnNotification(n.Type, err == nil)
	}
}
