package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Decision is the outcome of resolving one detection. It is one of
// AlreadyLinked, LinkToExisting, or NewIncident.
type Decision interface {
	decision()
	Kind() string
}

// AlreadyLinked means the detection was linked before. Nothing to do.
type AlreadyLinked struct{ IncidentID string }

// LinkToExisting means the detection correlates with an open incident.
type LinkToExisting struct{ IncidentID string }

// NewIncident means no incident covers the detection yet.
type NewIncident struct{}

func (AlreadyLinked) decision()  {}
func (LinkToExisting) decision() {}
func (NewIncident) decision()    {}

func (AlreadyLinked) Kind() string  { return "already_linked" }
func (LinkToExisting) Kind() string { return "link_existing" }
func (NewIncident) Kind() string    { return "new_incident" }

// Resolver decides whether a detection belongs to an existing incident.
type Resolver struct {
	store  Store
	window time.Duration
	now    func() time.Time
	logger log.Logger
}

// NewResolver creates a Resolver correlating within window. A non-positive
// window uses DefaultDedupWindow.
func NewResolver(store Store, window time.Duration, logger log.Logger) *Resolver {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Resolver{
		store:  store,
		window: window,
		now:    time.Now,
		logger: logger,
	}
}

// Resolve classifies d. An existing link wins over correlation. Among
// correlated incidents the most recently opened one is chosen.
func (r *Resolver) Resolve(ctx context.Context, d *Detection) (Decision, error) {
	link, ok, err := r.store.GetLink(ctx, d.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: get link for %s: %w", ErrDedupLookupFailed, d.ID, err)
	}
	if ok {
		return AlreadyLinked{IncidentID: link.IncidentID}, nil
	}

	// without an asset there is nothing to correlate on
	if d.AssetID == nil || *d.AssetID == "" {
		return NewIncident{}, nil
	}

	since := r.now().Add(-r.window)
	cands, err := r.store.ListCorrelationCandidates(ctx, *d.AssetID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: list candidates for asset %s: %w", ErrDedupLookupFailed, *d.AssetID, err)
	}

	fp := Fingerprint(d)
	var best *Candidate
	for _, c := range cands {
		if best != nil && !c.OpenedAt.After(best.OpenedAt) {
			continue
		}
		for _, ld := range c.Detections {
			if Fingerprint(ld) == fp {
				best = c
				break
			}
		}
	}
	if best != nil {
		r.logger.Info(ctx, "detection correlated",
			"detection_id", d.ID,
			"incident_id", best.IncidentID,
			"fingerprint", fp,
		)
		return LinkToExisting{IncidentID: best.IncidentID}, nil
	}
	return NewIncident{}, nil
}
