package incident

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Sweeper flags incidents whose SLA deadline has passed. It is driven by an
// external scheduler; nothing in this package runs it on a timer.
type Sweeper struct {
	store    Store
	notifier Notifier
	now      func() time.Time
	logger   log.Logger
	hooks    Hooks
}

// NewSweeper creates a Sweeper. A nil notifier disables breach alerts.
func NewSweeper(store Store, notifier Notifier, logger log.Logger, hooks Hooks) *Sweeper {
	if logger == nil {
		logger = log.Nop()
	}
	return &Sweeper{
		store:    store,
		notifier: notifier,
		now:      time.Now,
		logger:   logger,
		hooks:    hooks,
	}
}

// SweepBreaches marks every open incident past its deadline as breached,
// appends an sla_breach event, and sends a breach notification. It returns
// how many incidents were flagged. Per-incident failures are logged and
// skipped.
func (s *Sweeper) SweepBreaches(ctx context.Context) (int, error) {
	now := s.now().UTC()
	cands, err := s.store.ListBreachCandidates(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list breach candidates: %w", err)
	}

	flagged := 0
	for _, inc := range cands {
		if !Breached(inc, now) || inc.SLABreached {
			continue
		}
		L := s.logger.With("incident_id", inc.ID, "incident_number", inc.Number)

		inc.SLABreached = true
		inc.UpdatedAt = now
		ev := &TimelineEvent{
			IncidentID: inc.ID,
			Timestamp:  now,
			Actor:      SystemActor,
			EventType:  EventSLABreach,
			Detail: map[string]any{
				"slaDueAt":       inc.SLADueAt,
				"overdueMinutes": int(now.Sub(inc.SLADueAt).Minutes()),
				"phase":          string(inc.Phase),
			},
		}
		if err := s.store.UpdateIncident(ctx, inc, inc.Phase, ev); err != nil {
			if errors.Is(err, ErrStalePhase) {
				// phase moved under us; the next sweep sees the fresh state
				continue
			}
			L.Error(ctx, err, "failed to flag sla breach")
			continue
		}
		flagged++

		L.Warn(ctx, "incident breached sla",
			"sla_due_at", inc.SLADueAt,
			"priority_tier", inc.Tier,
		)
		if s.hooks.OnSLABreach != nil {
			s.hooks.OnSLABreach(inc.Tier)
		}

		if s.notifier == nil {
			continue
		}
		nerr := s.notifier.Notify(ctx, newBreachNotification(inc, now))
		if nerr != nil {
			L.Error(ctx, fmt.Errorf("%w: %w", ErrNotificationFailed, nerr), "breach notification failed")
		}
		if s.hooks.OnNotification != nil {
			s.hooks.OnNotification(NotifySLABreach, nerr == nil)
		}
	}
	return flagged, nil
}
