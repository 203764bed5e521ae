package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/respond/internal/incident"
)

func strPtr(s string) *string { return &s }

func seedIncident(t *testing.T, s *Store, id, number string, phase incident.Phase) *incident.Incident {
	t.Helper()
	now := time.Now().UTC()
	inc := &incident.Incident{
		ID:             id,
		Number:         number,
		Phase:          phase,
		PrimaryAssetID: strPtr("asset-1"),
		SLADueAt:       now.Add(time.Hour),
		OpenedAt:       now,
		UpdatedAt:      now,
	}
	ev := &incident.TimelineEvent{IncidentID: id, Timestamp: now, Actor: "System", EventType: incident.EventOpened}
	if err := s.CreateIncident(context.Background(), inc, ev); err != nil {
		t.Fatalf("CreateIncident: %v", err)
	}
	return inc
}

func TestStore_NextIncidentNumberConcurrent(t *testing.T) {
	t.Parallel()

	s := New()
	const n = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.NextIncidentNumber(context.Background())
			if err != nil {
				t.Errorf("NextIncidentNumber: %v", err)
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("distinct numbers = %d, want %d", len(seen), n)
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Errorf("number %d missing", i)
		}
	}
}

func TestStore_CreateIncidentDuplicateNumber(t *testing.T) {
	t.Parallel()

	s := New()
	seedIncident(t, s, "inc-1", "INC-0001", incident.PhaseOpen)

	dup := &incident.Incident{ID: "inc-2", Number: "INC-0001"}
	err := s.CreateIncident(context.Background(), dup, nil)
	if !errors.Is(err, incident.ErrNumberAllocationConflict) {
		t.Fatalf("err = %v, want ErrNumberAllocationConflict", err)
	}
	if _, ok, _ := s.GetIncident(context.Background(), "inc-2"); ok {
		t.Error("conflicting incident should not be stored")
	}
}

func TestStore_CreateIncidentWritesOpenedEvent(t *testing.T) {
	t.Parallel()

	s := New()
	seedIncident(t, s, "inc-1", "INC-0001", incident.PhaseOpen)

	evs, err := s.ListTimeline(context.Background(), "inc-1")
	if err != nil {
		t.Fatalf("ListTimeline: %v", err)
	}
	if len(evs) != 1 || evs[0].EventType != incident.EventOpened {
		t.Fatalf("timeline = %+v, want one opened event", evs)
	}
}

func TestStore_GetIncidentReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	seedIncident(t, s, "inc-1", "INC-0001", incident.PhaseOpen)

	got, ok, err := s.GetIncident(context.Background(), "inc-1")
	if err != nil || !ok {
		t.Fatalf("GetIncident: ok=%v err=%v", ok, err)
	}
	got.Phase = incident.PhaseClosed

	again, _, _ := s.GetIncident(context.Background(), "inc-1")
	if again.Phase != incident.PhaseOpen {
		t.Errorf("stored phase = %q, mutation leaked", again.Phase)
	}
}

func TestStore_GetIncidentMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok, err := s.GetIncident(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing ID")
	}
}

func TestStore_InsertLinkOncePerDetection(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seedIncident(t, s, "inc-1", "INC-0001", incident.PhaseOpen)
	seedIncident(t, s, "inc-2", "INC-0002", incident.PhaseOpen)

	if err := s.InsertLink(ctx, &incident.Link{DetectionID: "d-1", IncidentID: "inc-1", Type: incident.LinkageAuto}, nil); err != nil {
		t.Fatalf("InsertLink: %v", err)
	}
	err := s.InsertLink(ctx, &incident.Link{DetectionID: "d-1", IncidentID: "inc-2", Type: incident.LinkageManual}, nil)
	if !errors.Is(err, incident.ErrAlreadyLinked) {
		t.Fatalf("second InsertLink err = %v, want ErrAlreadyLinked", err)
	}

	l, ok, err := s.GetLink(ctx, "d-1")
	if err != nil || !ok {
		t.Fatalf("GetLink: ok=%v err=%v", ok, err)
	}
	if l.IncidentID != "inc-1" {
		t.Errorf("link incident = %q, want inc-1", l.IncidentID)
	}

	inc, _, _ := s.GetIncident(ctx, "inc-1")
	if len(inc.LinkedDetectionIDs) != 1 || inc.LinkedDetectionIDs[0] != "d-1" {
		t.Errorf("LinkedDetectionIDs = %v, want [d-1]", inc.LinkedDetectionIDs)
	}
}

func TestStore_InsertLinkClosedIncident(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seedIncident(t, s, "inc-1", "INC-0001", incident.PhaseClosed)

	for _, typ := range []incident.LinkageType{incident.LinkageAuto, incident.LinkageManual} {
		err := s.InsertLink(ctx, &incident.Link{DetectionID: "d-1", IncidentID: "inc-1", Type: typ}, nil)
		if !errors.Is(err, incident.ErrIncidentClosed) {
			t.Errorf("%s link err = %v, want ErrIncidentClosed", typ, err)
		}
	}
	if _, ok, _ := s.GetLink(ctx, "d-1"); ok {
		t.Error("link written to a closed incident")
	}
}

func TestStore_UpdateIncidentStalePhase(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	inc := seedIncident(t, s, "inc-1", "INC-0001", incident.PhaseTriage)

	inc.Phase = incident.PhaseContainment
	err := s.UpdateIncident(ctx, inc, incident.PhaseOpen, nil)
	if !errors.Is(err, incident.ErrStalePhase) {
		t.Fatalf("err = %v, want ErrStalePhase", err)
	}

	ev := &incident.TimelineEvent{IncidentID: "inc-1", EventType: incident.EventStatusChange}
	if err := s.UpdateIncident(ctx, inc, incident.PhaseTriage, ev); err != nil {
		t.Fatalf("UpdateIncident: %v", err)
	}
	got, _, _ := s.GetIncident(ctx, "inc-1")
	if got.Phase != incident.PhaseContainment {
		t.Errorf("phase = %q, want Containment", got.Phase)
	}
	evs, _ := s.ListTimeline(ctx, "inc-1")
	if len(evs) != 2 || evs[0].EventType != incident.EventStatusChange {
		t.Errorf("timeline newest = %+v, want status_change first", evs)
	}
}

func TestStore_ListCorrelationCandidates(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	s.PutDetection(&incident.Detection{ID: "d-1", Indicator: "1.2.3.4", AssetID: strPtr("asset-1")})
	seedIncident(t, s, "inc-open", "INC-0001", incident.PhaseContainment)
	seedIncident(t, s, "inc-closed", "INC-0002", incident.PhaseClosed)
	if err := s.InsertLink(ctx, &incident.Link{DetectionID: "d-1", IncidentID: "inc-open"}, nil); err != nil {
		t.Fatalf("InsertLink: %v", err)
	}

	cands, err := s.ListCorrelationCandidates(ctx, "asset-1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListCorrelationCandidates: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("candidates = %d, want 1", len(cands))
	}
	if cands[0].IncidentID != "inc-open" {
		t.Errorf("candidate = %q, want inc-open", cands[0].IncidentID)
	}
	if len(cands[0].Detections) != 1 || cands[0].Detections[0].Indicator != "1.2.3.4" {
		t.Errorf("candidate detections = %+v", cands[0].Detections)
	}

	cands, _ = s.ListCorrelationCandidates(ctx, "asset-1", time.Now().Add(time.Hour))
	if len(cands) != 0 {
		t.Errorf("candidates after window = %d, want 0", len(cands))
	}
}

func TestStore_ListTasksOrdering(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	seedIncident(t, s, "inc-1", "INC-0001", incident.PhaseOpen)

	tasks := []*incident.Task{
		{ID: "t-a", IncidentID: "inc-1", Phase: incident.TaskPhaseClose, Sequence: 1},
		{ID: "t-b", IncidentID: "inc-1", Phase: incident.TaskPhaseTriage, Sequence: 2},
		{ID: "t-c", IncidentID: "inc-1", Phase: incident.TaskPhaseContainment, Sequence: 1},
		{ID: "t-d", IncidentID: "inc-1", Phase: incident.TaskPhaseTriage, Sequence: 1},
	}
	if err := s.InsertTasks(ctx, tasks); err != nil {
		t.Fatalf("InsertTasks: %v", err)
	}

	got, err := s.ListTasks(ctx, "inc-1")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	want := []string{"t-d", "t-b", "t-c", "t-a"}
	if len(got) != len(want) {
		t.Fatalf("tasks = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("tasks[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestStore_InsertTasksUnknownIncident(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.InsertTasks(context.Background(), []*incident.Task{{ID: "t-1", IncidentID: "nope"}})
	if !errors.Is(err, incident.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, ok, _ := s.GetTask(context.Background(), "t-1"); ok {
		t.Error("no task should be stored when the batch fails")
	}
}

func TestStore_ListBreachCandidates(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	inc := seedIncident(t, s, "inc-1", "INC-0001", incident.PhaseTriage)
	seedIncident(t, s, "inc-2", "INC-0002", incident.PhaseClosed)

	got, err := s.ListBreachCandidates(ctx, inc.SLADueAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("ListBreachCandidates: %v", err)
	}
	if len(got) != 1 || got[0].ID != "inc-1" {
		t.Fatalf("candidates = %+v, want inc-1 only", got)
	}

	got, _ = s.ListBreachCandidates(ctx, inc.SLADueAt)
	if len(got) != 0 {
		t.Errorf("candidates at deadline = %d, want 0", len(got))
	}
}
