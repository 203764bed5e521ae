// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/respond/internal/incident"
)

// Store holds incident data in memory. Suitable for dev/testing.
type Store struct {
	mu         sync.RWMutex
	counter    int64
	detections map[string]*incident.Detection
	assets     map[string]*incident.Asset
	incidents  map[string]*incident.Incident
	numbers    map[string]string                    // human number -> incident ID
	links      map[string]*incident.Link            // detection ID -> link
	tasks      map[string]*incident.Task            // task ID -> task
	timeline   map[string][]*incident.TimelineEvent // incident ID -> events, oldest first
}

var _ incident.Store = (*Store)(nil)

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		detections: make(map[string]*incident.Detection),
		assets:     make(map[string]*incident.Asset),
		incidents:  make(map[string]*incident.Incident),
		numbers:    make(map[string]string),
		links:      make(map[string]*incident.Link),
		tasks:      make(map[string]*incident.Task),
		timeline:   make(map[string][]*incident.TimelineEvent),
	}
}

// PutDetection seeds a detection.
func (s *Store) PutDetection(d *incident.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections[d.ID] = copyDetection(d)
}

// PutAsset seeds an asset.
func (s *Store) PutAsset(a *incident.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.assets[a.ID] = &cp
}

// NextIncidentNumber increments the counter under the store lock.
func (s *Store) NextIncidentNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter, nil
}

func (s *Store) GetDetections(_ context.Context, ids []string) ([]*incident.Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*incident.Detection, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.detections[id]; ok {
			out = append(out, copyDetection(d))
		}
	}
	return out, nil
}

func (s *Store) ListDetectionsSeenSince(_ context.Context, since time.Time) ([]*incident.Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*incident.Detection
	for _, d := range s.detections {
		if !d.LastSeen.Before(since) {
			out = append(out, copyDetection(d))
		}
	}
	slices.SortFunc(out, func(a, b *incident.Detection) int {
		return b.LastSeen.Compare(a.LastSeen)
	})
	return out, nil
}

func (s *Store) GetAsset(_ context.Context, id string) (*incident.Asset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, false, nil
	}
	cp := *a
	return &cp, true, nil
}

func (s *Store) GetLink(_ context.Context, detectionID string) (*incident.Link, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[detectionID]
	if !ok {
		return nil, false, nil
	}
	cp := *l
	return &cp, true, nil
}

func (s *Store) InsertLink(_ context.Context, link *incident.Link, ev *incident.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.DetectionID]; ok {
		return fmt.Errorf("detection %s: %w", link.DetectionID, incident.ErrAlreadyLinked)
	}
	inc, ok := s.incidents[link.IncidentID]
	if !ok {
		return fmt.Errorf("incident %s: %w", link.IncidentID, incident.ErrNotFound)
	}
	if inc.Phase == incident.PhaseClosed {
		return fmt.Errorf("incident %s: %w", link.IncidentID, incident.ErrIncidentClosed)
	}
	cp := *link
	s.links[link.DetectionID] = &cp
	s.appendEvent(ev)
	return nil
}

func (s *Store) ListCorrelationCandidates(_ context.Context, assetID string, since time.Time) ([]*incident.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*incident.Candidate
	for _, inc := range s.incidents {
		if inc.Phase == incident.PhaseClosed || inc.PrimaryAssetID == nil || *inc.PrimaryAssetID != assetID {
			continue
		}
		if inc.OpenedAt.Before(since) {
			continue
		}
		c := &incident.Candidate{IncidentID: inc.ID, OpenedAt: inc.OpenedAt}
		for _, did := range s.linkedIDs(inc.ID) {
			if d, ok := s.detections[did]; ok {
				c.Detections = append(c.Detections, copyDetection(d))
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) CreateIncident(_ context.Context, inc *incident.Incident, opened *incident.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.numbers[inc.Number]; ok {
		return fmt.Errorf("number %s: %w", inc.Number, incident.ErrNumberAllocationConflict)
	}
	s.incidents[inc.ID] = copyIncident(inc)
	s.numbers[inc.Number] = inc.ID
	s.appendEvent(opened)
	return nil
}

func (s *Store) GetIncident(_ context.Context, id string) (*incident.Incident, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, false, nil
	}
	cp := copyIncident(inc)
	cp.LinkedDetectionIDs = s.linkedIDs(id)
	return cp, true, nil
}

func (s *Store) UpdateIncident(_ context.Context, inc *incident.Incident, prevPhase incident.Phase, ev *incident.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.incidents[inc.ID]
	if !ok {
		return fmt.Errorf("incident %s: %w", inc.ID, incident.ErrNotFound)
	}
	if cur.Phase != prevPhase {
		return fmt.Errorf("incident %s is %s, not %s: %w", inc.ID, cur.Phase, prevPhase, incident.ErrStalePhase)
	}
	cp := copyIncident(inc)
	cp.Number = cur.Number
	cp.OpenedAt = cur.OpenedAt
	s.incidents[inc.ID] = cp
	s.appendEvent(ev)
	return nil
}

func (s *Store) ListBreachCandidates(_ context.Context, now time.Time) ([]*incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*incident.Incident
	for _, inc := range s.incidents {
		if inc.Phase == incident.PhaseClosed || inc.SLABreached || !inc.SLADueAt.Before(now) {
			continue
		}
		cp := copyIncident(inc)
		cp.LinkedDetectionIDs = s.linkedIDs(inc.ID)
		out = append(out, cp)
	}
	slices.SortFunc(out, func(a, b *incident.Incident) int {
		return a.SLADueAt.Compare(b.SLADueAt)
	})
	return out, nil
}

func (s *Store) InsertTasks(_ context.Context, tasks []*incident.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if _, ok := s.incidents[t.IncidentID]; !ok {
			return fmt.Errorf("incident %s: %w", t.IncidentID, incident.ErrNotFound)
		}
	}
	for _, t := range tasks {
		cp := *t
		s.tasks[t.ID] = &cp
	}
	return nil
}

func (s *Store) ListTasks(_ context.Context, incidentID string) ([]*incident.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*incident.Task{}
	for _, t := range s.tasks {
		if t.IncidentID == incidentID {
			cp := *t
			out = append(out, &cp)
		}
	}
	slices.SortStableFunc(out, func(a, b *incident.Task) int {
		return cmp.Or(
			cmp.Compare(a.Phase.Index(), b.Phase.Index()),
			cmp.Compare(a.Sequence, b.Sequence),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}

func (s *Store) GetTask(_ context.Context, id string) (*incident.Task, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

func (s *Store) UpdateTask(_ context.Context, task *incident.Task, ev *incident.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return fmt.Errorf("task %s: %w", task.ID, incident.ErrNotFound)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	s.appendEvent(ev)
	return nil
}

func (s *Store) ListTimeline(_ context.Context, incidentID string) ([]*incident.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.timeline[incidentID]
	out := make([]*incident.TimelineEvent, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		cp := *evs[i]
		cp.Detail = maps.Clone(evs[i].Detail)
		out = append(out, &cp)
	}
	return out, nil
}

// appendEvent must be called with s.mu held.
func (s *Store) appendEvent(ev *incident.TimelineEvent) {
	if ev == nil {
		return
	}
	cp := *ev
	cp.Detail = maps.Clone(ev.Detail)
	s.timeline[ev.IncidentID] = append(s.timeline[ev.IncidentID], &cp)
}

// linkedIDs must be called with s.mu held.
func (s *Store) linkedIDs(incidentID string) []string {
	ids := []string{}
	for _, l := range s.links {
		if l.IncidentID == incidentID {
			ids = append(ids, l.DetectionID)
		}
	}
	slices.Sort(ids)
	return ids
}

func copyDetection(d *incident.Detection) *incident.Detection {
	cp := *d
	cp.TechniqueTags = slices.Clone(d.TechniqueTags)
	if d.AssetID != nil {
		a := *d.AssetID
		cp.AssetID = &a
	}
	return &cp
}

func copyIncident(inc *incident.Incident) *incident.Incident {
	cp := *inc
	cp.LinkedDetectionIDs = slices.Clone(inc.LinkedDetectionIDs)
	cp.LinkedRiskIDs = slices.Clone(inc.LinkedRiskIDs)
	cp.Tags = slices.Clone(inc.Tags)
	return &cp
}
