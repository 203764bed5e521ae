package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// Config tunes the engine. Zero values take the package defaults.
type Config struct {
	Criteria        Criteria
	DedupWindow     time.Duration
	Owner           string
	Concurrency     int
	PlaybookTimeout time.Duration
}

// IncidentView is an incident together with its playbook.
type IncidentView struct {
	*Incident
	Tasks []*Task `json:"tasks"`
}

// Service is the business boundary the API layer and schedulers call.
type Service struct {
	store        Store
	manager      *Manager
	orchestrator *Orchestrator
	sweeper      *Sweeper
	logger       log.Logger
}

// NewService wires the engine components. seq may be nil to allocate
// numbers through the store; provider and notifier may be nil to disable
// playbook drafting and notifications.
func NewService(store Store, seq Sequencer, provider Provider, notifier Notifier, cfg Config, logger log.Logger, hooks Hooks) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	resolver := NewResolver(store, cfg.DedupWindow, logger)
	manager := NewManager(store, seq, cfg.Owner, logger, hooks)
	generator := NewGenerator(store, provider, cfg.PlaybookTimeout, logger, hooks)
	return &Service{
		store:        store,
		manager:      manager,
		orchestrator: NewOrchestrator(store, resolver, manager, generator, notifier, cfg.Criteria, cfg.Concurrency, logger, hooks),
		sweeper:      NewSweeper(store, notifier, logger, hooks),
		logger:       logger,
	}
}

// Run executes one automation run.
func (s *Service) Run(ctx context.Context, c Criteria) (*RunReport, error) {
	return s.orchestrator.Run(ctx, c)
}

// Advance moves an incident to its next phase.
func (s *Service) Advance(ctx context.Context, id string, target Phase, info ChangeInfo) (*Incident, error) {
	return s.manager.Advance(ctx, id, target, info)
}

// Close closes an incident.
func (s *Service) Close(ctx context.Context, id string, in CloseInput) (*Incident, error) {
	return s.manager.Close(ctx, id, in)
}

// UpdateTaskStatus changes a playbook task's status.
func (s *Service) UpdateTaskStatus(ctx context.Context, taskID string, status TaskStatus, actor string) (*Task, error) {
	return s.manager.UpdateTaskStatus(ctx, taskID, status, actor)
}

// LinkDetection manually attaches a detection to an incident.
func (s *Service) LinkDetection(ctx context.Context, detectionID, incidentID, actor string) (*Link, error) {
	return s.manager.LinkDetection(ctx, detectionID, incidentID, actor)
}

// Get returns an incident with its tasks, refreshing the breach flag.
func (s *Service) Get(ctx context.Context, id string) (*IncidentView, error) {
	inc, err := s.manager.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", id, err)
	}
	return &IncidentView{Incident: inc, Tasks: tasks}, nil
}

// Timeline returns an incident's audit events, newest first.
func (s *Service) Timeline(ctx context.Context, id string) ([]*TimelineEvent, error) {
	if _, err := s.manager.load(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListTimeline(ctx, id)
}

// SweepBreaches flags overdue incidents. See Sweeper.
func (s *Service) SweepBreaches(ctx context.Context) (int, error) {
	return s.sweeper.SweepBreaches(ctx)
}
