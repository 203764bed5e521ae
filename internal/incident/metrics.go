package incident

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/linnemanlabs/respond/internal/incident")

// Hooks are optional callbacks fired at engine milestones. Nil fields are
// skipped.
type Hooks struct {
	OnDecision        func(kind string)
	OnPipeline        func(outcome string, duration float64)
	OnPlaybook        func(tasks int, degraded bool)
	OnIncidentCreated func(tier Tier)
	OnPhaseChange     func(from, to Phase)
	OnNotification    func(typ NotificationType, ok bool)
	OnRunComplete     func(created, linked, skipped int, duration float64)
	OnSLABreach       func(tier Tier)
}

// Metrics holds Prometheus metrics for the incident engine.
type Metrics struct {
	RunsTotal         prometheus.Counter
	RunDuration       prometheus.Histogram
	RunDetections     *prometheus.CounterVec
	DecisionsTotal    *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	IncidentsCreated  *prometheus.CounterVec
	PhaseChanges      *prometheus.CounterVec
	PlaybookTasks     prometheus.Histogram
	PlaybookDegraded  prometheus.Counter
	NotificationsSent *prometheus.CounterVec
	SLABreaches       *prometheus.CounterVec
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "respond_automation_runs_total",
			Help: "Total automation runs.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "respond_automation_run_duration_seconds",
			Help:    "Duration of automation runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s .. ~204s
		}),
		RunDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respond_automation_detections_total",
			Help: "Detections processed by automation runs, by outcome.",
		}, []string{"outcome"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respond_dedup_decisions_total",
			Help: "Dedup decisions by kind.",
		}, []string{"decision"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "respond_pipeline_duration_seconds",
			Help:    "Duration of a single detection pipeline in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"outcome"}),
		IncidentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respond_incidents_created_total",
			Help: "Incidents created by priority tier.",
		}, []string{"tier"}),
		PhaseChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respond_incident_phase_changes_total",
			Help: "Incident phase transitions.",
		}, []string{"from", "to"}),
		PlaybookTasks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "respond_playbook_tasks",
			Help:    "Tasks persisted per generated playbook.",
			Buckets: prometheus.LinearBuckets(0, 2, 13), // 0 .. 24
		}),
		PlaybookDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "respond_playbook_degraded_total",
			Help: "Playbooks that fell back to an empty task list.",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respond_notifications_total",
			Help: "Notifications by type and result.",
		}, []string{"type", "result"}),
		SLABreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "respond_sla_breaches_total",
			Help: "SLA breaches flagged by the sweep, by priority tier.",
		}, []string{"tier"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunDetections,
		m.DecisionsTotal,
		m.PipelineDuration,
		m.IncidentsCreated,
		m.PhaseChanges,
		m.PlaybookTasks,
		m.PlaybookDegraded,
		m.NotificationsSent,
		m.SLABreaches,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnDecision: func(kind string) {
			m.DecisionsTotal.WithLabelValues(kind).Inc()
		},
		OnPipeline: func(outcome string, duration float64) {
			m.RunDetections.WithLabelValues(outcome).Inc()
			m.PipelineDuration.WithLabelValues(outcome).Observe(duration)
		},
		OnPlaybook: func(tasks int, degraded bool) {
			if degraded {
				m.PlaybookDegraded.Inc()
			}
			m.PlaybookTasks.Observe(float64(tasks))
		},
		OnIncidentCreated: func(tier Tier) {
			m.IncidentsCreated.WithLabelValues(string(tier)).Inc()
		},
		OnPhaseChange: func(from, to Phase) {
			m.PhaseChanges.WithLabelValues(string(from), string(to)).Inc()
		},
		OnNotification: func(typ NotificationType, ok bool) {
			result := "success"
			if !ok {
				result = "error"
			}
			m.NotificationsSent.WithLabelValues(string(typ), result).Inc()
		},
		OnRunComplete: func(_, _, _ int, duration float64) {
			m.RunsTotal.Inc()
			m.RunDuration.Observe(duration)
		},
		OnSLABreach: func(tier Tier) {
			m.SLABreaches.WithLabelValues(string(tier)).Inc()
		},
	}
}
