// Package respondapi exposes the incident engine over HTTP.
package respondapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/respond/internal/incident"
)

// IncidentService defines the business operations the API needs.
type IncidentService interface {
	Run(ctx context.Context, c incident.Criteria) (*incident.RunReport, error)
	Get(ctx context.Context, id string) (*incident.IncidentView, error)
	Timeline(ctx context.Context, id string) ([]*incident.TimelineEvent, error)
	Advance(ctx context.Context, id string, target incident.Phase, info incident.ChangeInfo) (*incident.Incident, error)
	Close(ctx context.Context, id string, in incident.CloseInput) (*incident.Incident, error)
	LinkDetection(ctx context.Context, detectionID, incidentID, actor string) (*incident.Link, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status incident.TaskStatus, actor string) (*incident.Task, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    IncidentService
}

// New creates a new API handler.
func New(logger log.Logger, svc IncidentService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("incident service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/automation/run", a.handleRun)
		r.Route("/incidents/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetIncident)
			r.Get("/timeline", a.handleTimeline)
			r.Post("/advance", a.handleAdvance)
			r.Post("/close", a.handleClose)
			r.Post("/links", a.handleLink)
		})
		r.Patch("/tasks/{id}", a.handleUpdateTask)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// engineError maps engine errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without detail.
func (a *API) engineError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	var te *incident.TransitionError
	switch {
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"from":  string(te.From),
			"to":    string(te.To),
		})
	case errors.Is(err, incident.ErrInvalidTransition),
		errors.Is(err, incident.ErrAlreadyLinked),
		errors.Is(err, incident.ErrIncidentClosed),
		errors.Is(err, incident.ErrNumberAllocationConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, incident.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, incident.ErrInvalidTaskStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
