package respondapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/respond/internal/incident"
)

type advanceRequest struct {
	Phase  string `json:"phase"`
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type closeRequest struct {
	RootCause      *string `json:"root_cause"`
	LessonsLearned *string `json:"lessons_learned"`
	Actor          string  `json:"actor"`
	Reason         string  `json:"reason"`
}

type linkRequest struct {
	DetectionID string `json:"detection_id"`
	Actor       string `json:"actor"`
}

func incidentID(r *http.Request) string {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("respond.incident.id", id))
	return id
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := incidentID(r)
	view, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.engineError(w, r, err, "failed to get incident", "incident_id", id)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := incidentID(r)
	events, err := a.svc.Timeline(r.Context(), id)
	if err != nil {
		a.engineError(w, r, err, "failed to list timeline", "incident_id", id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id := incidentID(r)
	var req advanceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	target := incident.Phase(strings.TrimSpace(req.Phase))
	if !target.Valid() {
		writeError(w, http.StatusBadRequest, "unknown phase")
		return
	}

	inc, err := a.svc.Advance(r.Context(), id, target, incident.ChangeInfo{Actor: req.Actor, Reason: req.Reason})
	if err != nil {
		a.engineError(w, r, err, "failed to advance incident", "incident_id", id, "target", target)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleClose(w http.ResponseWriter, r *http.Request) {
	id := incidentID(r)
	var req closeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	inc, err := a.svc.Close(r.Context(), id, incident.CloseInput{
		RootCause:      req.RootCause,
		LessonsLearned: req.LessonsLearned,
		ChangeInfo:     incident.ChangeInfo{Actor: req.Actor, Reason: req.Reason},
	})
	if err != nil {
		a.engineError(w, r, err, "failed to close incident", "incident_id", id)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (a *API) handleLink(w http.ResponseWriter, r *http.Request) {
	id := incidentID(r)
	var req linkRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.DetectionID) == "" {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	link, err := a.svc.LinkDetection(r.Context(), req.DetectionID, id, req.Actor)
	if err != nil {
		a.engineError(w, r, err, "failed to link detection", "incident_id", id, "detection_id", req.DetectionID)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}
