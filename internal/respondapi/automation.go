package respondapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/respond/internal/incident"
)

type runRequest struct {
	DetectionIDs        []string `json:"detection_ids"`
	SeverityThreshold   *int     `json:"severity_threshold"`
	ConfidenceThreshold *int     `json:"confidence_threshold"`
	TimeWindowHours     float64  `json:"time_window_hours"`
}

func (req runRequest) criteria() incident.Criteria {
	return incident.Criteria{
		DetectionIDs:        req.DetectionIDs,
		SeverityThreshold:   req.SeverityThreshold,
		ConfidenceThreshold: req.ConfidenceThreshold,
		TimeWindow:          time.Duration(req.TimeWindowHours * float64(time.Hour)),
	}
}

func (a *API) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	// an empty body runs with the configured defaults
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	report, err := a.svc.Run(r.Context(), req.criteria())
	if err != nil {
		a.engineError(w, r, err, "automation run failed")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.Int("respond.run.created", len(report.Created)),
		attribute.Int("respond.run.linked", len(report.Linked)),
		attribute.Int("respond.run.skipped", len(report.Skipped)),
	)
	writeJSON(w, http.StatusOK, report)
}
