package respondapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/respond/internal/incident"
)

type taskUpdateRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
}

func (a *API) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req taskUpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	task, err := a.svc.UpdateTaskStatus(r.Context(), id, incident.TaskStatus(req.Status), req.Actor)
	if err != nil {
		a.engineError(w, r, err, "failed to update task", "task_id", id)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
