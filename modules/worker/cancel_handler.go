package worker

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"bouquet-visualizer/modules/common/model"
)

// CancelResponse - POST /api/visualizations/jobs/{jobId}/cancel
type CancelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
}

// HandleCancel sets the job's cancel flag. A queued job is skipped; a running one
// is abandoned and its image is not stored.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	jobID := mux.Vars(r)["jobId"]
	ctx := r.Context()

	state, err := h.queue.State(ctx, jobID)
	if errors.Is(err, model.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("job status lookup failed", "job_id", jobID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		return
	}

	// finished jobs cannot be cancelled
	if model.JobFinished(state.Status) {
		writeJSON(w, http.StatusConflict, CancelResponse{
			Message: "Job already " + state.Status,
			JobID:   jobID,
			Status:  state.Status,
		})
		return
	}

	if err := h.queue.Cancel(ctx, jobID); err != nil {
		h.logger.Error("setting cancel flag failed", "job_id", jobID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		return
	}

	h.logger.Info("job cancel requested", "job_id", jobID, "status", state.Status)
	writeJSON(w, http.StatusOK, CancelResponse{
		Success: true,
		Message: "Cancel request sent",
		JobID:   jobID,
		Status:  state.Status,
	})
}
