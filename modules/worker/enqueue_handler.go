package worker

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"bouquet-visualizer/modules/common/clock"
	"bouquet-visualizer/modules/common/model"
)

const maxJobBody = 1 << 20

// Handler exposes the job queue over HTTP.
type Handler struct {
	queue  JobQueue
	clock  clock.Clock
	logger *slog.Logger
}

func NewHandler(queue JobQueue, clk clock.Clock, logger *slog.Logger) *Handler {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{queue: queue, clock: clk, logger: logger}
}

// EnqueueResponse - POST /api/visualizations/jobs
type EnqueueResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
	Field         string `json:"field,omitempty"`
	JobID         string `json:"jobId,omitempty"`
	Queue         string `json:"queue,omitempty"`
	QueuePosition int64  `json:"position,omitempty"`
}

// RegisterRoutes - mounts the job routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/visualizations/jobs", h.HandleEnqueue).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/visualizations/jobs/{jobId}", h.HandleStatus).Methods("GET")
	r.HandleFunc("/api/visualizations/jobs/{jobId}/cancel", h.HandleCancel).Methods("POST", "OPTIONS")
}

// HandleEnqueue - validate the order, store a pending status, LPUSH the job
func (h *Handler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var order model.Order
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJobBody)).Decode(&order); err != nil {
		h.logger.Info("invalid enqueue request", "err", err)
		writeJSON(w, http.StatusBadRequest, EnqueueResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if err := order.Validate(); err != nil {
		var ve *model.ValidationError
		field := ""
		if errors.As(err, &ve) {
			field = ve.Field
		}
		writeJSON(w, http.StatusBadRequest, EnqueueResponse{Error: err.Error(), Field: field})
		return
	}

	job := model.Job{JobID: uuid.NewString(), Order: order, EnqueuedAt: h.clock.Now()}
	payload, err := json.Marshal(job)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, EnqueueResponse{Error: "could not encode job"})
		return
	}

	ctx := r.Context()
	pending := model.JobState{JobID: job.JobID, OrderID: order.ID, Status: model.StatusPending, UpdatedAt: job.EnqueuedAt}
	if err := h.queue.SaveState(ctx, pending); err != nil {
		h.logger.Error("saving pending state failed", "job_id", job.JobID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, EnqueueResponse{Error: "queue unavailable"})
		return
	}
	position, err := h.queue.Push(ctx, payload)
	if err != nil {
		h.logger.Error("enqueue failed", "job_id", job.JobID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, EnqueueResponse{Error: "queue unavailable"})
		return
	}

	h.logger.Info("job enqueued", "job_id", job.JobID, "order_id", order.ID, "position", position)
	writeJSON(w, http.StatusAccepted, EnqueueResponse{
		Success:       true,
		Message:       "Job enqueued successfully",
		JobID:         job.JobID,
		Queue:         h.queue.Name(),
		QueuePosition: position,
	})
}

// HandleStatus - GET /api/visualizations/jobs/{jobId}
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobId"]
	state, err := h.queue.State(r.Context(), jobID)
	if errors.Is(err, model.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("job status lookup failed", "job_id", jobID, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
