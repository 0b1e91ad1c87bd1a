package visualization

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"bouquet-visualizer/modules/common/model"
	"bouquet-visualizer/modules/common/utils"
	"bouquet-visualizer/modules/provider"
)

const maxOrderBody = 1 << 20

// Error codes in failed responses
const (
	CodeInvalidRequest = "invalid_request"
	CodeValidation     = "validation_error"
	CodeStorage        = "storage_error"
	CodeCancelled      = "cancelled"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
)

// Visualizer is what the handler needs from *Service.
type Visualizer interface {
	Visualize(ctx context.Context, order model.Order) (*model.VisualizationResult, error)
}

// StatusReporter - *provider.Provider
type StatusReporter interface {
	Status() provider.Status
}

// ImageOpener serves stored bytes back; only the local store has one.
type ImageOpener interface {
	Open(ref string) ([]byte, error)
}

// History lists every recorded result for an order, oldest first.
type History interface {
	History(ctx context.Context, orderID string) ([]model.VisualizationResult, error)
}

// Handler exposes the service over HTTP.
type Handler struct {
	svc     Visualizer
	lookup  Lookup
	history History
	status  StatusReporter
	images  ImageOpener
	logger  *slog.Logger
}

// HandlerOptions - Images and History may be nil; their routes are then not mounted.
type HandlerOptions struct {
	Service Visualizer
	Lookup  Lookup
	History History
	Status  StatusReporter
	Images  ImageOpener
	Logger  *slog.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		svc:     opts.Service,
		lookup:  opts.Lookup,
		history: opts.History,
		status:  opts.Status,
		images:  opts.Images,
		logger:  logger,
	}
}

// VisualizeResponse - POST /api/visualization
type VisualizeResponse struct {
	Success bool                       `json:"success"`
	Result  *model.VisualizationResult `json:"result,omitempty"`
	Error   string                     `json:"error,omitempty"`
	Code    string                     `json:"code,omitempty"`
	Field   string                     `json:"field,omitempty"`
}

// HistoryResponse - GET /api/visualizations/{orderId}/history
type HistoryResponse struct {
	Success bool                        `json:"success"`
	OrderID string                      `json:"orderId"`
	Results []model.VisualizationResult `json:"results"`
	Error   string                      `json:"error,omitempty"`
	Code    string                      `json:"code,omitempty"`
}

// RegisterRoutes - mounts the visualization routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/visualization", h.HandleVisualize).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/visualizations/{orderId}", h.HandleLatest).Methods("GET")
	if h.history != nil {
		r.HandleFunc("/api/visualizations/{orderId}/history", h.HandleHistory).Methods("GET")
	}
	r.HandleFunc("/api/model/status", h.HandleModelStatus).Methods("GET")
	if h.images != nil {
		r.HandleFunc("/images/{ref:.+}", h.HandleImage).Methods("GET")
	}
	r.HandleFunc("/health", h.HandleHealth).Methods("GET")
	r.HandleFunc("/", h.HandleHealth).Methods("GET")
}

// HandleVisualize - POST /api/visualization
func (h *Handler) HandleVisualize(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	var order model.Order
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxOrderBody))
	if err := dec.Decode(&order); err != nil {
		h.logger.Info("invalid visualization request", "err", err)
		writeJSON(w, http.StatusBadRequest, VisualizeResponse{Error: "invalid request body: " + err.Error(), Code: CodeInvalidRequest})
		return
	}

	result, err := h.svc.Visualize(r.Context(), order)
	if err != nil {
		status, resp := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("visualization failed", "order_id", order.ID, "err", err)
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, VisualizeResponse{Success: true, Result: result})
}

func errorResponse(err error) (int, VisualizeResponse) {
	var ve *model.ValidationError
	var se *model.StorageError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, VisualizeResponse{Error: err.Error(), Code: CodeValidation, Field: ve.Field}
	case errors.Is(err, context.Canceled):
		// also covers a StorageError from a save the caller walked away from
		return http.StatusServiceUnavailable, VisualizeResponse{Error: "request cancelled", Code: CodeCancelled}
	case errors.As(err, &se):
		return http.StatusInternalServerError, VisualizeResponse{Error: "image could not be stored", Code: CodeStorage}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, VisualizeResponse{Error: "request cancelled", Code: CodeCancelled}
	default:
		return http.StatusInternalServerError, VisualizeResponse{Error: "internal error", Code: CodeInternal}
	}
}

// HandleLatest - GET /api/visualizations/{orderId}
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	result, err := h.lookup.Latest(r.Context(), orderID)
	if errors.Is(err, model.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, VisualizeResponse{Error: "no visualization for order " + orderID, Code: CodeNotFound})
		return
	}
	if err != nil {
		h.logger.Error("latest lookup failed", "order_id", orderID, "err", err)
		writeJSON(w, http.StatusInternalServerError, VisualizeResponse{Error: "lookup failed", Code: CodeInternal})
		return
	}
	writeJSON(w, http.StatusOK, VisualizeResponse{Success: true, Result: &result})
}

// HandleHistory - GET /api/visualizations/{orderId}/history
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	results, err := h.history.History(r.Context(), orderID)
	if err != nil {
		h.logger.Error("history lookup failed", "order_id", orderID, "err", err)
		writeJSON(w, http.StatusInternalServerError, HistoryResponse{OrderID: orderID, Error: "lookup failed", Code: CodeInternal})
		return
	}
	if results == nil {
		results = []model.VisualizationResult{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Success: true, OrderID: orderID, Results: results})
}

// HandleModelStatus - GET /api/model/status; never triggers a load
func (h *Handler) HandleModelStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

// HandleImage - GET /images/{ref}
func (h *Handler) HandleImage(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	data, err := h.images.Open(ref)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		h.logger.Warn("image read failed", "ref", ref, "err", err)
		http.Error(w, "image unavailable", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", utils.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// HandleHealth - GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "bouquet-visualizer",
		"model":   h.status.Status(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
