// Package handlers provides HTTP request handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sagaclaw/sagaclaw/pkg/api/middleware"
	"github.com/sagaclaw/sagaclaw/pkg/api/models"
	"github.com/sagaclaw/sagaclaw/pkg/api/response"
	"github.com/sagaclaw/sagaclaw/pkg/coordinator"
	"github.com/sagaclaw/sagaclaw/pkg/logger"
)

const defaultListLimit = 20

// TransactionHandler serves the transaction API endpoints.
type TransactionHandler struct {
	coord     *coordinator.Coordinator
	logger    logger.Logger
	validator *validator.Validate
}

// NewTransactionHandler creates a transaction handler.
func NewTransactionHandler(coord *coordinator.Coordinator, log logger.Logger) *TransactionHandler {
	return &TransactionHandler{
		coord:     coord,
		logger:    log,
		validator: validator.New(),
	}
}

// Submit handles POST /api/v1/transactions.
func (h *TransactionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req models.TransactionSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	steps := make([]coordinator.SagaStep, 0, len(req.Steps))
	for _, stepReq := range req.Steps {
		steps = append(steps, stepReq.ToSagaStep())
	}

	var opts []coordinator.StartOption
	if req.TransactionID != "" {
		opts = append(opts, coordinator.WithTransactionID(req.TransactionID))
	}
	if req.TimeoutMS > 0 {
		opts = append(opts, coordinator.WithSagaTimeout(time.Duration(req.TimeoutMS)*time.Millisecond))
	}

	transactionID, err := h.coord.StartSaga(r.Context(), steps, opts...)
	if err != nil {
		h.writeCoordinatorError(w, err, requestID)
		return
	}

	view, err := h.coord.GetTransactionStatus(r.Context(), transactionID)
	if err != nil {
		// The saga started; report acceptance even if the read-back raced.
		response.JSON(w, http.StatusAccepted, models.TransactionSubmitResponse{
			TransactionID: transactionID,
			Status:        coordinator.StatusPending.String(),
		})
		return
	}

	response.JSON(w, http.StatusAccepted, models.TransactionSubmitResponse{
		TransactionID: transactionID,
		Status:        view.Status.String(),
		CreatedAt:     view.CreatedAt,
	})
}

// Get handles GET /api/v1/transactions/{id}.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	transactionID := chi.URLParam(r, "id")
	if transactionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "transaction id is required", requestID)
		return
	}

	view, err := h.coord.GetTransactionStatus(r.Context(), transactionID)
	if err != nil {
		h.writeCoordinatorError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, statusResponse(view))
}

// List handles GET /api/v1/transactions.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	filter := coordinator.TransactionFilter{
		Limit:  defaultListLimit,
		Offset: 0,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			filter.Limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := coordinator.ParseStatus(raw)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "unknown status: "+raw, requestID)
			return
		}
		filter.Statuses = []coordinator.Status{status}
	}

	records, total, err := h.coord.ListTransactions(r.Context(), filter)
	if err != nil {
		h.writeCoordinatorError(w, err, requestID)
		return
	}

	items := make([]models.TransactionSummary, 0, len(records))
	for _, rec := range records {
		items = append(items, models.TransactionSummary{
			TransactionID: rec.TransactionID,
			Status:        rec.Status.String(),
			CreatedAt:     rec.CreatedAt,
			UpdatedAt:     rec.UpdatedAt,
		})
	}

	response.JSON(w, http.StatusOK, models.TransactionListResponse{
		Items:  items,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// Cancel handles POST /api/v1/transactions/{id}/cancel.
func (h *TransactionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	transactionID := chi.URLParam(r, "id")
	if transactionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "transaction id is required", requestID)
		return
	}

	cancelled, err := h.coord.CancelTransaction(r.Context(), transactionID)
	if err != nil {
		h.writeCoordinatorError(w, err, requestID)
		return
	}

	status := http.StatusAccepted
	if !cancelled {
		// Distinguish an unknown transaction from one in a state that
		// cannot be cancelled.
		if _, getErr := h.coord.GetTransactionStatus(r.Context(), transactionID); getErr != nil {
			h.writeCoordinatorError(w, getErr, requestID)
			return
		}
		status = http.StatusConflict
	}
	response.JSON(w, status, models.CancelResponse{
		TransactionID: transactionID,
		Cancelled:     cancelled,
	})
}

// writeCoordinatorError maps coordinator errors onto API status codes.
func (h *TransactionHandler) writeCoordinatorError(w http.ResponseWriter, err error, requestID string) {
	switch {
	case coordinator.IsValidationError(err):
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
	case errors.Is(err, coordinator.ErrTransactionNotFound):
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "transaction not found", requestID)
	case errors.Is(err, coordinator.ErrCoordinatorStopped):
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, "coordinator is not running", requestID)
	default:
		h.logger.Error("transaction API error", "error", err)
		response.Error(w, http.StatusInternalServerError, response.ErrCodeInternalServer, err.Error(), requestID)
	}
}

func statusResponse(view *coordinator.TransactionView) models.TransactionStatusResponse {
	resp := models.TransactionStatusResponse{
		TransactionID:  view.TransactionID,
		Status:         view.Status.String(),
		Steps:          []models.StepStatusView{},
		CompletedSteps: []string{},
		FailedSteps:    []string{},
		CreatedAt:      view.CreatedAt,
		UpdatedAt:      view.UpdatedAt,
		TimeoutAt:      view.TimeoutAt,
	}
	if view.ExecutionLog == nil {
		return resp
	}
	for _, exec := range view.ExecutionLog.Steps {
		resp.Steps = append(resp.Steps, models.StepStatusView{
			StepID:     exec.StepID,
			Status:     exec.Status.String(),
			StartTime:  exec.StartTime,
			EndTime:    exec.EndTime,
			Result:     exec.Result,
			Error:      exec.Error,
			RetryCount: exec.RetryCount,
		})
	}
	resp.CompletedSteps = append(resp.CompletedSteps, view.ExecutionLog.CompletedSteps...)
	resp.FailedSteps = append(resp.FailedSteps, view.ExecutionLog.FailedSteps...)
	return resp
}
