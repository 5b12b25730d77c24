package override

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/healthgrid/accessd/internal/identity"
	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/types"
)

// Handler exposes the break-glass lifecycle API
type Handler struct {
	registry *Registry
	logger   *logger.Logger
}

// NewHandler creates a new override HTTP handler
func NewHandler(registry *Registry, log *logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   log,
	}
}

// RegisterRoutes attaches the override lifecycle endpoints to the router.
// Activation and deactivation authorize themselves through the registry's
// permission checks; the pending queue and review endpoints expose PHI and
// are wrapped with reviewGuard, which callers build from a requirement on
// view_audit_logs.
func (h *Handler) RegisterRoutes(router *mux.Router, reviewGuard mux.MiddlewareFunc) {
	router.HandleFunc("/activate", h.activateHandler).Methods("POST")
	router.HandleFunc("/deactivate", h.deactivateHandler).Methods("POST")
	router.Handle("/pending", reviewGuard(http.HandlerFunc(h.pendingReviewsHandler))).Methods("GET")
	router.Handle("/{id}/review", reviewGuard(http.HandlerFunc(h.reviewHandler))).Methods("POST")
}

type activateRequest struct {
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

// activateHandler activates a break-glass grant for the caller
func (h *Handler) activateHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeAccessError(w, types.NewUnauthenticatedError("no authenticated user found"))
		return
	}

	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAccessError(w, types.NewBadRequestError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if req.PatientID == "" {
		h.writeAccessError(w, types.NewBadRequestError(types.ErrCodeInvalidInput, "patient_id is required"))
		return
	}

	overrideCtx, err := h.registry.Activate(r.Context(), user, req.PatientID, req.Reason)
	if err != nil {
		h.handleError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, overrideCtx)
}

type deactivateRequest struct {
	PatientID string `json:"patient_id"`
}

// deactivateHandler revokes the caller's active grant for a patient
func (h *Handler) deactivateHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeAccessError(w, types.NewUnauthenticatedError("no authenticated user found"))
		return
	}

	var req deactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAccessError(w, types.NewBadRequestError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if req.PatientID == "" {
		h.writeAccessError(w, types.NewBadRequestError(types.ErrCodeInvalidInput, "patient_id is required"))
		return
	}

	if err := h.registry.Deactivate(r.Context(), user.ID, req.PatientID); err != nil {
		h.handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pendingReviewsHandler returns the compliance review queue
func (h *Handler) pendingReviewsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.registry.PendingReviews(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, records)
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// reviewHandler attaches the after-the-fact review to an override
func (h *Handler) reviewHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.FromContext(r.Context())
	if !ok {
		h.writeAccessError(w, types.NewUnauthenticatedError("no authenticated user found"))
		return
	}

	overrideID := mux.Vars(r)["id"]

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAccessError(w, types.NewBadRequestError(types.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	record, err := h.registry.Review(r.Context(), overrideID, user.ID, req.Notes)
	if err != nil {
		h.handleError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleError(w http.ResponseWriter, err error) {
	if accessErr, ok := types.AsAccessError(err); ok {
		h.writeAccessError(w, accessErr)
		return
	}

	h.logger.WithError(err).Error("Override operation failed")
	h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (h *Handler) writeAccessError(w http.ResponseWriter, err *types.AccessError) {
	statusCode := http.StatusInternalServerError
	switch err.Type {
	case types.ErrorTypeUnauthenticated:
		statusCode = http.StatusUnauthorized
	case types.ErrorTypeForbidden:
		statusCode = http.StatusForbidden
	case types.ErrorTypeBadRequest:
		statusCode = http.StatusBadRequest
	case types.ErrorTypeNotFound:
		statusCode = http.StatusNotFound
	}

	h.writeJSON(w, statusCode, map[string]interface{}{
		"error": err.Message,
		"type":  err.Type,
		"code":  err.Code,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}
