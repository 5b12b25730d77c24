package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/types"
)

// Handler exposes the audit trail read API
type Handler struct {
	sink   *Sink
	logger *logger.Logger
}

// NewHandler creates a new audit HTTP handler
func NewHandler(sink *Sink, log *logger.Logger) *Handler {
	return &Handler{
		sink:   sink,
		logger: log,
	}
}

// RegisterRoutes attaches the audit read endpoints to the router. Callers
// are expected to wrap the router with the access guard requiring the
// view_audit_logs permission.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/logs", h.queryLogsHandler).Methods("GET")
	router.HandleFunc("/emergency-overrides", h.emergencyOverrideLogsHandler).Methods("GET")
	router.HandleFunc("/patients/{patientId}/history", h.patientHistoryHandler).Methods("GET")
}

// queryLogsHandler handles filtered, paginated audit trail queries
func (h *Handler) queryLogsHandler(w http.ResponseWriter, r *http.Request) {
	q := &types.AuditQuery{
		UserID:     r.URL.Query().Get("user_id"),
		PatientID:  r.URL.Query().Get("patient_id"),
		Department: types.Department(r.URL.Query().Get("department")),
		Action:     types.AuditAction(r.URL.Query().Get("action")),
	}

	if r.URL.Query().Get("emergency_only") == "true" {
		q.EmergencyOnly = true
	}

	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		q.Page = page
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		q.Limit = limit
	}

	if start := r.URL.Query().Get("start_date"); start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid start_date")
			return
		}
		q.StartTime = t
	}
	if end := r.URL.Query().Get("end_date"); end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid end_date")
			return
		}
		q.EndTime = t
	}

	page, err := h.sink.Query(r.Context(), q)
	if err != nil {
		h.logger.WithError(err).Error("Audit log query failed")
		h.writeError(w, http.StatusInternalServerError, "failed to query audit logs")
		return
	}

	h.writeJSON(w, http.StatusOK, page)
}

// emergencyOverrideLogsHandler returns all override-backed entries
func (h *Handler) emergencyOverrideLogsHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.sink.EmergencyOverrideLogs(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Emergency override log query failed")
		h.writeError(w, http.StatusInternalServerError, "failed to query emergency override logs")
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

// patientHistoryHandler returns every entry touching a patient
func (h *Handler) patientHistoryHandler(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientId"]

	entries, err := h.sink.PatientAccessHistory(r.Context(), patientID)
	if err != nil {
		h.logger.WithError(err).Error("Patient access history query failed")
		h.writeError(w, http.StatusInternalServerError, "failed to query patient access history")
		return
	}

	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, map[string]string{"error": message})
}
