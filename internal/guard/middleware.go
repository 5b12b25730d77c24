package guard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/healthgrid/accessd/internal/identity"
	"github.com/healthgrid/accessd/pkg/types"
)

type contextKey string

// overrideContextKey carries the override context on override-backed grants
const overrideContextKey contextKey = "emergency_override_context"

// OverrideContextFrom returns the override context attached to the request
// scope by an override-backed grant, if any.
func OverrideContextFrom(ctx context.Context) (*types.OverrideContext, bool) {
	oc, ok := ctx.Value(overrideContextKey).(*types.OverrideContext)
	return oc, ok
}

// Require returns middleware enforcing the requirement set on every request
// it wraps. The principal is read from the request context (set by the
// identity middleware), the patient id from the route or query string, and
// client network details from the request itself.
func (g *Guard) Require(req types.Requirement) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := identity.FromContext(r.Context())

			decision, err := g.Authorize(r.Context(), user, req, extractPatientID(r), ClientInfo{
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			})
			if err != nil {
				writeError(w, err)
				return
			}

			if decision.EmergencyOverride && decision.OverrideContext != nil {
				ctx := context.WithValue(r.Context(), overrideContextKey, decision.OverrideContext)
				r = r.WithContext(ctx)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractPatientID resolves the target patient from the route variables or,
// failing that, the query string. Operations carrying the patient id in a
// request body must place it in the route instead.
func extractPatientID(r *http.Request) string {
	if id, ok := mux.Vars(r)["patientId"]; ok && id != "" {
		return id
	}
	return r.URL.Query().Get("patient_id")
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError maps the error taxonomy onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	body := map[string]interface{}{
		"error": "internal error",
	}

	if accessErr, ok := types.AsAccessError(err); ok {
		statusCode = StatusCode(accessErr)
		body = map[string]interface{}{
			"error":   accessErr.Message,
			"type":    accessErr.Type,
			"code":    accessErr.Code,
			"details": accessErr.Details,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// StatusCode maps an AccessError onto its HTTP status
func StatusCode(err *types.AccessError) int {
	switch err.Type {
	case types.ErrorTypeUnauthenticated:
		return http.StatusUnauthorized
	case types.ErrorTypeForbidden:
		return http.StatusForbidden
	case types.ErrorTypeBadRequest:
		return http.StatusBadRequest
	case types.ErrorTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
