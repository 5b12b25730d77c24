package monitoring

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single component check result
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Service   string        `json:"service"`
	Timestamp time.Time     `json:"timestamp"`
	Checks    []HealthCheck `json:"checks"`
}

// Pinger is any dependency that can report liveness
type Pinger interface {
	Health() error
}

// HealthHandler returns a handler reporting service and dependency health
func HealthHandler(serviceName string, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := HealthReport{
			Status:    HealthStatusHealthy,
			Service:   serviceName,
			Timestamp: time.Now(),
		}

		for name, dep := range deps {
			check := HealthCheck{Name: name, Status: HealthStatusHealthy}
			if err := dep.Health(); err != nil {
				check.Status = HealthStatusUnhealthy
				check.Message = err.Error()
				report.Status = HealthStatusUnhealthy
			}
			report.Checks = append(report.Checks, check)
		}

		statusCode := http.StatusOK
		if report.Status != HealthStatusHealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(report)
	}
}
