package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/healthgrid/accessd/internal/audit"
	"github.com/healthgrid/accessd/internal/guard"
	"github.com/healthgrid/accessd/internal/identity"
	"github.com/healthgrid/accessd/internal/override"
	"github.com/healthgrid/accessd/internal/policy"
	"github.com/healthgrid/accessd/pkg/config"
	"github.com/healthgrid/accessd/pkg/database"
	"github.com/healthgrid/accessd/pkg/logger"
	"github.com/healthgrid/accessd/pkg/monitoring"
	"github.com/healthgrid/accessd/pkg/types"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting access service")

	// Initialize database connection
	db, err := database.NewConnection(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	// Initialize stores
	auditStore, err := audit.NewPostgresStore(db, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize audit store")
		os.Exit(1)
	}

	overrideStore, err := override.NewPostgresStore(db, log)
	if err != nil {
		log.WithError(err).Error("Failed to initialize override store")
		os.Exit(1)
	}

	// Initialize core components
	sink := audit.NewSink(auditStore, log, cfg.Audit.DefaultPageSize, cfg.Audit.MaxPageSize)
	pol := policy.New()
	registry := override.NewRegistry(overrideStore, pol, sink, log, cfg.Override.TTL)
	accessGuard := guard.New(pol, registry, sink, log)
	resolver := identity.NewResolver(cfg.Identity.JWTSecret, cfg.Identity.Issuer, log)

	// Build router
	router := mux.NewRouter()
	router.Use(monitoring.HTTPMetricsMiddleware)
	router.Use(resolver.Middleware)

	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, monitoring.Handler()).Methods("GET")
	}
	router.HandleFunc(cfg.Monitoring.HealthPath, monitoring.HealthHandler("access-service", map[string]monitoring.Pinger{
		"database": db,
	})).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// Audit trail read API, restricted to audit log viewers
	auditRouter := api.PathPrefix("/audit").Subrouter()
	auditRouter.Use(accessGuard.Require(types.Requirement{
		RequiredPermissions: []types.Permission{types.PermissionViewAuditLogs},
		AuditResource:       "audit_log",
	}))
	audit.NewHandler(sink, log).RegisterRoutes(auditRouter)

	// Break-glass lifecycle API. Activation and deactivation authorize
	// themselves through the registry's permission checks; the review queue
	// is restricted to audit log viewers.
	overrideRouter := api.PathPrefix("/overrides").Subrouter()
	override.NewHandler(registry, log).RegisterRoutes(overrideRouter, accessGuard.Require(types.Requirement{
		RequiredPermissions: []types.Permission{types.PermissionViewAuditLogs},
		AuditResource:       "emergency_override",
	}))

	// Example guarded PHI routes demonstrating per-operation requirements
	registerPatientRoutes(api, accessGuard)

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP server failed")
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down access service")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}

	log.Info("Access service stopped")
}

// registerPatientRoutes wires the patient-facing routes each protected by a
// declarative requirement set.
func registerPatientRoutes(api *mux.Router, accessGuard *guard.Guard) {
	records := api.PathPrefix("/patients/{patientId}/records").Subrouter()
	records.Use(accessGuard.Require(types.Requirement{
		RequiredRoles:          []types.Role{types.RoleDoctor, types.RoleNurse, types.RoleAdmin},
		RequiredPermissions:    []types.Permission{types.PermissionReadMedicalRecords},
		AllowEmergencyOverride: true,
		AuditResource:          "medical_record",
	}))
	records.HandleFunc("", placeholderHandler).Methods("GET")

	prescriptions := api.PathPrefix("/patients/{patientId}/prescriptions").Subrouter()
	prescriptions.Use(accessGuard.Require(types.Requirement{
		RequiredPermissions: []types.Permission{types.PermissionReadPrescriptions},
		AuditResource:       "prescription",
	}))
	prescriptions.HandleFunc("", placeholderHandler).Methods("GET")
}

// placeholderHandler stands in for the record/pharmacy services that consume
// this core; they live in their own services and are not part of this
// repository.
func placeholderHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"authorized"}`)
}
