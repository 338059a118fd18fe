package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/rolegate/signing"
	"github.com/upb/rolegate/utils"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// KeySource exposes the active signing key set
type KeySource interface {
	Current() *signing.KeySet
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	db     *sql.DB
	keys   KeySource
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. db may be nil when no audit
// database is configured.
func NewHealthHandler(db *sql.DB, keys KeySource, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		keys:   keys,
		logger: logger,
	}
}

// HandleHealth handles GET /healthz
// Basic health check - always returns 200 if service is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	_ = utils.WriteOK(w, response)
}

// HandleReadiness handles GET /readyz
// Ready once signing keys are loaded and the audit database answers
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if err := h.checkKeys(); err != nil {
		h.logger.Warn("signing key check failed", zap.Error(err))
		checks["signing_keys"] = "unhealthy"
		allHealthy = false
	} else {
		checks["signing_keys"] = "healthy"
	}

	if h.db != nil {
		if err := h.checkDatabase(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = "unhealthy"
			allHealthy = false
		} else {
			checks["database"] = "healthy"
		}
	}

	timestamp := time.Now().UTC().Format(time.RFC3339)

	if !allHealthy {
		details := map[string]interface{}{
			"status":    "unhealthy",
			"timestamp": timestamp,
			"checks":    checks,
		}
		if err := utils.WriteServiceUnavailable(w, "Service not ready", details); err != nil {
			h.logger.Error("failed to write readiness response", zap.Error(err))
		}
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: timestamp,
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

func (h *HealthHandler) checkKeys() error {
	if h.keys == nil {
		return errors.New("no key source")
	}
	if set := h.keys.Current(); set == nil || set.Len() == 0 {
		return errors.New("no signing keys loaded")
	}
	return nil
}

// checkDatabase checks database connectivity
func (h *HealthHandler) checkDatabase(ctx context.Context) error {
	if err := h.db.PingContext(ctx); err != nil {
		return err
	}

	var result int
	if err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}

	return nil
}
