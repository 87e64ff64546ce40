// Package handler provides HTTP handlers for the PurePulse API.
package handler

import (
	"net/http"
	"time"

	"github.com/purepulse/purepulse/internal/airquality"
	"github.com/purepulse/purepulse/internal/api/models"
	"github.com/purepulse/purepulse/internal/api/response"
	"github.com/purepulse/purepulse/internal/transport"
)

// Throttle exposes the PurpleAir request counter.
type Throttle interface {
	Counts() airquality.Counts
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	providers *transport.Registry
	throttle  Throttle
}

// NewOpsHandler creates a new OpsHandler. providers and throttle may be nil.
func NewOpsHandler(version, buildTime string, providers *transport.Registry, throttle Throttle) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		providers: providers,
		throttle:  throttle,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// SystemStatus handles GET /v1/ops/status - provider circuit state and the
// extraction throttle. The overall status is the worst provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Providers: []models.ProviderStatus{},
	}

	if h.providers != nil {
		for _, health := range h.providers.All() {
			ps := providerStatus(health)
			status.Providers = append(status.Providers, ps)
			status.Status = worst(status.Status, ps.Status)
		}
	}
	if h.throttle != nil {
		counts := h.throttle.Counts()
		status.Throttle = &models.ThrottleStatus{TotalRequests: counts.Total, KeyRequests: counts.Key}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func providerStatus(h *transport.Health) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:            h.Name,
		Status:              models.HealthStatusOK,
		CircuitState:        h.CircuitState.String(),
		ConsecutiveFailures: h.Counts.ConsecutiveFailures,
		LastSuccessAt:       timestamp(h.LastSuccessAt),
		LastFailureAt:       timestamp(h.LastFailureAt),
	}
	switch {
	case h.IsUnhealthy():
		ps.Status = models.HealthStatusFail
	case h.IsDegraded():
		ps.Status = models.HealthStatusDegraded
	}
	if h.LastError != "" {
		msg := h.LastError
		ps.Message = &msg
	}
	return ps
}

func timestamp(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
