// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"net/http"

	"github.com/jeremyhahn/go-konnektor/pkg/health"
)

// LivenessHandler handles GET /health/live requests. It never touches the
// connector.
func (h *HandlerContext) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	if h.HealthChecker == nil {
		writeJSON(w, HealthCheckResponse{
			Status:  health.StatusHealthy,
			Message: "Service is alive",
			Version: h.Version,
		}, http.StatusOK)
		return
	}

	result := h.HealthChecker.Live(r.Context())

	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, HealthCheckResponse{
		Status:  result.Status,
		Message: result.Message,
		Version: h.Version,
	}, statusCode)
}

// ReadinessHandler handles GET /health/ready requests by running the
// function tests: connector reachability, card readability, IDP
// reachability and CA certificates.
//
// A degraded result still answers 200 so that a missing HBA does not take
// the API out of service.
func (h *HandlerContext) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.HealthChecker == nil {
		writeJSON(w, HealthCheckResponse{
			Status:  health.StatusHealthy,
			Message: "Service is ready",
			Version: h.Version,
		}, http.StatusOK)
		return
	}

	report := h.HealthChecker.Run(r.Context())

	resp := HealthCheckResponse{
		Status:  report.Status,
		Checks:  report.Checks,
		Version: h.Version,
	}
	switch report.Status {
	case health.StatusHealthy:
		resp.Message = "All checks passed"
	case health.StatusDegraded:
		resp.Message = "Service is degraded"
	case health.StatusUnhealthy:
		resp.Message = "One or more checks failed"
	}

	statusCode := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, resp, statusCode)
}
