package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"journal-gateway/internal/config"
	"journal-gateway/internal/registry"
	"journal-gateway/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health, readiness and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	reg     *registry.Registry
	prober  *service.Prober
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, reg *registry.Registry, prober *service.Prober, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, reg: reg, prober: prober, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type routeStatus struct {
	Service string `json:"service"`
	Prefix  string `json:"prefix"`
	BaseURL string `json:"base_url"`
}

type statusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Prefix  string        `json:"prefix"`
	Routes  []routeStatus `json:"routes"`
}

// Status returns gateway status information and the route table.
func (h *HealthHandler) Status(c echo.Context) error {
	routes := h.reg.Routes()
	resp := statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Prefix:  h.cfg.Gateway.Prefix,
		Routes:  make([]routeStatus, 0, len(routes)),
	}
	for _, r := range routes {
		resp.Routes = append(resp.Routes, routeStatus{
			Service: r.Name,
			Prefix:  h.cfg.Gateway.Prefix + r.PathPrefix,
			BaseURL: r.BaseURL,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

type backendStatus struct {
	BaseURL    string   `json:"base_url"`
	Services   []string `json:"services"`
	Reachable  bool     `json:"reachable"`
	StatusCode int      `json:"status_code,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Readyz probes every backend and reports 503 unless all of them answer.
func (h *HealthHandler) Readyz(c echo.Context) error {
	results := h.prober.Probe(c.Request().Context())

	backends := make([]backendStatus, 0, len(results))
	for _, r := range results {
		b := backendStatus{
			BaseURL:    r.BaseURL,
			Services:   r.Services,
			Reachable:  r.Reachable,
			StatusCode: r.StatusCode,
		}
		if r.Err != nil {
			b.Error = r.Err.Error()
		}
		backends = append(backends, b)
	}

	status, code := "ready", http.StatusOK
	if !service.AllReachable(results) {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"status":   status,
		"backends": backends,
	})
}
