package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"journal-gateway/internal/client"
	"journal-gateway/internal/config"
	"journal-gateway/internal/registry"
	"journal-gateway/internal/service"
)

func newHealthHandler(prefix string, routes ...registry.ServiceRoute) *HealthHandler {
	cfg := &config.Config{
		Gateway:  config.GatewayConfig{Prefix: prefix},
		Upstream: config.UpstreamConfig{TimeoutSeconds: 2, IdleConnections: 2},
	}
	reg := registry.FromRoutes(routes...)
	uc := client.NewUpstreamClient(cfg, nil, testLogger(), nil)
	return NewHealthHandler(cfg, reg, service.NewProber(uc, reg, testLogger()), "1.2.3")
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newHealthHandler("")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/gateway/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newHealthHandler("/api",
		registry.ServiceRoute{Name: "articles", BaseURL: "http://articles:8000", PathPrefix: "/articles"},
		registry.ServiceRoute{Name: "volumes", BaseURL: "http://articles:8000", PathPrefix: "/volumes"},
	)
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Version != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body.Version, "1.2.3")
	}
	if body.Prefix != "/api" {
		t.Errorf("body.prefix = %q, want %q", body.Prefix, "/api")
	}
	if len(body.Routes) != 2 {
		t.Fatalf("len(body.routes) = %d, want 2", len(body.Routes))
	}
	if r := body.Routes[1]; r.Service != "volumes" || r.Prefix != "/api/volumes" || r.BaseURL != "http://articles:8000" {
		t.Errorf("body.routes[1] = %+v, want volumes under /api on the articles backend", r)
	}
}

func TestReadyz(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer up.Close()

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	tests := []struct {
		name       string
		routes     []registry.ServiceRoute
		wantStatus int
		wantBody   string
	}{
		{
			name: "all reachable",
			routes: []registry.ServiceRoute{
				{Name: "articles", BaseURL: up.URL, PathPrefix: "/articles"},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ready",
		},
		{
			name: "one down",
			routes: []registry.ServiceRoute{
				{Name: "articles", BaseURL: up.URL, PathPrefix: "/articles"},
				{Name: "reviews", BaseURL: downURL, PathPrefix: "/reviews"},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := newHealthHandler("/api", tt.routes...)
			if err := h.Readyz(c); err != nil {
				t.Fatalf("Readyz() error = %v", err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}

			var body struct {
				Status   string          `json:"status"`
				Backends []backendStatus `json:"backends"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("body.status = %q, want %q", body.Status, tt.wantBody)
			}
			if len(body.Backends) != len(tt.routes) {
				t.Errorf("len(body.backends) = %d, want %d", len(body.Backends), len(tt.routes))
			}
			for _, b := range body.Backends {
				if b.BaseURL == up.URL && (!b.Reachable || b.StatusCode != http.StatusNotFound) {
					t.Errorf("backend %s = %+v, want reachable with 404", b.BaseURL, b)
				}
				if b.BaseURL == downURL && (b.Reachable || b.Error == "") {
					t.Errorf("backend %s = %+v, want unreachable with error", b.BaseURL, b)
				}
			}
		})
	}
}
