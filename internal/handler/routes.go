package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"journal-gateway/internal/config"
	"journal-gateway/internal/metrics"
	"journal-gateway/internal/registry"
)

// ProxyMethods is every method the gateway relays.
var ProxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// RouteEntry binds one (service, method) pair to the proxy handler.
type RouteEntry struct {
	Route  registry.ServiceRoute
	Method string
}

// RouteTable lists one entry per service and method, ordered by service name.
func RouteTable(reg *registry.Registry, methods []string) []RouteEntry {
	routes := reg.Routes()
	table := make([]RouteEntry, 0, len(routes)*len(methods))
	for _, route := range routes {
		for _, method := range methods {
			table = append(table, RouteEntry{Route: route, Method: method})
		}
	}
	return table
}

// Patterns expands a service prefix into its concrete route patterns: the
// bare prefix, the prefix root and everything nested under it. Registering
// all three keeps the router from answering "/prefix" with a redirect.
func Patterns(prefix string) []string {
	return []string{prefix, prefix + "/", prefix + "/*"}
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, reg *registry.Registry, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/readyz", health.Readyz)
	e.GET("/gateway/status", health.Status)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	g := e.Group(cfg.Gateway.Prefix)
	handlers := make(map[string]echo.HandlerFunc)
	for _, entry := range RouteTable(reg, ProxyMethods) {
		h, ok := handlers[entry.Route.Name]
		if !ok {
			h = proxy.Handle(entry.Route)
			handlers[entry.Route.Name] = h
		}
		for _, pattern := range Patterns(entry.Route.PathPrefix) {
			g.Add(entry.Method, pattern, h)
		}
	}

	e.RouteNotFound("/*", proxy.NotFound)
}
