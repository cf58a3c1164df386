// Package registry maps logical service names to their configured backends.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"

	"journal-gateway/internal/config"
)

// ErrUnknownService is returned when no route is registered for a name.
var ErrUnknownService = errors.New("unknown service")

// ServiceRoute binds a logical service to its base URL and path prefix.
type ServiceRoute struct {
	Name       string
	BaseURL    string // absolute, no trailing slash
	PathPrefix string // unique across routes, e.g. "/articles"
}

// Registry is built once at startup and read concurrently afterwards.
type Registry struct {
	routes map[string]ServiceRoute
	sorted []ServiceRoute
}

// New builds the registry from validated configuration. Base URLs that do not
// parse are kept and logged; requests to them proceed without a Host override.
func New(cfg *config.Config, logger *slog.Logger) *Registry {
	logger = logger.With("component", "registry")

	routes := make([]ServiceRoute, 0, len(cfg.Services))
	for _, name := range cfg.ServiceNames() {
		route := ServiceRoute{
			Name:       name,
			BaseURL:    cfg.BaseURL(name),
			PathPrefix: cfg.Services[name].Prefix,
		}
		if _, err := url.Parse(route.BaseURL); err != nil {
			logger.Warn("service base url does not parse; Host override disabled",
				"service", name,
				"base_url", route.BaseURL,
				"err", err,
			)
		}
		if alias := cfg.Services[name].Alias; alias != "" {
			logger.Debug("service aliased", "service", name, "target", alias)
		}
		routes = append(routes, route)
	}
	return FromRoutes(routes...)
}

// FromRoutes builds a registry from explicit routes. Later duplicates of a
// name replace earlier ones.
func FromRoutes(routes ...ServiceRoute) *Registry {
	r := &Registry{routes: make(map[string]ServiceRoute, len(routes))}
	for _, route := range routes {
		r.routes[route.Name] = route
	}
	r.sorted = make([]ServiceRoute, 0, len(r.routes))
	for _, route := range r.routes {
		r.sorted = append(r.sorted, route)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i].Name < r.sorted[j].Name })
	return r
}

// Resolve returns the base URL for a logical service name.
func (r *Registry) Resolve(name string) (string, error) {
	route, err := r.Route(name)
	if err != nil {
		return "", err
	}
	return route.BaseURL, nil
}

// Route returns the full route for a logical service name.
func (r *Registry) Route(name string) (ServiceRoute, error) {
	route, ok := r.routes[name]
	if !ok {
		return ServiceRoute{}, fmt.Errorf("%w: %q", ErrUnknownService, name)
	}
	return route, nil
}

// Routes returns all routes ordered by name. The slice must not be modified.
func (r *Registry) Routes() []ServiceRoute {
	return r.sorted
}

// BaseURLs returns the distinct base URLs with the services sharing each one.
func (r *Registry) BaseURLs() map[string][]string {
	out := make(map[string][]string)
	for _, route := range r.sorted {
		out[route.BaseURL] = append(out[route.BaseURL], route.Name)
	}
	return out
}
