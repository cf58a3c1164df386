// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"journal-gateway/internal/client"
	"journal-gateway/internal/config"
	"journal-gateway/internal/headers"
	"journal-gateway/internal/identity"
	"journal-gateway/internal/metrics"
	"journal-gateway/internal/model"
	"journal-gateway/internal/registry"
)

// Upstream sends a prepared request and returns the fully read response.
type Upstream interface {
	Do(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error)
}

var _ Upstream = (*client.UpstreamClient)(nil)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	upstream Upstream
	prefix   string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService.
// The metrics parameter is optional; pass nil to disable error accounting.
func NewProxyService(u Upstream, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		upstream: u,
		prefix:   cfg.Gateway.Prefix,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Forward relays pr to the route's backend and returns the complete response,
// or a *ProxyError. Upstream status codes are returned as-is; only transport
// failures are errors.
func (s *ProxyService) Forward(ctx context.Context, route registry.ServiceRoute, pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	out := s.outbound(route, pr)

	s.logger.Debug("forwarding request",
		"service", route.Name,
		"method", out.Method,
		"url", out.URL,
	)

	resp, err := s.upstream.Do(ctx, out)
	if err != nil {
		kind, sentinel := classify(err)
		if s.metrics != nil {
			s.metrics.UpstreamErrors.WithLabelValues(route.Name, kind).Inc()
		}
		return nil, &ProxyError{
			Op:      "forward",
			Service: route.Name,
			Target:  out.URL,
			Kind:    sentinel,
			Cause:   err,
		}
	}

	resp.Header = headers.Sanitize(resp.Header)
	return resp, nil
}

// outbound builds the upstream request. pr is left untouched.
func (s *ProxyService) outbound(route registry.ServiceRoute, pr *model.ProxyRequest) *model.OutboundRequest {
	header := headers.Sanitize(pr.Header)
	identity.Apply(header, pr.Caller)

	target := route.BaseURL + StripGatewayPrefix(pr.Path, s.prefix)
	if pr.RawQuery != "" {
		target += "?" + pr.RawQuery
	}

	return &model.OutboundRequest{
		Service: route.Name,
		Method:  pr.Method,
		URL:     target,
		Host:    s.upstreamHost(route),
		Header:  header,
		Body:    pr.Body,
	}
}

// upstreamHost returns the authority of the route's base URL. When it cannot
// be determined the override is skipped and the transport derives Host itself.
func (s *ProxyService) upstreamHost(route registry.ServiceRoute) string {
	host, err := hostOf(route.BaseURL)
	if err != nil {
		s.logger.Debug("omitting Host override",
			"service", route.Name,
			"err", err,
		)
		return ""
	}
	return host
}

func hostOf(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedBaseURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrMalformedBaseURL, baseURL)
	}
	return u.Host, nil
}
