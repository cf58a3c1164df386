// Package client provides the pooled upstream HTTP client shared by all requests.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"journal-gateway/internal/config"
	"journal-gateway/internal/metrics"
	"journal-gateway/internal/model"
	"journal-gateway/internal/registry"
)

var (
	// ErrTooManyRedirects is returned when an upstream redirect chain exceeds the cap.
	ErrTooManyRedirects = errors.New("too many upstream redirects")

	// ErrResponseTooLarge is returned when an upstream body exceeds the size cap.
	ErrResponseTooLarge = errors.New("upstream response exceeds size limit")

	// ErrCircuitOpen is returned without contacting a backend whose breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

const (
	tracerName = "journal-gateway/client"

	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = 64 << 20
	defaultMaxRedirects     = 5
)

// UpstreamClient sends prepared requests to backend services. It is safe for
// concurrent use; the connection pool is process-wide.
type UpstreamClient struct {
	httpClient       *http.Client
	timeout          time.Duration
	maxResponseBytes int64
	breakers         map[string]*gobreaker.CircuitBreaker // by service name; aliases share one
	logger           *slog.Logger
	metrics          *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling, a
// per-request deadline and a bounded redirect chain.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // relay encoded bodies untouched
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxResponseBytes := cfg.Upstream.MaxResponseBytes
	if maxResponseBytes <= 0 {
		maxResponseBytes = defaultMaxResponseBytes
	}

	maxRedirects := cfg.Upstream.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = defaultMaxRedirects
	}

	c := &UpstreamClient{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, maxRedirects)
				}
				return nil
			},
		},
		timeout:          timeout,
		maxResponseBytes: maxResponseBytes,
		logger:           logger.With("component", "upstream_client"),
		metrics:          m,
	}

	if cfg.Upstream.CircuitBreaker.Enabled && reg != nil {
		c.breakers = c.newBreakers(cfg.Upstream.CircuitBreaker, reg)
	}

	return c
}

// newBreakers creates one breaker per distinct base URL.
func (c *UpstreamClient) newBreakers(cfg config.CircuitBreakerConfig, reg *registry.Registry) map[string]*gobreaker.CircuitBreaker {
	threshold := uint32(cfg.ConsecutiveFailures) //nolint:gosec // validated non-negative
	open := time.Duration(cfg.OpenSeconds) * time.Second

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for baseURL, services := range reg.BaseURLs() {
		cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        baseURL,
			MaxRequests: 1,
			Timeout:     open,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				c.logger.Warn("circuit breaker state change",
					"backend", name,
					"from", from.String(),
					"to", to.String(),
				)
				if c.metrics != nil {
					c.metrics.BreakerTransitions.WithLabelValues(name, to.String()).Inc()
				}
			},
			IsSuccessful: isBackendHealthy,
		})
		for _, svc := range services {
			breakers[svc] = cb
		}
	}
	return breakers
}

// isBackendHealthy reports whether err says nothing bad about the backend.
// Any HTTP response counts as healthy, as do client cancellations and
// oversized bodies.
func isBackendHealthy(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrResponseTooLarge)
}

// Do executes out against the upstream and returns the complete response.
// The response body is fully read and the connection released before Do
// returns, on every path.
func (c *UpstreamClient) Do(ctx context.Context, out *model.OutboundRequest) (*model.ProxyResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "upstream "+out.Service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", out.Method),
			attribute.String("url.full", out.URL),
			attribute.String("gateway.service", out.Service),
		),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, out.Method, out.URL, bytes.NewReader(out.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = out.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	if out.Host != "" {
		req.Host = out.Host
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	c.logger.Debug("upstream request",
		"service", out.Service,
		"method", out.Method,
		"url", out.URL,
	)

	if c.metrics != nil {
		c.metrics.UpstreamInFlight.Inc()
		defer c.metrics.UpstreamInFlight.Dec()
	}

	start := time.Now()
	resp, err := c.execute(out.Service, req)
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(out.Method)
	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(out.Service, method).Observe(duration)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream request failed")
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(out.Service, method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return resp, nil
}

// execute runs the round trip behind the service's breaker, if any.
func (c *UpstreamClient) execute(service string, req *http.Request) (*model.ProxyResponse, error) {
	cb, ok := c.breakers[service]
	if !ok {
		return c.roundTrip(req)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		return c.roundTrip(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, cb.Name())
	}
	if err != nil {
		return nil, err
	}
	return result.(*model.ProxyResponse), nil
}

// roundTrip sends req, following redirects, and buffers the final body.
func (c *UpstreamClient) roundTrip(req *http.Request) (*model.ProxyResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(body)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxResponseBytes)
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Ping issues a GET to url and reports the status code of whatever answers.
// Redirects are not followed and the body is discarded.
func (c *UpstreamClient) Ping(ctx context.Context, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := c.httpClient.Transport.RoundTrip(req)
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", url, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

// CloseIdleConnections releases pooled connections, used at shutdown.
func (c *UpstreamClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
