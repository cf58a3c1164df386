package service

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for proxy operations.
var (
	// ErrUpstreamUnavailable covers refused connections, DNS failures and other
	// transport faults, including an open circuit breaker.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamTimeout indicates that the upstream exceeded the request deadline.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrMalformedBaseURL indicates a configured base URL that does not parse.
	// It never fails a request; the Host override is omitted instead.
	ErrMalformedBaseURL = errors.New("malformed service base URL")
)

// ProxyError is a classified forwarding failure.
type ProxyError struct {
	Op      string // operation that failed
	Service string // logical service name
	Target  string // upstream URL
	Kind    error  // ErrUpstreamUnavailable or ErrUpstreamTimeout
	Cause   error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy error [%s] service=%s target=%s: %v: %v", e.Op, e.Service, e.Target, e.Kind, e.Cause)
	}
	return fmt.Sprintf("proxy error [%s] service=%s target=%s: %v", e.Op, e.Service, e.Target, e.Kind)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *ProxyError) Unwrap() []error {
	return []error{e.Kind, e.Cause}
}

// classify maps a client error to its kind label and sentinel.
func classify(err error) (string, error) {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", ErrUpstreamTimeout
	}
	if errors.Is(err, context.Canceled) {
		return "canceled", ErrUpstreamUnavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", ErrUpstreamTimeout
	}
	return "unavailable", ErrUpstreamUnavailable
}
