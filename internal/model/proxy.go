// Package model defines shared types for the gateway.
package model

import (
	"net/http"
)

// CallerIdentity is the authenticated user established before the proxy runs.
type CallerIdentity struct {
	UserID int64
	Roles  []string
}

// ProxyRequest is an inbound call captured once per request. Stages read it
// and never mutate it.
type ProxyRequest struct {
	Method   string
	Path     string // escaped path as received, gateway prefix included
	RawQuery string // forwarded verbatim
	Header   http.Header
	Body     []byte
	Caller   *CallerIdentity // nil for unauthenticated requests
}

// OutboundRequest is the fully prepared upstream call.
type OutboundRequest struct {
	Service string // logical service name, for logs and metrics
	Method  string
	URL     string
	Host    string // empty lets the transport derive Host from URL
	Header  http.Header
	Body    []byte
}

// ProxyResponse is a fully received upstream response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
