// Package identity carries the authenticated caller through the request
// context and asserts it to upstream services as trusted headers.
package identity

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"journal-gateway/internal/model"
)

// Trusted headers the gateway asserts toward backends.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRoles = "X-User-Roles"
)

type contextKey struct{}

// WithCaller returns a context carrying the given identity.
func WithCaller(ctx context.Context, caller *model.CallerIdentity) context.Context {
	return context.WithValue(ctx, contextKey{}, caller)
}

// FromContext returns the identity attached by the authentication layer, or nil.
func FromContext(ctx context.Context) *model.CallerIdentity {
	caller, _ := ctx.Value(contextKey{}).(*model.CallerIdentity)
	return caller
}

// Apply asserts caller on h. Any client-supplied identity headers are removed
// first, so backends only ever see values the gateway set. With a nil caller
// no identity headers remain. An empty role list produces no roles header.
func Apply(h http.Header, caller *model.CallerIdentity) {
	for key := range h {
		if strings.EqualFold(key, HeaderUserID) || strings.EqualFold(key, HeaderUserRoles) {
			delete(h, key)
		}
	}
	if caller == nil {
		return
	}

	h.Set(HeaderUserID, strconv.FormatInt(caller.UserID, 10))
	if len(caller.Roles) > 0 {
		h.Set(HeaderUserRoles, strings.Join(caller.Roles, ","))
	}
}
