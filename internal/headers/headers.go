// Package headers strips connection-scoped headers at the proxy boundary.
package headers

import (
	"net/http"
	"strings"
)

// hopByHop is the lower-cased set of headers meaningful for a single hop only.
var hopByHop = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

// IsHopByHop reports whether name, compared case-insensitively, is a hop-by-hop header.
func IsHopByHop(name string) bool {
	_, ok := hopByHop[strings.ToLower(name)]
	return ok
}

// Sanitize returns a copy of h without hop-by-hop headers. Every other key
// keeps its spelling and its values in their original order. The input is
// not modified.
func Sanitize(h http.Header) http.Header {
	dst := make(http.Header, len(h))
	for key, vals := range h {
		if IsHopByHop(key) {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}
