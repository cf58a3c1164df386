package service

import "strings"

// StripGatewayPrefix returns path relative to the gateway prefix. An empty
// prefix, or a path outside it, yields path unchanged. A stripped result
// always starts with "/".
func StripGatewayPrefix(path, prefix string) string {
	if prefix == "" || !strings.HasPrefix(path, prefix) {
		return path
	}
	rel := path[len(prefix):]
	if rel == "" {
		return "/"
	}
	if rel[0] != '/' {
		rel = "/" + rel
	}
	return rel
}
