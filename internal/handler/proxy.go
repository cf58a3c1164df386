package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"journal-gateway/internal/identity"
	"journal-gateway/internal/model"
	"journal-gateway/internal/registry"
	"journal-gateway/internal/service"
)

// ProxyHandler relays requests to backend services.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle returns the handler for one service route. The upstream response is
// received in full before anything is written, so a failure always produces a
// single well-formed error response.
func (h *ProxyHandler) Handle(route registry.ServiceRoute) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		body, err := io.ReadAll(req.Body)
		if err != nil {
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return he // body limit exceeded
			}
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": "could not read request body",
			})
		}

		pr := &model.ProxyRequest{
			Method:   req.Method,
			Path:     req.URL.EscapedPath(),
			RawQuery: req.URL.RawQuery,
			Header:   req.Header,
			Body:     body,
			Caller:   identity.FromContext(req.Context()),
		}

		resp, err := h.service.Forward(req.Context(), route, pr)
		if err != nil {
			return h.mapError(c, err)
		}

		// Upstream values replace gateway defaults of the same name.
		dst := c.Response().Header()
		for key, vals := range resp.Header {
			dst[key] = vals
		}

		c.Response().WriteHeader(resp.StatusCode)
		if _, err := c.Response().Write(resp.Body); err != nil {
			h.logger.Warn("writing response body",
				"err", err,
				"service", route.Name,
				"path", req.URL.Path,
			)
		}
		return nil
	}
}

// NotFound answers paths that match no service prefix.
func (h *ProxyHandler) NotFound(c echo.Context) error {
	return writeError(c, fmt.Errorf("%w: %s", registry.ErrUnknownService, c.Request().URL.Path))
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)
	return writeError(c, err)
}

// writeError maps err to a status and a minimal JSON body.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, registry.ErrUnknownService):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "unknown service",
		})
	case errors.Is(err, service.ErrUpstreamTimeout):
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	default:
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream unavailable",
		})
	}
}
