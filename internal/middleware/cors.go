package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// CORS answers browser preflights and adds CORS headers to cross-origin
// responses. A "*" origin is reflected back so credentialed browser requests
// are accepted.
//
// Only a real preflight (OPTIONS carrying Origin and
// Access-Control-Request-Method) is answered here. Any other OPTIONS request
// reaches the route handler like every other method.
func CORS(origins, methods []string) echo.MiddlewareFunc {
	return echomw.CORSWithConfig(echomw.CORSConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().Method == http.MethodOptions && !IsPreflight(c.Request())
		},
		AllowOrigins:                             origins,
		AllowMethods:                             methods,
		AllowCredentials:                         true,
		UnsafeWildcardOriginWithAllowCredentials: true,
	})
}

// IsPreflight reports whether r is a CORS preflight request.
func IsPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get(echo.HeaderOrigin) != "" &&
		r.Header.Get(echo.HeaderAccessControlRequestMethod) != ""
}
