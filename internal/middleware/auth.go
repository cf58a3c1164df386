package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"journal-gateway/internal/identity"
	"journal-gateway/internal/model"
)

var (
	errNoToken        = errors.New("no bearer token")
	errNotIdentity    = errors.New("token is not an identity token")
	errInvalidSubject = errors.New("token subject is not a user id")
)

// Claims is the payload of an identity token issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
	// Purpose marks single-use tokens such as email verification links.
	Purpose string `json:"purpose,omitempty"`
}

// Authenticate returns a middleware that attaches the caller identity from a
// valid HS256 bearer token to the request context. It never rejects a
// request: a missing or invalid token only means no identity. With an empty
// secret it does nothing.
func Authenticate(secret string, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "auth")
	key := []byte(secret)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if secret == "" {
			return next
		}
		return func(c echo.Context) error {
			req := c.Request()

			caller, err := parseCaller(key, req.Header.Get(echo.HeaderAuthorization))
			if err != nil {
				if !errors.Is(err, errNoToken) {
					logger.Debug("ignoring bearer token", "err", err, "path", req.URL.Path)
				}
				return next(c)
			}

			c.SetRequest(req.WithContext(identity.WithCaller(req.Context(), caller)))
			return next(c)
		}
	}
}

func parseCaller(key []byte, authHeader string) (*model.CallerIdentity, error) {
	tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
	if !found || tokenString == "" {
		return nil, errNoToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if claims.Purpose != "" {
		return nil, fmt.Errorf("%w: purpose %q", errNotIdentity, claims.Purpose)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errInvalidSubject, claims.Subject)
	}

	return &model.CallerIdentity{UserID: userID, Roles: claims.Roles}, nil
}
