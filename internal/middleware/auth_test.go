package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"journal-gateway/internal/identity"
	"journal-gateway/internal/model"
)

const testSecret = "test-secret-key-for-unit-tests"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

func identityClaims(sub string, roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
}

// runAuth sends one request through Authenticate and returns the caller the
// handler saw.
func runAuth(t *testing.T, secret, authHeader string) (*model.CallerIdentity, int) {
	t.Helper()

	e := echo.New()
	e.Use(Authenticate(secret, slog.New(slog.NewTextHandler(io.Discard, nil))))

	var seen *model.CallerIdentity
	e.GET("/api/articles", func(c echo.Context) error {
		seen = identity.FromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/articles", http.NoBody)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return seen, rec.Code
}

func TestAuthenticate_ValidToken(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), identityClaims("42", "editor", "admin"))

	caller, code := runAuth(t, testSecret, "Bearer "+token)

	if code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", code, http.StatusNoContent)
	}
	if caller == nil {
		t.Fatal("caller = nil, want identity")
	}
	if caller.UserID != 42 {
		t.Errorf("UserID = %d, want 42", caller.UserID)
	}
	if strings.Join(caller.Roles, ",") != "editor,admin" {
		t.Errorf("Roles = %v, want [editor admin]", caller.Roles)
	}
}

func TestAuthenticate_NoIdentity(t *testing.T) {
	expired := identityClaims("42", "author")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	verify := identityClaims("42")
	verify.Purpose = "email_verification"

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic auth", "Basic Zm9vOmJhcg=="},
		{"empty bearer", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), identityClaims("42"))},
		{"wrong algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testSecret), identityClaims("42"))},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired)},
		{"purpose token", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), verify)},
		{"non-numeric subject", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), identityClaims("alice"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, code := runAuth(t, testSecret, tt.header)
			if code != http.StatusNoContent {
				t.Errorf("status = %d, want %d (never blocks)", code, http.StatusNoContent)
			}
			if caller != nil {
				t.Errorf("caller = %+v, want nil", caller)
			}
		})
	}
}

func TestAuthenticate_DisabledWithoutSecret(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), identityClaims("42"))

	caller, code := runAuth(t, "", "Bearer "+token)

	if code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", code, http.StatusNoContent)
	}
	if caller != nil {
		t.Errorf("caller = %+v, want nil when no secret is configured", caller)
	}
}

func TestAuthenticate_NoRoles(t *testing.T) {
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), identityClaims("7"))

	caller, _ := runAuth(t, testSecret, "Bearer "+token)

	if caller == nil || caller.UserID != 7 {
		t.Fatalf("caller = %+v, want user 7", caller)
	}
	if len(caller.Roles) != 0 {
		t.Errorf("Roles = %v, want empty", caller.Roles)
	}
}
