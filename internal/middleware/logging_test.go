package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"journal-gateway/internal/identity"
	"journal-gateway/internal/model"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "INFO" || entry["msg"] != "request" || entry["component"] != "http" {
		t.Errorf("log entry = %v, want INFO request from http", entry)
	}
	if entry["path"] != "/test" {
		t.Errorf("path = %v, want %q", entry["path"], "/test")
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("user_id logged for anonymous request")
	}
}

func TestRequestLogger_ServerErrorAndCaller(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/api/reviews", func(c echo.Context) error {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/reviews", http.NoBody)
	req = req.WithContext(identity.WithCaller(req.Context(), &model.CallerIdentity{UserID: 42}))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", entry["level"])
	}
	if entry["status"] != float64(http.StatusBadGateway) {
		t.Errorf("status = %v, want %d", entry["status"], http.StatusBadGateway)
	}
	if entry["user_id"] != float64(42) {
		t.Errorf("user_id = %v, want 42", entry["user_id"])
	}
}
