package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func preflight(t *testing.T, router *gin.Engine, origin string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodOptions, "/snapshot", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSMiddlewareAllowsAuthorizationHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware())
	router.OPTIONS("/snapshot", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	recorder := preflight(t, router, "https://reader.example.com")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "https://reader.example.com" {
		t.Fatalf("expected origin to be echoed, got %q", origin)
	}
}

func TestCORSMiddlewareRestrictsConfiguredOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware("https://reader.example.com"))
	router.OPTIONS("/snapshot", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	if recorder := preflight(t, router, "https://reader.example.com"); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected allowed origin to pass preflight, got %d", recorder.Code)
	}
	if recorder := preflight(t, router, "https://elsewhere.example.com"); recorder.Code != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be rejected, got %d", recorder.Code)
	}
}
