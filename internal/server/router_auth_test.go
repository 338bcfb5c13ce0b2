package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/bookworm/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessions struct {
	claims      auth.SessionClaims
	validateErr error
}

func (s stubSessions) ValidateRequest(*http.Request) (auth.SessionClaims, error) {
	return s.claims, s.validateErr
}

func (s stubSessions) ValidateToken(string) (auth.SessionClaims, error) {
	return s.claims, s.validateErr
}

func runAuthorize(t *testing.T, sessions SessionValidator) (*httptest.ResponseRecorder, *gin.Context, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/snapshot", http.NoBody)
	request.Header.Set("Authorization", "Bearer some-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{sessions: sessions, logger: zap.New(core)}
	handler.authorizeRequest(ctx)
	return recorder, ctx, logs
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	recorder, _, logs := runAuthorize(t, stubSessions{validateErr: auth.ErrExpiredSessionToken})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	recorder, _, logs := runAuthorize(t, stubSessions{validateErr: auth.ErrInvalidSessionToken})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for unexpected error, got %s", entries[0].Level)
	}
}

func TestAuthorizeRequestStoresUserID(t *testing.T) {
	claims := auth.SessionClaims{}
	claims.Subject = "reader-7"
	recorder, ctx, logs := runAuthorize(t, stubSessions{claims: claims})

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected request to pass, got %d", recorder.Code)
	}
	if ctx.IsAborted() {
		t.Fatalf("expected context not to be aborted")
	}
	if userID := ctx.GetString(userIDContextKey); userID != "reader-7" {
		t.Fatalf("unexpected user id in context: %q", userID)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log entries, got %d", logs.Len())
	}
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingSessionValidator) {
		t.Fatalf("expected missing session validator error, got %v", err)
	}
	if _, err := NewHTTPHandler(Dependencies{Sessions: stubSessions{}}); !errors.Is(err, errMissingSnapshotStore) {
		t.Fatalf("expected missing snapshot store error, got %v", err)
	}
}
