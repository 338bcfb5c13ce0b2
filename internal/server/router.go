package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/bookworm/internal/auth"
	"github.com/MarcoPoloResearchLab/bookworm/internal/snapshots"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	userIDContextKey     = "bookworm_user_id"
	accessTokenQueryKey  = "access_token"
	maxSnapshotBodyBytes = 8 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingSnapshotStore    = errors.New("snapshot store dependency required")
)

type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	ValidateToken(token string) (auth.SessionClaims, error)
}

// SnapshotStore is satisfied by snapshots.Service.
type SnapshotStore interface {
	FetchLatest(ctx context.Context, userID string) (snapshots.Record, error)
	Upsert(ctx context.Context, record snapshots.Record) (snapshots.Record, error)
}

type Dependencies struct {
	Sessions  SessionValidator
	Snapshots SnapshotStore
	Realtime  *RealtimeDispatcher
	// Metrics, when set, registers request counters and serves them on /metrics.
	Metrics        *prometheus.Registry
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Snapshots == nil {
		return nil, errMissingSnapshotStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	handler := &httpHandler{
		sessions:  deps.Sessions,
		snapshots: deps.Snapshots,
		realtime:  realtime,
		logger:    logger,
	}
	if deps.Metrics != nil {
		handler.requests = newRequestCounter(deps.Metrics)
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/snapshot", handler.handleFetchSnapshot)
	protected.PUT("/snapshot", handler.handleUpsertSnapshot)
	protected.GET("/snapshot/stream", handler.handleSnapshotStream)

	return router, nil
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	sessions  SessionValidator
	snapshots SnapshotStore
	realtime  *RealtimeDispatcher
	requests  *prometheus.CounterVec
	logger    *zap.Logger
}

func newRequestCounter(registerer prometheus.Registerer) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookworm_snapshot_requests_total",
		Help: "Snapshot API requests by method and status code.",
	}, []string{"method", "status"})
	err := registerer.Register(counter)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing
		}
	}
	return counter
}

func (h *httpHandler) respond(c *gin.Context, status int, body any) {
	if h.requests != nil {
		h.requests.WithLabelValues(c.Request.Method, strconv.Itoa(status)).Inc()
	}
	c.JSON(status, body)
}

func (h *httpHandler) handleFetchSnapshot(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	record, err := h.snapshots.FetchLatest(c.Request.Context(), userID)
	switch {
	case errors.Is(err, snapshots.ErrSnapshotNotFound):
		h.respond(c, http.StatusNotFound, gin.H{"error": "snapshot_not_found"})
		return
	case err != nil:
		h.logger.Error("failed to fetch snapshot", zap.String("user_id", userID), zap.Error(err))
		h.respond(c, http.StatusInternalServerError, errorBody("fetch_failed", err))
		return
	}
	h.respond(c, http.StatusOK, record)
}

func (h *httpHandler) handleUpsertSnapshot(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSnapshotBodyBytes)
	var record snapshots.Record
	if err := json.NewDecoder(c.Request.Body).Decode(&record); err != nil {
		h.respond(c, http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if record.UserID != "" && record.UserID != userID {
		h.logger.Warn("snapshot upload for foreign user rejected",
			zap.String("user_id", userID),
			zap.String("record_user_id", record.UserID))
		h.respond(c, http.StatusForbidden, gin.H{"error": "user_mismatch"})
		return
	}
	record.UserID = userID

	stored, err := h.snapshots.Upsert(c.Request.Context(), record)
	switch {
	case errors.Is(err, snapshots.ErrInvalidSnapshot), errors.Is(err, snapshots.ErrInvalidUserID):
		h.respond(c, http.StatusBadRequest, errorBody("invalid_snapshot", err))
		return
	case err != nil:
		h.logger.Error("failed to store snapshot", zap.String("user_id", userID), zap.Error(err))
		h.respond(c, http.StatusInternalServerError, errorBody("upsert_failed", err))
		return
	}

	h.realtime.Publish(RealtimeMessage{
		UserID:    stored.UserID,
		EventType: RealtimeEventSnapshotUpdated,
		Version:   stored.Version,
		UpdatedAt: stored.UpdatedAt,
		Timestamp: time.Now().UTC(),
	})
	h.logger.Debug("snapshot stored",
		zap.String("user_id", stored.UserID),
		zap.Int64("version", stored.Version),
		zap.Int("subscribers", h.realtime.Subscribers(stored.UserID)))
	h.respond(c, http.StatusOK, stored)
}

type snapshotEventPayload struct {
	Version     int64 `json:"version"`
	UpdatedAtMs int64 `json:"updated_at_ms"`
}

func (h *httpHandler) handleSnapshotStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()
	h.logger.Debug("snapshot stream opened",
		zap.String("user_id", userID),
		zap.Int("subscribers", h.realtime.Subscribers(userID)))

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, snapshotEventPayload{
				Version:     message.Version,
				UpdatedAtMs: message.UpdatedAt.UnixMilli(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"ts": time.Now().UTC().UnixMilli()})
			return true
		}
	})
}

// authorizeRequest accepts a Bearer header or session cookie, plus an access_token query
// parameter on the stream endpoint for EventSource clients.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	var (
		claims auth.SessionClaims
		err    error
	)
	if token := c.Query(accessTokenQueryKey); token != "" && c.FullPath() == "/snapshot/stream" {
		claims, err = h.sessions.ValidateToken(token)
	} else {
		claims, err = h.sessions.ValidateRequest(c.Request)
	}
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		if h.requests != nil {
			h.requests.WithLabelValues(c.Request.Method, strconv.Itoa(http.StatusUnauthorized)).Inc()
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.UserID())
	c.Next()
}

func errorBody(message string, err error) gin.H {
	body := gin.H{"error": message}
	var serviceErr *snapshots.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	return body
}
