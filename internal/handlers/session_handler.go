package handlers

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

const (
	maxUploadBytes     = 10 << 20
	healthCheckTimeout = 5 * time.Second
	uploadTimeout      = 30 * time.Second

	uploadAction = "upload_file"
)

// SessionOrchestrator is the part of the orchestrator the HTTP surface needs.
type SessionOrchestrator interface {
	CreateSession(ctx context.Context) (models.SessionSnapshot, error)
	GetSession(ctx context.Context, sessionID string) (models.SessionSnapshot, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Results(sessionID string) (*models.CategorizationResults, error)
	HandleAction(ctx context.Context, sessionID, action string, data models.Payload) <-chan models.StreamEvent
	HealthCheck(ctx context.Context) error
	GetStats() map[string]interface{}
}

type CacheAdmin interface {
	Stats(ctx context.Context) (cache.Stats, error)
	InvalidateFund(ctx context.Context, ticker string) (int, error)
}

type ActionRequest struct {
	Action string         `json:"action" binding:"required"`
	Data   models.Payload `json:"data"`
}

type SessionHandler struct {
	orchestrator SessionOrchestrator
	storage      agents.BlobStorage
	cache        CacheAdmin
	metrics      http.Handler
	logger       *logger.Logger
}

// NewSessionHandler builds the handler. storage, cacheAdmin and metrics may
// be nil. Uploads are then passed inline, the cache routes report 503 and
// /metrics reports 404.
func NewSessionHandler(orchestrator SessionOrchestrator, storage agents.BlobStorage, cacheAdmin CacheAdmin, metrics http.Handler, log *logger.Logger) *SessionHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &SessionHandler{
		orchestrator: orchestrator,
		storage:      storage,
		cache:        cacheAdmin,
		metrics:      metrics,
		logger:       log,
	}
}

func (handler *SessionHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", handler.Health)
	router.GET("/metrics", handler.Metrics)

	api := router.Group("/api")
	sessions := api.Group("/sessions")
	sessions.POST("", handler.CreateSession)
	sessions.GET("/:id", handler.GetSession)
	sessions.DELETE("/:id", handler.DeleteSession)
	sessions.POST("/:id/upload", handler.UploadFile)
	sessions.POST("/:id/actions", handler.HandleAction)
	sessions.GET("/:id/results", handler.GetResults)

	api.GET("/cache/stats", handler.CacheStats)
	api.DELETE("/cache/funds/:ticker", handler.InvalidateFund)
}

func (handler *SessionHandler) CreateSession(c *gin.Context) {
	snapshot, err := handler.orchestrator.CreateSession(c.Request.Context())
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": snapshot.SessionID})
}

func (handler *SessionHandler) GetSession(c *gin.Context) {
	snapshot, err := handler.orchestrator.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (handler *SessionHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("id")
	if err := handler.orchestrator.DeleteSession(c.Request.Context(), sessionID); err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "deleted": true})
}

func (handler *SessionHandler) GetResults(c *gin.Context) {
	results, err := handler.orchestrator.Results(c.Param("id"))
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// HandleAction runs one session action and streams its events as SSE.
func (handler *SessionHandler) HandleAction(c *gin.Context) {
	var request ActionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		handler.respondError(c, models.NewValidationError("INVALID_REQUEST", "Request body must carry an action").WithCause(err))
		return
	}

	sessionID := c.Param("id")
	if _, err := handler.orchestrator.GetSession(c.Request.Context(), sessionID); err != nil {
		handler.respondError(c, err)
		return
	}

	handler.stream(c, sessionID, request.Action, request.Data)
}

// UploadFile stores the multipart file and streams the upload_file action.
func (handler *SessionHandler) UploadFile(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := handler.orchestrator.GetSession(c.Request.Context(), sessionID); err != nil {
		handler.respondError(c, err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		handler.respondError(c, models.NewValidationError("MISSING_FILE", "Multipart field 'file' is required").WithCause(err))
		return
	}
	if header.Size > maxUploadBytes {
		handler.respondError(c, models.NewValidationError("FILE_TOO_LARGE", "Uploaded file exceeds 10MB").
			WithMetadata("size", header.Size))
		return
	}

	file, err := header.Open()
	if err != nil {
		handler.respondError(c, models.NewInternalError("UPLOAD_READ_FAILED", "Failed to open uploaded file").WithCause(err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		handler.respondError(c, models.NewInternalError("UPLOAD_READ_FAILED", "Failed to read uploaded file").WithCause(err))
		return
	}

	fileName := filepath.Base(header.Filename)
	data := models.Payload{agents.KeyFileName: fileName}
	if handler.storage == nil {
		data[agents.KeyContent] = string(content)
	} else {
		ctx, cancel := context.WithTimeout(c.Request.Context(), uploadTimeout)
		uri, err := handler.storage.Upload(ctx, content, fileName)
		cancel()
		if err != nil {
			handler.respondError(c, err)
			return
		}
		data[agents.KeyURI] = uri
	}

	handler.logger.Info("File uploaded",
		"session_id", sessionID,
		"file_name", fileName,
		"size", len(content),
	)
	handler.stream(c, sessionID, uploadAction, data)
}

func (handler *SessionHandler) stream(c *gin.Context, sessionID, action string, data models.Payload) {
	ctx := c.Request.Context()
	events := handler.orchestrator.HandleAction(ctx, sessionID, action, data)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	connected := models.NewStreamEvent(models.EventConnected, models.Payload{
		"session_id": sessionID,
		"action":     action,
	})
	c.SSEvent(string(connected.Type), connected)
	c.Writer.Flush()

	sent := 0
	for {
		select {
		case event, ok := <-events:
			if !ok {
				handler.logger.Debug("Action stream finished", "session_id", sessionID, "action", action, "events", sent)
				return
			}
			c.SSEvent(string(event.Type), event)
			c.Writer.Flush()
			sent++
		case <-ctx.Done():
			handler.logger.Info("Client disconnected from action stream", "session_id", sessionID, "action", action, "events", sent)
			return
		}
	}
}

func (handler *SessionHandler) CacheStats(c *gin.Context) {
	if handler.cache == nil {
		handler.respondError(c, models.NewExternalError("CACHE_DISABLED", "Research cache is not configured"))
		return
	}
	stats, err := handler.cache.Stats(c.Request.Context())
	if err != nil {
		handler.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (handler *SessionHandler) InvalidateFund(c *gin.Context) {
	if handler.cache == nil {
		handler.respondError(c, models.NewExternalError("CACHE_DISABLED", "Research cache is not configured"))
		return
	}
	ticker := c.Param("ticker")
	removed, err := handler.cache.InvalidateFund(c.Request.Context(), ticker)
	if err != nil {
		handler.respondError(c, err)
		return
	}
	handler.logger.Info("Fund cache invalidated", "ticker", ticker, "removed", removed)
	c.JSON(http.StatusOK, gin.H{"ticker": ticker, "removed": removed})
}

func (handler *SessionHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	stats := handler.orchestrator.GetStats()
	if err := handler.orchestrator.HealthCheck(ctx); err != nil {
		handler.logger.WithError(err).Warn("Health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
			"stats":  stats,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "stats": stats})
}

func (handler *SessionHandler) Metrics(c *gin.Context) {
	if handler.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	handler.metrics.ServeHTTP(c.Writer, c.Request)
}

func (handler *SessionHandler) respondError(c *gin.Context, err error) {
	status := models.HTTPStatus(err)
	body := gin.H{"error": err.Error()}
	if appErr, ok := models.AsAppError(err); ok {
		body["code"] = appErr.Code
		body["error_type"] = appErr.Type
		if len(appErr.Metadata) > 0 {
			body["details"] = appErr.Metadata
		}
	}
	if status >= http.StatusInternalServerError {
		handler.logger.WithFields(logger.Fields{
			"path":   c.FullPath(),
			"status": status,
		}).WithError(err).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, body)
}
