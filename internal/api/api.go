package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/docchat/internal/auth"
	"github.com/wuwenbin0122/docchat/internal/models"
	"github.com/wuwenbin0122/docchat/internal/session"
	"github.com/wuwenbin0122/docchat/internal/utils"
	"github.com/wuwenbin0122/docchat/services"
)

const sessionContextKey = "chatSession"

// Turns is the part of the orchestrator the HTTP layer drives.
type Turns interface {
	Handle(ctx context.Context, sess *session.Session, prompt string) (models.Turn, error)
	LoadKnowledge(sess *session.Session, files []services.UploadedFile) (string, error)
}

type Handler struct {
	authService *auth.Service
	sessions    *session.Manager
	turns       Turns
	logger      *zap.SugaredLogger

	// DefaultCredential is used when a session is started without an api key.
	DefaultCredential string
	UploadMaxBytes    int64
}

func NewHandler(authService *auth.Service, sessions *session.Manager, turns Turns, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Handler{
		authService:    authService,
		sessions:       sessions,
		turns:          turns,
		logger:         logger,
		UploadMaxBytes: 32 << 20,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	apiGroup := router.Group("/api")
	apiGroup.POST("/sessions", h.handleStartSession)

	sessionGroup := apiGroup.Group("/session", h.requireSession)
	sessionGroup.PUT("/credential", h.handleSetCredential)
	sessionGroup.PUT("/files", h.handleUploadFiles)
	sessionGroup.POST("/chat", h.handleChat)
	sessionGroup.GET("/turns", h.handleListTurns)
	sessionGroup.GET("/ws", h.handleChatWebsocket)
	sessionGroup.DELETE("", h.handleEndSession)
}

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

var errMissingSessionToken = errors.New("session token is required")

func (h *Handler) handleStartSession(c *gin.Context) {
	var req credentialRequest
	// an empty body starts a session without a credential
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	credential := strings.TrimSpace(req.APIKey)
	if credential == "" {
		credential = h.DefaultCredential
	}

	sess := h.sessions.Create(credential)
	token, err := h.authService.Issue(sess.ID())
	if err != nil {
		h.sessions.Delete(sess.ID())
		writeError(c, http.StatusInternalServerError, "failed to start session", err)
		return
	}

	h.logger.Infow("session started", "session", sess.ID(), "has_credential", credential != "")

	c.JSON(http.StatusCreated, gin.H{
		"session_id":     sess.ID(),
		"token":          token.Token,
		"expires_at":     token.ExpiresAt.Format(time.RFC3339),
		"has_credential": credential != "",
	})
}

func (h *Handler) requireSession(c *gin.Context) {
	token := auth.ParseBearer(c.GetHeader("Authorization"))
	if token == "" {
		// browsers cannot set headers on websocket upgrades
		token = strings.TrimSpace(c.Query("token"))
	}
	if token == "" {
		writeError(c, http.StatusUnauthorized, errMissingSessionToken.Error(), errMissingSessionToken)
		c.Abort()
		return
	}

	sessionID, err := h.authService.Verify(token)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "invalid session token", err)
		c.Abort()
		return
	}

	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		writeError(c, http.StatusNotFound, err.Error(), err)
		c.Abort()
		return
	}

	c.Set(sessionContextKey, sess)
	c.Next()
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionContextKey).(*session.Session)
}

func (h *Handler) handleSetCredential(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	sess := currentSession(c)
	sess.SetCredential(req.APIKey)

	c.JSON(http.StatusOK, gin.H{"has_credential": sess.Credential() != ""})
}

func (h *Handler) handleUploadFiles(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.UploadMaxBytes)

	form, err := c.MultipartForm()
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid multipart upload", err)
		return
	}

	files, err := services.FilesFromMultipart(form.File["files"])
	if err != nil {
		writeError(c, http.StatusBadRequest, "failed to read uploads", err)
		return
	}

	text, err := h.turns.LoadKnowledge(currentSession(c), files)
	if err != nil {
		writeError(c, statusFromError(err), "failed to extract text", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files":      len(files),
		"characters": len(text),
	})
}

func (h *Handler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}

	turn, err := h.turns.Handle(c.Request.Context(), currentSession(c), req.Prompt)
	if err != nil {
		writeError(c, statusFromError(err), "chat completion failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"turn": turn})
}

func (h *Handler) handleListTurns(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"turns": currentSession(c).Turns()})
}

func (h *Handler) handleEndSession(c *gin.Context) {
	sess := currentSession(c)
	h.sessions.Delete(sess.ID())
	h.logger.Infow("session ended", "session", sess.ID())
	c.Status(http.StatusNoContent)
}

func statusFromError(err error) int {
	var extractErr *services.ExtractError

	switch {
	case errors.Is(err, services.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.As(err, &extractErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeError(c *gin.Context, status int, message string, err error) {
	c.JSON(status, gin.H{
		"error":  message,
		"detail": err.Error(),
	})
}
