// Package handler exposes the handoff service over HTTP and websockets.
package handler

import (
	"context"
	"net/http"
	"time"

	"handoffdesk/backend/internal/chathub"
	"handoffdesk/backend/internal/config"
	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/handoff"
	"handoffdesk/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler holds the services behind the REST and realtime routes.
type Handler struct {
	Svc           *handoff.Service
	Hub           *chathub.ManagerService
	Tokens        *TokenIssuer
	AllowedOrigin string
	// Ping checks backing stores for /health; nil means always healthy.
	Ping func(ctx context.Context) error

	logger zerolog.Logger
}

func NewHandler(svc *handoff.Service, hub *chathub.ManagerService, tokens *TokenIssuer, allowedOrigin string) *Handler {
	return &Handler{
		Svc:           svc,
		Hub:           hub,
		Tokens:        tokens,
		AllowedOrigin: allowedOrigin,
		logger:        log.With().Str("component", "api").Logger(),
	}
}

// Routes mounts every route on r.
func (h *Handler) Routes(r *gin.Engine) {
	r.GET("/health", h.Health)

	api := r.Group("/api/v1")
	api.GET("/guest", h.GetGuest)

	g := api.Group("/human-handoff")
	g.GET("/status/:conversationId", h.GetStatus)
	g.GET("/availability", h.GetAvailability)
	g.POST("/trigger", h.CheckTrigger)
	g.GET("/ws", h.ServeWebSocket)

	authed := g.Group("", h.RequireAuth())
	authed.POST("/request", h.RequireRole(RoleGuest, RoleUser), h.RequestSupport)
	authed.POST("/end/:sessionId", h.EndSession)
	authed.POST("/conversation/:conversationId/message", h.RequireRole(RoleGuest, RoleUser), h.SendConversationMessage)
	authed.POST("/:sessionId/message", h.SendSessionMessage)
	authed.GET("/:sessionId/messages", h.GetMessages)

	admin := authed.Group("", h.RequireRole(RoleAdmin))
	admin.GET("/admin/notifications", h.AdminNotifications)
	admin.GET("/admin/sessions", h.AdminSessions)
	admin.POST("/admin/accept/:sessionId", h.AcceptSession)
	admin.GET("/settings", h.GetSettings)
	admin.PUT("/settings", h.UpdateSettings)
}

func (h *Handler) Health(c *gin.Context) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type requestSupportBody struct {
	ConversationID string                   `json:"conversationId"`
	Message        string                   `json:"message"`
	Profile        *models.RequesterProfile `json:"profile"`
}

func (h *Handler) RequestSupport(c *gin.Context) {
	var body requestSupportBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.Validation("Invalid request body"))
		return
	}
	claims := claimsFrom(c)

	session, err := h.Svc.RequestSupport(c.Request.Context(), handoff.SupportRequest{
		ConversationID: body.ConversationID,
		Requester:      claims.Requester(),
		Message:        body.Message,
		Profile:        body.Profile,
		Language:       language(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) GetStatus(c *gin.Context) {
	view, err := h.Svc.GetStatus(c.Request.Context(), c.Param("conversationId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetAvailability reports whether a request made now would be accepted.
func (h *Handler) GetAvailability(c *gin.Context) {
	if appErr := h.Svc.CheckAvailability(language(c), time.Now().UTC()); appErr != nil {
		c.JSON(http.StatusOK, gin.H{
			"available": false,
			"code":      appErr.Code,
			"message":   appErr.Message,
			"details":   appErr.Details,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true})
}

type triggerBody struct {
	Message string `json:"message"`
}

// CheckTrigger tells the chatbot whether a user message asks for a human.
func (h *Handler) CheckTrigger(c *gin.Context) {
	var body triggerBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.Validation("Invalid request body"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": h.Svc.IsTrigger(body.Message)})
}

// sessionFor loads a session the caller may act on: admins any, requesters
// their own.
func (h *Handler) sessionFor(c *gin.Context, sessionID string) (*models.HandoffSession, *Claims, error) {
	claims := claimsFrom(c)
	session, err := h.Svc.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !claims.IsAdmin() && !claims.Owns(session) {
		return nil, nil, apperrors.Forbidden("Not a participant of this session")
	}
	return session, claims, nil
}

func (h *Handler) EndSession(c *gin.Context) {
	session, claims, err := h.sessionFor(c, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if claims.IsAdmin() && !session.HandledBy(claims.AdminID) {
		writeError(c, apperrors.Forbidden("Session is handled by another admin"))
		return
	}
	ended, err := h.Svc.EndSession(c.Request.Context(), session.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ended)
}

type messageBody struct {
	Message         string            `json:"message"`
	SenderType      models.SenderType `json:"senderType"`
	AdminName       string            `json:"adminName"`
	ClientMessageID string            `json:"clientMessageId"`
	// Timestamp is the client clock in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

func (b messageBody) sentAt() time.Time {
	if b.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(b.Timestamp).UTC()
}

func (h *Handler) SendConversationMessage(c *gin.Context) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.Validation("Invalid request body"))
		return
	}
	conversationID := c.Param("conversationId")
	claims := claimsFrom(c)

	active, err := h.Svc.ActiveSession(c.Request.Context(), conversationID)
	if err != nil {
		writeError(c, err)
		return
	}
	if active != nil && !claims.Owns(active) {
		writeError(c, apperrors.Forbidden("Not a participant of this session"))
		return
	}

	delivery, err := h.Svc.SendMessage(c.Request.Context(), handoff.OutgoingMessage{
		ConversationID:  conversationID,
		Sender:          models.SenderUser,
		Content:         body.Message,
		ClientMessageID: body.ClientMessageID,
		SentAt:          body.sentAt(),
		Language:        language(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

func (h *Handler) SendSessionMessage(c *gin.Context) {
	var body messageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, apperrors.Validation("Invalid request body"))
		return
	}
	session, claims, err := h.sessionFor(c, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}

	msg := handoff.OutgoingMessage{
		SessionID:       session.ID,
		Content:         body.Message,
		ClientMessageID: body.ClientMessageID,
		SentAt:          body.sentAt(),
		Language:        language(c),
	}
	if claims.IsAdmin() {
		if body.SenderType != "" && body.SenderType != models.SenderAdmin {
			writeError(c, apperrors.Validation("Admins send with senderType admin"))
			return
		}
		msg.Sender = models.SenderAdmin
		msg.AdminID = claims.AdminID
		msg.SenderName = body.AdminName
		if msg.SenderName == "" {
			msg.SenderName = claims.AdminName
		}
	} else {
		if body.SenderType != "" && body.SenderType != models.SenderUser {
			writeError(c, apperrors.Validation("Requesters send with senderType user"))
			return
		}
		msg.Sender = models.SenderUser
	}

	delivery, err := h.Svc.SendMessage(c.Request.Context(), msg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

func (h *Handler) GetMessages(c *gin.Context) {
	session, _, err := h.sessionFor(c, c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	messages, err := h.Svc.GetMessages(c.Request.Context(), session.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": messages})
}

func (h *Handler) AdminNotifications(c *gin.Context) {
	waiting, err := h.Svc.ListWaiting(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": waiting})
}

func (h *Handler) AdminSessions(c *gin.Context) {
	sessions, err := h.Svc.ListSessions(c.Request.Context(), c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sessions})
}

type acceptBody struct {
	AdminName string `json:"adminName"`
}

func (h *Handler) AcceptSession(c *gin.Context) {
	var body acceptBody
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, apperrors.Validation("Invalid request body"))
			return
		}
	}
	claims := claimsFrom(c)
	name := body.AdminName
	if name == "" {
		name = claims.AdminName
	}

	session, err := h.Svc.AcceptSession(c.Request.Context(), c.Param("sessionId"), claims.AdminID, name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

type settingsResponse struct {
	config.HandoffSettings
	WorkingSchedule string `json:"workingSchedule"`
}

func (h *Handler) GetSettings(c *gin.Context) {
	settings := h.Svc.Settings()
	c.JSON(http.StatusOK, settingsResponse{HandoffSettings: settings, WorkingSchedule: settings.FormatWorkingSchedule()})
}

func (h *Handler) UpdateSettings(c *gin.Context) {
	var next config.HandoffSettings
	if err := c.ShouldBindJSON(&next); err != nil {
		writeError(c, apperrors.Validation("Invalid request body"))
		return
	}
	claims := claimsFrom(c)

	applied, err := h.Svc.UpdateSettings(c.Request.Context(), next, claims.AdminID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info().Str("adminId", claims.AdminID).Msg("handoff settings updated")
	c.JSON(http.StatusOK, settingsResponse{HandoffSettings: applied, WorkingSchedule: applied.FormatWorkingSchedule()})
}
