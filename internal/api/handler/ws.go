package handler

import (
	"net/http"

	"handoffdesk/backend/internal/chathub"
	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || h.AllowedOrigin == "*" || origin == h.AllowedOrigin
		},
	}
}

// participantFor binds the requested socket identity to the token. Admins may
// only open their own admin socket, and users their own conversation.
func participantFor(claims *Claims, conversationID, adminID string) (models.Participant, error) {
	switch {
	case adminID != "":
		if !claims.IsAdmin() || claims.AdminID != adminID {
			return models.Participant{}, apperrors.Forbidden("Token does not belong to this admin")
		}
		return models.Participant{Role: models.RoleAdmin, AdminID: adminID, AdminName: claims.AdminName, Subject: claims.Subject}, nil
	case conversationID != "":
		if claims.IsAdmin() {
			return models.Participant{}, apperrors.Forbidden("Admins connect with adminId")
		}
		return models.Participant{
			Role:           models.RoleUser,
			ConversationID: conversationID,
			Requester:      claims.Requester(),
			Subject:        claims.Subject,
		}, nil
	default:
		return models.Participant{}, apperrors.Validation("conversationId or adminId is required")
	}
}

// ServeWebSocket upgrades GET /ws?conversationId=|adminId= to a realtime
// connection. resume=1 marks a reconnect.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	raw := extractToken(c.Request)
	if raw == "" {
		writeError(c, apperrors.Unauthorized("Authorization token missing"))
		return
	}
	claims, err := h.Tokens.Parse(raw)
	if err != nil {
		writeError(c, apperrors.InvalidToken("Invalid token or expired"))
		return
	}

	p, err := participantFor(claims, c.Query("conversationId"), c.Query("adminId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if p.Role == models.RoleUser {
		// A conversation with an active session only admits its requester.
		active, err := h.Svc.ActiveSession(c.Request.Context(), p.ConversationID)
		if err != nil {
			writeError(c, err)
			return
		}
		if active != nil && !claims.Owns(active) {
			writeError(c, apperrors.Forbidden("Not a participant of this session"))
			return
		}
	}

	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn().Err(err).Str("key", p.Key()).Msg("websocket upgrade failed")
		return
	}

	client := chathub.NewWebSocketClient(h.Hub, conn, p)
	h.Hub.Register(client, c.Query("resume") == "1")
	client.Run()
}
