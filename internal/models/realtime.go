package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a realtime handoff event.
type EventType string

const (
	EventRequested           EventType = "requested"
	EventAccepted            EventType = "accepted"
	EventEnded               EventType = "ended"
	EventTimeout             EventType = "timeout"
	EventUserMessage         EventType = "user-message"
	EventAdminMessage        EventType = "admin-message"
	EventConnectionConfirmed EventType = "connection-confirmed"
	EventAdminNotifications  EventType = "admin-notifications"
	EventCountdown           EventType = "countdown"
	EventError               EventType = "error"
)

// Event is the frame pushed to user and admin sockets.
type Event struct {
	ID             string           `json:"id"`
	Type           EventType        `json:"type"`
	SessionID      string           `json:"sessionId,omitempty"`
	ConversationID string           `json:"conversationId,omitempty"`
	AdminID        string           `json:"adminId,omitempty"`
	AdminName      string           `json:"adminName,omitempty"`
	Message        string           `json:"message,omitempty"`
	MessageID      string           `json:"messageId,omitempty"`
	Sender         SenderType       `json:"sender,omitempty"`
	RemainingMs    int64            `json:"remainingMs,omitempty"`
	Session        *HandoffSession  `json:"session,omitempty"`
	Sessions       []HandoffSession `json:"sessions,omitempty"`
	Resumed        bool             `json:"resumed,omitempty"`
	Code           string           `json:"code,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// NewEvent stamps a fresh event id and timestamp.
func NewEvent(t EventType, now time.Time) Event {
	return Event{ID: uuid.New().String(), Type: t, Timestamp: now}
}

// Target selects which sockets receive an event. Zero values mean "nobody" for
// that audience.
type Target struct {
	ConversationID string `json:"conversationId,omitempty"`
	// Requester, when set, limits conversation delivery to that requester's sockets.
	Requester Requester `json:"requester,omitzero"`
	AdminID   string    `json:"adminId,omitempty"`
	AllAdmins bool      `json:"allAdmins,omitempty"`
}

// UserTarget addresses the requester of a session.
func UserTarget(s *HandoffSession) Target {
	return Target{ConversationID: s.ConversationID, Requester: s.Requester()}
}

// Envelope is an addressed event as it travels through the relay.
type Envelope struct {
	Origin string `json:"origin"`
	Target Target `json:"target"`
	Event  Event  `json:"event"`
}

// Frame types a client may send over its socket.
const (
	FrameMessage = "message"
	FrameEnd     = "end"
	FramePing    = "ping"
)

// InboundFrame is a client-originated socket frame.
type InboundFrame struct {
	Type string `json:"type"`
	// SessionID is required on admin frames; users address their conversation.
	SessionID       string `json:"sessionId,omitempty"`
	Message         string `json:"message,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
	AdminName       string `json:"adminName,omitempty"`
	// Timestamp is the client clock in Unix milliseconds.
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Role distinguishes the two kinds of realtime participants.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Participant is the identity behind one socket connection.
type Participant struct {
	Role           Role
	ConversationID string
	// Requester is the guest or user behind a user socket.
	Requester Requester
	AdminID   string
	AdminName string
	Subject   string
}

// Key groups sockets belonging to the same logical participant.
func (p Participant) Key() string {
	if p.Role == RoleAdmin {
		return "admin:" + p.AdminID
	}
	return "user:" + p.ConversationID
}
