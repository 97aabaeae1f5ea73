package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SessionStatus is the lifecycle state of a handoff session.
type SessionStatus string

const (
	StatusWaiting   SessionStatus = "waiting"
	StatusConnected SessionStatus = "connected"
	StatusEnded     SessionStatus = "ended"
	StatusTimeout   SessionStatus = "timeout"
)

// IsActive reports whether the session still blocks new requests for its conversation.
func (s SessionStatus) IsActive() bool {
	return s == StatusWaiting || s == StatusConnected
}

func (s SessionStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusTimeout
}

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusConnected, StatusEnded, StatusTimeout:
		return true
	}
	return false
}

// RequesterProfile is a display snapshot captured when support is requested.
type RequesterProfile struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Requester identifies who asked for help: an authenticated user or a guest.
type Requester struct {
	UserID  string `json:"userId,omitempty"`
	GuestID string `json:"guestId,omitempty"`
}

var ErrRequesterIdentity = errors.New("exactly one of userId or guestId must be set")

func (r Requester) Validate() error {
	hasUser := strings.TrimSpace(r.UserID) != ""
	hasGuest := strings.TrimSpace(r.GuestID) != ""
	if hasUser == hasGuest {
		return ErrRequesterIdentity
	}
	return nil
}

// HandoffSession escalates one conversation from the chatbot to a human agent.
type HandoffSession struct {
	ID             string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ConversationID string        `gorm:"type:varchar(128);not null;index" json:"conversationId"`
	UserID         *string       `gorm:"type:varchar(128);index" json:"userId,omitempty"`
	GuestID        *string       `gorm:"type:varchar(128);index" json:"guestId,omitempty"`
	AdminID        *string       `gorm:"type:varchar(128);index" json:"adminId,omitempty"`
	AdminName      string        `gorm:"type:varchar(128)" json:"adminName,omitempty"`
	Status         SessionStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	InitialMessage string        `gorm:"type:text;not null" json:"initialMessage"`

	Profile *RequesterProfile `gorm:"serializer:json;type:text" json:"userProfile,omitempty"`

	// ActiveConversation mirrors ConversationID while the session is waiting or
	// connected and is NULL afterwards; its unique index allows one active
	// session per conversation.
	ActiveConversation *string `gorm:"type:varchar(128);uniqueIndex" json:"-"`

	RequestedAt time.Time `gorm:"not null" json:"requestedAt"`
	// ExpiresAt is the acceptance deadline the countdown was armed with.
	ExpiresAt   *time.Time `gorm:"index" json:"expiresAt,omitempty"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// BeforeCreate assigns a UUID when the caller did not.
func (s *HandoffSession) BeforeCreate(tx *gorm.DB) (err error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return
}

// NewHandoffSession builds a waiting session for the requester.
func NewHandoffSession(conversationID string, requester Requester, message string, profile *RequesterProfile, now time.Time) *HandoffSession {
	s := &HandoffSession{
		ConversationID: conversationID,
		Status:         StatusWaiting,
		InitialMessage: message,
		Profile:        profile,
		RequestedAt:    now,
	}
	if requester.UserID != "" {
		s.UserID = &requester.UserID
	} else {
		s.GuestID = &requester.GuestID
	}
	active := conversationID
	s.ActiveConversation = &active
	return s
}

// WithWindow fixes the acceptance deadline at RequestedAt plus d.
func (s *HandoffSession) WithWindow(d time.Duration) *HandoffSession {
	deadline := s.RequestedAt.Add(d)
	s.ExpiresAt = &deadline
	return s
}

func (s *HandoffSession) Requester() Requester {
	var r Requester
	if s.UserID != nil {
		r.UserID = *s.UserID
	}
	if s.GuestID != nil {
		r.GuestID = *s.GuestID
	}
	return r
}

// RequestedBy reports whether r is the requester of the session.
func (s *HandoffSession) RequestedBy(r Requester) bool {
	return r != (Requester{}) && s.Requester() == r
}

// Deadline is when a waiting session times out. Sessions stored without an
// armed deadline fall back to RequestedAt plus the given window.
func (s *HandoffSession) Deadline(fallback time.Duration) time.Time {
	if s.ExpiresAt != nil {
		return *s.ExpiresAt
	}
	return s.RequestedAt.Add(fallback)
}

// Remaining is the time left before the acceptance window closes, never negative.
func (s *HandoffSession) Remaining(now time.Time, fallback time.Duration) time.Duration {
	left := s.Deadline(fallback).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// HandledBy reports whether adminID may act on the session as its agent: the
// session is unassigned or connected to that admin.
func (s *HandoffSession) HandledBy(adminID string) bool {
	owner := s.AdminIDValue()
	return owner == "" || owner == adminID
}

func (s *HandoffSession) AdminIDValue() string {
	if s.AdminID == nil {
		return ""
	}
	return *s.AdminID
}

// StatusView is the reconciliation projection returned to polling clients.
type StatusView struct {
	SessionID        string        `json:"sessionId,omitempty"`
	Status           SessionStatus `json:"status,omitempty"`
	IsWaiting        bool          `json:"isWaiting"`
	IsConnected      bool          `json:"isConnected"`
	AdminID          string        `json:"adminId,omitempty"`
	AdminName        string        `json:"adminName,omitempty"`
	TimeoutRemaining *int64        `json:"timeoutRemaining,omitempty"`
}
