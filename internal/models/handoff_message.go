package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// SenderType identifies which side of a handoff wrote a message.
type SenderType string

const (
	SenderUser  SenderType = "user"
	SenderAdmin SenderType = "admin"
)

func (s SenderType) Valid() bool {
	return s == SenderUser || s == SenderAdmin
}

// HandoffMessage is a persisted line of a connected handoff conversation.
type HandoffMessage struct {
	ID uint `gorm:"primaryKey" json:"-"`

	// ClientMessageID is the idempotency key; a retried send with the same key is stored once.
	ClientMessageID string `gorm:"type:varchar(128);not null;uniqueIndex:idx_handoff_message_key" json:"id"`
	SessionID       string `gorm:"type:varchar(36);not null;uniqueIndex:idx_handoff_message_key;index" json:"sessionId"`
	ConversationID  string `gorm:"type:varchar(128);not null;index" json:"conversationId"`

	Sender     SenderType `gorm:"type:varchar(8);not null" json:"sender"`
	SenderName string     `gorm:"type:varchar(128)" json:"senderName,omitempty"`
	Content    string     `gorm:"type:text;not null" json:"content"`
	SentAt     time.Time  `gorm:"not null;index" json:"timestamp"`
	CreatedAt  time.Time  `json:"-"`
}

// TimeBucket returns floor(ts / bucket) in milliseconds.
func TimeBucket(ts time.Time, bucket time.Duration) int64 {
	return ts.UnixMilli() / bucket.Milliseconds()
}

// MessageKey derives a deterministic message id from conversation, sender,
// content and the coarse time bucket, so retries inside one bucket collide.
func MessageKey(conversationID string, sender SenderType, content string, ts time.Time, bucket time.Duration) string {
	h := sha256.New()
	h.Write([]byte(conversationID))
	h.Write([]byte{0})
	h.Write([]byte(sender))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(TimeBucket(ts, bucket), 10)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
