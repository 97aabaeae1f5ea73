// Package notify pushes handoff requests to the agent team outside the
// dashboard: Slack, Discord and Telegram.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"handoffdesk/backend/internal/metrics"
	"handoffdesk/backend/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Kind says why the team is being notified.
type Kind string

const (
	KindRequested Kind = "requested"
	KindTimedOut  Kind = "timed-out"
)

// Notification describes one session event for the agent team.
type Notification struct {
	Kind    Kind
	Session models.HandoffSession
	Timeout time.Duration
}

// Notifier delivers a notification to one external channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Title is the one-line headline of a notification.
func Title(n Notification) string {
	switch n.Kind {
	case KindTimedOut:
		return "Handoff request expired without an agent"
	default:
		return "New handoff request"
	}
}

// FormatText renders a plain-text body shared by all channels.
func FormatText(n Notification) string {
	s := n.Session
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", Title(n))
	fmt.Fprintf(&b, "Session: %s\n", s.ID)
	fmt.Fprintf(&b, "Conversation: %s\n", s.ConversationID)
	if who := requesterLabel(s); who != "" {
		fmt.Fprintf(&b, "From: %s\n", who)
	}
	if s.InitialMessage != "" {
		fmt.Fprintf(&b, "Message: %s\n", s.InitialMessage)
	}
	if n.Kind == KindRequested && n.Timeout > 0 {
		fmt.Fprintf(&b, "Accept within %ds", int(n.Timeout.Seconds()))
	} else {
		fmt.Fprintf(&b, "Requested at %s", s.RequestedAt.UTC().Format(time.RFC3339))
	}
	return b.String()
}

func requesterLabel(s models.HandoffSession) string {
	var parts []string
	if s.Profile != nil {
		if s.Profile.Name != "" {
			parts = append(parts, s.Profile.Name)
		}
		if s.Profile.Email != "" {
			parts = append(parts, "<"+s.Profile.Email+">")
		}
	}
	if len(parts) == 0 {
		r := s.Requester()
		if r.UserID != "" {
			return "user " + r.UserID
		}
		if r.GuestID != "" {
			return "guest " + r.GuestID
		}
	}
	return strings.Join(parts, " ")
}

// Multi sends to every configured notifier concurrently. Failures are logged
// and counted; they never fail the caller.
type Multi struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{
		notifiers: notifiers,
		timeout:   10 * time.Second,
		logger:    log.With().Str("component", "notify").Logger(),
	}
}

func (m *Multi) Len() int { return len(m.notifiers) }

// Dispatch starts delivery in the background and returns immediately.
func (m *Multi) Dispatch(n Notification) {
	for _, nt := range m.notifiers {
		m.wg.Add(1)
		go func(nt Notifier) {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			m.send(ctx, nt, n)
		}(nt)
	}
}

func (m *Multi) send(ctx context.Context, nt Notifier, n Notification) {
	if err := nt.Notify(ctx, n); err != nil {
		metrics.NotificationsTotal.WithLabelValues(nt.Name(), "error").Inc()
		m.logger.Error().Err(err).
			Str("channel", nt.Name()).
			Str("sessionId", n.Session.ID).
			Msg("failed to deliver admin notification")
		return
	}
	metrics.NotificationsTotal.WithLabelValues(nt.Name(), "ok").Inc()
}

// Wait blocks until in-flight deliveries finish.
func (m *Multi) Wait() {
	m.wg.Wait()
}
