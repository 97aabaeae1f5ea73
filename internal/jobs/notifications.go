package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"handoffdesk/backend/internal/metrics"
	"handoffdesk/backend/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WaitingLister returns the sessions currently waiting for an agent.
type WaitingLister interface {
	ListWaiting(ctx context.Context) ([]models.HandoffSession, error)
}

// Publisher delivers an addressed event to realtime participants.
type Publisher interface {
	Publish(ctx context.Context, target models.Target, event models.Event) error
}

// NotificationProjector keeps every admin's waiting list current. It polls
// on an interval and refreshes immediately when invalidated, and broadcasts
// only when the set of waiting sessions changed.
type NotificationProjector struct {
	lister    WaitingLister
	publisher Publisher
	interval  time.Duration
	kick      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	logger    zerolog.Logger

	mu   sync.Mutex
	last string
}

func NewNotificationProjector(lister WaitingLister, publisher Publisher, interval time.Duration) *NotificationProjector {
	return &NotificationProjector{
		lister:    lister,
		publisher: publisher,
		interval:  interval,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    log.With().Str("component", "notifications").Logger(),
	}
}

func (p *NotificationProjector) Start() {
	go p.run()
	p.logger.Info().Dur("interval", p.interval).Msg("notification projector started")
}

func (p *NotificationProjector) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

// Invalidate asks for a refresh without waiting for the next poll.
func (p *NotificationProjector) Invalidate() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *NotificationProjector) run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		case <-p.kick:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := p.Refresh(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("failed to refresh admin notifications")
		}
		cancel()
	}
}

// Refresh reloads the waiting list and broadcasts it if it changed.
func (p *NotificationProjector) Refresh(ctx context.Context) (bool, error) {
	waiting, err := p.lister.ListWaiting(ctx)
	if err != nil {
		metrics.JobRuns.WithLabelValues("notifications", "error").Inc()
		return false, err
	}
	metrics.JobRuns.WithLabelValues("notifications", "ok").Inc()
	metrics.WaitingSessions.Set(float64(len(waiting)))

	ids := make([]string, len(waiting))
	for i, s := range waiting {
		ids[i] = s.ID
	}
	key := strings.Join(ids, ",")

	p.mu.Lock()
	changed := key != p.last
	p.last = key
	p.mu.Unlock()
	if !changed {
		return false, nil
	}

	ev := models.NewEvent(models.EventAdminNotifications, time.Now().UTC())
	ev.Sessions = waiting
	if err := p.publisher.Publish(ctx, models.Target{AllAdmins: true}, ev); err != nil {
		p.logger.Warn().Err(err).Msg("admin notifications publish failed")
	}
	return true, nil
}
