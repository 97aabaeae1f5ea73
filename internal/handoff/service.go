// Package handoff is the session lifecycle orchestrator. It ties the session
// store, the acceptance countdown, duplicate suppression and realtime
// delivery together:
//
//	none -> waiting -> connected -> ended
//	        waiting -> timeout
//	        waiting -> ended (requester cancels)
//
// The store linearizes every transition; this package only reacts to the
// transitions the store reports as applied, so each lifecycle event is
// published once no matter how many callers race.
package handoff

import (
	"context"
	"sync"
	"time"

	"handoffdesk/backend/internal/config"
	"handoffdesk/backend/internal/dedup"
	"handoffdesk/backend/internal/localization"
	"handoffdesk/backend/internal/models"
	"handoffdesk/backend/internal/notify"
	"handoffdesk/backend/internal/storage"
	"handoffdesk/backend/internal/timeout"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher delivers an addressed event to realtime participants.
type Publisher interface {
	Publish(ctx context.Context, target models.Target, event models.Event) error
}

// Dispatcher forwards lifecycle notifications to out-of-band channels.
type Dispatcher interface {
	Dispatch(n notify.Notification)
}

// Options configure a Service. Store, Publisher, Timers and Dedup are required.
type Options struct {
	Store     storage.Storage
	Publisher Publisher
	Timers    *timeout.Coordinator
	Dedup     dedup.Suppressor
	Notifier  Dispatcher
	Localizer *localization.Localizer
	Settings  config.HandoffSettings
	// Timeout overrides the settings' acceptance window when non-zero.
	Timeout time.Duration
	Now     func() time.Time
}

type Service struct {
	store     storage.Storage
	publisher Publisher
	timers    *timeout.Coordinator
	dedup     dedup.Suppressor
	notifier  Dispatcher
	localizer *localization.Localizer
	timeout   time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	settingsMu sync.RWMutex
	settings   config.HandoffSettings
	schedule   *Schedule

	// disposers owns the countdown of every waiting session started here.
	disposersMu sync.Mutex
	disposers   map[string]timeout.Disposer

	invalidate func()
}

func NewService(opts Options) (*Service, error) {
	settings := opts.Settings
	settings.ApplyDefaults()
	schedule, err := NewSchedule(settings)
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:     opts.Store,
		publisher: opts.Publisher,
		timers:    opts.Timers,
		dedup:     opts.Dedup,
		notifier:  opts.Notifier,
		localizer: opts.Localizer,
		timeout:   opts.Timeout,
		now:       opts.Now,
		logger:    log.With().Str("component", "handoff").Logger(),
		settings:  settings,
		schedule:  schedule,
		disposers: make(map[string]timeout.Disposer),
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.localizer == nil {
		s.localizer = localization.MustNew()
	}
	if s.dedup == nil {
		s.dedup = dedup.NewMemory(config.DedupConversations)
	}
	if s.timers == nil {
		s.timers = timeout.NewCoordinator(config.CountdownTick)
	}
	return s, nil
}

// SetInvalidator registers a callback run after every change to the set of
// waiting sessions.
func (s *Service) SetInvalidator(fn func()) {
	s.invalidate = fn
}

func (s *Service) changedWaiting() {
	if s.invalidate != nil {
		s.invalidate()
	}
}

// Timeout is the acceptance window applied to waiting sessions.
func (s *Service) Timeout() time.Duration {
	if s.timeout > 0 {
		return s.timeout
	}
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings.Timeout()
}

// track records the countdown returned by start. The lock is held while it
// starts so an early expiry cannot run dispose before the entry exists.
func (s *Service) track(sessionID string, start func() timeout.Disposer) {
	s.disposersMu.Lock()
	defer s.disposersMu.Unlock()
	s.disposers[sessionID] = start()
}

// dispose cancels and forgets the countdown of a session, if any.
func (s *Service) dispose(sessionID string) {
	s.disposersMu.Lock()
	d, ok := s.disposers[sessionID]
	delete(s.disposers, sessionID)
	s.disposersMu.Unlock()
	if ok {
		d()
	}
}

// PendingTimers is the number of countdowns owned by this service.
func (s *Service) PendingTimers() int {
	s.disposersMu.Lock()
	defer s.disposersMu.Unlock()
	return len(s.disposers)
}

func (s *Service) publish(ctx context.Context, target models.Target, ev models.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, target, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event", string(ev.Type)).
			Str("sessionId", ev.SessionID).
			Msg("realtime publish failed")
	}
}

// toRequesterAndAdmins addresses the session's requester and the admin pool.
func toRequesterAndAdmins(session *models.HandoffSession) models.Target {
	t := models.UserTarget(session)
	t.AllAdmins = true
	return t
}

func (s *Service) dispatch(kind notify.Kind, session models.HandoffSession) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(notify.Notification{Kind: kind, Session: session, Timeout: s.Timeout()})
}

func (s *Service) text(lang, key string, args ...any) string {
	if len(args) == 0 {
		return s.localizer.GetString(lang, key)
	}
	return s.localizer.Format(lang, key, args...)
}

// Close stops every countdown owned by the service.
func (s *Service) Close() {
	s.disposersMu.Lock()
	disposers := s.disposers
	s.disposers = make(map[string]timeout.Disposer)
	s.disposersMu.Unlock()
	for _, d := range disposers {
		d()
	}
}
